package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Bot is a synthetic opponent profile.
type Bot struct {
	ID       string
	Username string
	Rating   int
}

// BotRepository exposes typed operations on the bots collection. Membership
// here is what makes an id "a bot": guest ids match the guest prefix, bot ids
// exist in this collection, everything else is human.
type BotRepository struct {
	pool *pgxpool.Pool
}

// NewBotRepository wraps the pool.
func NewBotRepository(pool *pgxpool.Pool) *BotRepository {
	return &BotRepository{pool: pool}
}

// GetByID fetches a bot profile.
func (r *BotRepository) GetByID(ctx context.Context, botID string) (*Bot, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, username, rating FROM bots WHERE id = $1`, botID)

	var b Bot
	err := row.Scan(&b.ID, &b.Username, &b.Rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bot: %w", err)
	}
	return &b, nil
}

// Exists reports bots-collection membership.
func (r *BotRepository) Exists(ctx context.Context, botID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bots WHERE id = $1)`, botID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("bot exists: %w", err)
	}
	return exists, nil
}

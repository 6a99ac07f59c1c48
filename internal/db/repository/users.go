package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// User is the persisted player document.
type User struct {
	ID           string
	Username     string
	Rating       int
	Wins         int
	Losses       int
	Draws        int
	TotalMatches int
	TimeCodedMS  int64
}

// MatchOutcome labels how a match ended for one player.
type MatchOutcome string

const (
	OutcomeWin  MatchOutcome = "win"
	OutcomeLoss MatchOutcome = "loss"
	OutcomeDraw MatchOutcome = "draw"
)

// UserRepository exposes typed operations on the users collection.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository wraps the pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID fetches a user document.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, rating, wins, losses, draws, total_matches, time_coded_ms
		FROM users WHERE id = $1
	`, userID)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Rating, &u.Wins, &u.Losses, &u.Draws, &u.TotalMatches, &u.TimeCodedMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ApplyMatchResult atomically applies one match's settlement to a player:
// rating delta, outcome counter, total matches, coding time, match link.
// Applied exactly once per (user, match) pair; replays are no-ops.
func (r *UserRepository) ApplyMatchResult(ctx context.Context, userID string, ratingDelta int, outcome MatchOutcome, durationMS int64, matchID string) error {
	var winInc, lossInc, drawInc int
	switch outcome {
	case OutcomeWin:
		winInc = 1
	case OutcomeLoss:
		lossInc = 1
	case OutcomeDraw:
		drawInc = 1
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET
			rating = rating + $2,
			wins = wins + $3,
			losses = losses + $4,
			draws = draws + $5,
			total_matches = total_matches + 1,
			time_coded_ms = time_coded_ms + $6,
			match_ids = array_append(match_ids, $7)
		WHERE id = $1 AND NOT ($7 = ANY(match_ids))
	`, userID, ratingDelta, winInc, lossInc, drawInc, durationMS, matchID)
	if err != nil {
		return fmt.Errorf("apply match result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Unknown user or a settlement replay for a match already linked.
		zerolog.Ctx(ctx).Debug().
			Str("user_id", userID).
			Str("match_id", matchID).
			Msg("match result already applied, update skipped")
	}
	return nil
}

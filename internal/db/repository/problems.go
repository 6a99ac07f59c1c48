package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clashcode/arena/internal/problem"
)

// ProblemRepository exposes typed operations on the problems collection.
// Problem documents are stored as JSONB with difficulty and verified
// projected into columns for selection.
type ProblemRepository struct {
	pool *pgxpool.Pool
}

// NewProblemRepository wraps the pool.
func NewProblemRepository(pool *pgxpool.Pool) *ProblemRepository {
	return &ProblemRepository{pool: pool}
}

// GetByID fetches the full document, test cases included.
func (r *ProblemRepository) GetByID(ctx context.Context, problemID string) (*problem.Problem, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM problems WHERE id = $1`, problemID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get problem: %w", err)
	}

	var p problem.Problem
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode problem: %w", err)
	}
	p.ID = problemID
	return &p, nil
}

// RandomVerifiedByDifficulty picks a random verified problem id from the
// requested bucket. ErrNotFound means the bucket is empty.
func (r *ProblemRepository) RandomVerifiedByDifficulty(ctx context.Context, difficulty string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM problems
		WHERE verified AND difficulty = $1
		ORDER BY random() LIMIT 1
	`, difficulty).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("random problem: %w", err)
	}
	return id, nil
}

// RandomVerified picks any verified problem; the fallback when a difficulty
// bucket is empty.
func (r *ProblemRepository) RandomVerified(ctx context.Context) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM problems WHERE verified ORDER BY random() LIMIT 1
	`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("random problem: %w", err)
	}
	return id, nil
}

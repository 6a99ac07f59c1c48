package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchRecord is the persisted match document summary.
type MatchRecord struct {
	ID            string
	Status        string
	WinnerUserID  *string
	Player1ID     string
	Player2ID     string
	ProblemID     string
	StartedAt     time.Time
	EndedAt       *time.Time
	SubmissionIDs []string
	Doc           json.RawMessage
}

// MatchRepository upserts match documents; the blob in the coordination
// store stays authoritative until resolution persists here.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository wraps the pool.
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// Upsert writes the match document, overwriting the JSONB payload and the
// projected columns.
func (r *MatchRepository) Upsert(ctx context.Context, rec MatchRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO matches (id, status, winner_user_id, player1_id, player2_id, problem_id, started_at, ended_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			winner_user_id = EXCLUDED.winner_user_id,
			ended_at = EXCLUDED.ended_at,
			doc = EXCLUDED.doc
	`, rec.ID, rec.Status, rec.WinnerUserID, rec.Player1ID, rec.Player2ID, rec.ProblemID, rec.StartedAt, rec.EndedAt, rec.Doc)
	if err != nil {
		return fmt.Errorf("upsert match: %w", err)
	}
	return nil
}

// AddSubmissionID links a submission to the match document, set-style: the id
// is appended only if not already present.
func (r *MatchRepository) AddSubmissionID(ctx context.Context, matchID, submissionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE matches
		SET submission_ids = array_append(submission_ids, $2)
		WHERE id = $1 AND NOT ($2 = ANY(submission_ids))
	`, matchID, submissionID)
	if err != nil {
		return fmt.Errorf("link submission: %w", err)
	}
	return nil
}

// AddTestRunID links a non-competitive test run to the match document.
func (r *MatchRepository) AddTestRunID(ctx context.Context, matchID, submissionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE matches
		SET test_run_ids = array_append(test_run_ids, $2)
		WHERE id = $1 AND NOT ($2 = ANY(test_run_ids))
	`, matchID, submissionID)
	if err != nil {
		return fmt.Errorf("link test run: %w", err)
	}
	return nil
}

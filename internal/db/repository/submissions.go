package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clashcode/arena/internal/db"
)

// Submission types.
const (
	SubmissionCompetitive = "competitive"
	SubmissionTest        = "test"
)

// SubmissionRecord is an immutable submission document.
type SubmissionRecord struct {
	ID             string
	MatchID        string
	UserID         string
	Language       string
	Passed         bool
	SubmissionType string
	CreatedAt      time.Time
	Doc            json.RawMessage
}

// SubmissionRepository inserts immutable submission documents.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository wraps the pool.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Insert persists a submission and returns its allocated id.
func (r *SubmissionRepository) Insert(ctx context.Context, rec SubmissionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = db.NewObjectID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO submissions (id, match_id, user_id, language, passed, submission_type, created_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.MatchID, rec.UserID, rec.Language, rec.Passed, rec.SubmissionType, rec.CreatedAt, rec.Doc)
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}
	return rec.ID, nil
}

package postgres

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresABResultsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresABResultsStorage(pool *pgxpool.Pool) *PostgresABResultsStorage {
	return &PostgresABResultsStorage{pool: pool}
}

func (s *PostgresABResultsStorage) InsertABResult(ctx context.Context, r *storage.ABResult) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ab_results (id, test_id, variant, user_id, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		r.ID,
		r.TestID,
		r.Variant,
		r.UserID,
		r.Outcome,
		r.CreatedAt,
	)
	return err
}

func (s *PostgresABResultsStorage) ListABResults(ctx context.Context, testID string, limit int) ([]storage.ABResult, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, test_id, variant, user_id, outcome, created_at
		FROM ab_results
		WHERE test_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, testID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []storage.ABResult{}
	for rows.Next() {
		var r storage.ABResult
		if err := rows.Scan(&r.ID, &r.TestID, &r.Variant, &r.UserID, &r.Outcome, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

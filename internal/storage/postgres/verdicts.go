package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresVerdictsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresVerdictsStorage(pool *pgxpool.Pool) *PostgresVerdictsStorage {
	return &PostgresVerdictsStorage{pool: pool}
}

func (s *PostgresVerdictsStorage) InsertVerdict(ctx context.Context, v *storage.VerdictRecord) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO decision_verdicts (id, user_id, type, verdict, reason, rationale, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		v.ID,
		v.UserID,
		v.Type,
		v.Verdict,
		v.Reason,
		v.Rationale,
		v.ScheduledAt,
		v.CreatedAt,
	)
	return err
}

func (s *PostgresVerdictsStorage) FindVerdict(ctx context.Context, userID, notifType string, scheduledAt time.Time) (*storage.VerdictRecord, bool, error) {
	var v storage.VerdictRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, type, verdict, reason, rationale, scheduled_at, created_at
		FROM decision_verdicts
		WHERE user_id = $1 AND type = $2 AND scheduled_at = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, notifType, scheduledAt).Scan(
		&v.ID,
		&v.UserID,
		&v.Type,
		&v.Verdict,
		&v.Reason,
		&v.Rationale,
		&v.ScheduledAt,
		&v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

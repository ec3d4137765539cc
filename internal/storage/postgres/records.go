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

type PostgresRecordsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordsStorage(pool *pgxpool.Pool) *PostgresRecordsStorage {
	return &PostgresRecordsStorage{pool: pool}
}

func (s *PostgresRecordsStorage) InsertRecord(ctx context.Context, r *storage.HealthRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO health_records (id, user_id, kind, value, duration_min, note, metadata, recorded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.UserID,
		r.Kind,
		r.Value,
		r.DurationMin,
		r.Note,
		r.Metadata,
		r.RecordedAt,
		r.CreatedAt,
	)
	return err
}

func (s *PostgresRecordsStorage) ListRecords(ctx context.Context, userID string, from, to time.Time) ([]storage.HealthRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, value, duration_min, note, metadata, recorded_at, created_at
		FROM health_records
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []storage.HealthRecord{}
	for rows.Next() {
		var r storage.HealthRecord
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.Kind,
			&r.Value,
			&r.DurationMin,
			&r.Note,
			&r.Metadata,
			&r.RecordedAt,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresRecordsStorage) CountRecords(ctx context.Context, userID, kind string) (int, error) {
	query := `SELECT COUNT(*) FROM health_records WHERE user_id = $1`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}

	var count int
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

func (s *PostgresRecordsStorage) LatestRecord(ctx context.Context, userID, kind string) (*storage.HealthRecord, bool, error) {
	query := `
		SELECT id, user_id, kind, value, duration_min, note, metadata, recorded_at, created_at
		FROM health_records
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY recorded_at DESC LIMIT 1`

	var r storage.HealthRecord
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&r.ID,
		&r.UserID,
		&r.Kind,
		&r.Value,
		&r.DurationMin,
		&r.Note,
		&r.Metadata,
		&r.RecordedAt,
		&r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

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

type PostgresQueueStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresQueueStorage(pool *pgxpool.Pool) *PostgresQueueStorage {
	return &PostgresQueueStorage{pool: pool}
}

func (s *PostgresQueueStorage) InsertQueueEntry(ctx context.Context, e *storage.QueueEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt

	query := `
		INSERT INTO notification_queue (id, user_id, type, title, body, channel, status, priority, bypass_quiet_hours, attempts, payload, scheduled_at, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.UserID,
		e.Type,
		e.Title,
		e.Body,
		e.Channel,
		e.Status,
		e.Priority,
		e.BypassQuietHours,
		e.Attempts,
		e.Payload,
		e.ScheduledAt,
		e.SentAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
	return err
}

// UpdateQueueStatus transitions pending entries only; terminal states stay put.
func (s *PostgresQueueStorage) UpdateQueueStatus(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = $2, sent_at = $3, attempts = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, status, sentAt, attempts)
	return err
}

func (s *PostgresQueueStorage) HasPendingOrRecentSameType(ctx context.Context, userID, notifType string, scheduledHour time.Time, since time.Time) (bool, error) {
	hour := scheduledHour.Truncate(time.Hour)

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM notification_queue
			WHERE user_id = $1 AND type = $2
			  AND date_trunc('hour', scheduled_at) = $3
			  AND (status = 'pending' OR (status = 'sent' AND sent_at > $4))
		)
	`, userID, notifType, hour, since).Scan(&exists)
	return exists, err
}

func (s *PostgresQueueStorage) CancelPending(ctx context.Context, userID string, onlyLowMedium bool) (int, error) {
	query := `
		UPDATE notification_queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE user_id = $1 AND status = 'pending'
	`
	if onlyLowMedium {
		query += ` AND priority <> 'high' AND NOT bypass_quiet_hours`
	}

	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresQueueStorage) CancelStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE status = 'pending' AND scheduled_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresQueueStorage) UpdateQueueSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, scheduledAt)
	return err
}

func (s *PostgresQueueStorage) UpdateQueueContent(ctx context.Context, id uuid.UUID, title, body, channel string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET title = $2, body = $3, channel = $4, updated_at = NOW()
		WHERE id = $1
	`, id, title, body, channel)
	return err
}

func (s *PostgresQueueStorage) CountSentBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_queue
		WHERE user_id = $1 AND status = 'sent' AND sent_at >= $2 AND sent_at <= $3
	`, userID, from, to).Scan(&count)
	return count, err
}

func (s *PostgresQueueStorage) LastSentOfType(ctx context.Context, userID, notifType string) (*time.Time, bool, error) {
	var sentAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT sent_at FROM notification_queue
		WHERE user_id = $1 AND type = $2 AND status = 'sent' AND sent_at IS NOT NULL
		ORDER BY sent_at DESC
		LIMIT 1
	`, userID, notifType).Scan(&sentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &sentAt, true, nil
}

func (s *PostgresQueueStorage) ListQueueEntries(ctx context.Context, userID string, limit int) ([]storage.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, title, body, channel, status, priority, bypass_quiet_hours, attempts, payload, scheduled_at, sent_at, created_at, updated_at
		FROM notification_queue
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []storage.QueueEntry{}
	for rows.Next() {
		var e storage.QueueEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Type,
			&e.Title,
			&e.Body,
			&e.Channel,
			&e.Status,
			&e.Priority,
			&e.BypassQuietHours,
			&e.Attempts,
			&e.Payload,
			&e.ScheduledAt,
			&e.SentAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package postgres

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRemindersStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresRemindersStorage(pool *pgxpool.Pool) *PostgresRemindersStorage {
	return &PostgresRemindersStorage{pool: pool}
}

func (s *PostgresRemindersStorage) UpsertReminder(ctx context.Context, r *storage.ReminderSetting) (storage.ReminderSetting, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	query := `
		INSERT INTO reminder_settings (id, user_id, type, enabled, time_minutes, days_mask, next_fire_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, type)
		DO UPDATE SET
			enabled = EXCLUDED.enabled,
			time_minutes = EXCLUDED.time_minutes,
			days_mask = EXCLUDED.days_mask,
			next_fire_at = EXCLUDED.next_fire_at,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		r.ID,
		r.UserID,
		r.Type,
		r.Enabled,
		r.TimeMinutes,
		r.DaysMask,
		r.NextFireAt,
		r.Metadata,
		r.CreatedAt,
		r.UpdatedAt,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return storage.ReminderSetting{}, err
	}
	return *r, nil
}

func (s *PostgresRemindersStorage) DeleteReminder(ctx context.Context, userID, reminderType string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reminder_settings WHERE user_id = $1 AND type = $2`, userID, reminderType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresRemindersStorage) ListReminders(ctx context.Context, userID string) ([]storage.ReminderSetting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, enabled, time_minutes, days_mask, next_fire_at, metadata, created_at, updated_at
		FROM reminder_settings
		WHERE user_id = $1
		ORDER BY type ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

// ListDue rides the (enabled, next_fire_at) index; the scan stops at now.
func (s *PostgresRemindersStorage) ListDue(ctx context.Context, now time.Time) ([]storage.ReminderSetting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, enabled, time_minutes, days_mask, next_fire_at, metadata, created_at, updated_at
		FROM reminder_settings
		WHERE enabled AND next_fire_at <= $1
		ORDER BY next_fire_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReminders(rows)
}

func (s *PostgresRemindersStorage) UpdateNextFire(ctx context.Context, id uuid.UUID, next time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reminder_settings SET next_fire_at = $2, updated_at = NOW() WHERE id = $1
	`, id, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanReminders(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]storage.ReminderSetting, error) {
	reminders := []storage.ReminderSetting{}
	for rows.Next() {
		var r storage.ReminderSetting
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.Type,
			&r.Enabled,
			&r.TimeMinutes,
			&r.DaysMask,
			&r.NextFireAt,
			&r.Metadata,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

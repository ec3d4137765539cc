package postgres

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresInteractionsStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresInteractionsStorage(pool *pgxpool.Pool) *PostgresInteractionsStorage {
	return &PostgresInteractionsStorage{pool: pool}
}

func (s *PostgresInteractionsStorage) InsertInteraction(ctx context.Context, e *storage.InteractionEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO interaction_events (id, user_id, kind, notification_type, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		e.ID,
		e.UserID,
		e.Kind,
		e.NotificationType,
		e.OccurredAt,
	)
	return err
}

func (s *PostgresInteractionsStorage) ListInteractionsSince(ctx context.Context, userID string, since time.Time) ([]storage.InteractionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, notification_type, occurred_at
		FROM interaction_events
		WHERE user_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at ASC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []storage.InteractionEvent{}
	for rows.Next() {
		var e storage.InteractionEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.NotificationType, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

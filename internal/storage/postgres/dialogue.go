package postgres

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDialogueStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresDialogueStorage(pool *pgxpool.Pool) *PostgresDialogueStorage {
	return &PostgresDialogueStorage{pool: pool}
}

func (s *PostgresDialogueStorage) InsertDialogue(ctx context.Context, userID, role, content string, payload []byte, at time.Time) (storage.ChatMessage, error) {
	msg := storage.ChatMessage{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		Payload:   payload,
		CreatedAt: at,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, user_id, role, content, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		msg.ID,
		msg.UserID,
		msg.Role,
		msg.Content,
		msg.Payload,
		msg.CreatedAt,
	)
	if err != nil {
		return storage.ChatMessage{}, err
	}
	return msg, nil
}

func (s *PostgresDialogueStorage) ListDialogueSince(ctx context.Context, userID string, since time.Time, limit int) ([]storage.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}

	// Newest N within the window, returned oldest-first.
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, role, content, payload, created_at
		FROM (
			SELECT id, user_id, role, content, payload, created_at
			FROM chat_messages
			WHERE user_id = $1 AND created_at >= $2
			ORDER BY created_at DESC
			LIMIT $3
		) sub
		ORDER BY created_at ASC
	`, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []storage.ChatMessage{}
	for rows.Next() {
		var m storage.ChatMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

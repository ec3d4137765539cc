package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// DialogueMemoryStorage — in-memory реализация DialogueStorage.
type DialogueMemoryStorage struct {
	mu     sync.RWMutex
	byUser map[string][]storage.ChatMessage
}

func NewDialogueMemoryStorage() *DialogueMemoryStorage {
	return &DialogueMemoryStorage{byUser: make(map[string][]storage.ChatMessage)}
}

func (s *DialogueMemoryStorage) InsertDialogue(ctx context.Context, userID, role, content string, payload []byte, at time.Time) (storage.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := storage.ChatMessage{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		Payload:   payload,
		CreatedAt: at,
	}
	s.byUser[userID] = append(s.byUser[userID], msg)
	return msg, nil
}

func (s *DialogueMemoryStorage) ListDialogueSince(ctx context.Context, userID string, since time.Time, limit int) ([]storage.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []storage.ChatMessage{}
	for _, m := range s.byUser[userID] {
		if m.CreatedAt.Before(since) {
			continue
		}
		result = append(result, m)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

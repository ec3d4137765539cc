package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// InteractionsMemoryStorage — in-memory реализация InteractionsStorage.
type InteractionsMemoryStorage struct {
	mu     sync.RWMutex
	byUser map[string][]storage.InteractionEvent
}

func NewInteractionsMemoryStorage() *InteractionsMemoryStorage {
	return &InteractionsMemoryStorage{byUser: make(map[string][]storage.InteractionEvent)}
}

func (s *InteractionsMemoryStorage) InsertInteraction(ctx context.Context, e *storage.InteractionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.byUser[e.UserID] = append(s.byUser[e.UserID], *e)
	return nil
}

func (s *InteractionsMemoryStorage) ListInteractionsSince(ctx context.Context, userID string, since time.Time) ([]storage.InteractionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []storage.InteractionEvent{}
	for _, e := range s.byUser[userID] {
		if e.OccurredAt.Before(since) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

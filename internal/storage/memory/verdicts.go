package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// VerdictsMemoryStorage — in-memory реализация VerdictsStorage.
type VerdictsMemoryStorage struct {
	mu     sync.RWMutex
	byUser map[string][]storage.VerdictRecord
}

func NewVerdictsMemoryStorage() *VerdictsMemoryStorage {
	return &VerdictsMemoryStorage{byUser: make(map[string][]storage.VerdictRecord)}
}

func (s *VerdictsMemoryStorage) InsertVerdict(ctx context.Context, v *storage.VerdictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	s.byUser[v.UserID] = append(s.byUser[v.UserID], *v)
	return nil
}

func (s *VerdictsMemoryStorage) FindVerdict(ctx context.Context, userID, notifType string, scheduledAt time.Time) (*storage.VerdictRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.byUser[userID]) - 1; i >= 0; i-- {
		v := s.byUser[userID][i]
		if v.Type == notifType && v.ScheduledAt.Equal(scheduledAt) {
			cp := v
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// ABResultsMemoryStorage — in-memory реализация ABResultsStorage.
type ABResultsMemoryStorage struct {
	mu     sync.RWMutex
	byTest map[string][]storage.ABResult
}

func NewABResultsMemoryStorage() *ABResultsMemoryStorage {
	return &ABResultsMemoryStorage{byTest: make(map[string][]storage.ABResult)}
}

func (s *ABResultsMemoryStorage) InsertABResult(ctx context.Context, r *storage.ABResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.byTest[r.TestID] = append(s.byTest[r.TestID], *r)
	return nil
}

func (s *ABResultsMemoryStorage) ListABResults(ctx context.Context, testID string, limit int) ([]storage.ABResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := s.byTest[testID]
	out := make([]storage.ABResult, len(results))
	copy(out, results)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// RecordsMemoryStorage — in-memory реализация RecordsStorage.
type RecordsMemoryStorage struct {
	mu     sync.RWMutex
	byUser map[string][]storage.HealthRecord
}

func NewRecordsMemoryStorage() *RecordsMemoryStorage {
	return &RecordsMemoryStorage{byUser: make(map[string][]storage.HealthRecord)}
}

func (s *RecordsMemoryStorage) InsertRecord(ctx context.Context, r *storage.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.byUser[r.UserID] = append(s.byUser[r.UserID], *r)
	return nil
}

func (s *RecordsMemoryStorage) ListRecords(ctx context.Context, userID string, from, to time.Time) ([]storage.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []storage.HealthRecord{}
	for _, r := range s.byUser[userID] {
		if r.RecordedAt.Before(from) || r.RecordedAt.After(to) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.Before(result[j].RecordedAt) })
	return result, nil
}

func (s *RecordsMemoryStorage) CountRecords(ctx context.Context, userID, kind string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.byUser[userID] {
		if kind == "" || r.Kind == kind {
			count++
		}
	}
	return count, nil
}

func (s *RecordsMemoryStorage) LatestRecord(ctx context.Context, userID, kind string) (*storage.HealthRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *storage.HealthRecord
	for i := range s.byUser[userID] {
		r := s.byUser[userID][i]
		if kind != "" && r.Kind != kind {
			continue
		}
		if latest == nil || r.RecordedAt.After(latest.RecordedAt) {
			cp := r
			latest = &cp
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest, true, nil
}

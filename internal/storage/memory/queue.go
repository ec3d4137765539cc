package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// QueueMemoryStorage — in-memory реализация QueueStorage.
type QueueMemoryStorage struct {
	mu      sync.Mutex
	entries map[uuid.UUID]storage.QueueEntry
}

func NewQueueMemoryStorage() *QueueMemoryStorage {
	return &QueueMemoryStorage{entries: make(map[uuid.UUID]storage.QueueEntry)}
}

func (s *QueueMemoryStorage) InsertQueueEntry(ctx context.Context, e *storage.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	s.entries[e.ID] = *e
	return nil
}

func (s *QueueMemoryStorage) UpdateQueueStatus(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	// Terminal states never transition again.
	if e.Status != storage.StatusPending {
		return nil
	}
	e.Status = status
	e.SentAt = sentAt
	e.Attempts = attempts
	e.UpdatedAt = time.Now()
	s.entries[id] = e
	return nil
}

func (s *QueueMemoryStorage) HasPendingOrRecentSameType(ctx context.Context, userID, notifType string, scheduledHour time.Time, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hour := scheduledHour.Truncate(time.Hour)
	for _, e := range s.entries {
		if e.UserID != userID || e.Type != notifType {
			continue
		}
		if e.Status == storage.StatusPending && e.ScheduledAt.Truncate(time.Hour).Equal(hour) {
			return true, nil
		}
		if e.Status == storage.StatusSent && e.SentAt != nil && e.SentAt.After(since) && e.ScheduledAt.Truncate(time.Hour).Equal(hour) {
			return true, nil
		}
	}
	return false, nil
}

func (s *QueueMemoryStorage) CancelPending(ctx context.Context, userID string, onlyLowMedium bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for id, e := range s.entries {
		if e.UserID != userID || e.Status != storage.StatusPending {
			continue
		}
		if onlyLowMedium && (e.Priority == storage.PriorityHigh || e.BypassQuietHours) {
			continue
		}
		e.Status = storage.StatusCancelled
		e.UpdatedAt = time.Now()
		s.entries[id] = e
		cancelled++
	}
	return cancelled, nil
}

func (s *QueueMemoryStorage) CancelStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for id, e := range s.entries {
		if e.Status != storage.StatusPending || !e.ScheduledAt.Before(cutoff) {
			continue
		}
		e.Status = storage.StatusCancelled
		e.UpdatedAt = time.Now()
		s.entries[id] = e
		cancelled++
	}
	return cancelled, nil
}

func (s *QueueMemoryStorage) UpdateQueueSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Status != storage.StatusPending {
		return nil
	}
	e.ScheduledAt = scheduledAt
	e.UpdatedAt = time.Now()
	s.entries[id] = e
	return nil
}

func (s *QueueMemoryStorage) UpdateQueueContent(ctx context.Context, id uuid.UUID, title, body, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Title = title
	e.Body = body
	e.Channel = channel
	e.UpdatedAt = time.Now()
	s.entries[id] = e
	return nil
}

func (s *QueueMemoryStorage) CountSentBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		if e.UserID != userID || e.Status != storage.StatusSent || e.SentAt == nil {
			continue
		}
		if e.SentAt.Before(from) || e.SentAt.After(to) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *QueueMemoryStorage) LastSentOfType(ctx context.Context, userID, notifType string) (*time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *time.Time
	for _, e := range s.entries {
		if e.UserID != userID || e.Type != notifType || e.Status != storage.StatusSent || e.SentAt == nil {
			continue
		}
		if last == nil || e.SentAt.After(*last) {
			t := *e.SentAt
			last = &t
		}
	}
	if last == nil {
		return nil, false, nil
	}
	return last, true, nil
}

func (s *QueueMemoryStorage) ListQueueEntries(ctx context.Context, userID string, limit int) ([]storage.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []storage.QueueEntry{}
	for _, e := range s.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

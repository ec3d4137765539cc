package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// RemindersMemoryStorage — in-memory реализация RemindersStorage.
// Due lookups stay sorted by next fire time so ListDue is a prefix scan.
type RemindersMemoryStorage struct {
	mu    sync.Mutex
	byKey map[string]storage.ReminderSetting // userID|type
}

func NewRemindersMemoryStorage() *RemindersMemoryStorage {
	return &RemindersMemoryStorage{byKey: make(map[string]storage.ReminderSetting)}
}

func reminderKey(userID, reminderType string) string {
	return userID + "|" + reminderType
}

func (s *RemindersMemoryStorage) UpsertReminder(ctx context.Context, r *storage.ReminderSetting) (storage.ReminderSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reminderKey(r.UserID, r.Type)
	if existing, ok := s.byKey[key]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	} else {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
	}
	r.UpdatedAt = time.Now()
	s.byKey[key] = *r
	return *r, nil
}

func (s *RemindersMemoryStorage) DeleteReminder(ctx context.Context, userID, reminderType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reminderKey(userID, reminderType)
	if _, ok := s.byKey[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.byKey, key)
	return nil
}

func (s *RemindersMemoryStorage) ListReminders(ctx context.Context, userID string) ([]storage.ReminderSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []storage.ReminderSetting{}
	for _, r := range s.byKey {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result, nil
}

func (s *RemindersMemoryStorage) ListDue(ctx context.Context, now time.Time) ([]storage.ReminderSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []storage.ReminderSetting{}
	for _, r := range s.byKey {
		if r.Enabled && !r.NextFireAt.After(now) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NextFireAt.Before(result[j].NextFireAt) })
	return result, nil
}

func (s *RemindersMemoryStorage) UpdateNextFire(ctx context.Context, id uuid.UUID, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range s.byKey {
		if r.ID == id {
			r.NextFireAt = next
			r.UpdatedAt = time.Now()
			s.byKey[key] = r
			return nil
		}
	}
	return storage.ErrNotFound
}

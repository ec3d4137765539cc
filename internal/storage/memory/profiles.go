package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
)

// ProfilesMemoryStorage — in-memory реализация ProfilesStorage.
type ProfilesMemoryStorage struct {
	mu       sync.RWMutex
	profiles map[string]storage.UserProfile
}

func NewProfilesMemoryStorage() *ProfilesMemoryStorage {
	return &ProfilesMemoryStorage{profiles: make(map[string]storage.UserProfile)}
}

func (s *ProfilesMemoryStorage) GetProfile(ctx context.Context, userID string) (*storage.UserProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, false, nil
	}
	cp := p
	cp.Achievements = append([]string(nil), p.Achievements...)
	cp.DisabledTypes = append([]string(nil), p.DisabledTypes...)
	return &cp, true, nil
}

func (s *ProfilesMemoryStorage) UpsertProfile(ctx context.Context, p *storage.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.profiles[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()
	s.profiles[p.UserID] = *p
	return nil
}

func (s *ProfilesMemoryStorage) ApplyPointsDelta(ctx context.Context, userID string, earned, spent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return storage.ErrNotFound
	}
	p.Points += earned - spent
	p.PointsEarned += earned
	p.PointsSpent += spent
	p.UpdatedAt = time.Now()
	s.profiles[userID] = p
	return nil
}

func (s *ProfilesMemoryStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.profiles))
	for id, p := range s.profiles {
		if !p.Deactivated {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *ProfilesMemoryStorage) AddAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return false, storage.ErrNotFound
	}
	for _, id := range p.Achievements {
		if id == achievementID {
			return false, nil
		}
	}
	p.Achievements = append(p.Achievements, achievementID)
	p.UpdatedAt = time.Now()
	s.profiles[userID] = p
	return true, nil
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// LedgerMemoryStorage — in-memory реализация LedgerStorage.
// A single mutex gives the per-user serialization grain the ledger needs:
// concurrent earns for the same (user, reason, day) collapse to one entry.
type LedgerMemoryStorage struct {
	mu       sync.Mutex
	byUser   map[string][]storage.LedgerEntry
	dailyKey map[string]struct{} // user|reason|YYYY-MM-DD
}

func NewLedgerMemoryStorage() *LedgerMemoryStorage {
	return &LedgerMemoryStorage{
		byUser:   make(map[string][]storage.LedgerEntry),
		dailyKey: make(map[string]struct{}),
	}
}

func (s *LedgerMemoryStorage) Append(ctx context.Context, e *storage.LedgerEntry, dailyUnique bool) (bool, error) {
	if e.Amount <= 0 {
		return false, storage.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey(e.UserID, e.Reason, e.CreatedAt)
	if dailyUnique && e.Kind == storage.LedgerEarn {
		if _, exists := s.dailyKey[key]; exists {
			return false, nil
		}
	}

	balance := s.balanceLocked(e.UserID)
	if e.Kind == storage.LedgerSpend {
		if balance < e.Amount {
			return false, storage.ErrInsufficientFunds
		}
		e.BalanceAfter = balance - e.Amount
	} else {
		e.BalanceAfter = balance + e.Amount
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	s.byUser[e.UserID] = append(s.byUser[e.UserID], *e)
	if dailyUnique && e.Kind == storage.LedgerEarn {
		s.dailyKey[key] = struct{}{}
	}
	return true, nil
}

func (s *LedgerMemoryStorage) Balance(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

func (s *LedgerMemoryStorage) History(ctx context.Context, userID string, limit, offset int) ([]storage.LedgerEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.byUser[userID]
	total := len(entries)

	// Stored oldest-first; history is newest-first.
	desc := make([]storage.LedgerEntry, 0, total)
	for i := total - 1; i >= 0; i-- {
		desc = append(desc, entries[i])
	}

	if offset >= len(desc) {
		return []storage.LedgerEntry{}, total, nil
	}
	desc = desc[offset:]
	if limit > 0 && limit < len(desc) {
		desc = desc[:limit]
	}
	return desc, total, nil
}

func (s *LedgerMemoryStorage) balanceLocked(userID string) int {
	balance := 0
	for _, e := range s.byUser[userID] {
		if e.Kind == storage.LedgerSpend {
			balance -= e.Amount
		} else {
			balance += e.Amount
		}
	}
	return balance
}

func dayKey(userID, reason string, t time.Time) string {
	return userID + "|" + reason + "|" + t.Format("2006-01-02")
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)

// dailyUniqueReasons — причины, начисляемые не чаще раза в день.
var dailyUniqueReasons = map[string]struct{}{
	"daily_login":    {},
	"water_goal_met": {},
	"perfect_day":    {},
}

// IsDailyUnique reports whether a reason is in the once-per-day set.
// Per-record reasons (record_weight, …) and streak bonuses
// (streak_7_bonus, water_streak_30_bonus, …) are daily-unique so
// re-evaluation on the same day never double-awards.
func IsDailyUnique(reason string) bool {
	if _, ok := dailyUniqueReasons[reason]; ok {
		return true
	}
	if strings.HasPrefix(reason, "record_") {
		return true
	}
	return strings.HasSuffix(reason, "_bonus") && strings.Contains(reason, "streak")
}

// EarnResult — итог начисления.
type EarnResult struct {
	PointsEarned        int
	BalanceAfter        int
	AlreadyAwardedToday bool
}

// Service — C2: append-only журнал баллов поверх LedgerStorage.
type Service struct {
	ledger   storage.LedgerStorage
	profiles storage.ProfilesStorage
	clock    clock.Clock
	sink     metrics.Sink
}

func NewService(ledger storage.LedgerStorage, profiles storage.ProfilesStorage, clk clock.Clock, sink metrics.Sink) *Service {
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Service{ledger: ledger, profiles: profiles, clock: clk, sink: sink}
}

// Earn appends an earn entry. Daily-unique reasons silently become a
// no-op on the second call within the same local day.
func (s *Service) Earn(ctx context.Context, userID, reason string, amount int, relatedRecord *uuid.UUID) (EarnResult, error) {
	if amount <= 0 {
		return EarnResult{}, ErrInvalidAmount
	}

	entry := &storage.LedgerEntry{
		UserID:        userID,
		Kind:          storage.LedgerEarn,
		Amount:        amount,
		Reason:        reason,
		RelatedRecord: relatedRecord,
		CreatedAt:     s.localNow(ctx, userID),
	}

	inserted, err := s.appendWithRetry(ctx, entry, IsDailyUnique(reason))
	if err != nil {
		return EarnResult{}, err
	}
	if !inserted {
		balance, berr := s.ledger.Balance(ctx, userID)
		if berr != nil {
			return EarnResult{}, berr
		}
		return EarnResult{BalanceAfter: balance, AlreadyAwardedToday: true}, nil
	}

	if err := s.profiles.ApplyPointsDelta(ctx, userID, amount, 0); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return EarnResult{}, fmt.Errorf("apply points delta: %w", err)
	}

	s.sink.Incr("ledger.earn", map[string]string{"reason": reason})
	return EarnResult{PointsEarned: amount, BalanceAfter: entry.BalanceAfter}, nil
}

// Spend appends a spend entry. ErrInsufficientFunds when the balance
// cannot cover the amount.
func (s *Service) Spend(ctx context.Context, userID, reason string, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	entry := &storage.LedgerEntry{
		UserID:    userID,
		Kind:      storage.LedgerSpend,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: s.localNow(ctx, userID),
	}

	if _, err := s.appendWithRetry(ctx, entry, false); err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			return 0, ErrInsufficientFunds
		}
		return 0, err
	}

	if err := s.profiles.ApplyPointsDelta(ctx, userID, 0, amount); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("apply points delta: %w", err)
	}

	s.sink.Incr("ledger.spend", map[string]string{"reason": reason})
	return entry.BalanceAfter, nil
}

// History returns entries newest-first plus the total count.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]storage.LedgerEntry, int, error) {
	return s.ledger.History(ctx, userID, limit, offset)
}

// Balance returns the current points balance from the ledger.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	return s.ledger.Balance(ctx, userID)
}

// appendWithRetry retries persistent-storage failures with bounded
// exponential backoff. Precondition failures are not retried.
func (s *Service) appendWithRetry(ctx context.Context, entry *storage.LedgerEntry, dailyUnique bool) (bool, error) {
	var inserted bool

	backoff := retry.WithJitterPercent(20, retry.NewExponential(100*time.Millisecond))
	backoff = retry.WithMaxRetries(5, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var appendErr error
		inserted, appendErr = s.ledger.Append(ctx, entry, dailyUnique)
		if appendErr == nil {
			return nil
		}
		if errors.Is(appendErr, storage.ErrInsufficientFunds) || errors.Is(appendErr, storage.ErrInvalidAmount) {
			return appendErr
		}
		s.sink.Incr("ledger.append.retry", nil)
		return retry.RetryableError(appendErr)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// localNow stamps entries in the user's timezone so the calendar-day
// uniqueness grain follows the user, not the server.
func (s *Service) localNow(ctx context.Context, userID string) time.Time {
	now := s.clock.Now()
	p, found, err := s.profiles.GetProfile(ctx, userID)
	if err != nil || !found || p.TimeZone == "" {
		return now
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return now
	}
	return now.In(loc)
}

package achievements

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// Unlock — результат разблокировки для вызывающего кода.
type Unlock struct {
	AchievementID string
	Points        int
}

// Evaluator — C11: детерминированная оценка предикатов каталога.
// Runs on every record-created event and on the midnight tick.
type Evaluator struct {
	records      storage.RecordsStorage
	profiles     storage.ProfilesStorage
	interactions storage.InteractionsStorage
	ledger       *ledger.Service
	events       *bus.Bus
	clock        clock.Clock
	sink         metrics.Sink
}

func NewEvaluator(
	records storage.RecordsStorage,
	profiles storage.ProfilesStorage,
	interactions storage.InteractionsStorage,
	ledgerSvc *ledger.Service,
	events *bus.Bus,
	clk clock.Clock,
	sink metrics.Sink,
) *Evaluator {
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Evaluator{
		records:      records,
		profiles:     profiles,
		interactions: interactions,
		ledger:       ledgerSvc,
		events:       events,
		clock:        clk,
		sink:         sink,
	}
}

// OnRecordCreated awards the base record points and evaluates the catalog.
func (e *Evaluator) OnRecordCreated(ctx context.Context, userID string, recordKind string, recordID uuid.UUID) ([]Unlock, error) {
	if pts, ok := RecordPoints[recordKind]; ok {
		if _, err := e.ledger.Earn(ctx, userID, "record_"+recordKind, pts, &recordID); err != nil {
			// Base points must not block achievement evaluation.
			log.Printf("record points earn failed for user %s: %v", userID, err)
		}
	}
	return e.Evaluate(ctx, userID)
}

// Evaluate checks every not-yet-unlocked catalog entry against current
// state. Reward and unlock commit together or not at all: the ledger
// earn (retried internally) goes first, the set insert follows, and a
// reward failure leaves the achievement locked for the next pass.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]Unlock, error) {
	profile, found, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if !found {
		return nil, nil
	}

	unlocked := map[string]struct{}{}
	for _, id := range profile.Achievements {
		unlocked[id] = struct{}{}
	}

	var unlocks []Unlock
	for _, a := range Catalog {
		if _, done := unlocked[a.ID]; done {
			continue
		}

		satisfied, err := e.satisfied(ctx, profile, a.Predicate)
		if err != nil {
			log.Printf("predicate %s evaluation failed for user %s: %v", a.ID, userID, err)
			continue
		}
		if !satisfied {
			continue
		}

		result, err := e.ledger.Earn(ctx, userID, a.Reason, a.Points, nil)
		if err != nil {
			// Reward write exhausted its retries: leave the achievement
			// locked, a later evaluation retries the whole pair.
			log.Printf("ALERT: achievement %s reward failed for user %s: %v", a.ID, userID, err)
			e.sink.Incr("achievement.reward.failed", map[string]string{"id": a.ID})
			continue
		}

		added, err := e.profiles.AddAchievement(ctx, userID, a.ID)
		if err != nil {
			log.Printf("ALERT: achievement %s set insert failed after reward for user %s: %v", a.ID, userID, err)
			e.sink.Incr("achievement.inconsistent", map[string]string{"id": a.ID})
			continue
		}
		if !added {
			continue
		}

		e.sink.Incr("achievement.unlocked", map[string]string{"id": a.ID})
		unlocks = append(unlocks, Unlock{AchievementID: a.ID, Points: result.PointsEarned})

		if e.events != nil {
			e.events.Publish(bus.Event{
				Kind:       bus.KindAchievementUnlocked,
				UserID:     userID,
				Payload:    map[string]any{"achievement_id": a.ID, "reward_amount": a.Points},
				OccurredAt: e.clock.Now(),
			})
		}
	}
	return unlocks, nil
}

func (e *Evaluator) satisfied(ctx context.Context, profile *storage.UserProfile, p Predicate) (bool, error) {
	userID := profile.UserID

	switch p.Kind {
	case PredFirstRecord:
		count, err := e.records.CountRecords(ctx, userID, "")
		return count >= 1, err

	case PredTotalRecords:
		count, err := e.records.CountRecords(ctx, userID, "")
		return count >= p.Count, err

	case PredTotalOfKind:
		count, err := e.records.CountRecords(ctx, userID, p.RecordKind)
		return count >= p.Count, err

	case PredStreak:
		streak, err := e.streakDays(ctx, userID, p.Days, func(day []storage.HealthRecord) bool {
			return len(day) > 0
		})
		return streak >= p.Days, err

	case PredWaterStreak:
		streak, err := e.streakDays(ctx, userID, p.Days, func(day []storage.HealthRecord) bool {
			return hasKind(day, storage.RecordWater)
		})
		return streak >= p.Days, err

	case PredCalorieStreak:
		target := profile.CalorieTarget
		if target <= 0 {
			target = 2000
		}
		streak, err := e.streakDays(ctx, userID, p.Days, func(day []storage.HealthRecord) bool {
			for _, r := range day {
				if r.Kind == storage.RecordMeal && r.Value > 0 && r.Value <= float64(target) {
					return true
				}
			}
			return false
		})
		return streak >= p.Days, err

	case PredSleepStreak:
		// A day without a sleep record, or with an unset duration,
		// breaks the streak. Healthy range is 7-9 hours.
		streak, err := e.streakDays(ctx, userID, p.Days, func(day []storage.HealthRecord) bool {
			for _, r := range day {
				if r.Kind == storage.RecordSleep && r.DurationMin != nil &&
					*r.DurationMin >= 420 && *r.DurationMin <= 540 {
					return true
				}
			}
			return false
		})
		return streak >= p.Days, err

	case PredEarlyMorningStreak:
		streak, err := e.streakDays(ctx, userID, p.Days, func(day []storage.HealthRecord) bool {
			for _, r := range day {
				if r.RecordedAt.Hour() < 7 {
					return true
				}
			}
			return false
		})
		return streak >= p.Days, err

	case PredPerfectWeek:
		// The last 7 calendar days ending today, each with records of at
		// least 3 distinct kinds.
		days, err := e.recentDays(ctx, userID, 7)
		if err != nil {
			return false, err
		}
		for offset := 0; offset < 7; offset++ {
			kinds := map[string]struct{}{}
			for _, r := range days[offset] {
				kinds[r.Kind] = struct{}{}
			}
			if len(kinds) < 3 {
				return false, nil
			}
		}
		return true, nil

	case PredGoalReached:
		if profile.GoalWeightKg == nil {
			return false, nil
		}
		latest, found, err := e.records.LatestRecord(ctx, userID, storage.RecordWeight)
		if err != nil || !found {
			return false, err
		}
		return latest.Value <= *profile.GoalWeightKg, nil

	case PredSocialShares:
		events, err := e.interactions.ListInteractionsSince(ctx, userID, time.Time{})
		if err != nil {
			return false, err
		}
		shares := 0
		for _, ev := range events {
			if ev.Kind == "social_share" {
				shares++
			}
		}
		return shares >= p.Count, nil

	default:
		return false, fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
}

// streakDays walks backward from today counting consecutive days where
// qualifies holds, stopping at the first gap or at threshold.
func (e *Evaluator) streakDays(ctx context.Context, userID string, threshold int, qualifies func([]storage.HealthRecord) bool) (int, error) {
	days, err := e.recentDays(ctx, userID, threshold)
	if err != nil {
		return 0, err
	}

	streak := 0
	for offset := 0; offset < threshold; offset++ {
		if !qualifies(days[offset]) {
			break
		}
		streak++
	}
	return streak, nil
}

// recentDays buckets the user's records by day offset from today
// (0 = today) over the window.
func (e *Evaluator) recentDays(ctx context.Context, userID string, window int) (map[int][]storage.HealthRecord, error) {
	now := e.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	from := today.AddDate(0, 0, -(window - 1))

	records, err := e.records.ListRecords(ctx, userID, from, now)
	if err != nil {
		return nil, err
	}

	days := make(map[int][]storage.HealthRecord, window)
	for _, r := range records {
		recDay := time.Date(r.RecordedAt.Year(), r.RecordedAt.Month(), r.RecordedAt.Day(), 0, 0, 0, 0, now.Location())
		offset := int(today.Sub(recDay).Hours() / 24)
		if offset >= 0 && offset < window {
			days[offset] = append(days[offset], r)
		}
	}
	return days, nil
}

func hasKind(records []storage.HealthRecord, kind string) bool {
	for _, r := range records {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

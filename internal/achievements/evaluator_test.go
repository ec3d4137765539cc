package achievements

import (
	"context"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/fdg312/coach-hub/internal/storage/memory"
)

type fixture struct {
	evaluator *Evaluator
	store     *memory.MemoryStorage
	clock     *clock.Virtual
	events    *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC))
	events := bus.New()
	ledgerSvc := ledger.NewService(store, store, clk, metrics.NullSink{})
	ev := NewEvaluator(store, store, store, ledgerSvc, events, clk, metrics.NullSink{})

	err := store.UpsertProfile(context.Background(), &storage.UserProfile{
		UserID:               "7",
		MotivationType:       "data_driven",
		DecisionMode:         "balanced",
		NotificationsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{evaluator: ev, store: store, clock: clk, events: events}
}

func (f *fixture) addRecord(t *testing.T, kind string, value float64, durationMin *int, at time.Time) {
	t.Helper()
	err := f.store.InsertRecord(context.Background(), &storage.HealthRecord{
		UserID: "7", Kind: kind, Value: value, DurationMin: durationMin, RecordedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func hasAchievement(t *testing.T, store *memory.MemoryStorage, id string) bool {
	t.Helper()
	p, _, err := store.GetProfile(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range p.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

func TestFirstWeightRecordUnlocksFirstStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)

	rec := &storage.HealthRecord{UserID: "7", Kind: storage.RecordWeight, Value: 70.5, RecordedAt: at}
	if err := f.store.InsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	unlocks, err := f.evaluator.OnRecordCreated(ctx, "7", storage.RecordWeight, rec.ID)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, u := range unlocks {
		if u.AchievementID == "first_step" {
			found = true
		}
	}
	if !found {
		t.Fatal("first_step not unlocked on first record")
	}
	if !hasAchievement(t, f.store, "first_step") {
		t.Error("achievement set missing first_step")
	}

	// Ledger: record_weight +10 then first_record +10, balance delta 20.
	entries, _, err := f.store.History(ctx, "7", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	if entries[0].Reason != "first_record" || entries[1].Reason != "record_weight" {
		t.Errorf("reasons = %s,%s want first_record,record_weight (desc)", entries[0].Reason, entries[1].Reason)
	}
	balance, _ := f.store.Balance(ctx, "7")
	if balance != 20 {
		t.Errorf("balance = %d, want 20", balance)
	}
}

func TestSevenDayStreakGrantsBonusOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for day := 0; day < 7; day++ {
		f.addRecord(t, storage.RecordWeight, 70, nil, f.clock.Now().AddDate(0, 0, -day))
	}

	unlocks, err := f.evaluator.Evaluate(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	streakUnlocked := false
	for _, u := range unlocks {
		if u.AchievementID == "streak_7" && u.Points == 50 {
			streakUnlocked = true
		}
	}
	if !streakUnlocked {
		t.Fatal("streak_7 (+50) not unlocked after 7 consecutive days")
	}

	// Same-day re-evaluation must not duplicate anything (L2).
	if more, err := f.evaluator.Evaluate(ctx, "7"); err != nil || len(more) != 0 {
		t.Errorf("re-evaluation produced %d unlocks (err=%v), want 0", len(more), err)
	}

	entries, _, _ := f.store.History(ctx, "7", 50, 0)
	bonuses := 0
	for _, e := range entries {
		if e.Reason == "streak_7_bonus" {
			bonuses++
		}
	}
	if bonuses != 1 {
		t.Errorf("streak_7_bonus entries = %d, want exactly 1", bonuses)
	}
}

func TestBrokenStreakDoesNotUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Records on 6 of the last 7 days, with a hole at day 3.
	for day := 0; day < 7; day++ {
		if day == 3 {
			continue
		}
		f.addRecord(t, storage.RecordMeal, 500, nil, f.clock.Now().AddDate(0, 0, -day))
	}

	f.evaluator.Evaluate(ctx, "7")
	if hasAchievement(t, f.store, "streak_7") {
		t.Error("streak_7 unlocked despite a gap")
	}
}

func TestSleepStreakRequiresDurationInRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := 480 // 8h
	for day := 0; day < 7; day++ {
		if day == 2 {
			// Sleep record with unset duration breaks the streak.
			f.addRecord(t, storage.RecordSleep, 0, nil, f.clock.Now().AddDate(0, 0, -day))
			continue
		}
		f.addRecord(t, storage.RecordSleep, 0, &good, f.clock.Now().AddDate(0, 0, -day))
	}

	f.evaluator.Evaluate(ctx, "7")
	if hasAchievement(t, f.store, "sleep_streak_7") {
		t.Error("sleep_streak_7 unlocked despite an unset duration day")
	}
}

func TestPerfectWeekNeedsThreeKindsEveryDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for day := 0; day < 7; day++ {
		at := f.clock.Now().AddDate(0, 0, -day)
		f.addRecord(t, storage.RecordWeight, 70, nil, at)
		f.addRecord(t, storage.RecordWater, 500, nil, at)
		if day != 4 {
			f.addRecord(t, storage.RecordMeal, 600, nil, at)
		}
	}

	f.evaluator.Evaluate(ctx, "7")
	if hasAchievement(t, f.store, "perfect_week") {
		t.Error("perfect_week unlocked with only two kinds on one day")
	}

	// Fill the missing kind and re-evaluate.
	f.addRecord(t, storage.RecordMeal, 600, nil, f.clock.Now().AddDate(0, 0, -4))
	f.evaluator.Evaluate(ctx, "7")
	if !hasAchievement(t, f.store, "perfect_week") {
		t.Error("perfect_week not unlocked after every day has three kinds")
	}
}

func TestGoalReached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	goal := 68.0
	p, _, _ := f.store.GetProfile(ctx, "7")
	p.GoalWeightKg = &goal
	f.store.UpsertProfile(ctx, p)

	f.addRecord(t, storage.RecordWeight, 69.5, nil, f.clock.Now().Add(-time.Hour))
	f.evaluator.Evaluate(ctx, "7")
	if hasAchievement(t, f.store, "goal_reached") {
		t.Error("goal_reached unlocked above target")
	}

	f.addRecord(t, storage.RecordWeight, 67.9, nil, f.clock.Now())
	f.evaluator.Evaluate(ctx, "7")
	if !hasAchievement(t, f.store, "goal_reached") {
		t.Error("goal_reached not unlocked at target weight")
	}
}

func TestUnlockEmitsBusEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.events.Subscribe(8)

	rec := &storage.HealthRecord{UserID: "7", Kind: storage.RecordWater, Value: 250, RecordedAt: f.clock.Now()}
	f.store.InsertRecord(ctx, rec)
	f.evaluator.OnRecordCreated(ctx, "7", storage.RecordWater, rec.ID)

	select {
	case ev := <-ch:
		if ev.Kind != bus.KindAchievementUnlocked || ev.UserID != "7" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.Payload["achievement_id"] != "first_step" {
			t.Errorf("payload = %+v", ev.Payload)
		}
	default:
		t.Fatal("no achievement_unlocked event published")
	}
}

func TestReplayedPredicatesStillHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for day := 0; day < 7; day++ {
		f.addRecord(t, storage.RecordWater, 300, nil, f.clock.Now().AddDate(0, 0, -day))
	}
	f.evaluator.Evaluate(ctx, "7")

	// Every unlocked achievement's predicate must evaluate true against
	// the current record store (replay safety).
	p, _, _ := f.store.GetProfile(ctx, "7")
	for _, id := range p.Achievements {
		var a *Achievement
		for i := range Catalog {
			if Catalog[i].ID == id {
				a = &Catalog[i]
			}
		}
		if a == nil {
			t.Fatalf("achievement %s not in catalog", id)
		}
		ok, err := f.evaluator.satisfied(ctx, p, a.Predicate)
		if err != nil || !ok {
			t.Errorf("predicate for %s no longer holds (ok=%v err=%v)", id, ok, err)
		}
	}
}

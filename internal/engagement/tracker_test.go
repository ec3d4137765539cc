package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/fdg312/coach-hub/internal/storage/memory"
)

func newTestTracker(t *testing.T) (*Tracker, *memory.MemoryStorage, *clock.Virtual) {
	t.Helper()
	store := memory.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC))
	tracker := NewTracker(store, store, store, clk, DefaultWeights())
	return tracker, store, clk
}

func seedInteraction(t *testing.T, store *memory.MemoryStorage, userID, kind, notifType string, at time.Time) {
	t.Helper()
	err := store.InsertInteraction(context.Background(), &storage.InteractionEvent{
		UserID: userID, Kind: kind, NotificationType: notifType, OccurredAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFullyActiveUserScoresHigh(t *testing.T) {
	tracker, store, clk := newTestTracker(t)
	ctx := context.Background()
	now := clk.Now()

	store.UpsertProfile(ctx, &storage.UserProfile{UserID: "u"})
	for day := 0; day < 7; day++ {
		at := now.AddDate(0, 0, -day)
		seedInteraction(t, store, "u", "login", "", at)
		seedInteraction(t, store, "u", "record", "", at)
	}
	seedInteraction(t, store, "u", "sent", "water_reminder", now)
	seedInteraction(t, store, "u", "click", "water_reminder", now)

	stats, err := tracker.Stats(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	// login 25 + record 25 + goal 12.5 (neutral, no goal) + interaction 25
	if stats.Score < 85 {
		t.Errorf("score = %.1f, want >= 85", stats.Score)
	}
	if stats.Level != LevelHigh {
		t.Errorf("level = %s, want high", stats.Level)
	}
}

func TestSilentUserIsInactive(t *testing.T) {
	tracker, store, _ := newTestTracker(t)
	ctx := context.Background()
	store.UpsertProfile(ctx, &storage.UserProfile{UserID: "u"})

	stats, err := tracker.Stats(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Level != LevelInactive {
		t.Errorf("level = %s (score %.1f), want inactive", stats.Level, stats.Score)
	}
}

func TestLevelBuckets(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{70, LevelHigh},
		{69.9, LevelMedium},
		{40, LevelMedium},
		{39.9, LevelLow},
		{15, LevelLow},
		{14.9, LevelInactive},
	}
	for _, c := range cases {
		if got := LevelFor(c.score); got != c.want {
			t.Errorf("LevelFor(%.1f) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestEffectivenessFormulaAndBuckets(t *testing.T) {
	tracker, store, clk := newTestTracker(t)
	ctx := context.Background()
	now := clk.Now()

	// 4 sent, 2 opens, 1 click: (2 + 2*1 - 0) / 4 = 1.0 -> high
	for i := 0; i < 4; i++ {
		seedInteraction(t, store, "u", "sent", "exercise_reminder", now.Add(-time.Duration(i)*time.Hour))
	}
	seedInteraction(t, store, "u", "open", "exercise_reminder", now)
	seedInteraction(t, store, "u", "open", "exercise_reminder", now)
	seedInteraction(t, store, "u", "click", "exercise_reminder", now)

	score, bucket, samples, err := tracker.Effectiveness(ctx, "u", "exercise_reminder")
	if err != nil {
		t.Fatal(err)
	}
	if score != 1.0 || bucket != EffHigh || samples != 4 {
		t.Errorf("effectiveness = %.2f/%s/%d, want 1.00/high/4", score, bucket, samples)
	}
}

func TestNegativeFeedbackDragsBucketDown(t *testing.T) {
	tracker, store, clk := newTestTracker(t)
	ctx := context.Background()
	now := clk.Now()

	for i := 0; i < 3; i++ {
		seedInteraction(t, store, "u", "sent", "meal_reminder", now.Add(-time.Duration(i)*time.Hour))
	}
	seedInteraction(t, store, "u", "negative", "meal_reminder", now)

	_, bucket, _, err := tracker.Effectiveness(ctx, "u", "meal_reminder")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != EffNegative {
		t.Errorf("bucket = %s, want negative", bucket)
	}
}

func TestNoHistoryIsNeutralMedium(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	_, bucket, samples, err := tracker.Effectiveness(context.Background(), "u", "weekly_report")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != EffMedium || samples != 0 {
		t.Errorf("no-history effectiveness = %s/%d, want medium/0", bucket, samples)
	}
}

func TestOptimalHoursFallBackBelowTenSamples(t *testing.T) {
	tracker, store, clk := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedInteraction(t, store, "u", "open", "water_reminder", clk.Now())
	}

	hours, err := tracker.OptimalSendHours(ctx, "u", "water_reminder")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{10, 14, 16}
	for i := range want {
		if hours[i] != want[i] {
			t.Fatalf("fallback hours = %v, want %v", hours, want)
		}
	}
}

func TestOptimalHoursUseHistoryWithEnoughSamples(t *testing.T) {
	tracker, store, clk := newTestTracker(t)
	ctx := context.Background()
	day := clk.Now().Truncate(24 * time.Hour)

	for i := 0; i < 8; i++ {
		seedInteraction(t, store, "u", "open", "water_reminder", day.Add(9*time.Hour))
	}
	for i := 0; i < 4; i++ {
		seedInteraction(t, store, "u", "click", "water_reminder", day.Add(13*time.Hour))
	}

	hours, err := tracker.OptimalSendHours(ctx, "u", "water_reminder")
	if err != nil {
		t.Fatal(err)
	}
	if len(hours) == 0 || hours[0] != 9 {
		t.Errorf("top hour = %v, want 9 first", hours)
	}
}

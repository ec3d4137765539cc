package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/storage/memory"
)

func TestNextFireSameDay(t *testing.T) {
	// Friday 2026-02-20, 10:00.
	after := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

	got := NextFireAfter(after, 19*60, 127)
	want := time.Date(2026, 2, 20, 19, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next fire = %v, want %v", got, want)
	}
}

func TestNextFireRollsToNextDay(t *testing.T) {
	after := time.Date(2026, 2, 20, 20, 0, 0, 0, time.UTC)

	got := NextFireAfter(after, 19*60, 127)
	want := time.Date(2026, 2, 21, 19, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next fire = %v, want %v", got, want)
	}
}

func TestNextFireSkipsDisabledWeekdays(t *testing.T) {
	// Friday evening; weekdays-only mask (Mon-Fri = bits 0-4 = 31).
	after := time.Date(2026, 2, 20, 20, 0, 0, 0, time.UTC)

	got := NextFireAfter(after, 9*60, 31)
	// Saturday and Sunday are skipped; Monday 2026-02-23 09:00.
	want := time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next fire = %v, want %v (Monday)", got, want)
	}
}

func TestDueHandsOutEachOccurrenceOnce(t *testing.T) {
	store := memory.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 18, 59, 0, 0, time.UTC))
	svc := NewService(store, clk)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, "u1", "exercise_reminder", true, 19*60, 127, nil); err != nil {
		t.Fatal(err)
	}

	// Not due yet.
	due, err := svc.Due(ctx, clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("due before fire time: %d", len(due))
	}

	clk.Advance(time.Minute) // 19:00
	due, err = svc.Due(ctx, clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].Type != "exercise_reminder" {
		t.Fatalf("due = %+v, want the exercise reminder", due)
	}

	// The same occurrence is not handed out twice.
	due, err = svc.Due(ctx, clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("occurrence handed out twice: %+v", due)
	}

	// Next day it fires again.
	clk.Advance(24 * time.Hour)
	due, _ = svc.Due(ctx, clk.Now())
	if len(due) != 1 {
		t.Errorf("next-day occurrence missing: %+v", due)
	}
}

func TestDisabledRemindersNeverFire(t *testing.T) {
	store := memory.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC))
	svc := NewService(store, clk)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, "u1", "water_reminder", false, 10*60, 127, nil); err != nil {
		t.Fatal(err)
	}

	clk.Advance(48 * time.Hour)
	due, err := svc.Due(ctx, clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("disabled reminder fired: %+v", due)
	}
}

func TestUpsertValidatesInput(t *testing.T) {
	store := memory.New()
	svc := NewService(store, clock.NewVirtual(time.Now()))
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, "u1", "x", true, 1500, 127, nil); err == nil {
		t.Error("time_minutes 1500 accepted")
	}
	if _, err := svc.Upsert(ctx, "u1", "x", true, 600, 200, nil); err == nil {
		t.Error("days_mask 200 accepted")
	}
}

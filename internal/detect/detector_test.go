package detect

import (
	"context"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage/memory"
)

func newTestDetector(t *testing.T) (*Detector, *memory.MemoryStorage, *clock.Virtual) {
	t.Helper()
	store := memory.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 19, 0, 0, 0, time.UTC))
	d := NewDetector(store, &ai.MockProvider{Err: context.DeadlineExceeded}, clk, metrics.NullSink{}, TTLs{})
	return d, store, clk
}

func TestIllnessDetectedFromChineseDialogue(t *testing.T) {
	d, store, clk := newTestDetector(t)
	ctx := context.Background()

	store.InsertDialogue(ctx, "12", "user", "感冒了不舒服", nil, clk.Now().Add(-time.Hour))

	events, err := d.Detect(ctx, "12", "balanced")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	var illness *Event
	for i := range events {
		if events[i].Kind == KindIllness {
			illness = &events[i]
		}
	}
	if illness == nil {
		t.Fatal("illness event not detected")
	}
	if illness.Confidence < 0.7 {
		t.Errorf("illness confidence = %.2f, want >= 0.7", illness.Confidence)
	}
	if want := clk.Now().Add(48 * time.Hour); !illness.ExpiresAt.Equal(want) {
		t.Errorf("illness TTL = %v, want %v", illness.ExpiresAt, want)
	}
}

func TestEventsExpireByTTL(t *testing.T) {
	d, store, clk := newTestDetector(t)
	ctx := context.Background()

	store.InsertDialogue(ctx, "u", "user", "сегодня банкет и застолье", nil, clk.Now())
	events, _ := d.Detect(ctx, "u", "conservative")
	if len(events) == 0 {
		t.Fatal("social_engagement not detected")
	}

	// social_engagement TTL is 12h; after 13h the lazy prune removes it.
	clk.Advance(13 * time.Hour)
	if got := d.Active("u"); len(got) != 0 {
		t.Errorf("events survived their TTL: %+v", got)
	}
}

func TestTravelEndsAtExplicitDate(t *testing.T) {
	d, store, clk := newTestDetector(t)
	ctx := context.Background()

	store.InsertDialogue(ctx, "u", "user", "улетаю в командировку, вернусь 2026-02-22", nil, clk.Now())
	events, _ := d.Detect(ctx, "u", "conservative")

	var travel *Event
	for i := range events {
		if events[i].Kind == KindTravel {
			travel = &events[i]
		}
	}
	if travel == nil {
		t.Fatal("travel not detected")
	}
	if travel.ExpiresAt.Before(time.Date(2026, 2, 22, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("travel should last until its end date, got %v", travel.ExpiresAt)
	}
}

func TestAssistantTurnsAreIgnored(t *testing.T) {
	d, store, _ := newTestDetector(t)
	ctx := context.Background()

	store.InsertDialogue(ctx, "u", "assistant", "если вы заболели, обратитесь к врачу", nil, time.Date(2026, 2, 20, 18, 0, 0, 0, time.UTC))

	events, _ := d.Detect(ctx, "u", "balanced")
	for _, e := range events {
		if e.Kind == KindIllness {
			t.Error("assistant text must not trigger illness detection")
		}
	}
}

func TestLLMLayerFailureKeepsPatternResult(t *testing.T) {
	d, store, clk := newTestDetector(t)
	ctx := context.Background()

	// Single weak keyword -> confidence 0.60, inside the ambiguity band,
	// so the (failing) LLM layer runs and must not lose the pattern hit.
	store.InsertDialogue(ctx, "u", "user", "какой-то стресс", nil, clk.Now())

	events, err := d.Detect(ctx, "u", "intelligent")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == KindHighStress {
			found = true
		}
	}
	if !found {
		t.Error("pattern-layer event lost after LLM degradation")
	}
}

package compose

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/abtest"
	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/detect"
	"github.com/fdg312/coach-hub/internal/embedding"
	"github.com/fdg312/coach-hub/internal/memory"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
	memstorage "github.com/fdg312/coach-hub/internal/storage/memory"
	"github.com/fdg312/coach-hub/internal/vecstore"
)

func newTestGenerator(t *testing.T, llm ai.Provider) (*Generator, *detect.Detector, *memstorage.MemoryStorage) {
	t.Helper()
	store := memstorage.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC))
	mem := memory.NewManager(memory.NewShortTerm(), vecstore.NewMemStore(), embedding.NewMockEngine(16), llm, store, nil, clk, metrics.NullSink{}, memory.Options{})
	detector := detect.NewDetector(store, llm, clk, metrics.NullSink{}, detect.TTLs{})
	gen := NewGenerator(mem, detector, llm, store, clk, metrics.NullSink{}, 100, 200)

	err := store.UpsertProfile(context.Background(), &storage.UserProfile{
		UserID:         "u1",
		MotivationType: "emotional_support",
	})
	if err != nil {
		t.Fatal(err)
	}
	return gen, detector, store
}

func TestGenerateParsesLLMJSON(t *testing.T) {
	llm := &ai.MockProvider{FixedContent: `{"title":"Вода","body":"Выпей стакан воды","rich_actions":[{"kind":"quick_reply","label":"Готово","value":"done"},{"kind":"bogus","label":"x","value":"y"}],"channel_hint":"push"}`}
	gen, _, _ := newTestGenerator(t, llm)

	msg, err := gen.Generate(context.Background(), Request{UserID: "u1", Type: "water_reminder"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Title != "Вода" || msg.Body != "Выпей стакан воды" || msg.ChannelHint != "push" {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.RichActions) != 1 || msg.RichActions[0].Kind != "quick_reply" {
		t.Errorf("disallowed rich kind not filtered: %+v", msg.RichActions)
	}
}

func TestGenerateFallsBackToTemplateOnLLMFailure(t *testing.T) {
	gen, _, _ := newTestGenerator(t, &ai.MockProvider{Err: context.DeadlineExceeded})

	msg, err := gen.Generate(context.Background(), Request{UserID: "u1", Type: "exercise_reminder"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body == "" || msg.Title == "" {
		t.Fatalf("fallback produced empty message: %+v", msg)
	}
	// emotional_support variant of the exercise template
	if !strings.Contains(msg.Body, "настроение") {
		t.Errorf("template not keyed by motivation: %q", msg.Body)
	}
	if msg.ChannelHint != "chat" {
		t.Errorf("channel hint = %s, want chat", msg.ChannelHint)
	}
}

func TestGenerateFallsBackOnGarbageOutput(t *testing.T) {
	gen, _, _ := newTestGenerator(t, &ai.MockProvider{FixedContent: "просто текст без JSON"})

	msg, err := gen.Generate(context.Background(), Request{UserID: "u1", Type: "weekly_report"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body == "" {
		t.Error("garbage LLM output must fall back to the template")
	}
}

func TestBodyTruncatedToBudget(t *testing.T) {
	long := strings.Repeat("a", 500)
	llm := &ai.MockProvider{FixedContent: `{"title":"t","body":"` + long + `"}`}
	gen, _, _ := newTestGenerator(t, llm)

	msg, err := gen.Generate(context.Background(), Request{UserID: "u1", Type: "water_reminder"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Body) > 200 {
		t.Errorf("body length = %d, want <= 200", len(msg.Body))
	}
}

func TestWarmVariantChangesFallbackTone(t *testing.T) {
	gen, _, store := newTestGenerator(t, &ai.MockProvider{Err: context.DeadlineExceeded})

	reg, err := abtest.NewRegistry(store, abtest.Test{
		ID:       ToneTestID,
		Variants: []abtest.Variant{{Name: "warm", Weight: 1.0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	gen.WithABTests(reg)

	msg, err := gen.Generate(context.Background(), Request{UserID: "u1", Type: "water_reminder"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg.Body, "Привет!") {
		t.Errorf("warm variant not applied: %q", msg.Body)
	}

	results, _ := store.ListABResults(context.Background(), ToneTestID, 10)
	if len(results) != 1 || results[0].Variant != "warm" {
		t.Errorf("outcome not logged: %+v", results)
	}
}

func TestStreakPayloadReachesFallback(t *testing.T) {
	gen, _, _ := newTestGenerator(t, &ai.MockProvider{Err: context.DeadlineExceeded})

	msg, err := gen.Generate(context.Background(), Request{
		UserID: "u1", Type: "streak_celebration",
		Payload: map[string]any{"streak_days": 7},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Body, "7") {
		t.Errorf("streak length missing from fallback body: %q", msg.Body)
	}
}

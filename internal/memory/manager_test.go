package memory

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/embedding"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/fdg312/coach-hub/internal/storage/memory"
	"github.com/fdg312/coach-hub/internal/vecstore"
)

func newTestManager(t *testing.T, longTerm vecstore.Store, llm ai.Provider) (*Manager, *memory.MemoryStorage) {
	t.Helper()
	store := memory.New()
	clk := clock.NewVirtual(time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC))
	if llm == nil {
		llm = &ai.MockProvider{FixedContent: "краткое содержание разговора"}
	}
	mgr := NewManager(NewShortTerm(), longTerm, embedding.NewMockEngine(32), llm, store, nil, clk, metrics.NullSink{}, Options{})

	err := store.UpsertProfile(context.Background(), &storage.UserProfile{
		UserID:         "u1",
		MotivationType: "goal_oriented",
		CalorieTarget:  1800,
	})
	if err != nil {
		t.Fatal(err)
	}
	return mgr, store
}

func TestCheckinLandsInBothTiers(t *testing.T) {
	long := vecstore.NewMemStore()
	mgr, _ := newTestManager(t, long, nil)
	ctx := context.Background()

	mgr.OnCheckin(ctx, &storage.HealthRecord{
		UserID:     "u1",
		Kind:       storage.RecordMeal,
		Value:      520,
		Note:       "salad",
		RecordedAt: time.Date(2026, 2, 20, 12, 30, 0, 0, time.UTC),
	})

	if long.Len() != 1 {
		t.Fatalf("long-term docs = %d, want 1", long.Len())
	}

	out := mgr.GetContext(ctx, "u1", "", 15, 20, false)
	if !strings.Contains(out, "[meal] at 12:30, ate salad, ~520 kcal") {
		t.Errorf("context missing canonical sentence:\n%s", out)
	}
}

func TestDialogueSummaryTriggersEveryTwenty(t *testing.T) {
	long := vecstore.NewMemStore()
	mgr, _ := newTestManager(t, long, nil)
	ctx := context.Background()
	base := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 19; i++ {
		mgr.OnDialogue(ctx, "u1", "user", "сообщение", base.Add(time.Duration(i)*time.Minute))
	}
	if long.Len() != 0 {
		t.Fatalf("summary written before trigger: %d docs", long.Len())
	}

	mgr.OnDialogue(ctx, "u1", "assistant", "ответ", base.Add(20*time.Minute))
	if long.Len() != 1 {
		t.Fatalf("after 20 turns long-term docs = %d, want 1 summary", long.Len())
	}

	future := time.Date(2027, 2, 20, 0, 0, 0, 0, time.UTC)
	docs, _ := long.ListCompressible(ctx, "u1", future, future)
	if len(docs) != 1 || docs[0].Kind != vecstore.KindDialogueSummary {
		t.Fatalf("unexpected long-term docs: %+v", docs)
	}
	if docs[0].Content != "краткое содержание разговора" {
		t.Errorf("summary content = %q", docs[0].Content)
	}
}

func TestSummaryFallsBackWhenLLMDown(t *testing.T) {
	long := vecstore.NewMemStore()
	mgr, _ := newTestManager(t, long, &ai.MockProvider{Err: context.DeadlineExceeded})
	ctx := context.Background()
	base := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		mgr.OnDialogue(ctx, "u1", "user", "не спал всю ночь", base.Add(time.Duration(i)*time.Minute))
	}
	if long.Len() != 1 {
		t.Fatalf("degraded summarizer must still write one doc, got %d", long.Len())
	}
}

func TestGetContextDeterministicWithStubLLM(t *testing.T) {
	long := vecstore.NewMemStore()
	mgr, _ := newTestManager(t, long, nil)
	ctx := context.Background()

	rec := &storage.HealthRecord{
		UserID: "u1", Kind: storage.RecordWeight, Value: 71.5,
		RecordedAt: time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC),
	}
	mgr.OnCheckin(ctx, rec)
	mgr.OnDialogue(ctx, "u1", "user", "как мой вес?", time.Date(2026, 2, 20, 8, 5, 0, 0, time.UTC))

	a := mgr.GetContext(ctx, "u1", "вес", 15, 20, true)
	b := mgr.GetContext(ctx, "u1", "вес", 15, 20, true)
	if a != b {
		t.Error("context assembly is not deterministic for identical inputs")
	}
	if !strings.Contains(a, "мотивация: goal_oriented") {
		t.Errorf("context missing profile highlights:\n%s", a)
	}
}

func TestGetContextRespectsBudget(t *testing.T) {
	mgr, _ := newTestManager(t, vecstore.NewMemStore(), nil)
	ctx := context.Background()

	long := strings.Repeat("запись о еде ", 500)
	for i := 0; i < 30; i++ {
		mgr.OnCheckin(ctx, &storage.HealthRecord{
			UserID: "u1", Kind: storage.RecordMeal, Value: 500, Note: long,
			RecordedAt: time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		})
	}

	out := mgr.GetContext(ctx, "u1", "", 15, 20, false)
	if n := utf8.RuneCountInString(out); n > 4000 {
		t.Errorf("context length = %d runes, want <= 4000", n)
	}
	if !utf8.ValidString(out) {
		t.Error("truncation produced invalid UTF-8")
	}
}

func TestNoLongTermStoreDegradesGracefully(t *testing.T) {
	mgr, _ := newTestManager(t, nil, nil)
	ctx := context.Background()

	mgr.OnCheckin(ctx, &storage.HealthRecord{
		UserID: "u1", Kind: storage.RecordWater, Value: 250,
		RecordedAt: time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC),
	})

	out := mgr.GetContext(ctx, "u1", "вода", 15, 20, true)
	if !strings.Contains(out, "[water]") {
		t.Errorf("short-term context must survive without long-term store:\n%s", out)
	}
}

func TestCompressMergesOldSummaries(t *testing.T) {
	long := vecstore.NewMemStore()
	mgr, _ := newTestManager(t, long, nil)
	ctx := context.Background()

	old := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	emb, _ := embedding.NewMockEngine(32).Embed(ctx, "старый разговор")
	for i := 0; i < 3; i++ {
		long.Add(ctx, vecstore.Document{
			UserID: "u1", Kind: vecstore.KindDialogueSummary,
			Content: "старый разговор", Importance: vecstore.ImportanceMedium,
			Timestamp: old, RetainUntil: old.AddDate(0, 0, 90),
		}, emb)
	}

	if err := mgr.Compress(ctx, "u1"); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if long.Len() != 1 {
		t.Errorf("after compress docs = %d, want 1 merged", long.Len())
	}
}

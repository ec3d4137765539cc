package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fdg312/coach-hub/internal/ai"
	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/channels"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/compose"
	"github.com/fdg312/coach-hub/internal/config"
	"github.com/fdg312/coach-hub/internal/decision"
	"github.com/fdg312/coach-hub/internal/detect"
	"github.com/fdg312/coach-hub/internal/embedding"
	"github.com/fdg312/coach-hub/internal/engagement"
	"github.com/fdg312/coach-hub/internal/memory"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/reminders"
	"github.com/fdg312/coach-hub/internal/storage"
	memstorage "github.com/fdg312/coach-hub/internal/storage/memory"
	"github.com/fdg312/coach-hub/internal/vecstore"
)

type failingAdapter struct{}

func (failingAdapter) Deliver(context.Context, channels.Notification) error {
	return errors.New("channel down")
}
func (failingAdapter) Name() string { return "chat" }

type fixture struct {
	sched *Scheduler
	store *memstorage.MemoryStorage
	clock *clock.Virtual
	sink  *metrics.RecordingSink
}

func newFixture(t *testing.T, now time.Time, adapter channels.Adapter) *fixture {
	t.Helper()
	store := memstorage.New()
	clk := clock.NewVirtual(now)
	sink := metrics.NewRecordingSink()
	llm := &ai.MockProvider{Err: context.DeadlineExceeded}

	cfg := &config.Config{
		DecisionWeights:            config.DecisionWeights{Conservative: 0.8, Balanced: 0.5, Intelligent: 0.2},
		DailyCaps:                  config.DailyCaps{High: 6, Medium: 4, Low: 2},
		MinIntervalSameTypeSeconds: 7200,
		SendThreshold:              0.55,
		DeferThreshold:             0.35,
		QuietStartMinutes:          22 * 60,
		QuietEndMinutes:            8 * 60,
		LLMFallbackMs:              100,
		DeliveryMaxRetries:         3,
		WorkerCount:                2,
		ShutdownGraceSeconds:       1,
		StartupCancelStaleMins:     60,
	}

	detector := detect.NewDetector(store, llm, clk, sink, detect.TTLs{})
	tracker := engagement.NewTracker(store, store, store, clk, engagement.DefaultWeights())
	engine := decision.NewEngine(store, store, store, tracker, detector, llm, clk, sink, cfg)

	shortTerm := memory.NewShortTerm()
	mem := memory.NewManager(shortTerm, vecstore.NewMemStore(), embedding.NewMockEngine(16), llm, store, nil, clk, sink, memory.Options{})
	generator := compose.NewGenerator(mem, detector, llm, store, clk, sink, 100, 300)

	remindersSvc := reminders.NewService(store, clk)
	if adapter == nil {
		adapter = channels.NewChatAdapter(store, clk.Now)
	}
	router := channels.NewRouter(adapter, adapter)
	events := bus.New()

	sched := New(remindersSvc, engine, generator, store, store, store, router, events, clk, sink, cfg)

	err := store.UpsertProfile(context.Background(), &storage.UserProfile{
		UserID:               "u1",
		MotivationType:       "goal_oriented",
		DecisionMode:         "balanced",
		NotificationsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{sched: sched, store: store, clock: clk, sink: sink}
}

func (f *fixture) seedActiveWeek(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	for day := 0; day < 7; day++ {
		at := now.AddDate(0, 0, -day)
		f.store.InsertInteraction(ctx, &storage.InteractionEvent{UserID: "u1", Kind: "login", OccurredAt: at})
		f.store.InsertInteraction(ctx, &storage.InteractionEvent{UserID: "u1", Kind: "record", OccurredAt: at})
	}
	f.store.InsertInteraction(ctx, &storage.InteractionEvent{UserID: "u1", Kind: "sent", NotificationType: "x", OccurredAt: now})
	f.store.InsertInteraction(ctx, &storage.InteractionEvent{UserID: "u1", Kind: "click", NotificationType: "x", OccurredAt: now})
}

func entryByType(t *testing.T, store *memstorage.MemoryStorage, userID, notifType string) []storage.QueueEntry {
	t.Helper()
	all, err := store.ListQueueEntries(context.Background(), userID, 100)
	if err != nil {
		t.Fatal(err)
	}
	var out []storage.QueueEntry
	for _, e := range all {
		if e.Type == notifType {
			out = append(out, e)
		}
	}
	return out
}

func TestSendPathMarksEntrySentWithMatchingVerdict(t *testing.T) {
	now := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	f.seedActiveWeek(t)
	ctx := context.Background()

	f.sched.Enqueue(ctx, decision.Candidate{
		UserID: "u1", Type: "exercise_reminder", ScheduledAt: now,
	}, "")
	f.sched.DrainUser(ctx, "u1")

	entries := entryByType(t, f.store, "u1", "exercise_reminder")
	if len(entries) != 1 {
		t.Fatalf("queue entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != storage.StatusSent || e.SentAt == nil {
		t.Fatalf("entry status = %s (sentAt=%v), want sent", e.Status, e.SentAt)
	}
	if e.Body == "" {
		t.Error("sent entry has empty body")
	}

	// P5/I7: a matching send verdict exists for the sent notification.
	v, found, err := f.store.FindVerdict(ctx, "u1", "exercise_reminder", e.ScheduledAt)
	if err != nil || !found {
		t.Fatalf("no verdict record for sent notification: %v", err)
	}
	if v.Verdict != decision.OutcomeSend {
		t.Errorf("verdict = %s, want send", v.Verdict)
	}

	// Delivery is recorded for the effectiveness tracker.
	events, _ := f.store.ListInteractionsSince(ctx, "u1", now)
	sentSeen := false
	for _, ev := range events {
		if ev.Kind == "sent" && ev.NotificationType == "exercise_reminder" {
			sentSeen = true
		}
	}
	if !sentSeen {
		t.Error("sent interaction not recorded")
	}

	// The chat adapter inserted the assistant message.
	msgs, _ := f.store.ListDialogueSince(ctx, "u1", now.Add(-time.Minute), 10)
	if len(msgs) != 1 || msgs[0].Role != "assistant" {
		t.Errorf("chat delivery missing: %+v", msgs)
	}
}

func TestDuplicateCandidateIsDeduped(t *testing.T) {
	now := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	f.seedActiveWeek(t)
	ctx := context.Background()

	c := decision.Candidate{UserID: "u1", Type: "exercise_reminder", ScheduledAt: now}
	f.sched.Enqueue(ctx, c, "")
	f.sched.Enqueue(ctx, c, "")

	entries := entryByType(t, f.store, "u1", "exercise_reminder")
	if len(entries) != 2 {
		t.Fatalf("queue entries = %d, want 2", len(entries))
	}
	deduped := 0
	for _, e := range entries {
		if e.Status == storage.StatusDeduped {
			deduped++
		}
	}
	if deduped != 1 {
		t.Errorf("deduped entries = %d, want exactly 1", deduped)
	}
	if f.sink.Count("notification.deduped") != 1 {
		t.Error("dedup metric not incremented")
	}
}

func TestQuietHoursCancelsPendingLowAndMedium(t *testing.T) {
	now := time.Date(2026, 2, 20, 22, 30, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	ctx := context.Background()

	// A pending medium entry and a pending high entry already in queue.
	mediumEntry := &storage.QueueEntry{
		UserID: "u1", Type: "water_reminder", Status: storage.StatusPending,
		Priority: storage.PriorityMedium, ScheduledAt: now.Add(time.Hour),
	}
	highEntry := &storage.QueueEntry{
		UserID: "u1", Type: "anomaly_alert", Status: storage.StatusPending,
		Priority: storage.PriorityHigh, BypassQuietHours: true, ScheduledAt: now.Add(time.Hour),
	}
	f.store.InsertQueueEntry(ctx, mediumEntry)
	f.store.InsertQueueEntry(ctx, highEntry)

	// Dequeued candidate hits the quiet-hours gate and sweeps the rest.
	f.sched.Enqueue(ctx, decision.Candidate{UserID: "u1", Type: "weekly_report", ScheduledAt: now}, "")
	f.sched.DrainUser(ctx, "u1")

	weekly := entryByType(t, f.store, "u1", "weekly_report")
	if len(weekly) != 1 || weekly[0].Status != storage.StatusCancelled {
		t.Errorf("quiet-hours candidate = %+v, want cancelled", weekly)
	}

	water := entryByType(t, f.store, "u1", "water_reminder")
	if water[0].Status != storage.StatusCancelled {
		t.Errorf("pending medium entry = %s, want cancelled on quiet-hours entry", water[0].Status)
	}

	anomaly := entryByType(t, f.store, "u1", "anomaly_alert")
	if anomaly[0].Status != storage.StatusPending {
		t.Errorf("bypass entry = %s, must survive the quiet-hours sweep", anomaly[0].Status)
	}
}

func TestDeliveryFailureDeadLettersAfterRetries(t *testing.T) {
	now := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now, failingAdapter{})
	f.seedActiveWeek(t)
	ctx := context.Background()

	f.sched.Enqueue(ctx, decision.Candidate{UserID: "u1", Type: "exercise_reminder", ScheduledAt: now}, "")
	f.sched.DrainUser(ctx, "u1")

	entries := entryByType(t, f.store, "u1", "exercise_reminder")
	if len(entries) != 1 {
		t.Fatalf("queue entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != storage.StatusFailed {
		t.Fatalf("entry status = %s, want failed", e.Status)
	}
	if e.Attempts != 4 { // initial try + 3 retries
		t.Errorf("attempts = %d, want 4", e.Attempts)
	}
	if f.sink.Count("notification.failed") != 1 {
		t.Error("failed metric not incremented")
	}
}

func TestDeferredCandidateWaitsForRelease(t *testing.T) {
	// Inactive user at 15:00: exercise lands in the defer band (optimal 18:00).
	now := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	ctx := context.Background()

	f.sched.Enqueue(ctx, decision.Candidate{UserID: "u1", Type: "exercise_reminder", ScheduledAt: now}, "")
	f.sched.DrainUser(ctx, "u1")

	entries := entryByType(t, f.store, "u1", "exercise_reminder")
	if len(entries) != 1 {
		t.Fatalf("queue entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Status != storage.StatusPending {
		t.Fatalf("deferred entry status = %s, want still pending", e.Status)
	}
	if e.ScheduledAt.Hour() != 18 {
		t.Errorf("rescheduled to hour %d, want 18", e.ScheduledAt.Hour())
	}

	// Before the defer time nothing is released.
	f.sched.releaseDeferred(ctx, f.clock.Now())
	if _, ok := f.sched.boxes.pop("u1"); ok {
		t.Fatal("candidate released before its defer time")
	}

	// At 18:00 the candidate re-enters the mailbox.
	f.clock.Advance(3 * time.Hour)
	f.sched.releaseDeferred(ctx, f.clock.Now())
	if _, ok := f.sched.boxes.pop("u1"); !ok {
		t.Fatal("candidate not released at its defer time")
	}
}

func TestCancelUserDropsMailboxAndPending(t *testing.T) {
	now := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	ctx := context.Background()

	f.sched.Enqueue(ctx, decision.Candidate{UserID: "u1", Type: "water_reminder", ScheduledAt: now}, "")
	f.sched.CancelUser(ctx, "u1", false)

	entries := entryByType(t, f.store, "u1", "water_reminder")
	if entries[0].Status != storage.StatusCancelled {
		t.Errorf("entry status = %s, want cancelled", entries[0].Status)
	}
	if _, ok := f.sched.boxes.pop("u1"); ok {
		t.Error("mailbox not cleared by user cancel")
	}
}

func TestTerminalStatusNeverTransitions(t *testing.T) {
	now := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	f := newFixture(t, now, nil)
	ctx := context.Background()

	e := &storage.QueueEntry{
		UserID: "u1", Type: "x", Status: storage.StatusPending,
		Priority: storage.PriorityMedium, ScheduledAt: now,
	}
	f.store.InsertQueueEntry(ctx, e)
	sentAt := now
	f.store.UpdateQueueStatus(ctx, e.ID, storage.StatusSent, &sentAt, 1)
	f.store.UpdateQueueStatus(ctx, e.ID, storage.StatusCancelled, nil, 1)

	entries := entryByType(t, f.store, "u1", "x")
	if entries[0].Status != storage.StatusSent {
		t.Errorf("terminal state mutated to %s", entries[0].Status)
	}
}

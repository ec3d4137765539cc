// Package scheduler owns the delivery loop: timer and event producers
// feed per-user mailboxes, a bounded worker pool drains them through
// decide → generate → deliver.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/channels"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/compose"
	"github.com/fdg312/coach-hub/internal/config"
	"github.com/fdg312/coach-hub/internal/decision"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/reminders"
	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// MidnightHook runs once per local-midnight tick (achievement re-evaluation).
type MidnightHook func(ctx context.Context, userID string)

// Scheduler — C10.
type Scheduler struct {
	remindersSvc *reminders.Service
	engine       *decision.Engine
	generator    *compose.Generator
	queue        storage.QueueStorage
	interactions storage.InteractionsStorage
	profiles     storage.ProfilesStorage
	router       *channels.Router
	events       *bus.Bus
	clock        clock.Clock
	sink         metrics.Sink
	cfg          *config.Config

	boxes    *mailboxes
	group    *errgroup.Group
	groupCtx context.Context

	mu          sync.Mutex
	deferred    []candidate
	userCancels map[string]context.CancelFunc
	midnight    MidnightHook
	lastTickDay string
}

func New(
	remindersSvc *reminders.Service,
	engine *decision.Engine,
	generator *compose.Generator,
	queue storage.QueueStorage,
	interactions storage.InteractionsStorage,
	profiles storage.ProfilesStorage,
	router *channels.Router,
	events *bus.Bus,
	clk clock.Clock,
	sink metrics.Sink,
	cfg *config.Config,
) *Scheduler {
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Scheduler{
		remindersSvc: remindersSvc,
		engine:       engine,
		generator:    generator,
		queue:        queue,
		interactions: interactions,
		profiles:     profiles,
		router:       router,
		events:       events,
		clock:        clk,
		sink:         sink,
		cfg:          cfg,
		boxes:        newMailboxes(),
		userCancels:  make(map[string]context.CancelFunc),
	}
}

// SetMidnightHook registers the daily re-evaluation callback.
func (s *Scheduler) SetMidnightHook(h MidnightHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.midnight = h
}

// Run blocks until ctx is cancelled, then drains in-flight candidates
// within the shutdown grace.
func (s *Scheduler) Run(ctx context.Context) error {
	// Startup repair: pending entries from a previous unclean shutdown
	// move to cancelled.
	stale := time.Duration(s.cfg.StartupCancelStaleMins) * time.Minute
	if n, err := s.queue.CancelStalePending(ctx, s.clock.Now().Add(-stale)); err != nil {
		log.Printf("startup queue repair failed: %v", err)
	} else if n > 0 {
		log.Printf("startup queue repair: cancelled %d stale pending entries", n)
	}

	workers := s.cfg.WorkerCount
	if workers <= 0 {
		workers = 8
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers + 2) // producers + worker pool
	s.group = group
	s.groupCtx = groupCtx

	group.Go(func() error { return s.timerLoop(groupCtx) })
	group.Go(func() error { return s.eventLoop(groupCtx) })

	<-ctx.Done()

	grace := time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second
	done := make(chan struct{})
	go func() {
		group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Printf("scheduler: shutdown grace %s exceeded, abandoning in-flight candidates", grace)
	}
	return nil
}

// timerLoop wakes every minute, enqueues due reminders, releases due
// deferred candidates and fires the midnight hook.
func (s *Scheduler) timerLoop(ctx context.Context) error {
	for {
		now := s.clock.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		if err := s.clock.SleepUntil(ctx, next); err != nil {
			return nil // shutdown
		}
		now = s.clock.Now()

		due, err := s.remindersSvc.Due(ctx, now)
		if err != nil {
			log.Printf("reminder scan failed: %v", err)
			s.sink.Incr("scheduler.timer.error", nil)
		}
		for _, r := range due {
			s.EnqueueReminder(ctx, r, now)
		}

		s.releaseDeferred(ctx, now)
		s.maybeMidnight(ctx, now)
	}
}

// eventLoop consumes the process bus and enqueues event-triggered
// candidates.
func (s *Scheduler) eventLoop(ctx context.Context) error {
	ch := s.events.Subscribe(256)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleBusEvent(ctx, ev)
		}
	}
}

func (s *Scheduler) handleBusEvent(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.KindAchievementUnlocked:
		s.Enqueue(ctx, decision.Candidate{
			UserID:      ev.UserID,
			Type:        "achievement_unlocked",
			Priority:    storage.PriorityHigh,
			ScheduledAt: s.clock.Now(),
			Payload:     ev.Payload,
		}, "celebrate the unlocked achievement")
	case bus.KindGoalThresholdCrossed:
		s.Enqueue(ctx, decision.Candidate{
			UserID:      ev.UserID,
			Type:        "goal_progress",
			Priority:    storage.PriorityMedium,
			ScheduledAt: s.clock.Now(),
			Payload:     ev.Payload,
		}, "goal threshold crossed")
	case bus.KindAnomalyDetected:
		s.Enqueue(ctx, decision.Candidate{
			UserID:           ev.UserID,
			Type:             "anomaly_alert",
			Priority:         storage.PriorityHigh,
			BypassQuietHours: true,
			ScheduledAt:      s.clock.Now(),
			Payload:          ev.Payload,
		}, "health anomaly detected")
	}
}

// EnqueueReminder turns a fired reminder setting into a candidate.
func (s *Scheduler) EnqueueReminder(ctx context.Context, r storage.ReminderSetting, now time.Time) {
	s.Enqueue(ctx, decision.Candidate{
		UserID:      r.UserID,
		Type:        r.Type,
		Priority:    storage.PriorityMedium,
		ScheduledAt: now,
	}, "")
}

// Enqueue deduplicates, writes the queue entry and pushes the candidate
// into the user's mailbox, spawning a drain worker if none is running.
func (s *Scheduler) Enqueue(ctx context.Context, c decision.Candidate, planIntent string) {
	if c.Priority == "" {
		c.Priority = storage.PriorityMedium
	}

	var payload []byte
	if len(c.Payload) > 0 {
		payload, _ = json.Marshal(c.Payload)
	}
	entry := storage.QueueEntry{
		UserID:           c.UserID,
		Type:             c.Type,
		Channel:          "chat",
		Status:           storage.StatusPending,
		Priority:         c.Priority,
		BypassQuietHours: c.BypassQuietHours,
		Payload:          payload,
		ScheduledAt:      c.ScheduledAt,
	}

	// Dedup: a pending or recently-sent notification of the same
	// (type, scheduled hour) short-circuits the candidate.
	dupSince := s.clock.Now().Add(-time.Duration(s.cfg.MinIntervalSameTypeSeconds) * time.Second)
	dup, err := s.queue.HasPendingOrRecentSameType(ctx, c.UserID, c.Type, c.ScheduledAt, dupSince)
	if err != nil {
		log.Printf("dedup check failed for user %s: %v", c.UserID, err)
	}
	if dup {
		entry.Status = storage.StatusDeduped
		if err := s.queue.InsertQueueEntry(ctx, &entry); err != nil {
			log.Printf("queue insert failed for user %s: %v", c.UserID, err)
		}
		s.sink.Incr("notification.deduped", map[string]string{"type": c.Type})
		return
	}

	if err := s.queue.InsertQueueEntry(ctx, &entry); err != nil {
		log.Printf("queue insert failed for user %s: %v", c.UserID, err)
		s.sink.Incr("scheduler.enqueue.error", nil)
		return
	}

	s.pushMailbox(candidate{Candidate: c, EntryID: entry.ID, PlanIntent: planIntent})
}

func (s *Scheduler) pushMailbox(c candidate) {
	if !s.boxes.push(c.UserID, c) {
		return
	}
	userID := c.UserID
	if s.group == nil {
		// Not running (tests drive DrainUser directly).
		return
	}
	s.group.Go(func() error {
		s.DrainUser(s.groupCtx, userID)
		return nil
	})
}

// DrainUser processes the user's mailbox to empty. Exported for tests
// driving the loop synchronously.
func (s *Scheduler) DrainUser(ctx context.Context, userID string) {
	userCtx := s.userContext(ctx, userID)
	for {
		c, ok := s.boxes.pop(userID)
		if !ok {
			return
		}
		if ctx.Err() != nil {
			// Shutdown: stop dequeuing, leave entries pending for the
			// startup repair pass.
			return
		}
		s.processCandidate(userCtx, c)
	}
}

// processCandidate is one full cycle: decide → generate → deliver.
// Failures are contained to the cycle.
func (s *Scheduler) processCandidate(ctx context.Context, c candidate) {
	verdict, err := s.engine.Decide(ctx, c.Candidate)
	if err != nil {
		log.Printf("decision failed for user %s type %s: %v", c.UserID, c.Type, err)
		s.finish(ctx, c, storage.StatusCancelled, nil, 0)
		return
	}

	switch verdict.Outcome {
	case decision.OutcomeDrop:
		s.finish(ctx, c, storage.StatusCancelled, nil, 0)
		if verdict.Reason == "quiet_hours" {
			// Entering quiet hours also sweeps the rest of the user's
			// pending low/medium candidates.
			s.CancelUser(ctx, c.UserID, true)
		}
		return

	case decision.OutcomeDefer:
		if err := s.queue.UpdateQueueSchedule(ctx, c.EntryID, verdict.DeferUntil); err != nil {
			log.Printf("defer reschedule failed for user %s: %v", c.UserID, err)
		}
		c.ScheduledAt = verdict.DeferUntil
		s.mu.Lock()
		s.deferred = append(s.deferred, c)
		s.mu.Unlock()
		s.sink.Incr("notification.deferred", map[string]string{"type": c.Type})
		return
	}

	// send
	msg, err := s.generator.Generate(ctx, compose.Request{
		UserID:     c.UserID,
		Type:       c.Type,
		Rationale:  verdict.Reason,
		PlanIntent: c.PlanIntent,
		Payload:    c.Payload,
	})
	if err != nil {
		log.Printf("generation failed for user %s type %s: %v", c.UserID, c.Type, err)
		s.finish(ctx, c, storage.StatusFailed, nil, 0)
		return
	}

	if err := s.queue.UpdateQueueContent(ctx, c.EntryID, msg.Title, msg.Body, msg.ChannelHint); err != nil {
		log.Printf("queue content update failed: %v", err)
	}

	s.deliver(ctx, c, msg)
}

// deliver hands the message to the channel adapter with bounded retries;
// exhaustion dead-letters the entry as failed.
func (s *Scheduler) deliver(ctx context.Context, c candidate, msg compose.Message) {
	var payload []byte
	if len(c.Payload) > 0 {
		payload, _ = json.Marshal(c.Payload)
	}

	attempts := 0
	maxRetries := uint64(s.cfg.DeliveryMaxRetries)
	if maxRetries == 0 {
		maxRetries = 3
	}
	backoff := retry.WithMaxRetries(maxRetries, retry.WithJitterPercent(20, retry.NewExponential(100*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if derr := s.router.Deliver(ctx, channels.Notification{
			UserID:      c.UserID,
			Type:        c.Type,
			Title:       msg.Title,
			Body:        msg.Body,
			ChannelHint: msg.ChannelHint,
			Payload:     payload,
		}); derr != nil {
			return retry.RetryableError(derr)
		}
		return nil
	})

	now := s.clock.Now()
	if err != nil {
		log.Printf("delivery dead-letter for user %s type %s after %d attempts: %v", c.UserID, c.Type, attempts, err)
		s.finish(ctx, c, storage.StatusFailed, nil, attempts)
		s.sink.Incr("notification.failed", map[string]string{"type": c.Type})
		return
	}

	s.finish(ctx, c, storage.StatusSent, &now, attempts)
	s.sink.Incr("notification.sent", map[string]string{"type": c.Type})

	// Feed the effectiveness tracker.
	if ierr := s.interactions.InsertInteraction(ctx, &storage.InteractionEvent{
		UserID:           c.UserID,
		Kind:             "sent",
		NotificationType: c.Type,
		OccurredAt:       now,
	}); ierr != nil {
		log.Printf("interaction record failed: %v", ierr)
	}
}

func (s *Scheduler) finish(ctx context.Context, c candidate, status string, sentAt *time.Time, attempts int) {
	if err := s.queue.UpdateQueueStatus(ctx, c.EntryID, status, sentAt, attempts); err != nil {
		log.Printf("queue status update failed for %s: %v", c.EntryID, err)
	}
}

// releaseDeferred moves due deferred candidates back into mailboxes.
func (s *Scheduler) releaseDeferred(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []candidate
	rest := s.deferred[:0]
	for _, c := range s.deferred {
		if !c.ScheduledAt.After(now) {
			due = append(due, c)
		} else {
			rest = append(rest, c)
		}
	}
	s.deferred = rest
	s.mu.Unlock()

	for _, c := range due {
		s.pushMailbox(c)
	}
}

func (s *Scheduler) maybeMidnight(ctx context.Context, now time.Time) {
	day := now.Format("2006-01-02")

	s.mu.Lock()
	hook := s.midnight
	first := s.lastTickDay != "" && s.lastTickDay != day
	s.lastTickDay = day
	s.mu.Unlock()

	if !first || hook == nil {
		return
	}

	userIDs, err := s.profiles.ListUserIDs(ctx)
	if err != nil {
		log.Printf("midnight user scan failed: %v", err)
		return
	}
	for _, id := range userIDs {
		hook(ctx, id)
	}
}

// CancelUser drops all queued and pending candidates for the user.
// onlyLowMedium keeps high-priority and bypass entries (quiet-hours
// sweep); a full cancel is used on deactivation.
func (s *Scheduler) CancelUser(ctx context.Context, userID string, onlyLowMedium bool) {
	if !onlyLowMedium {
		s.mu.Lock()
		if cancel, ok := s.userCancels[userID]; ok {
			cancel()
			delete(s.userCancels, userID)
		}
		s.mu.Unlock()
		s.boxes.clear(userID)
	}

	if n, err := s.queue.CancelPending(ctx, userID, onlyLowMedium); err != nil {
		log.Printf("cancel pending failed for user %s: %v", userID, err)
	} else if n > 0 {
		s.sink.Incr("notification.cancelled", map[string]string{"count": fmt.Sprintf("%d", n)})
	}
}

// userContext gives each user's in-flight work a cancellable context so
// a user-scoped cancel interrupts LLM calls mid-flight.
func (s *Scheduler) userContext(parent context.Context, userID string) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(parent)
	s.userCancels[userID] = cancel
	return ctx
}

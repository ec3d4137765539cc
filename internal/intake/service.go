// Package intake receives the inbound core events (§ external
// interfaces): health records, dialogue messages, preference changes.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fdg312/coach-hub/internal/achievements"
	"github.com/fdg312/coach-hub/internal/bus"
	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/ledger"
	"github.com/fdg312/coach-hub/internal/memory"
	"github.com/fdg312/coach-hub/internal/metrics"
	"github.com/fdg312/coach-hub/internal/storage"
)

var (
	ErrUnknownUser   = errors.New("unknown_user")
	ErrInvalidRecord = errors.New("invalid_record")
)

// Canceller drops pending work for a user (scheduler hook).
type Canceller interface {
	CancelUser(ctx context.Context, userID string, onlyLowMedium bool)
}

// Service — оркестрация входящих событий ядра.
type Service struct {
	records      storage.RecordsStorage
	dialogue     storage.DialogueStorage
	profiles     storage.ProfilesStorage
	interactions storage.InteractionsStorage
	mem          *memory.Manager
	evaluator    *achievements.Evaluator
	ledger       *ledger.Service
	events       *bus.Bus
	canceller    Canceller
	clock        clock.Clock
	sink         metrics.Sink
}

func NewService(
	records storage.RecordsStorage,
	dialogue storage.DialogueStorage,
	profiles storage.ProfilesStorage,
	interactions storage.InteractionsStorage,
	mem *memory.Manager,
	evaluator *achievements.Evaluator,
	ledgerSvc *ledger.Service,
	events *bus.Bus,
	canceller Canceller,
	clk clock.Clock,
	sink metrics.Sink,
) *Service {
	if sink == nil {
		sink = metrics.NullSink{}
	}
	return &Service{
		records:      records,
		dialogue:     dialogue,
		profiles:     profiles,
		interactions: interactions,
		mem:          mem,
		evaluator:    evaluator,
		ledger:       ledgerSvc,
		events:       events,
		canceller:    canceller,
		clock:        clk,
		sink:         sink,
	}
}

// RecordCreated persists the record, feeds memory, runs the achievement
// hook and publishes the bus event. Achievement failures never fail the
// record write.
func (s *Service) RecordCreated(ctx context.Context, userID, kind string, value float64, durationMin *int, note string, metadata []byte, at time.Time) (*storage.HealthRecord, []achievements.Unlock, error) {
	if err := validateRecord(kind, value, durationMin); err != nil {
		return nil, nil, err
	}
	if _, found, err := s.profiles.GetProfile(ctx, userID); err != nil {
		return nil, nil, fmt.Errorf("get profile: %w", err)
	} else if !found {
		return nil, nil, ErrUnknownUser
	}

	if at.IsZero() {
		at = s.clock.Now()
	}
	rec := &storage.HealthRecord{
		UserID:      userID,
		Kind:        kind,
		Value:       value,
		DurationMin: durationMin,
		Note:        note,
		Metadata:    metadata,
		RecordedAt:  at,
	}
	if err := s.records.InsertRecord(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("insert record: %w", err)
	}
	s.sink.Incr("record.created", map[string]string{"kind": kind})

	if err := s.interactions.InsertInteraction(ctx, &storage.InteractionEvent{
		UserID:     userID,
		Kind:       "record",
		OccurredAt: at,
	}); err != nil {
		log.Printf("interaction record failed: %v", err)
	}

	s.mem.OnCheckin(ctx, rec)

	unlocks, err := s.evaluator.OnRecordCreated(ctx, userID, kind, rec.ID)
	if err != nil {
		// Contained: the record write already succeeded.
		log.Printf("achievement evaluation failed for user %s: %v", userID, err)
	}

	switch kind {
	case storage.RecordWater:
		s.maybeAwardWaterGoal(ctx, userID, at)
	case storage.RecordWeight:
		s.maybePublishGoalCrossed(ctx, userID, value, at)
	}

	s.events.Publish(bus.Event{
		Kind:       bus.KindRecordCreated,
		UserID:     userID,
		RecordID:   rec.ID,
		RecordKind: kind,
		OccurredAt: at,
	})
	return rec, unlocks, nil
}

const waterGoalMl = 2000

// maybeAwardWaterGoal grants water_goal_met once the day's total crosses
// the goal; the reason is daily-unique so only the crossing record pays.
func (s *Service) maybeAwardWaterGoal(ctx context.Context, userID string, at time.Time) {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	records, err := s.records.ListRecords(ctx, userID, dayStart, at)
	if err != nil {
		log.Printf("water total scan failed: %v", err)
		return
	}
	total := 0.0
	for _, r := range records {
		if r.Kind == storage.RecordWater {
			total += r.Value
		}
	}
	if total < waterGoalMl {
		return
	}
	if _, err := s.ledger.Earn(ctx, userID, "water_goal_met", 10, nil); err != nil {
		log.Printf("water_goal_met earn failed for user %s: %v", userID, err)
	}
}

// maybePublishGoalCrossed emits goal_threshold_crossed when a new weight
// reading reaches the active goal.
func (s *Service) maybePublishGoalCrossed(ctx context.Context, userID string, value float64, at time.Time) {
	p, found, err := s.profiles.GetProfile(ctx, userID)
	if err != nil || !found || p.GoalWeightKg == nil {
		return
	}
	if value > *p.GoalWeightKg {
		return
	}
	s.events.Publish(bus.Event{
		Kind:       bus.KindGoalThresholdCrossed,
		UserID:     userID,
		Payload:    map[string]any{"weight": value, "goal": *p.GoalWeightKg},
		OccurredAt: at,
	})
}

// DialogueMessage stores the turn and feeds short-term memory.
func (s *Service) DialogueMessage(ctx context.Context, userID, role, content string, at time.Time) error {
	if content == "" || (role != "user" && role != "assistant" && role != "system") {
		return ErrInvalidRecord
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	if _, err := s.dialogue.InsertDialogue(ctx, userID, role, content, nil, at); err != nil {
		return fmt.Errorf("insert dialogue: %w", err)
	}
	s.mem.OnDialogue(ctx, userID, role, content, at)

	s.events.Publish(bus.Event{
		Kind:       bus.KindDialogueMessage,
		UserID:     userID,
		OccurredAt: at,
	})
	return nil
}

// OnDailyCheckin registers the daily login: one daily_login grant per
// local day, plus a fresh achievement pass (streak bonuses land here).
func (s *Service) OnDailyCheckin(ctx context.Context, userID string) (ledger.EarnResult, []achievements.Unlock, error) {
	if _, found, err := s.profiles.GetProfile(ctx, userID); err != nil {
		return ledger.EarnResult{}, nil, err
	} else if !found {
		return ledger.EarnResult{}, nil, ErrUnknownUser
	}

	if err := s.interactions.InsertInteraction(ctx, &storage.InteractionEvent{
		UserID:     userID,
		Kind:       "login",
		OccurredAt: s.clock.Now(),
	}); err != nil {
		log.Printf("login interaction failed: %v", err)
	}

	result, err := s.ledger.Earn(ctx, userID, "daily_login", 5, nil)
	if err != nil {
		return ledger.EarnResult{}, nil, err
	}

	unlocks, err := s.evaluator.Evaluate(ctx, userID)
	if err != nil {
		log.Printf("achievement evaluation failed for user %s: %v", userID, err)
	}
	return result, unlocks, nil
}

// NotificationInteraction feeds the engagement tracker (open, click,
// dismiss, negative).
func (s *Service) NotificationInteraction(ctx context.Context, userID, kind, notifType string) error {
	switch kind {
	case "open", "click", "dismiss", "negative", "social_share":
	default:
		return ErrInvalidRecord
	}
	return s.interactions.InsertInteraction(ctx, &storage.InteractionEvent{
		UserID:           userID,
		Kind:             kind,
		NotificationType: notifType,
		OccurredAt:       s.clock.Now(),
	})
}

// PreferencesPatch — частичное обновление настроек уведомлений.
type PreferencesPatch struct {
	NotificationsEnabled *bool    `json:"notifications_enabled,omitempty"`
	DisabledTypes        []string `json:"disabled_types,omitempty"`
	QuietStartMinutes    *int     `json:"quiet_start_minutes,omitempty"`
	QuietEndMinutes      *int     `json:"quiet_end_minutes,omitempty"`
	DecisionMode         *string  `json:"decision_mode,omitempty"`
	Deactivated          *bool    `json:"deactivated,omitempty"`
}

// PreferencesChanged applies the patch; disabling notifications or
// deactivating the user drops all pending work for them.
func (s *Service) PreferencesChanged(ctx context.Context, userID string, patch PreferencesPatch) error {
	p, found, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownUser
	}

	if patch.NotificationsEnabled != nil {
		p.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.DisabledTypes != nil {
		p.DisabledTypes = patch.DisabledTypes
	}
	if patch.QuietStartMinutes != nil && patch.QuietEndMinutes != nil {
		p.QuietStartMinutes = patch.QuietStartMinutes
		p.QuietEndMinutes = patch.QuietEndMinutes
	}
	if patch.DecisionMode != nil {
		switch *patch.DecisionMode {
		case "conservative", "balanced", "intelligent":
			p.DecisionMode = *patch.DecisionMode
		default:
			return fmt.Errorf("%w: decision_mode %q", ErrInvalidRecord, *patch.DecisionMode)
		}
	}
	if patch.Deactivated != nil {
		p.Deactivated = *patch.Deactivated
	}

	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		return err
	}

	if s.canceller != nil {
		if (patch.Deactivated != nil && *patch.Deactivated) ||
			(patch.NotificationsEnabled != nil && !*patch.NotificationsEnabled) {
			s.canceller.CancelUser(ctx, userID, false)
		}
	}
	return nil
}

func validateRecord(kind string, value float64, durationMin *int) error {
	switch kind {
	case storage.RecordWeight, storage.RecordMeal, storage.RecordWater:
		if value <= 0 {
			return fmt.Errorf("%w: %s value must be positive", ErrInvalidRecord, kind)
		}
	case storage.RecordExercise, storage.RecordSleep:
		if durationMin != nil && *durationMin < 0 {
			return fmt.Errorf("%w: negative duration", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, kind)
	}
	return nil
}

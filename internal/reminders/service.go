// Package reminders manages user reminder settings and their fire times.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/fdg312/coach-hub/internal/clock"
	"github.com/fdg312/coach-hub/internal/storage"
)

// Service — C12: CRUD поверх RemindersStorage плюс расчёт next_fire_at.
type Service struct {
	storage storage.RemindersStorage
	clock   clock.Clock
}

func NewService(st storage.RemindersStorage, clk clock.Clock) *Service {
	return &Service{storage: st, clock: clk}
}

// Upsert validates the setting, computes its next fire time and persists it.
func (s *Service) Upsert(ctx context.Context, userID, reminderType string, enabled bool, timeMinutes, daysMask int, metadata []byte) (storage.ReminderSetting, error) {
	if timeMinutes < 0 || timeMinutes > 1439 {
		return storage.ReminderSetting{}, fmt.Errorf("time_minutes out of range: %d", timeMinutes)
	}
	if daysMask < 0 || daysMask > 127 {
		return storage.ReminderSetting{}, fmt.Errorf("days_mask out of range: %d", daysMask)
	}
	if daysMask == 0 {
		daysMask = 127 // every day
	}

	setting := storage.ReminderSetting{
		UserID:      userID,
		Type:        reminderType,
		Enabled:     enabled,
		TimeMinutes: timeMinutes,
		DaysMask:    daysMask,
		Metadata:    metadata,
		NextFireAt:  NextFireAfter(s.clock.Now(), timeMinutes, daysMask),
	}
	return s.storage.UpsertReminder(ctx, &setting)
}

func (s *Service) Delete(ctx context.Context, userID, reminderType string) error {
	return s.storage.DeleteReminder(ctx, userID, reminderType)
}

func (s *Service) List(ctx context.Context, userID string) ([]storage.ReminderSetting, error) {
	return s.storage.ListReminders(ctx, userID)
}

// Due returns fired settings and advances each one's next fire time, so
// a setting is handed out exactly once per occurrence.
func (s *Service) Due(ctx context.Context, now time.Time) ([]storage.ReminderSetting, error) {
	due, err := s.storage.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	for _, r := range due {
		next := NextFireAfter(now, r.TimeMinutes, r.DaysMask)
		if err := s.storage.UpdateNextFire(ctx, r.ID, next); err != nil {
			return nil, fmt.Errorf("advance next fire for %s/%s: %w", r.UserID, r.Type, err)
		}
	}
	return due, nil
}

// NextFireAfter computes the first instant strictly after `after` where
// the reminder fires, skipping disabled weekdays.
func NextFireAfter(after time.Time, timeMinutes, daysMask int) time.Time {
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i).Add(time.Duration(timeMinutes) * time.Minute)
		if !candidate.After(after) {
			continue
		}
		if isWeekdayEnabled(daysMask, weekdayMaskBit(candidate.Weekday())) {
			return candidate
		}
	}
	// daysMask validated non-zero, so this is unreachable; fall back to tomorrow.
	return day.AddDate(0, 0, 1).Add(time.Duration(timeMinutes) * time.Minute)
}

func weekdayMaskBit(wd time.Weekday) int {
	if wd == time.Sunday {
		return 6
	}
	return int(wd) - 1 // Monday=1 -> bit 0
}

func isWeekdayEnabled(daysMask, bit int) bool {
	if bit < 0 || bit > 6 {
		return false
	}
	return (daysMask & (1 << bit)) != 0
}

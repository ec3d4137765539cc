package memory

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
)

// MemoryStorage — in-memory реализация storage.Storage.
type MemoryStorage struct {
	ledger       *LedgerMemoryStorage
	profiles     *ProfilesMemoryStorage
	records      *RecordsMemoryStorage
	queue        *QueueMemoryStorage
	verdicts     *VerdictsMemoryStorage
	reminders    *RemindersMemoryStorage
	dialogue     *DialogueMemoryStorage
	interactions *InteractionsMemoryStorage
	abResults    *ABResultsMemoryStorage
}

// New создаёт новый MemoryStorage
func New() *MemoryStorage {
	return &MemoryStorage{
		ledger:       NewLedgerMemoryStorage(),
		profiles:     NewProfilesMemoryStorage(),
		records:      NewRecordsMemoryStorage(),
		queue:        NewQueueMemoryStorage(),
		verdicts:     NewVerdictsMemoryStorage(),
		reminders:    NewRemindersMemoryStorage(),
		dialogue:     NewDialogueMemoryStorage(),
		interactions: NewInteractionsMemoryStorage(),
		abResults:    NewABResultsMemoryStorage(),
	}
}

func (m *MemoryStorage) Close() error {
	// no-op для memory
	return nil
}

// LedgerStorage methods - делегируем к встроенному ledger storage

func (m *MemoryStorage) Append(ctx context.Context, e *storage.LedgerEntry, dailyUnique bool) (bool, error) {
	return m.ledger.Append(ctx, e, dailyUnique)
}

func (m *MemoryStorage) Balance(ctx context.Context, userID string) (int, error) {
	return m.ledger.Balance(ctx, userID)
}

func (m *MemoryStorage) History(ctx context.Context, userID string, limit, offset int) ([]storage.LedgerEntry, int, error) {
	return m.ledger.History(ctx, userID, limit, offset)
}

// ProfilesStorage methods - delegate to embedded profiles storage

func (m *MemoryStorage) GetProfile(ctx context.Context, userID string) (*storage.UserProfile, bool, error) {
	return m.profiles.GetProfile(ctx, userID)
}

func (m *MemoryStorage) UpsertProfile(ctx context.Context, p *storage.UserProfile) error {
	return m.profiles.UpsertProfile(ctx, p)
}

func (m *MemoryStorage) ApplyPointsDelta(ctx context.Context, userID string, earned, spent int) error {
	return m.profiles.ApplyPointsDelta(ctx, userID, earned, spent)
}

func (m *MemoryStorage) AddAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	return m.profiles.AddAchievement(ctx, userID, achievementID)
}

func (m *MemoryStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	return m.profiles.ListUserIDs(ctx)
}

// RecordsStorage methods - delegate to embedded records storage

func (m *MemoryStorage) InsertRecord(ctx context.Context, r *storage.HealthRecord) error {
	return m.records.InsertRecord(ctx, r)
}

func (m *MemoryStorage) ListRecords(ctx context.Context, userID string, from, to time.Time) ([]storage.HealthRecord, error) {
	return m.records.ListRecords(ctx, userID, from, to)
}

func (m *MemoryStorage) CountRecords(ctx context.Context, userID, kind string) (int, error) {
	return m.records.CountRecords(ctx, userID, kind)
}

func (m *MemoryStorage) LatestRecord(ctx context.Context, userID, kind string) (*storage.HealthRecord, bool, error) {
	return m.records.LatestRecord(ctx, userID, kind)
}

// QueueStorage methods - delegate to embedded queue storage

func (m *MemoryStorage) InsertQueueEntry(ctx context.Context, e *storage.QueueEntry) error {
	return m.queue.InsertQueueEntry(ctx, e)
}

func (m *MemoryStorage) UpdateQueueStatus(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, attempts int) error {
	return m.queue.UpdateQueueStatus(ctx, id, status, sentAt, attempts)
}

func (m *MemoryStorage) HasPendingOrRecentSameType(ctx context.Context, userID, notifType string, scheduledHour time.Time, since time.Time) (bool, error) {
	return m.queue.HasPendingOrRecentSameType(ctx, userID, notifType, scheduledHour, since)
}

func (m *MemoryStorage) CancelPending(ctx context.Context, userID string, onlyLowMedium bool) (int, error) {
	return m.queue.CancelPending(ctx, userID, onlyLowMedium)
}

func (m *MemoryStorage) CancelStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	return m.queue.CancelStalePending(ctx, cutoff)
}

func (m *MemoryStorage) UpdateQueueSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	return m.queue.UpdateQueueSchedule(ctx, id, scheduledAt)
}

func (m *MemoryStorage) UpdateQueueContent(ctx context.Context, id uuid.UUID, title, body, channel string) error {
	return m.queue.UpdateQueueContent(ctx, id, title, body, channel)
}

func (m *MemoryStorage) CountSentBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	return m.queue.CountSentBetween(ctx, userID, from, to)
}

func (m *MemoryStorage) LastSentOfType(ctx context.Context, userID, notifType string) (*time.Time, bool, error) {
	return m.queue.LastSentOfType(ctx, userID, notifType)
}

func (m *MemoryStorage) ListQueueEntries(ctx context.Context, userID string, limit int) ([]storage.QueueEntry, error) {
	return m.queue.ListQueueEntries(ctx, userID, limit)
}

// VerdictsStorage methods - delegate to embedded verdicts storage

func (m *MemoryStorage) InsertVerdict(ctx context.Context, v *storage.VerdictRecord) error {
	return m.verdicts.InsertVerdict(ctx, v)
}

func (m *MemoryStorage) FindVerdict(ctx context.Context, userID, notifType string, scheduledAt time.Time) (*storage.VerdictRecord, bool, error) {
	return m.verdicts.FindVerdict(ctx, userID, notifType, scheduledAt)
}

// RemindersStorage methods - delegate to embedded reminders storage

func (m *MemoryStorage) UpsertReminder(ctx context.Context, r *storage.ReminderSetting) (storage.ReminderSetting, error) {
	return m.reminders.UpsertReminder(ctx, r)
}

func (m *MemoryStorage) DeleteReminder(ctx context.Context, userID, reminderType string) error {
	return m.reminders.DeleteReminder(ctx, userID, reminderType)
}

func (m *MemoryStorage) ListReminders(ctx context.Context, userID string) ([]storage.ReminderSetting, error) {
	return m.reminders.ListReminders(ctx, userID)
}

func (m *MemoryStorage) ListDue(ctx context.Context, now time.Time) ([]storage.ReminderSetting, error) {
	return m.reminders.ListDue(ctx, now)
}

func (m *MemoryStorage) UpdateNextFire(ctx context.Context, id uuid.UUID, next time.Time) error {
	return m.reminders.UpdateNextFire(ctx, id, next)
}

// DialogueStorage methods - delegate to embedded dialogue storage

func (m *MemoryStorage) InsertDialogue(ctx context.Context, userID, role, content string, payload []byte, at time.Time) (storage.ChatMessage, error) {
	return m.dialogue.InsertDialogue(ctx, userID, role, content, payload, at)
}

func (m *MemoryStorage) ListDialogueSince(ctx context.Context, userID string, since time.Time, limit int) ([]storage.ChatMessage, error) {
	return m.dialogue.ListDialogueSince(ctx, userID, since, limit)
}

// InteractionsStorage methods - delegate to embedded interactions storage

func (m *MemoryStorage) InsertInteraction(ctx context.Context, e *storage.InteractionEvent) error {
	return m.interactions.InsertInteraction(ctx, e)
}

func (m *MemoryStorage) ListInteractionsSince(ctx context.Context, userID string, since time.Time) ([]storage.InteractionEvent, error) {
	return m.interactions.ListInteractionsSince(ctx, userID, since)
}

// ABResultsStorage methods - delegate to embedded AB results storage

func (m *MemoryStorage) InsertABResult(ctx context.Context, r *storage.ABResult) error {
	return m.abResults.InsertABResult(ctx, r)
}

func (m *MemoryStorage) ListABResults(ctx context.Context, testID string, limit int) ([]storage.ABResult, error) {
	return m.abResults.ListABResults(ctx, testID, limit)
}

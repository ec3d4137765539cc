package postgres

import (
	"context"
	"time"

	"github.com/fdg312/coach-hub/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage — Postgres реализация storage.Storage.
type PostgresStorage struct {
	pool         *pgxpool.Pool
	ledger       *PostgresLedgerStorage
	profiles     *PostgresProfilesStorage
	records      *PostgresRecordsStorage
	queue        *PostgresQueueStorage
	verdicts     *PostgresVerdictsStorage
	reminders    *PostgresRemindersStorage
	dialogue     *PostgresDialogueStorage
	interactions *PostgresInteractionsStorage
	abResults    *PostgresABResultsStorage
}

// New создаёт PostgresStorage
func New(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStorage{
		pool:         pool,
		ledger:       NewPostgresLedgerStorage(pool),
		profiles:     NewPostgresProfilesStorage(pool),
		records:      NewPostgresRecordsStorage(pool),
		queue:        NewPostgresQueueStorage(pool),
		verdicts:     NewPostgresVerdictsStorage(pool),
		reminders:    NewPostgresRemindersStorage(pool),
		dialogue:     NewPostgresDialogueStorage(pool),
		interactions: NewPostgresInteractionsStorage(pool),
		abResults:    NewPostgresABResultsStorage(pool),
	}, nil
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

// LedgerStorage methods - делегируем к встроенному ledger storage

func (p *PostgresStorage) Append(ctx context.Context, e *storage.LedgerEntry, dailyUnique bool) (bool, error) {
	return p.ledger.Append(ctx, e, dailyUnique)
}

func (p *PostgresStorage) Balance(ctx context.Context, userID string) (int, error) {
	return p.ledger.Balance(ctx, userID)
}

func (p *PostgresStorage) History(ctx context.Context, userID string, limit, offset int) ([]storage.LedgerEntry, int, error) {
	return p.ledger.History(ctx, userID, limit, offset)
}

// ProfilesStorage methods - delegate to embedded profiles storage

func (p *PostgresStorage) GetProfile(ctx context.Context, userID string) (*storage.UserProfile, bool, error) {
	return p.profiles.GetProfile(ctx, userID)
}

func (p *PostgresStorage) UpsertProfile(ctx context.Context, profile *storage.UserProfile) error {
	return p.profiles.UpsertProfile(ctx, profile)
}

func (p *PostgresStorage) ApplyPointsDelta(ctx context.Context, userID string, earned, spent int) error {
	return p.profiles.ApplyPointsDelta(ctx, userID, earned, spent)
}

func (p *PostgresStorage) AddAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	return p.profiles.AddAchievement(ctx, userID, achievementID)
}

func (p *PostgresStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	return p.profiles.ListUserIDs(ctx)
}

// RecordsStorage methods - delegate to embedded records storage

func (p *PostgresStorage) InsertRecord(ctx context.Context, r *storage.HealthRecord) error {
	return p.records.InsertRecord(ctx, r)
}

func (p *PostgresStorage) ListRecords(ctx context.Context, userID string, from, to time.Time) ([]storage.HealthRecord, error) {
	return p.records.ListRecords(ctx, userID, from, to)
}

func (p *PostgresStorage) CountRecords(ctx context.Context, userID, kind string) (int, error) {
	return p.records.CountRecords(ctx, userID, kind)
}

func (p *PostgresStorage) LatestRecord(ctx context.Context, userID, kind string) (*storage.HealthRecord, bool, error) {
	return p.records.LatestRecord(ctx, userID, kind)
}

// QueueStorage methods - delegate to embedded queue storage

func (p *PostgresStorage) InsertQueueEntry(ctx context.Context, e *storage.QueueEntry) error {
	return p.queue.InsertQueueEntry(ctx, e)
}

func (p *PostgresStorage) UpdateQueueStatus(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, attempts int) error {
	return p.queue.UpdateQueueStatus(ctx, id, status, sentAt, attempts)
}

func (p *PostgresStorage) HasPendingOrRecentSameType(ctx context.Context, userID, notifType string, scheduledHour time.Time, since time.Time) (bool, error) {
	return p.queue.HasPendingOrRecentSameType(ctx, userID, notifType, scheduledHour, since)
}

func (p *PostgresStorage) CancelPending(ctx context.Context, userID string, onlyLowMedium bool) (int, error) {
	return p.queue.CancelPending(ctx, userID, onlyLowMedium)
}

func (p *PostgresStorage) CancelStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	return p.queue.CancelStalePending(ctx, cutoff)
}

func (p *PostgresStorage) UpdateQueueSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	return p.queue.UpdateQueueSchedule(ctx, id, scheduledAt)
}

func (p *PostgresStorage) UpdateQueueContent(ctx context.Context, id uuid.UUID, title, body, channel string) error {
	return p.queue.UpdateQueueContent(ctx, id, title, body, channel)
}

func (p *PostgresStorage) CountSentBetween(ctx context.Context, userID string, from, to time.Time) (int, error) {
	return p.queue.CountSentBetween(ctx, userID, from, to)
}

func (p *PostgresStorage) LastSentOfType(ctx context.Context, userID, notifType string) (*time.Time, bool, error) {
	return p.queue.LastSentOfType(ctx, userID, notifType)
}

func (p *PostgresStorage) ListQueueEntries(ctx context.Context, userID string, limit int) ([]storage.QueueEntry, error) {
	return p.queue.ListQueueEntries(ctx, userID, limit)
}

// VerdictsStorage methods - delegate to embedded verdicts storage

func (p *PostgresStorage) InsertVerdict(ctx context.Context, v *storage.VerdictRecord) error {
	return p.verdicts.InsertVerdict(ctx, v)
}

func (p *PostgresStorage) FindVerdict(ctx context.Context, userID, notifType string, scheduledAt time.Time) (*storage.VerdictRecord, bool, error) {
	return p.verdicts.FindVerdict(ctx, userID, notifType, scheduledAt)
}

// RemindersStorage methods - delegate to embedded reminders storage

func (p *PostgresStorage) UpsertReminder(ctx context.Context, r *storage.ReminderSetting) (storage.ReminderSetting, error) {
	return p.reminders.UpsertReminder(ctx, r)
}

func (p *PostgresStorage) DeleteReminder(ctx context.Context, userID, reminderType string) error {
	return p.reminders.DeleteReminder(ctx, userID, reminderType)
}

func (p *PostgresStorage) ListReminders(ctx context.Context, userID string) ([]storage.ReminderSetting, error) {
	return p.reminders.ListReminders(ctx, userID)
}

func (p *PostgresStorage) ListDue(ctx context.Context, now time.Time) ([]storage.ReminderSetting, error) {
	return p.reminders.ListDue(ctx, now)
}

func (p *PostgresStorage) UpdateNextFire(ctx context.Context, id uuid.UUID, next time.Time) error {
	return p.reminders.UpdateNextFire(ctx, id, next)
}

// DialogueStorage methods - delegate to embedded dialogue storage

func (p *PostgresStorage) InsertDialogue(ctx context.Context, userID, role, content string, payload []byte, at time.Time) (storage.ChatMessage, error) {
	return p.dialogue.InsertDialogue(ctx, userID, role, content, payload, at)
}

func (p *PostgresStorage) ListDialogueSince(ctx context.Context, userID string, since time.Time, limit int) ([]storage.ChatMessage, error) {
	return p.dialogue.ListDialogueSince(ctx, userID, since, limit)
}

// InteractionsStorage methods - delegate to embedded interactions storage

func (p *PostgresStorage) InsertInteraction(ctx context.Context, e *storage.InteractionEvent) error {
	return p.interactions.InsertInteraction(ctx, e)
}

func (p *PostgresStorage) ListInteractionsSince(ctx context.Context, userID string, since time.Time) ([]storage.InteractionEvent, error) {
	return p.interactions.ListInteractionsSince(ctx, userID, since)
}

// ABResultsStorage methods - delegate to embedded AB results storage

func (p *PostgresStorage) InsertABResult(ctx context.Context, r *storage.ABResult) error {
	return p.abResults.InsertABResult(ctx, r)
}

func (p *PostgresStorage) ListABResults(ctx context.Context, testID string, limit int) ([]storage.ABResult, error) {
	return p.abResults.ListABResults(ctx, testID, limit)
}

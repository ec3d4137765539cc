package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record kinds. Persistence keeps the string discriminator; services
// switch on Kind instead of inspecting metadata.
const (
	RecordWeight   = "weight"
	RecordMeal     = "meal"
	RecordExercise = "exercise"
	RecordWater    = "water"
	RecordSleep    = "sleep"
)

// Ledger entry kinds.
const (
	LedgerEarn  = "earn"
	LedgerSpend = "spend"
)

// Notification queue statuses. pending is the only non-terminal state.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusDeduped   = "deduped"
)

// Notification priorities. Quiet-hours entry cancels low and medium.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var (
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrNotFound          = errors.New("not_found")
)

// UserProfile — профиль пользователя, единственный на пользователя.
// Points/achievements mutate through the ledger and achievement paths only.
type UserProfile struct {
	UserID             string
	ExternalAuthID     string
	Age                int
	Sex                string
	HeightCm           float64
	BasalMetabolicRate float64
	Preferences        []byte // free-form structured blob (JSON)
	MotivationType     string // data_driven | emotional_support | goal_oriented
	CommunicationStyle string
	DecisionMode       string // conservative | balanced | intelligent
	Points             int
	PointsEarned       int
	PointsSpent        int
	Achievements       []string
	TimeZone           string

	// Notification preferences
	NotificationsEnabled bool
	DisabledTypes        []string
	QuietStartMinutes    *int // nil = use config default
	QuietEndMinutes      *int

	// Active goal
	GoalWeightKg  *float64
	CalorieTarget int

	Deactivated bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QuietWindow returns the user's quiet hours, falling back to defaults.
func (p *UserProfile) QuietWindow(defStart, defEnd int) (int, int) {
	if p != nil && p.QuietStartMinutes != nil && p.QuietEndMinutes != nil {
		return *p.QuietStartMinutes, *p.QuietEndMinutes
	}
	return defStart, defEnd
}

// TypeEnabled reports whether a notification type is toggled on.
func (p *UserProfile) TypeEnabled(notifType string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.DisabledTypes {
		if t == notifType {
			return false
		}
	}
	return true
}

// HealthRecord — один зафиксированный показатель здоровья.
// Immutable once confirmed; Value carries the primary numeric payload
// (kg, kcal, ml or minutes depending on Kind).
type HealthRecord struct {
	ID          uuid.UUID
	UserID      string
	Kind        string
	Value       float64
	DurationMin *int // sleep and exercise only; nil = not reported
	Note        string
	Metadata    []byte // JSON
	RecordedAt  time.Time
	CreatedAt   time.Time
}

// LedgerEntry — неизменяемая запись начисления или списания баллов.
type LedgerEntry struct {
	ID            uuid.UUID
	UserID        string
	Kind          string // earn | spend
	Amount        int    // > 0
	Reason        string
	Description   string
	RelatedRecord *uuid.UUID
	BalanceAfter  int
	CreatedAt     time.Time
}

// QueueEntry — запись в очереди уведомлений.
type QueueEntry struct {
	ID               uuid.UUID
	UserID           string
	Type             string
	Title            string
	Body             string
	Channel          string // chat | push | email | sms
	Status           string
	Priority         string
	BypassQuietHours bool
	Attempts         int
	Payload          []byte
	ScheduledAt      time.Time
	SentAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// VerdictRecord — сохранённый вердикт decision engine (для аудита).
type VerdictRecord struct {
	ID          uuid.UUID
	UserID      string
	Type        string
	Verdict     string // send | defer | drop
	Reason      string
	Rationale   []byte // JSON: contributing factors and scores
	ScheduledAt time.Time
	CreatedAt   time.Time
}

// ReminderSetting — пользовательская настройка напоминания.
type ReminderSetting struct {
	ID          uuid.UUID
	UserID      string
	Type        string
	Enabled     bool
	TimeMinutes int // minute of day to fire
	DaysMask    int // bit 0 = Monday
	NextFireAt  time.Time
	Metadata    []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatMessage — сохранённое сообщение диалога.
type ChatMessage struct {
	ID        uuid.UUID
	UserID    string
	Role      string // user | assistant | system
	Content   string
	Payload   []byte
	CreatedAt time.Time
}

// InteractionEvent — событие вовлечённости (логин, запись, реакция).
type InteractionEvent struct {
	ID               uuid.UUID
	UserID           string
	Kind             string // login | record | sent | open | click | dismiss | negative
	NotificationType string // set for sent/open/click/dismiss/negative
	OccurredAt       time.Time
}

// ABResult — зафиксированный исход эксперимента для пользователя.
type ABResult struct {
	ID        uuid.UUID
	TestID    string
	Variant   string
	UserID    string
	Outcome   string
	CreatedAt time.Time
}

// LedgerStorage — интерфейс для работы с журналом баллов.
// Append computes BalanceAfter under the per-user serialization grain.
type LedgerStorage interface {
	// Append writes an entry. With dailyUnique, an existing earn for
	// (user, reason, local day of e.CreatedAt) makes it a no-op returning
	// inserted=false. Spend entries that would drive the balance negative
	// return ErrInsufficientFunds.
	Append(ctx context.Context, e *LedgerEntry, dailyUnique bool) (inserted bool, err error)

	// Balance returns Σ earn − Σ spend for the user.
	Balance(ctx context.Context, userID string) (int, error)

	// History returns entries desc by CreatedAt plus the total count.
	History(ctx context.Context, userID string, limit, offset int) ([]LedgerEntry, int, error)
}

// ProfilesStorage — интерфейс для работы с профилями пользователей.
type ProfilesStorage interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, bool, error)
	UpsertProfile(ctx context.Context, p *UserProfile) error

	// ApplyPointsDelta adjusts the cached points counters (I1 is enforced
	// by callers pairing this with a ledger Append).
	ApplyPointsDelta(ctx context.Context, userID string, earned, spent int) error

	// AddAchievement adds an id to the user's set. Returns false if already present.
	AddAchievement(ctx context.Context, userID, achievementID string) (bool, error)

	// ListUserIDs returns ids of active (non-deactivated) users.
	ListUserIDs(ctx context.Context) ([]string, error)
}

// RecordsStorage — интерфейс для работы с журналом health-записей.
type RecordsStorage interface {
	InsertRecord(ctx context.Context, r *HealthRecord) error
	ListRecords(ctx context.Context, userID string, from, to time.Time) ([]HealthRecord, error)
	CountRecords(ctx context.Context, userID, kind string) (int, error) // kind "" = all kinds
	LatestRecord(ctx context.Context, userID, kind string) (*HealthRecord, bool, error)
}

// QueueStorage — интерфейс для очереди уведомлений.
type QueueStorage interface {
	InsertQueueEntry(ctx context.Context, e *QueueEntry) error
	UpdateQueueStatus(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time, attempts int) error

	// HasPendingOrRecentSameType reports a pending entry, or one sent since
	// `since`, with the same (user, type, scheduled hour). Used for dedup.
	HasPendingOrRecentSameType(ctx context.Context, userID, notifType string, scheduledHour time.Time, since time.Time) (bool, error)

	// CancelPending moves pending entries to cancelled. With onlyLowMedium,
	// high-priority and bypass entries survive (quiet-hours entry).
	CancelPending(ctx context.Context, userID string, onlyLowMedium bool) (int, error)

	// CancelStalePending cancels pending entries scheduled before cutoff
	// (startup repair after an unclean shutdown).
	CancelStalePending(ctx context.Context, cutoff time.Time) (int, error)

	// UpdateQueueSchedule moves a pending entry to a new scheduled time
	// (defer verdicts).
	UpdateQueueSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error

	// UpdateQueueContent fills in generated content before delivery.
	UpdateQueueContent(ctx context.Context, id uuid.UUID, title, body, channel string) error

	CountSentBetween(ctx context.Context, userID string, from, to time.Time) (int, error)
	LastSentOfType(ctx context.Context, userID, notifType string) (*time.Time, bool, error)
	ListQueueEntries(ctx context.Context, userID string, limit int) ([]QueueEntry, error)
}

// VerdictsStorage — интерфейс для журнала вердиктов decision engine.
type VerdictsStorage interface {
	InsertVerdict(ctx context.Context, v *VerdictRecord) error
	FindVerdict(ctx context.Context, userID, notifType string, scheduledAt time.Time) (*VerdictRecord, bool, error)
}

// RemindersStorage — интерфейс для настроек напоминаний.
type RemindersStorage interface {
	UpsertReminder(ctx context.Context, r *ReminderSetting) (ReminderSetting, error)
	DeleteReminder(ctx context.Context, userID, reminderType string) error
	ListReminders(ctx context.Context, userID string) ([]ReminderSetting, error)

	// ListDue returns enabled settings with NextFireAt <= now, ordered by
	// NextFireAt. Backed by an index on (enabled, next_fire_at).
	ListDue(ctx context.Context, now time.Time) ([]ReminderSetting, error)

	UpdateNextFire(ctx context.Context, id uuid.UUID, next time.Time) error
}

// DialogueStorage — интерфейс для хранения сообщений диалога.
type DialogueStorage interface {
	InsertDialogue(ctx context.Context, userID, role, content string, payload []byte, at time.Time) (ChatMessage, error)
	ListDialogueSince(ctx context.Context, userID string, since time.Time, limit int) ([]ChatMessage, error)
}

// InteractionsStorage — интерфейс для событий вовлечённости.
type InteractionsStorage interface {
	InsertInteraction(ctx context.Context, e *InteractionEvent) error
	ListInteractionsSince(ctx context.Context, userID string, since time.Time) ([]InteractionEvent, error)
}

// ABResultsStorage — интерфейс для исходов A/B экспериментов.
type ABResultsStorage interface {
	InsertABResult(ctx context.Context, r *ABResult) error
	ListABResults(ctx context.Context, testID string, limit int) ([]ABResult, error)
}

// Storage объединяет все хранилища ядра (memory или postgres).
type Storage interface {
	LedgerStorage
	ProfilesStorage
	RecordsStorage
	QueueStorage
	VerdictsStorage
	RemindersStorage
	DialogueStorage
	InteractionsStorage
	ABResultsStorage

	// Close закрывает соединение (для Postgres)
	Close() error
}

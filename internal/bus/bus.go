package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds flowing through the process-wide bus.
const (
	KindRecordCreated        = "record_created"
	KindDialogueMessage      = "dialogue_message"
	KindAchievementUnlocked  = "achievement_unlocked"
	KindGoalThresholdCrossed = "goal_threshold_crossed"
	KindAnomalyDetected      = "anomaly_detected"
)

// Event — событие на внутренней шине.
type Event struct {
	Kind       string
	UserID     string
	RecordID   uuid.UUID
	RecordKind string
	Payload    map[string]any
	OccurredAt time.Time
}

// Bus is a process-wide fan-out event bus. Subscribers get their own
// buffered channel; a slow subscriber drops events instead of blocking
// producers.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

func New() *Bus {
	return &Bus{}
}

// Subscribe returns a receive channel with the given buffer.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber buffer full; the scheduler re-derives state on
			// the next timer tick, so dropping here is safe
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

package scheduler

import (
	"sync"

	"github.com/fdg312/coach-hub/internal/decision"
	"github.com/google/uuid"
)

// candidate wires a decision candidate to its queue entry and generation
// payload.
type candidate struct {
	decision.Candidate
	EntryID    uuid.UUID
	PlanIntent string
}

// mailbox — очередь кандидатов одного пользователя, single-flight.
// Within a user candidates are processed strictly in order; across users
// mailboxes drain in parallel on the worker pool.
type mailbox struct {
	queue   []candidate
	running bool
}

type mailboxes struct {
	mu    sync.Mutex
	byUsr map[string]*mailbox
}

func newMailboxes() *mailboxes {
	return &mailboxes{byUsr: make(map[string]*mailbox)}
}

// push appends a candidate. Returns true when the caller must start a
// drain worker for this user (nobody is currently draining it).
func (m *mailboxes) push(userID string, c candidate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	box, ok := m.byUsr[userID]
	if !ok {
		box = &mailbox{}
		m.byUsr[userID] = box
	}
	box.queue = append(box.queue, c)
	if box.running {
		return false
	}
	box.running = true
	return true
}

// pop takes the next candidate for the user. ok=false means the mailbox
// drained; the worker must stop and running is cleared.
func (m *mailboxes) pop(userID string) (candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	box, ok := m.byUsr[userID]
	if !ok || len(box.queue) == 0 {
		if ok {
			box.running = false
		}
		return candidate{}, false
	}
	c := box.queue[0]
	box.queue = box.queue[1:]
	return c, true
}

// clear drops all queued candidates for a user (user-scoped cancel).
func (m *mailboxes) clear(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	box, ok := m.byUsr[userID]
	if !ok {
		return 0
	}
	n := len(box.queue)
	box.queue = nil
	return n
}

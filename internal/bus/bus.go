// Package bus implements the message bus of SPEC_FULL §4.2: a per-recipient
// FIFO inbox plus an append-only history log, pull-based delivery by the
// message processor, and a predicate-based wait primitive backing the
// wait_for_message tool.
//
// Grounded on the teacher's per-key advisory locking idiom
// (internal/gateway/lock.go) adapted to a FIFO queue rather than a mutex
// table; no teacher package implements a bus directly, so this file is new.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/agentmesh/runtime/pkg/models"
)

// ErrWaitTimeout is returned by WaitForUserMessage when no matching message
// arrives before the deadline.
var ErrWaitTimeout = errors.New("wait_for_message: timed out")

// Predicate decides whether a message satisfies a waiter.
type Predicate func(*models.Message) bool

// HistoryFilter narrows HistoryFor to one criterion; zero values match all.
type HistoryFilter struct {
	TaskID  string
	AgentID string // matches either From or To
}

type waiter struct {
	agentID   string
	predicate Predicate
	result    chan *models.Message
}

// Bus is the in-memory, concurrency-safe message bus.
//
// Open Question (SPEC_FULL §9): when two WaitForUserMessage predicates
// concurrently match the same message, delivery goes to the earliest
// registered waiter (FIFO), not broadcast — see resolve() below.
type Bus struct {
	mu       sync.Mutex
	inboxes  map[string][]*models.Message
	history  []*models.Message
	waiters  []*waiter
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		inboxes: make(map[string][]*models.Message),
	}
}

// Send assigns an id/timestamp if absent, appends to the recipient's inbox
// and the history log, and resolves any matching waiter FIFO-first. Returns
// the stamped message.
func (b *Bus) Send(msg *models.Message) *models.Message {
	b.mu.Lock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.history = append(b.history, msg)

	if w := b.resolve(msg); w != nil {
		// Consumed directly by a waiter; never lands in the inbox, so the
		// processor will not redeliver it through the ordinary turn loop.
		b.mu.Unlock()
		w.result <- msg
		return msg
	}

	b.inboxes[msg.To] = append(b.inboxes[msg.To], msg)
	b.mu.Unlock()
	return msg
}

// resolve must be called with b.mu held. It finds the earliest-registered
// waiter for msg.To whose predicate matches, removes it from the waiter
// list, and returns it (or nil).
func (b *Bus) resolve(msg *models.Message) *waiter {
	for i, w := range b.waiters {
		if w.agentID == msg.To && w.predicate(msg) {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return w
		}
	}
	return nil
}

// Peek returns the next queued message for an agent without removing it.
func (b *Bus) Peek(to string) (*models.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.inboxes[to]
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}

// Pop removes and returns the next queued message for an agent, FIFO.
func (b *Bus) Pop(to string) (*models.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.inboxes[to]
	if len(q) == 0 {
		return nil, false
	}
	msg := q[0]
	b.inboxes[to] = q[1:]
	return msg, true
}

// PopAll removes and returns up to max messages from the front of an
// agent's inbox in FIFO order; max <= 0 drains the entire inbox (used by the
// turn driver's inbox-flush step and by drainAgentQueue).
func (b *Bus) PopAll(to string, max int) []*models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.inboxes[to]
	if len(q) == 0 {
		return nil
	}
	if max <= 0 || max > len(q) {
		max = len(q)
	}
	out := q[:max]
	b.inboxes[to] = q[max:]
	return out
}

// AllInboxes returns a snapshot of every non-empty inbox, keyed by
// recipient, for the persistence snapshotter (SPEC_FULL §4.12). Slices are
// copies; safe to range over without holding the bus lock.
func (b *Bus) AllInboxes() map[string][]*models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]*models.Message, len(b.inboxes))
	for to, q := range b.inboxes {
		if len(q) == 0 {
			continue
		}
		cp := make([]*models.Message, len(q))
		copy(cp, q)
		out[to] = cp
	}
	return out
}

// RestoreInbox appends msgs to an agent's inbox in order, bypassing history
// recording and waiter resolution. Used only during init restore, before
// the delivery tick starts.
func (b *Bus) RestoreInbox(to string, msgs []*models.Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[to] = append(b.inboxes[to], msgs...)
}

// InboxSize reports the number of queued messages for an agent.
func (b *Bus) InboxSize(to string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inboxes[to])
}

// HistoryFor returns the history log filtered by task id and/or agent id
// (agent id matches either From or To). An empty filter returns full history.
func (b *Bus) HistoryFor(filter HistoryFilter) []*models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Message
	for _, m := range b.history {
		if filter.TaskID != "" && m.TaskID != filter.TaskID {
			continue
		}
		if filter.AgentID != "" && m.From != filter.AgentID && m.To != filter.AgentID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// WaitForUserMessage suspends until a message to agentID matching predicate
// arrives, the context is cancelled, or timeout elapses. If a matching
// message is already queued, it is popped immediately (FIFO position
// within the inbox is preserved — earlier non-matching messages stay
// queued for the ordinary inbox flush).
func (b *Bus) WaitForUserMessage(ctx context.Context, agentID string, predicate Predicate, timeout time.Duration) (*models.Message, error) {
	b.mu.Lock()
	q := b.inboxes[agentID]
	for i, m := range q {
		if predicate(m) {
			b.inboxes[agentID] = append(append([]*models.Message{}, q[:i]...), q[i+1:]...)
			b.mu.Unlock()
			return m, nil
		}
	}

	w := &waiter{agentID: agentID, predicate: predicate, result: make(chan *models.Message, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case msg := <-w.result:
		return msg, nil
	case <-timerC:
		b.removeWaiter(w)
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		b.removeWaiter(w)
		return nil, ctx.Err()
	}
}

func (b *Bus) removeWaiter(target *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

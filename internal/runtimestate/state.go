// Package runtimestate implements SPEC_FULL §4.10: the status map, the
// active-processing set, interruption queues, task workspace map, and the
// per-agent advisory lock manager. The turn driver is the sole enforcer of
// legal status transitions; this package stores whatever status it is told.
//
// Grounded on the teacher's internal/gateway/lock.go per-key advisory mutex
// idiom (reference-counted lock table, release-handle ownership).
package runtimestate

import (
	"sync"
	"time"

	"github.com/agentmesh/runtime/pkg/models"
)

// ObserverFunc is notified on every status change, for UI streaming.
type ObserverFunc func(agentID string, status models.AgentStatus)

// ReleaseFunc releases an advisory lock acquired by AcquireLock. Calling it
// more than once is a no-op.
type ReleaseFunc func()

type agentLock struct {
	mu   sync.Mutex
	refs int
}

// Manager owns the mutable runtime state keyed by agent id.
type Manager struct {
	mu       sync.RWMutex
	status   map[string]models.AgentStatus
	lastSeen map[string]time.Time
	active   map[string]bool
	interrupt map[string][]*models.Message
	workspace map[string]string

	locksMu sync.Mutex
	locks   map[string]*agentLock

	observer ObserverFunc
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		status:    make(map[string]models.AgentStatus),
		lastSeen:  make(map[string]time.Time),
		active:    make(map[string]bool),
		interrupt: make(map[string][]*models.Message),
		workspace: make(map[string]string),
		locks:     make(map[string]*agentLock),
	}
}

// SetObserver installs a callback fired on every SetAgentComputeStatus call.
func (m *Manager) SetObserver(fn ObserverFunc) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// SetAgentComputeStatus records a status transition and fires the observer,
// if any. The state map itself enforces no legality constraints.
func (m *Manager) SetAgentComputeStatus(agentID string, status models.AgentStatus) {
	m.mu.Lock()
	m.status[agentID] = status
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs(agentID, status)
	}
}

// Status returns the current status for an agent (zero value if unknown).
func (m *Manager) Status(agentID string) models.AgentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[agentID]
}

// TouchActivity records the current time as an agent's last-activity time.
func (m *Manager) TouchActivity(agentID string, at time.Time) {
	m.mu.Lock()
	m.lastSeen[agentID] = at
	m.mu.Unlock()
}

// LastActivity returns the last recorded activity time for an agent.
func (m *Manager) LastActivity(agentID string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen[agentID]
}

// MarkActive adds agentID to the active-processing set. Returns false if it
// was already active.
func (m *Manager) MarkActive(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[agentID] {
		return false
	}
	m.active[agentID] = true
	return true
}

// UnmarkActive removes agentID from the active-processing set.
func (m *Manager) UnmarkActive(agentID string) {
	m.mu.Lock()
	delete(m.active, agentID)
	m.mu.Unlock()
}

// IsActive reports whether agentID is currently mid-turn.
func (m *Manager) IsActive(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[agentID]
}

// ActiveCount returns the size of the active-processing set.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// QueueInterrupt appends a message to an agent's interruption queue (a
// message that arrived while the agent's turn was in flight).
func (m *Manager) QueueInterrupt(agentID string, msg *models.Message) {
	m.mu.Lock()
	m.interrupt[agentID] = append(m.interrupt[agentID], msg)
	m.mu.Unlock()
}

// DrainInterrupts removes and returns all queued interruptions for an agent,
// in arrival order.
func (m *Manager) DrainInterrupts(agentID string) []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.interrupt[agentID]
	delete(m.interrupt, agentID)
	return msgs
}

// SetWorkspace records the filesystem workspace path for a task.
func (m *Manager) SetWorkspace(taskID, path string) {
	m.mu.Lock()
	m.workspace[taskID] = path
	m.mu.Unlock()
}

// Workspace returns the workspace path for a task, if any.
func (m *Manager) Workspace(taskID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.workspace[taskID]
	return path, ok
}

// Workspaces returns a copy of the full task->workspace-path map, for the
// persistence snapshotter (SPEC_FULL §4.12).
func (m *Manager) Workspaces() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.workspace))
	for k, v := range m.workspace {
		out[k] = v
	}
	return out
}

// AcquireLock acquires the advisory, reference-counted per-agent mutex,
// blocking until available, and returns a release handle. Ownership is
// scoped: the holder must call the returned function on every exit path.
// Different agents' locks are independent (I1).
func (m *Manager) AcquireLock(agentID string) ReleaseFunc {
	m.locksMu.Lock()
	lock := m.locks[agentID]
	if lock == nil {
		lock = &agentLock{}
		m.locks[agentID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			m.locksMu.Lock()
			lock.refs--
			if lock.refs <= 0 {
				delete(m.locks, agentID)
			}
			m.locksMu.Unlock()
		})
	}
}

// TryAcquireLock attempts a non-blocking acquire; ok is false if the lock is
// already held.
func (m *Manager) TryAcquireLock(agentID string) (release ReleaseFunc, ok bool) {
	m.locksMu.Lock()
	lock := m.locks[agentID]
	if lock == nil {
		lock = &agentLock{}
		m.locks[agentID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	if !lock.mu.TryLock() {
		m.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(m.locks, agentID)
		}
		m.locksMu.Unlock()
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			m.locksMu.Lock()
			lock.refs--
			if lock.refs <= 0 {
				delete(m.locks, agentID)
			}
			m.locksMu.Unlock()
		})
	}, true
}

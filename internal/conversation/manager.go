// Package conversation implements the per-agent ordered conversation of
// SPEC_FULL §4.7, with a pluggable, never-fatal auto-compaction hook.
//
// Grounded on the teacher's internal/agent/compaction.go (a pluggable
// compaction callback that degrades silently when absent or erroring)
// adapted from a token-budget-triggered session monitor into a
// directly-invoked, per-agent turn-log rewrite.
package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agentmesh/runtime/pkg/models"
)

// Compressor rewrites a conversation in place, typically to fold older
// turns into a shorter summary turn. Returning an error never fails the
// calling turn; the caller logs it and proceeds with the uncompressed log.
type Compressor func(ctx context.Context, agentID string, turns []models.Turn) ([]models.Turn, error)

// Manager owns every agent's ordered turn log.
type Manager struct {
	mu         sync.RWMutex
	turns      map[string][]models.Turn
	compressor Compressor
	logger     *slog.Logger
}

// New creates an empty Manager. compressor may be nil, meaning
// ProcessAutoCompression is always a no-op.
func New(compressor Compressor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		turns:      make(map[string][]models.Turn),
		compressor: compressor,
		logger:     logger,
	}
}

// Append adds a turn to the end of an agent's conversation.
func (m *Manager) Append(agentID string, turn models.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[agentID] = append(m.turns[agentID], turn)
}

// Snapshot returns a copy of an agent's conversation, safe for the caller
// to range over without holding the manager's lock.
func (m *Manager) Snapshot(agentID string) []models.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.turns[agentID]
	out := make([]models.Turn, len(src))
	copy(out, src)
	return out
}

// AgentIDs returns every agent id with a non-empty conversation, for the
// persistence snapshotter to enumerate (SPEC_FULL §4.12).
func (m *Manager) AgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.turns))
	for id := range m.turns {
		out = append(out, id)
	}
	return out
}

// Replace overwrites an agent's conversation wholesale, used by compaction.
func (m *Manager) Replace(agentID string, turns []models.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[agentID] = turns
}

// SetCompressor installs or clears the pluggable compaction hook.
func (m *Manager) SetCompressor(c Compressor) {
	m.mu.Lock()
	m.compressor = c
	m.mu.Unlock()
}

// ProcessAutoCompression passes the agent's conversation through the
// configured compressor, if any, replacing it with the rewritten result.
// A missing compressor or a missing (empty) conversation is a no-op.
// Compressor errors are logged and swallowed — compaction is never fatal
// to the turn that triggered it.
func (m *Manager) ProcessAutoCompression(ctx context.Context, agentID string) {
	m.mu.RLock()
	compressor := m.compressor
	current := m.turns[agentID]
	m.mu.RUnlock()

	if compressor == nil || len(current) == 0 {
		return
	}

	rewritten, err := compressor(ctx, agentID, current)
	if err != nil {
		m.logger.Warn("auto-compaction failed, keeping uncompressed conversation", "agent_id", agentID, "error", err)
		return
	}

	m.mu.Lock()
	m.turns[agentID] = rewritten
	m.mu.Unlock()
}

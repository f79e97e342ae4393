package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/conversation"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/pkg/models"
)

// cronParser accepts the same extended spec grammar as the teacher's
// internal/cron package, including the "@every" descriptor used by
// DefaultSchedule below.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// DefaultSchedule snapshots every 30 seconds.
const DefaultSchedule = "@every 30s"

// Snapshotter gathers live state from the runtime's collaborators and
// writes it to a Store on a cron schedule and on shutdown (SPEC_FULL
// §4.12). Restore pushes a previously-written Snapshot back into those
// same collaborators during init.
type Snapshotter struct {
	store         *Store
	org           *multiagent.Organization
	conversations *conversation.Manager
	state         *runtimestate.Manager
	bus           *bus.Bus
	logger        *slog.Logger

	mu      sync.Mutex
	cronJob *cron.Cron
}

// NewSnapshotter wires a Snapshotter to the collaborators it reads from and
// writes into.
func NewSnapshotter(store *Store, org *multiagent.Organization, conversations *conversation.Manager, state *runtimestate.Manager, b *bus.Bus, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{store: store, org: org, conversations: conversations, state: state, bus: b, logger: logger}
}

// gather assembles a Snapshot of current live state.
func (s *Snapshotter) gather() Snapshot {
	return Snapshot{
		Roles:         s.org.ListRoles(),
		Agents:        s.org.ListAgents(),
		Conversations: s.gatherConversations(),
		Workspaces:    s.state.Workspaces(),
		Inboxes:       s.bus.AllInboxes(),
	}
}

func (s *Snapshotter) gatherConversations() map[string][]models.Turn {
	out := make(map[string][]models.Turn)
	for _, agentID := range s.conversations.AgentIDs() {
		out[agentID] = s.conversations.Snapshot(agentID)
	}
	return out
}

// Snapshot writes the current live state to the store. Safe to call
// concurrently with Restore/Stop (each acquires s.store's own transaction).
func (s *Snapshotter) Snapshot(ctx context.Context) error {
	return s.store.Snapshot(ctx, s.gather())
}

// Restore reads back the most recent snapshot (if any) and pushes it into
// the organization, conversation manager, runtime state, and bus. A nil
// snapshot (nothing ever written) is a no-op, letting the caller proceed
// with EnsureRootAgent as normal.
func (s *Snapshotter) Restore(ctx context.Context) error {
	snap, err := s.store.Restore(ctx)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	for _, role := range snap.Roles {
		s.org.RestoreRole(role)
	}
	for _, agent := range snap.Agents {
		s.org.RestoreAgent(agent)
	}
	for agentID, turns := range snap.Conversations {
		s.conversations.Replace(agentID, turns)
	}
	for taskID, path := range snap.Workspaces {
		s.state.SetWorkspace(taskID, path)
	}
	for agentID, msgs := range snap.Inboxes {
		s.bus.RestoreInbox(agentID, msgs)
	}

	s.logger.Info("snapshot restored", "roles", len(snap.Roles), "agents", len(snap.Agents))
	return nil
}

// Start schedules periodic snapshots on spec (cron syntax, "@every" etc.);
// an empty spec uses DefaultSchedule. Snapshot errors are logged, never
// fatal to the schedule.
func (s *Snapshotter) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", spec, err)
	}

	job := cron.New(cron.WithParser(cronParser))
	if _, err := job.AddFunc(spec, func() {
		if err := s.Snapshot(context.Background()); err != nil {
			s.logger.Error("periodic snapshot failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule snapshot job: %w", err)
	}

	s.mu.Lock()
	s.cronJob = job
	s.mu.Unlock()

	job.Start()
	return nil
}

// Stop cancels the periodic schedule and performs one final synchronous
// snapshot, per SPEC_FULL §4.12's shutdown() contract.
func (s *Snapshotter) Stop(ctx context.Context) error {
	s.mu.Lock()
	job := s.cronJob
	s.cronJob = nil
	s.mu.Unlock()

	if job != nil {
		stopCtx := job.Stop()
		<-stopCtx.Done()
	}
	return s.Snapshot(ctx)
}

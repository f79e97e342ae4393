// Package processor implements the message processor of SPEC_FULL §4.8:
// the scheduling loop that picks eligible agents, bounds global concurrency,
// and drives each selected agent's turn.
//
// Grounded on the teacher's internal/agent/runtime.go concurrency gating
// (a bounded set of in-flight sessions) and internal/gateway/lock.go's
// per-key advisory locking, reused here via runtimestate.Manager.
package processor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/pkg/models"
)

// TurnRunner drives one full turn for an agent. It is expected to hold the
// agent's advisory lock for its duration (I1); the processor itself does
// not acquire it, so the runner is free to release it between suspension
// points if its semantics ever require that.
//
// maxMessages bounds how many queued messages the runner may flush into
// this turn; 0 means unbounded (the normal ScheduleOne dispatch path
// always passes 0). The return value is how many messages were actually
// flushed, letting DrainAgentQueue bound on messages processed rather
// than turns run, since a single turn can otherwise drain an agent's
// entire inbox.
type TurnRunner func(ctx context.Context, agentID string, maxMessages int) (flushed int)

// AgentLister enumerates the agent ids the processor may schedule.
type AgentLister func() []*models.Agent

// Processor drives delivery across all agents, bounding global LLM/turn
// concurrency at maxConcurrent in-flight turns.
type Processor struct {
	bus           *bus.Bus
	state         *runtimestate.Manager
	listAgents    AgentLister
	runTurn       TurnRunner
	maxConcurrent int
	logger        *slog.Logger

	wg         sync.WaitGroup
	turnsTotal atomic.Uint64
}

// New wires a Processor. maxConcurrent <= 0 is treated as 1.
func New(b *bus.Bus, state *runtimestate.Manager, listAgents AgentLister, runTurn TurnRunner, maxConcurrent int, logger *slog.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		bus:           b,
		state:         state,
		listAgents:    listAgents,
		runTurn:       runTurn,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

func (p *Processor) eligible(agent *models.Agent) bool {
	if agent.Status.Halting() || agent.Status.Terminal() {
		return false
	}
	if p.state.IsActive(agent.AgentID) {
		return false
	}
	return p.bus.InboxSize(agent.AgentID) > 0
}

// pickNext returns the least-recently-active eligible agent, or nil.
func (p *Processor) pickNext() *models.Agent {
	agents := p.listAgents()
	var candidates []*models.Agent
	for _, a := range agents {
		if p.eligible(a) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return p.state.LastActivity(candidates[i].AgentID).Before(p.state.LastActivity(candidates[j].AgentID))
	})
	return candidates[0]
}

// ScheduleOne picks and dispatches at most one agent's turn. It returns
// false when the global concurrency cap is reached or no agent is
// eligible; true when an agent was marked active and its turn spawned.
// The turn runs on its own goroutine; ScheduleOne does not block on it.
func (p *Processor) ScheduleOne(ctx context.Context) bool {
	if p.state.ActiveCount() >= p.maxConcurrent {
		return false
	}

	agent := p.pickNext()
	if agent == nil {
		return false
	}
	if !p.state.MarkActive(agent.AgentID) {
		return false // lost a race with another scheduler call
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.state.UnmarkActive(agent.AgentID)
		p.turnsTotal.Add(1)
		p.runTurn(ctx, agent.AgentID, 0)
	}()
	return true
}

// TurnsStarted returns the number of turns dispatched since construction,
// for the /metrics endpoint's turn-count gauge.
func (p *Processor) TurnsStarted() uint64 {
	return p.turnsTotal.Load()
}

// DeliverOneRound repeatedly calls ScheduleOne until it returns false,
// dispatching every currently eligible agent. Used for deterministic test
// draining — it does not wait for dispatched turns to finish.
func (p *Processor) DeliverOneRound(ctx context.Context) int {
	count := 0
	for p.ScheduleOne(ctx) {
		count++
	}
	return count
}

// Wait blocks until every turn spawned by ScheduleOne has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// DrainAgentQueue processes at most maxMessages queued messages for one
// agent, bounding the turn runner's own inbox flush rather than counting
// turn invocations: a single turn can otherwise flush an agent's entire
// inbox in one pass, so the cap is passed down and the messages actually
// flushed are tallied across as many turns as it takes. Used during
// termination and in test fixtures where synchronous, bounded draining is
// required.
func (p *Processor) DrainAgentQueue(ctx context.Context, agentID string, maxMessages int) int {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	processed := 0
	for processed < maxMessages && p.bus.InboxSize(agentID) > 0 {
		p.turnsTotal.Add(1)
		n := p.runTurn(ctx, agentID, maxMessages-processed)
		processed += n
		if n == 0 {
			break // runner made no progress; avoid spinning
		}
	}
	return processed
}

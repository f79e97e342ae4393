package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/pkg/models"
)

func agentSet(agents ...*models.Agent) AgentLister {
	return func() []*models.Agent { return agents }
}

func TestScheduleOneSkipsEmptyInbox(t *testing.T) {
	b := bus.New()
	state := runtimestate.New()
	agent := &models.Agent{AgentID: "a1", Status: models.StatusIdle}

	var ran sync.WaitGroup
	p := New(b, state, agentSet(agent), func(ctx context.Context, agentID string, maxMessages int) int { ran.Done(); return 0 }, 2, nil)

	require.False(t, p.ScheduleOne(context.Background()))
}

func TestScheduleOneDispatchesEligibleAgent(t *testing.T) {
	b := bus.New()
	state := runtimestate.New()
	agent := &models.Agent{AgentID: "a1", Status: models.StatusIdle}
	b.Send(&models.Message{To: "a1", Payload: models.Payload{Text: "hi"}})

	done := make(chan struct{})
	p := New(b, state, agentSet(agent), func(ctx context.Context, agentID string, maxMessages int) int {
		close(done)
		return 1
	}, 2, nil)

	require.True(t, p.ScheduleOne(context.Background()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("turn runner was not invoked")
	}
	p.Wait()
	require.False(t, state.IsActive("a1"), "agent must be unmarked active after turn completes")
}

func TestScheduleOneRespectsHaltingStatus(t *testing.T) {
	b := bus.New()
	state := runtimestate.New()
	agent := &models.Agent{AgentID: "a1", Status: models.StatusStopping}
	b.Send(&models.Message{To: "a1", Payload: models.Payload{Text: "hi"}})

	p := New(b, state, agentSet(agent), func(ctx context.Context, agentID string, maxMessages int) int { return 0 }, 2, nil)
	require.False(t, p.ScheduleOne(context.Background()))
}

func TestScheduleOneRespectsConcurrencyCap(t *testing.T) {
	b := bus.New()
	state := runtimestate.New()
	agent := &models.Agent{AgentID: "a1", Status: models.StatusIdle}
	b.Send(&models.Message{To: "a1", Payload: models.Payload{Text: "hi"}})
	state.MarkActive("busy-other-agent")

	block := make(chan struct{})
	p := New(b, state, agentSet(agent), func(ctx context.Context, agentID string, maxMessages int) int { <-block; return 0 }, 1, nil)
	require.False(t, p.ScheduleOne(context.Background()), "cap of 1 already in use must block scheduling")
	close(block)
}

func TestDeliverOneRoundSchedulesEveryEligibleAgentOnce(t *testing.T) {
	b := bus.New()
	state := runtimestate.New()
	a1 := &models.Agent{AgentID: "a1", Status: models.StatusIdle}
	a2 := &models.Agent{AgentID: "a2", Status: models.StatusIdle}
	b.Send(&models.Message{To: "a1", Payload: models.Payload{Text: "hi"}})
	b.Send(&models.Message{To: "a2", Payload: models.Payload{Text: "hi"}})

	var mu sync.Mutex
	var seen []string
	p := New(b, state, agentSet(a1, a2), func(ctx context.Context, agentID string, maxMessages int) int {
		mu.Lock()
		seen = append(seen, agentID)
		mu.Unlock()
		return 1
	}, 5, nil)

	count := p.DeliverOneRound(context.Background())
	p.Wait()
	require.Equal(t, 2, count)
	require.ElementsMatch(t, []string{"a1", "a2"}, seen)
}

// TestDrainAgentQueueBoundsIterations models the real driver's flushInbox,
// which pops up to maxMessages in a single turn rather than one message per
// turn, and confirms DrainAgentQueue bounds on messages popped regardless of
// how many turns that takes.
func TestDrainAgentQueueBoundsIterations(t *testing.T) {
	b := bus.New()
	for i := 0; i < 5; i++ {
		b.Send(&models.Message{To: "a1", Payload: models.Payload{Text: "hi"}})
	}
	state := runtimestate.New()
	calls := 0
	p := New(b, state, agentSet(), func(ctx context.Context, agentID string, maxMessages int) int {
		calls++
		return len(b.PopAll(agentID, maxMessages))
	}, 1, nil)

	processed := p.DrainAgentQueue(context.Background(), "a1", 3)
	require.Equal(t, 3, processed)
	require.Equal(t, 1, calls, "a single turn should flush the full bound in one pop")
	require.Equal(t, 2, b.InboxSize("a1"))
}

// TestDrainAgentQueueStopsAtCapWithOversizedInbox exercises the scenario the
// maintainer flagged directly: 150 queued messages with a cap of 100 must
// leave exactly 50 behind even though the runner (like the real driver) can
// flush its entire bound in a single turn.
func TestDrainAgentQueueStopsAtCapWithOversizedInbox(t *testing.T) {
	b := bus.New()
	for i := 0; i < 150; i++ {
		b.Send(&models.Message{To: "a1", Payload: models.Payload{Text: "hi"}})
	}
	state := runtimestate.New()
	p := New(b, state, agentSet(), func(ctx context.Context, agentID string, maxMessages int) int {
		return len(b.PopAll(agentID, maxMessages))
	}, 1, nil)

	processed := p.DrainAgentQueue(context.Background(), "a1", 100)
	require.Equal(t, 100, processed)
	require.Equal(t, 50, b.InboxSize("a1"))
}

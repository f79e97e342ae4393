package runtimestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/agentmesh/runtime/pkg/models"
)

func TestSetAgentComputeStatusFiresObserver(t *testing.T) {
	m := New()
	var seen []models.AgentStatus
	m.SetObserver(func(agentID string, status models.AgentStatus) {
		seen = append(seen, status)
	})
	m.SetAgentComputeStatus("a1", models.StatusProcessing)
	require.Equal(t, models.StatusProcessing, m.Status("a1"))
	require.Equal(t, []models.AgentStatus{models.StatusProcessing}, seen)
}

func TestMarkActiveIsExclusive(t *testing.T) {
	m := New()
	require.True(t, m.MarkActive("a1"))
	require.False(t, m.MarkActive("a1"))
	require.Equal(t, 1, m.ActiveCount())
	m.UnmarkActive("a1")
	require.Equal(t, 0, m.ActiveCount())
}

func TestAcquireLockSerializesPerAgent(t *testing.T) {
	m := New()
	release := m.AcquireLock("a1")

	_, ok := m.TryAcquireLock("a1")
	require.False(t, ok, "same-agent lock must be exclusive")

	release()
	release2, ok := m.TryAcquireLock("a1")
	require.True(t, ok)
	release2()
}

func TestLocksAreIndependentAcrossAgents(t *testing.T) {
	m := New()
	releaseA := m.AcquireLock("a1")
	releaseB, ok := m.TryAcquireLock("a2")
	require.True(t, ok)
	releaseA()
	releaseB()
}

func TestDrainInterruptsPreservesOrder(t *testing.T) {
	m := New()
	m.QueueInterrupt("a1", &models.Message{Payload: models.Payload{Text: "1"}})
	m.QueueInterrupt("a1", &models.Message{Payload: models.Payload{Text: "2"}})

	msgs := m.DrainInterrupts("a1")
	require.Len(t, msgs, 2)
	require.Equal(t, "1", msgs[0].Payload.Text)
	require.Equal(t, "2", msgs[1].Payload.Text)

	require.Empty(t, m.DrainInterrupts("a1"), "drain must clear the queue")
}

func TestTouchActivity(t *testing.T) {
	m := New()
	now := time.Now()
	m.TouchActivity("a1", now)
	require.Equal(t, now, m.LastActivity("a1"))
}

func TestWorkspace(t *testing.T) {
	m := New()
	_, ok := m.Workspace("t1")
	require.False(t, ok)
	m.SetWorkspace("t1", "/tmp/t1")
	path, ok := m.Workspace("t1")
	require.True(t, ok)
	require.Equal(t, "/tmp/t1", path)
}

package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/pkg/models"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(Config{
		RootPrompt:   "You coordinate the organization.",
		ArtifactsDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, rt.Init(context.Background()))
	return rt
}

func TestInitCreatesRootAgent(t *testing.T) {
	rt := newTestRuntime(t)
	agent, ok := rt.Org.GetAgent(models.RootAgentID)
	require.True(t, ok)
	require.Equal(t, models.StatusIdle, agent.Status)
}

func TestSubmitRequirementSendsSeedMessageToRoot(t *testing.T) {
	rt := newTestRuntime(t)
	taskID, msgID, err := rt.SubmitRequirement("build a widget")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)
	require.NotEmpty(t, msgID)

	require.Equal(t, 1, rt.Bus.InboxSize(models.RootAgentID))
	msg, ok := rt.Bus.Peek(models.RootAgentID)
	require.True(t, ok)
	require.Equal(t, taskID, msg.TaskID)
	require.Equal(t, "build a widget", msg.Payload.Text)
}

func TestAbortAgentLlmCallSetsStoppingAndUnknownAgentErrors(t *testing.T) {
	rt := newTestRuntime(t)
	err := rt.AbortAgentLlmCall(models.RootAgentID)
	require.NoError(t, err)
	agent, _ := rt.Org.GetAgent(models.RootAgentID)
	require.Equal(t, models.StatusStopping, agent.Status)

	err = rt.AbortAgentLlmCall("no-such-agent")
	require.Error(t, err)
}

func TestSubmitMessageRejectsEmptyTextAndAttachments(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.SubmitMessage(models.RootAgentID, "", nil)
	require.Error(t, err)
}

func TestSubmitMessageNormalizesEmptyAttachmentsToPlainText(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.SubmitMessage(models.RootAgentID, "Hello", []models.Attachment{})
	require.NoError(t, err)

	msg, ok := rt.Bus.Peek(models.RootAgentID)
	require.True(t, ok)
	require.True(t, msg.Payload.IsPlainText())
	require.Equal(t, "Hello", msg.Payload.Text)
}

func TestSubmitMessagePreservesAttachmentsVerbatim(t *testing.T) {
	rt := newTestRuntime(t)
	attachments := []models.Attachment{
		{Type: models.AttachmentImage, ArtifactRef: "artifact:img-001", Filename: "photo.jpg"},
	}
	_, err := rt.SubmitMessage(models.RootAgentID, "", attachments)
	require.NoError(t, err)

	msg, ok := rt.Bus.Peek(models.RootAgentID)
	require.True(t, ok)
	require.Equal(t, attachments, msg.Payload.Attachments)
}

func TestTerminateAgentRefusesRoot(t *testing.T) {
	rt := newTestRuntime(t)
	err := rt.TerminateAgent(context.Background(), models.RootAgentID)
	require.Error(t, err)
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	runtimeDir := t.TempDir()

	rt1, err := New(Config{
		RootPrompt:   "You coordinate the organization.",
		ArtifactsDir: t.TempDir(),
		RuntimeDir:   runtimeDir,
	})
	require.NoError(t, err)
	require.NoError(t, rt1.Init(context.Background()))

	role, err := rt1.Org.CreateRole(multiagent.CreateRoleParams{Name: "writer", Prompt: "write things"})
	require.NoError(t, err)
	child, err := rt1.Org.SpawnAgent(multiagent.SpawnAgentParams{
		RoleID:        role.RoleID,
		ParentAgentID: models.RootAgentID,
		TaskBrief:     "draft a memo",
		TaskID:        "task-9",
	})
	require.NoError(t, err)

	require.NoError(t, rt1.Shutdown(context.Background()))

	rt2, err := New(Config{
		RootPrompt:   "You coordinate the organization.",
		ArtifactsDir: t.TempDir(),
		RuntimeDir:   runtimeDir,
	})
	require.NoError(t, err)
	require.NoError(t, rt2.Init(context.Background()))

	restoredChild, ok := rt2.Org.GetAgent(child.AgentID)
	require.True(t, ok)
	require.Equal(t, models.RootAgentID, restoredChild.ParentAgentID)
	require.Equal(t, "draft a memo", restoredChild.TaskBrief)

	require.NoError(t, rt2.Shutdown(context.Background()))
}

func TestStartDeliversSeededMessageThenShutdownStopsCleanly(t *testing.T) {
	rt := newTestRuntime(t)
	rt.cfg.SchedulePollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)

	_, _, err := rt.SubmitRequirement("ping")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rt.Bus.InboxSize(models.RootAgentID) == 0
	}, time.Second, 5*time.Millisecond, "delivery tick must drain root's inbox")

	require.NoError(t, rt.Shutdown(context.Background()))
}

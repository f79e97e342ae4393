package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/pkg/models"
)

func echoTool(name, group string) *Tool {
	return &Tool{
		Name:         name,
		Group:        group,
		ParamsSchema: `{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return in.Text, nil
		},
	}
}

func newTestExecutor(t *testing.T, roles RoleLookup) (*Registry, *Executor) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("send_message", OrgManagementGroup)))
	require.NoError(t, reg.Register(echoTool("put_artifact", "core")))
	require.NoError(t, reg.Register(echoTool("http_fetch", "auxiliary")))
	return reg, NewExecutor(reg, roles)
}

func TestRootOnlyGetsOrgManagementGroup(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return nil, false })
	root := &models.Agent{AgentID: models.RootAgentID}
	defs := exec.GetToolDefinitionsForAgent(root)
	require.Len(t, defs, 1)
	require.Equal(t, "send_message", defs[0].Name)
}

func TestNonRootWithNoGroupsGetsAllNonRootTools(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return nil, true })
	agent := &models.Agent{AgentID: "a1", RoleID: "r1"}
	defs := exec.GetToolDefinitionsForAgent(agent)
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	require.True(t, names["put_artifact"])
	require.True(t, names["http_fetch"])
	require.False(t, names["send_message"])
}

func TestNonRootWithDeclaredGroupsGetsUnion(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return []string{"auxiliary"}, true })
	agent := &models.Agent{AgentID: "a1", RoleID: "r1"}
	require.True(t, exec.IsToolAvailableForAgent(agent, "http_fetch"))
	require.False(t, exec.IsToolAvailableForAgent(agent, "put_artifact"))
}

func TestExecuteUnknownToolErrorsWithCode(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return []string{"core"}, true })
	agent := &models.Agent{AgentID: "a1", RoleID: "r1"}
	_, err := exec.ExecuteToolCall(context.Background(), ToolContext{Agent: agent}, "no_such_tool", nil)
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeUnknownTool, rterrErr.Code)
}

func TestExecutePermissionDenied(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return []string{"auxiliary"}, true })
	agent := &models.Agent{AgentID: "a1", RoleID: "r1"}
	_, err := exec.ExecuteToolCall(context.Background(), ToolContext{Agent: agent}, "put_artifact", json.RawMessage(`{"text":"x"}`))
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeToolNotPermitted, rterrErr.Code)
}

func TestExecuteSchemaViolation(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return []string{"core"}, true })
	agent := &models.Agent{AgentID: "a1", RoleID: "r1"}
	_, err := exec.ExecuteToolCall(context.Background(), ToolContext{Agent: agent}, "put_artifact", json.RawMessage(`{}`))
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeInvalidArgs, rterrErr.Code)
}

func TestExecuteSuccess(t *testing.T) {
	_, exec := newTestExecutor(t, func(roleID string) ([]string, bool) { return []string{"core"}, true })
	agent := &models.Agent{AgentID: "a1", RoleID: "r1"}
	result, err := exec.ExecuteToolCall(context.Background(), ToolContext{Agent: agent}, "put_artifact", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, "hi", result)
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("dup", "core")))
	err := reg.Register(echoTool("dup", "other"))
	require.Error(t, err)
}

func TestRegisterInvalidSchemaFails(t *testing.T) {
	reg := NewRegistry()
	tool := echoTool("bad", "core")
	tool.ParamsSchema = `{not json`
	require.Error(t, reg.Register(tool))
}

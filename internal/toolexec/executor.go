package toolexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/pkg/models"
)

// OrgManagementGroup is the sole group the root agent may use, per
// SPEC_FULL §4.6.
const OrgManagementGroup = "org_management"

// OrgManagementTools names the fixed tool set of OrgManagementGroup.
var OrgManagementTools = []string{
	"find_role_by_name",
	"create_role",
	"spawn_agent_with_task",
	"terminate_agent",
	"send_message",
}

// RoleLookup resolves a role's declared tool groups, used by the permission
// filter. Kept as a narrow function type rather than *multiagent.Organization
// directly so this package stays free to unit-test without spinning one up.
type RoleLookup func(roleID string) (toolGroups []string, ok bool)

// Executor enforces SPEC_FULL §4.6's permission rule on top of a Registry
// and dispatches validated calls to their handler.
type Executor struct {
	registry *Registry
	roles    RoleLookup
}

// NewExecutor wires a Registry to a role lookup used for permission
// filtering.
func NewExecutor(registry *Registry, roles RoleLookup) *Executor {
	return &Executor{registry: registry, roles: roles}
}

// GetToolDefinitionsForAgent returns the tools an agent is permitted to
// call: for root, exactly OrgManagementGroup; for any other agent, the
// union of its role's declared toolGroups, or every non-root tool when the
// role declares none.
func (e *Executor) GetToolDefinitionsForAgent(agent *models.Agent) []*Tool {
	if agent.AgentID == models.RootAgentID {
		return e.registry.ByGroup(OrgManagementGroup)
	}

	groups, _ := e.roles(agent.RoleID)
	if len(groups) == 0 {
		return e.nonRootTools()
	}

	seen := make(map[string]bool)
	var out []*Tool
	for _, g := range groups {
		for _, t := range e.registry.ByGroup(g) {
			if !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func (e *Executor) nonRootTools() []*Tool {
	var out []*Tool
	for _, t := range e.registry.All() {
		if t.Group != OrgManagementGroup {
			out = append(out, t)
		}
	}
	return out
}

// IsToolAvailableForAgent applies the same rule as GetToolDefinitionsForAgent
// to a single tool name.
func (e *Executor) IsToolAvailableForAgent(agent *models.Agent, toolName string) bool {
	for _, t := range e.GetToolDefinitionsForAgent(agent) {
		if t.Name == toolName {
			return true
		}
	}
	return false
}

// ExecuteToolCall looks up the tool, enforces permission, validates
// arguments against its schema, and invokes its handler. Side effects
// (bus sends, organization mutations, artifact writes) performed by the
// handler are immediately observable to subsequent calls, since all
// collaborators in ToolContext are shared, mutex-guarded singletons.
func (e *Executor) ExecuteToolCall(ctx context.Context, tc ToolContext, name string, args json.RawMessage) (any, error) {
	if len(name) > MaxToolNameLength {
		return nil, rterr.New(rterr.CodeInvalidArgs, "tool name exceeds %d characters", MaxToolNameLength)
	}
	if len(args) > MaxToolParamsSize {
		return nil, rterr.New(rterr.CodeInvalidArgs, "tool arguments exceed %d bytes", MaxToolParamsSize)
	}

	tool, ok := e.registry.Get(name)
	if !ok {
		return nil, rterr.New(rterr.CodeUnknownTool, "unknown tool: %s", name)
	}

	if !e.IsToolAvailableForAgent(tc.Agent, name) {
		return nil, rterr.New(rterr.CodeToolNotPermitted, "agent %s may not call %s", tc.Agent.AgentID, name)
	}

	if err := tool.validate(args); err != nil {
		return nil, err
	}

	result, err := tool.Handler(ctx, tc, args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

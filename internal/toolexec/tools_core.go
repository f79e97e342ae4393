package toolexec

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/pkg/models"
)

// RegisterCoreTools registers the minimum tool surface of SPEC_FULL §4.6
// onto reg: send_message, wait_for_message, put_artifact, get_artifact,
// find_role_by_name, create_role, spawn_agent_with_task, terminate_agent,
// and run_javascript. Grounded on the teacher's handoff_tool.go
// (spawn/terminate argument shapes) and subagent_registry.go.
func RegisterCoreTools(reg *Registry) error {
	tools := []*Tool{
		sendMessageTool(),
		waitForMessageTool(),
		putArtifactTool(),
		getArtifactTool(),
		findRoleByNameTool(),
		createRoleTool(),
		spawnAgentWithTaskTool(),
		terminateAgentTool(),
		runJavascriptTool(),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func sendMessageTool() *Tool {
	return &Tool{
		Name:  "send_message",
		Group: OrgManagementGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["to", "text"],
			"properties": {
				"to": {"type": "string", "minLength": 1},
				"text": {"type": "string"},
				"taskId": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				To     string `json:"to"`
				Text   string `json:"text"`
				TaskID string `json:"taskId"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			msg := tc.Bus.Send(&models.Message{
				From:    tc.Agent.AgentID,
				To:      in.To,
				TaskID:  in.TaskID,
				Payload: models.Payload{Text: in.Text},
			})
			return map[string]any{"messageId": msg.ID}, nil
		},
	}
}

func waitForMessageTool() *Tool {
	return &Tool{
		Name:  "wait_for_message",
		Group: "core",
		ParamsSchema: `{
			"type": "object",
			"properties": {
				"from": {"type": "string"},
				"timeoutSeconds": {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				From           string `json:"from"`
				TimeoutSeconds int    `json:"timeoutSeconds"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			timeout := time.Duration(in.TimeoutSeconds) * time.Second
			predicate := func(m *models.Message) bool {
				return in.From == "" || m.From == in.From
			}
			msg, err := tc.Bus.WaitForUserMessage(ctx, tc.Agent.AgentID, predicate, timeout)
			if err != nil {
				if err == bus.ErrWaitTimeout {
					return nil, rterr.New(rterr.CodeUITimeout, "wait_for_message: no matching message within %s", timeout)
				}
				return nil, err
			}
			return msg, nil
		},
	}
}

func putArtifactTool() *Tool {
	return &Tool{
		Name:  "put_artifact",
		Group: "core",
		ParamsSchema: `{
			"type": "object",
			"required": ["type", "contentBase64"],
			"properties": {
				"type": {"type": "string"},
				"contentBase64": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Type          string `json:"type"`
				ContentBase64 string `json:"contentBase64"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			data, err := decodeBase64(in.ContentBase64)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			ref, err := tc.ArtifactStore.Put(ctx, data, in.Type, nil)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeArtifactWriteFail, err)
			}
			return map[string]any{"artifactRef": ref}, nil
		},
	}
}

func getArtifactTool() *Tool {
	return &Tool{
		Name:  "get_artifact",
		Group: "core",
		ParamsSchema: `{
			"type": "object",
			"required": ["artifactRef"],
			"properties": {"artifactRef": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				ArtifactRef string `json:"artifactRef"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			content, err := tc.ArtifactStore.Get(ctx, in.ArtifactRef)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeArtifactNotFound, err)
			}
			return map[string]any{
				"contentBase64": encodeBase64(content.Data),
				"meta":          content.Meta,
			}, nil
		},
	}
}

func findRoleByNameTool() *Tool {
	return &Tool{
		Name:  "find_role_by_name",
		Group: OrgManagementGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["name"],
			"properties": {"name": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			role, ok := tc.Organization.FindRoleByName(in.Name)
			if !ok {
				return nil, rterr.New(rterr.CodeRoleNotFound, "role %q not found", in.Name)
			}
			return role, nil
		},
	}
}

func createRoleTool() *Tool {
	return &Tool{
		Name:  "create_role",
		Group: OrgManagementGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["name", "prompt"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"prompt": {"type": "string", "minLength": 1},
				"toolGroups": {"type": "array", "items": {"type": "string"}},
				"llmServiceId": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Name         string   `json:"name"`
				Prompt       string   `json:"prompt"`
				ToolGroups   []string `json:"toolGroups"`
				LLMServiceID string   `json:"llmServiceId"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			role, err := tc.Organization.CreateRole(multiagent.CreateRoleParams{
				Name:         in.Name,
				Prompt:       in.Prompt,
				ToolGroups:   in.ToolGroups,
				LLMServiceID: in.LLMServiceID,
			})
			if err != nil {
				return nil, err
			}
			return role, nil
		},
	}
}

func spawnAgentWithTaskTool() *Tool {
	return &Tool{
		Name:  "spawn_agent_with_task",
		Group: OrgManagementGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["roleId", "taskBrief"],
			"properties": {
				"roleId": {"type": "string", "minLength": 1},
				"taskBrief": {"type": "string", "minLength": 1},
				"taskId": {"type": "string"},
				"customName": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				RoleID     string `json:"roleId"`
				TaskBrief  string `json:"taskBrief"`
				TaskID     string `json:"taskId"`
				CustomName string `json:"customName"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			agent, err := tc.Organization.SpawnAgent(multiagent.SpawnAgentParams{
				RoleID:        in.RoleID,
				ParentAgentID: tc.Agent.AgentID,
				TaskBrief:     in.TaskBrief,
				TaskID:        in.TaskID,
				CustomName:    in.CustomName,
			})
			if err != nil {
				return nil, err
			}
			return agent, nil
		},
	}
}

func terminateAgentTool() *Tool {
	return &Tool{
		Name:  "terminate_agent",
		Group: OrgManagementGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["agentId"],
			"properties": {"agentId": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				AgentID string `json:"agentId"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			if err := tc.Organization.TerminateAgent(ctx, in.AgentID); err != nil {
				return nil, err
			}
			return map[string]any{"terminated": in.AgentID}, nil
		},
	}
}

func runJavascriptTool() *Tool {
	return &Tool{
		Name:  "run_javascript",
		Group: "core",
		ParamsSchema: `{
			"type": "object",
			"required": ["script"],
			"properties": {"script": {"type": "string"}},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Script string `json:"script"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			result, err := RunScript(ctx, tc, in.Script)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeCommandFailed, err)
			}
			return result, nil
		},
	}
}

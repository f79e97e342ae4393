// Package models holds the data types shared across the runtime: agents,
// roles, messages, artifacts, LLM services, and conversation turns. Types
// here carry no behavior beyond small invariant helpers — orchestration
// logic lives in the owning packages (internal/multiagent, internal/bus,
// internal/conversation, ...).
package models

import "time"

// AgentStatus is the lifecycle state of an agent, per SPEC_FULL §3.
type AgentStatus string

const (
	StatusIdle        AgentStatus = "idle"
	StatusWaitingLLM  AgentStatus = "waiting_llm"
	StatusProcessing  AgentStatus = "processing"
	StatusStopping    AgentStatus = "stopping"
	StatusStopped     AgentStatus = "stopped"
	StatusTerminating AgentStatus = "terminating"
	StatusTerminated  AgentStatus = "terminated"
)

// Terminal reports whether the status admits no further turns (I4).
func (s AgentStatus) Terminal() bool {
	return s == StatusTerminated
}

// Halting reports whether the status should break an in-flight tool loop
// (§4.9 step 3's break rule).
func (s AgentStatus) Halting() bool {
	switch s {
	case StatusStopping, StatusStopped, StatusTerminating, StatusTerminated:
		return true
	default:
		return false
	}
}

// RootAgentID is the well-known identity of the organization's root agent.
const RootAgentID = "root"

// UserAgentID is the well-known identity representing the human operator as
// a message-bus participant (used for "home" org views and send_message
// targets).
const UserAgentID = "user"

// Agent is a long-lived entity that owns a conversation with an LLM and
// acts via tools. See SPEC_FULL §3.
type Agent struct {
	AgentID        string      `json:"agentId"`
	RoleID         string      `json:"roleId"`
	RoleName       string      `json:"roleName"`
	CustomName     string      `json:"customName,omitempty"`
	ParentAgentID  string      `json:"parentAgentId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
	Status         AgentStatus `json:"status"`
	TaskBrief      string      `json:"taskBrief,omitempty"`
	TaskID         string      `json:"taskId,omitempty"`

	// TraceID correlates every turn span for this agent (SPEC_FULL §3 expansion).
	TraceID string `json:"traceId,omitempty"`
}

// DisplayName returns CustomName when set, otherwise RoleName.
func (a *Agent) DisplayName() string {
	if a.CustomName != "" {
		return a.CustomName
	}
	return a.RoleName
}

// Role is a named template (prompt + tool permissions + preferred service)
// agents are instantiated from. See SPEC_FULL §3.
type Role struct {
	RoleID        string   `json:"roleId"`
	Name          string   `json:"name"`
	Prompt        string   `json:"prompt"`
	ToolGroups    []string `json:"toolGroups,omitempty"`
	LLMServiceID  string   `json:"llmServiceId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// OrgNode is the projection of an agent and its children used by org-tree
// consumers (HTTP API, CLI).
type OrgNode struct {
	AgentID  string      `json:"agentId"`
	RoleName string      `json:"roleName"`
	Status   AgentStatus `json:"status"`
	Children []*OrgNode  `json:"children"`
}

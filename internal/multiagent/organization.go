// Package multiagent implements the organization of SPEC_FULL §4.5 (role
// catalog, agent spawn/terminate, parent/child graph) and the capability
// router of §4.4.
//
// Grounded on the teacher's internal/multiagent/subagent_registry.go
// (run-record bookkeeping idiom — CreatedAt/StartedAt/Outcome fields) and
// internal/multiagent/types.go (AgentDefinition field/doc style); the
// health-check and load-balancing logic of the teacher's
// capability_router.go does not survive (no SPEC_FULL.md component models
// agent health polling) but the file name and package are kept, rewritten
// for multimodal content adaptation — see capability_router.go.
package multiagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/pkg/models"
)

// ErrRootTermination is returned when a caller attempts to terminate root.
var ErrRootTermination = rterr.New(rterr.CodeToolNotPermitted, "terminating the root agent is refused")

// ShutdownHook runs as part of TerminateAgent, before the agent is marked
// terminated. Errors are logged by the caller, never block termination.
type ShutdownHook func(ctx context.Context, agentID string) error

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// CreateRoleParams are the inputs to CreateRole.
type CreateRoleParams struct {
	Name         string
	Prompt       string
	ToolGroups   []string
	LLMServiceID string
}

// SpawnAgentParams are the inputs to SpawnAgent.
type SpawnAgentParams struct {
	RoleID        string
	ParentAgentID string
	TaskBrief     string
	TaskID        string
	CustomName    string
}

// Organization owns the role catalog and the agent parent/child forest
// (I5: no cycles, by construction — agents refer to parents by id only and
// a node's parent is fixed at spawn time).
type Organization struct {
	mu sync.RWMutex

	roles      map[string]*models.Role
	roleByName map[string]string // name -> roleID

	agents   map[string]*models.Agent
	children map[string][]string // parentID -> childIDs

	bus              *bus.Bus
	state            *runtimestate.Manager
	registry         *llmservice.Registry
	defaultServiceID string
	shutdownHook     ShutdownHook
	clock            Clock
}

// New creates an Organization wired to bus, state, and registry.
// defaultServiceID is the fallback service id used by FindCapableAgents and
// agent resolution when a role declares no preferred service.
func New(b *bus.Bus, state *runtimestate.Manager, registry *llmservice.Registry, defaultServiceID string) *Organization {
	return &Organization{
		roles:            make(map[string]*models.Role),
		roleByName:       make(map[string]string),
		agents:           make(map[string]*models.Agent),
		children:         make(map[string][]string),
		bus:              b,
		state:            state,
		registry:         registry,
		defaultServiceID: defaultServiceID,
		clock:            time.Now,
	}
}

// SetShutdownHook installs an optional hook run during TerminateAgent.
func (o *Organization) SetShutdownHook(hook ShutdownHook) {
	o.mu.Lock()
	o.shutdownHook = hook
	o.mu.Unlock()
}

// SetClock overrides time.Now, for tests.
func (o *Organization) SetClock(clock Clock) {
	o.mu.Lock()
	o.clock = clock
	o.mu.Unlock()
}

func (o *Organization) now() time.Time {
	o.mu.RLock()
	clock := o.clock
	o.mu.RUnlock()
	return clock()
}

// EnsureRootAgent creates the well-known root agent if absent. Called by
// the runtime coordinator during init.
func (o *Organization) EnsureRootAgent(rootPrompt string) (*models.Agent, error) {
	o.mu.Lock()
	if agent, ok := o.agents[models.RootAgentID]; ok {
		o.mu.Unlock()
		return agent, nil
	}
	o.mu.Unlock()

	role, err := o.CreateRole(CreateRoleParams{
		Name:       "root",
		Prompt:     rootPrompt,
		ToolGroups: []string{"org_management"},
	})
	if err != nil {
		// "root" role may already exist from a restored snapshot.
		if existing, ok := o.FindRoleByName("root"); ok {
			role = existing
		} else {
			return nil, err
		}
	}

	now := o.now()
	agent := &models.Agent{
		AgentID:        models.RootAgentID,
		RoleID:         role.RoleID,
		RoleName:       role.Name,
		CreatedAt:      now,
		LastActivityAt: now,
		Status:         models.StatusIdle,
	}

	o.mu.Lock()
	o.agents[agent.AgentID] = agent
	o.mu.Unlock()
	o.state.SetAgentComputeStatus(agent.AgentID, models.StatusIdle)
	o.state.TouchActivity(agent.AgentID, now)
	return agent, nil
}

// CreateRole registers a new role; name uniqueness is enforced.
func (o *Organization) CreateRole(params CreateRoleParams) (*models.Role, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.roleByName[params.Name]; exists {
		return nil, rterr.New(rterr.CodeRoleNameConflict, "role name %q already exists", params.Name)
	}

	role := &models.Role{
		RoleID:       uuid.NewString(),
		Name:         params.Name,
		Prompt:       params.Prompt,
		ToolGroups:   params.ToolGroups,
		LLMServiceID: params.LLMServiceID,
		CreatedAt:    o.clock(),
	}
	o.roles[role.RoleID] = role
	o.roleByName[role.Name] = role.RoleID
	return role, nil
}

// UpdateRole renames a role and/or replaces its prompt (SPEC_FULL §3); agents observe
// the update on their next turn because the turn driver re-reads the role
// by id each time it builds a system prompt.
func (o *Organization) UpdateRole(roleID string, newName, newPrompt *string) (*models.Role, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	role, ok := o.roles[roleID]
	if !ok {
		return nil, rterr.New(rterr.CodeRoleNotFound, "role %q not found", roleID)
	}
	if newName != nil && *newName != role.Name {
		if _, exists := o.roleByName[*newName]; exists {
			return nil, rterr.New(rterr.CodeRoleNameConflict, "role name %q already exists", *newName)
		}
		delete(o.roleByName, role.Name)
		role.Name = *newName
		o.roleByName[role.Name] = role.RoleID
	}
	if newPrompt != nil {
		role.Prompt = *newPrompt
	}
	return role, nil
}

// FindRoleByName returns a role by its unique name.
func (o *Organization) FindRoleByName(name string) (*models.Role, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.roleByName[name]
	if !ok {
		return nil, false
	}
	return o.roles[id], true
}

// GetRole returns a role by id.
func (o *Organization) GetRole(roleID string) (*models.Role, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	role, ok := o.roles[roleID]
	return role, ok
}

// ListRoles returns all registered roles.
func (o *Organization) ListRoles() []*models.Role {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.Role, 0, len(o.roles))
	for _, r := range o.roles {
		out = append(out, r)
	}
	return out
}

// SpawnAgent creates a new agent under parentAgentID, registers it in
// runtime state, and — if TaskBrief is set — sends a seed user message
// summarizing the task.
func (o *Organization) SpawnAgent(params SpawnAgentParams) (*models.Agent, error) {
	o.mu.Lock()
	role, ok := o.roles[params.RoleID]
	if !ok {
		o.mu.Unlock()
		return nil, rterr.New(rterr.CodeRoleNotFound, "role %q not found", params.RoleID)
	}

	var parent *models.Agent
	if params.ParentAgentID != "" {
		parent, ok = o.agents[params.ParentAgentID]
		if !ok {
			o.mu.Unlock()
			return nil, rterr.New(rterr.CodeAgentNotFound, "parent agent %q not found", params.ParentAgentID)
		}
		if parent.Status.Terminal() {
			o.mu.Unlock()
			return nil, rterr.New(rterr.CodeParentTerminated, "parent agent %q is terminated", params.ParentAgentID)
		}
	}

	now := o.now()
	agent := &models.Agent{
		AgentID:        uuid.NewString(),
		RoleID:         role.RoleID,
		RoleName:       role.Name,
		CustomName:     params.CustomName,
		ParentAgentID:  params.ParentAgentID,
		CreatedAt:      now,
		LastActivityAt: now,
		Status:         models.StatusIdle,
		TaskBrief:      params.TaskBrief,
		TaskID:         params.TaskID,
		TraceID:        uuid.NewString(),
	}
	o.agents[agent.AgentID] = agent
	if params.ParentAgentID != "" {
		o.children[params.ParentAgentID] = append(o.children[params.ParentAgentID], agent.AgentID)
	}
	o.mu.Unlock()

	o.state.SetAgentComputeStatus(agent.AgentID, models.StatusIdle)
	o.state.TouchActivity(agent.AgentID, now)

	if params.TaskBrief != "" {
		o.bus.Send(&models.Message{
			From:   params.ParentAgentID,
			To:     agent.AgentID,
			TaskID: params.TaskID,
			Payload: models.Payload{
				Text: fmt.Sprintf("Your task: %s", params.TaskBrief),
			},
		})
	}

	return agent, nil
}

// GetAgent returns an agent by id.
func (o *Organization) GetAgent(agentID string) (*models.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	agent, ok := o.agents[agentID]
	return agent, ok
}

// ListAgents returns every agent record, including terminated ones (history
// lookups remain valid per SPEC_FULL §3).
func (o *Organization) ListAgents() []*models.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a)
	}
	return out
}

// TerminateAgent marks an agent terminating, drains its inbox, runs the
// shutdown hook, then marks it terminated. Terminating root is refused.
func (o *Organization) TerminateAgent(ctx context.Context, agentID string) error {
	if agentID == models.RootAgentID {
		return ErrRootTermination
	}

	o.mu.Lock()
	agent, ok := o.agents[agentID]
	o.mu.Unlock()
	if !ok {
		return rterr.New(rterr.CodeAgentNotFound, "agent %q not found", agentID)
	}

	release := o.state.AcquireLock(agentID)
	defer release()

	agent.Status = models.StatusTerminating
	o.state.SetAgentComputeStatus(agentID, models.StatusTerminating)

	o.bus.PopAll(agentID, 0) // drain/ignore pending inbox

	o.mu.RLock()
	hook := o.shutdownHook
	o.mu.RUnlock()
	if hook != nil {
		_ = hook(ctx, agentID) // errors are the caller's to log; termination proceeds regardless
	}

	agent.Status = models.StatusTerminated
	o.state.SetAgentComputeStatus(agentID, models.StatusTerminated)
	return nil
}

// SetAgentStatus transitions an agent's status outside the normal turn
// lifecycle — used by the runtime coordinator's abort/stop control-plane
// calls (SPEC_FULL §4.11). It updates both the agent record and the
// runtime state map so every status-checking call site (processor
// eligibility, turn driver halting checks) observes the change immediately.
// Reports false if agentID is unknown.
func (o *Organization) SetAgentStatus(agentID string, status models.AgentStatus) bool {
	o.mu.RLock()
	agent, ok := o.agents[agentID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	agent.Status = status
	o.state.SetAgentComputeStatus(agentID, status)
	return true
}

// RestoreRole re-inserts a role with its original id, bypassing name-
// uniqueness checks and uuid generation. Used only by the persistence
// layer's restore path, before any submissions are accepted.
func (o *Organization) RestoreRole(role *models.Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.roles[role.RoleID] = role
	o.roleByName[role.Name] = role.RoleID
}

// RestoreAgent re-inserts an agent with its original id and parent edge,
// bypassing SpawnAgent's validation and seed-message send. Used only by
// the persistence layer's restore path. The parent edge is recorded by
// parent id, so agents may be restored in any order.
func (o *Organization) RestoreAgent(agent *models.Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[agent.AgentID] = agent
	if agent.ParentAgentID != "" {
		o.children[agent.ParentAgentID] = append(o.children[agent.ParentAgentID], agent.AgentID)
	}
}

// FindCapableAgents returns agents whose resolved LLM service declares
// capabilityType as an input capability.
func (o *Organization) FindCapableAgents(capabilityType models.CapabilityType) []*models.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []*models.Agent
	for _, agent := range o.agents {
		if agent.Status.Terminal() {
			continue
		}
		serviceID := o.resolveServiceIDLocked(agent)
		if o.registry != nil && o.registry.HasCapability(serviceID, capabilityType, models.DirectionInput) {
			out = append(out, agent)
		}
	}
	return out
}

// ResolveServiceID returns the LLM service id an agent's turns are run
// against: its role's declared service, falling back to the organization's
// configured default.
func (o *Organization) ResolveServiceID(agentID string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	agent, ok := o.agents[agentID]
	if !ok {
		return "", false
	}
	return o.resolveServiceIDLocked(agent), true
}

// resolveServiceIDLocked requires o.mu to be held (read or write).
func (o *Organization) resolveServiceIDLocked(agent *models.Agent) string {
	role := o.roles[agent.RoleID]
	if role != nil && role.LLMServiceID != "" {
		return role.LLMServiceID
	}
	return o.defaultServiceID
}

// Tree builds the OrgNode projection rooted at rootID (typically "root").
func (o *Organization) Tree(rootID string) *models.OrgNode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.buildNode(rootID)
}

func (o *Organization) buildNode(agentID string) *models.OrgNode {
	agent, ok := o.agents[agentID]
	if !ok {
		return nil
	}
	node := &models.OrgNode{
		AgentID:  agent.AgentID,
		RoleName: agent.RoleName,
		Status:   agent.Status,
		Children: []*models.OrgNode{},
	}
	for _, childID := range o.children[agentID] {
		if child := o.buildNode(childID); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

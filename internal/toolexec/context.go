// Package toolexec implements the tool executor of SPEC_FULL §4.6: a
// registry keyed by tool name with permission filtering per agent, JSON
// Schema argument validation, and the core + auxiliary tool surfaces.
//
// Grounded on the teacher's internal/agent/tool_registry.go (RWMutex
// registry, name/size limits, Execute contract) and
// internal/tools/policy/{groups,types,resolver}.go (named tool groups,
// role-declared permission union).
package toolexec

import (
	"time"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/pkg/models"
)

// ToolContext is the fixed shape decided for SPEC_FULL §9's Open Question
// on the equivalent of _buildAgentContext: the calling agent, the shared
// collaborators a handler may need, and an injectable clock for
// deterministic tests.
type ToolContext struct {
	Agent         *models.Agent
	Runtime       *runtimestate.Manager
	ArtifactStore artifacts.Store
	Bus           *bus.Bus
	Organization  *multiagent.Organization
	Clock         func() time.Time
}

// Now returns the context's clock, defaulting to time.Now.
func (tc ToolContext) Now() time.Time {
	if tc.Clock != nil {
		return tc.Clock()
	}
	return time.Now()
}

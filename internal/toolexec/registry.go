package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentmesh/runtime/internal/rterr"
)

// Handler implements a tool's behavior. args is validated against the
// tool's schema before the handler runs.
type Handler func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error)

// Tool is a single named, schema-validated capability.
type Tool struct {
	Name        string
	Group       string
	Description string

	// ParamsSchema is the tool's JSON Schema document (draft 2020-12 or
	// compatible), compiled once at Register time.
	ParamsSchema string

	Handler Handler

	compiled *jsonschema.Schema
}

// MaxToolNameLength and MaxToolParamsSize bound resource exhaustion via
// pathological tool names or argument payloads (teacher's tool_registry.go
// carries the same limits for the same reason).
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Registry owns the tool catalog. Duplicate registration across groups is
// forbidden per SPEC_FULL §4.6.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's schema and adds it to the catalog. Returns
// an error if the name is already registered (in any group) or the schema
// fails to compile — both are registration-time errors, never per-call.
func (r *Registry) Register(tool *Tool) error {
	compiled, err := jsonschema.CompileString(tool.Name+".schema.json", tool.ParamsSchema)
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", tool.Name, err)
	}
	tool.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ByGroup returns every tool in the named group.
func (r *Registry) ByGroup(group string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tool
	for _, t := range r.tools {
		if t.Group == group {
			out = append(out, t)
		}
	}
	return out
}

// validate checks args against the tool's compiled schema.
func (t *Tool) validate(args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var payload any
	if err := json.Unmarshal(args, &payload); err != nil {
		return rterr.Wrap(rterr.CodeInvalidArgs, err)
	}
	if err := t.compiled.Validate(payload); err != nil {
		return rterr.New(rterr.CodeInvalidArgs, "%s: %v", t.Name, err)
	}
	return nil
}

// Package orgtemplate implements org-template CRUD (SPEC_FULL §6): reusable
// bundles of role definitions that a single call can instantiate into a
// live organization, and a file-backed registry for storing them.
//
// Grounded on the teacher's internal/templates/registry.go (in-memory
// map-plus-mutex CRUD: Register/Unregister/Get/List) and
// internal/templates/instantiate.go (Instantiator walking a template's role
// list against the live organization), scaled down from the teacher's
// variable-substitution/MCP/handoff-rich agent templates to this runtime's
// plain role+prompt+toolGroups+llmServiceId shape.
package orgtemplate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/agentmesh/runtime/internal/multiagent"
)

// RoleTemplate is one role definition within an OrgTemplate.
type RoleTemplate struct {
	Name         string   `json:"name"`
	Prompt       string   `json:"prompt"`
	ToolGroups   []string `json:"toolGroups,omitempty"`
	LLMServiceID string   `json:"llmServiceId,omitempty"`
}

// OrgTemplate is a named, reusable bundle of role definitions.
type OrgTemplate struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Roles       []RoleTemplate `json:"roles"`
}

// Registry is a file-backed CRUD store of OrgTemplates, persisted as a
// single JSON array so the whole catalog can be hand-edited or version
// controlled as one file.
type Registry struct {
	mu   sync.RWMutex
	path string
	byName map[string]*OrgTemplate
}

// NewRegistry loads path if it exists; a missing file yields an empty,
// writable registry rather than an error.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, byName: make(map[string]*OrgTemplate)}
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read org templates file %s: %w", path, err)
	}
	var templates []*OrgTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse org templates file %s: %w", path, err)
	}
	for _, tmpl := range templates {
		r.byName[tmpl.Name] = tmpl
	}
	return r, nil
}

// Get returns the named template, or false if absent.
func (r *Registry) Get(name string) (*OrgTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.byName[name]
	return tmpl, ok
}

// List returns every template, sorted by name.
func (r *Registry) List() []*OrgTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*OrgTemplate, 0, len(r.byName))
	for _, tmpl := range r.byName {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put creates or replaces a template and persists the catalog.
func (r *Registry) Put(tmpl *OrgTemplate) error {
	if tmpl.Name == "" {
		return fmt.Errorf("org template name is required")
	}
	r.mu.Lock()
	r.byName[tmpl.Name] = tmpl
	r.mu.Unlock()
	return r.persist()
}

// Delete removes a template by name and persists the catalog. A missing
// name is a no-op.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	delete(r.byName, name)
	r.mu.Unlock()
	return r.persist()
}

// persist must be called without r.mu held.
func (r *Registry) persist() error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.List(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal org templates: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create org templates dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write org templates file: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// Instantiate creates one role per RoleTemplate in tmpl against org,
// skipping (not erroring on) a role whose name already exists, so applying
// the same template twice is idempotent at the role level.
func Instantiate(org *multiagent.Organization, tmpl *OrgTemplate) ([]string, error) {
	var created []string
	for _, rt := range tmpl.Roles {
		if _, exists := org.FindRoleByName(rt.Name); exists {
			continue
		}
		role, err := org.CreateRole(multiagent.CreateRoleParams{
			Name:         rt.Name,
			Prompt:       rt.Prompt,
			ToolGroups:   rt.ToolGroups,
			LLMServiceID: rt.LLMServiceID,
		})
		if err != nil {
			return created, fmt.Errorf("create role %q: %w", rt.Name, err)
		}
		created = append(created, role.RoleID)
	}
	return created, nil
}

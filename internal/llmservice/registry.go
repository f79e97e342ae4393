// Package llmservice implements the LLM service registry and selector of
// SPEC_FULL §4.3: a catalog of backend models loaded from a local file that
// shadows (not merges with) a default file, with invalid entries dropped
// rather than treated as fatal, plus a selector that maps a role prompt to a
// service id via a meta-LLM call.
//
// Grounded on the teacher's internal/config/loader.go ($include resolution,
// env-var expansion, never-fatal-on-bad-entry posture) and
// internal/config/config_llm.go (provider catalog shape). Hot-reload via
// fsnotify follows the same package's file-watching convention used
// elsewhere in the teacher for config files.
package llmservice

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/agentmesh/runtime/pkg/models"
)

// catalogFile is the on-disk shape of an LLM-services file.
type catalogFile struct {
	Services []models.LlmService `yaml:"services"`
}

// Registry holds the loaded, validated catalog and serves the query API of
// SPEC_FULL §4.3.
type Registry struct {
	mu         sync.RWMutex
	services   map[string]*models.LlmService
	order      []string
	logger     *slog.Logger
	localPath  string
	defaultPath string
	watcher    *fsnotify.Watcher
}

// NewRegistry loads localPath if it exists, otherwise defaultPath (local
// entirely shadows default — never merged). Invalid entries are dropped
// with a warning; a missing/empty file yields an empty registry, never an
// error.
func NewRegistry(localPath, defaultPath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		services:    make(map[string]*models.LlmService),
		logger:      logger,
		localPath:   localPath,
		defaultPath: defaultPath,
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) activePath() string {
	if r.localPath != "" {
		if _, err := os.Stat(r.localPath); err == nil {
			return r.localPath
		}
	}
	return r.defaultPath
}

func (r *Registry) reload() error {
	path := r.activePath()
	if path == "" {
		r.mu.Lock()
		r.services = make(map[string]*models.LlmService)
		r.order = nil
		r.mu.Unlock()
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.services = make(map[string]*models.LlmService)
			r.order = nil
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read llm services file %s: %w", path, err)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("parse llm services file %s: %w", path, err)
	}

	services := make(map[string]*models.LlmService, len(cat.Services))
	var order []string
	for i := range cat.Services {
		svc := cat.Services[i]
		if !svc.Valid() {
			r.logger.Warn("dropping invalid llm service entry", "index", i, "id", svc.ID)
			continue
		}
		if _, dup := services[svc.ID]; dup {
			r.logger.Warn("dropping duplicate llm service id", "id", svc.ID)
			continue
		}
		services[svc.ID] = &svc
		order = append(order, svc.ID)
	}

	r.mu.Lock()
	r.services = services
	r.order = order
	r.mu.Unlock()
	return nil
}

// WatchForChanges starts an fsnotify watch on the active catalog file and
// reloads on write events. Errors during reload are logged, never fatal.
func (r *Registry) WatchForChanges() error {
	path := r.activePath()
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := r.reload(); err != nil {
						r.logger.Warn("failed to reload llm services catalog", "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("llm services watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// GetServiceByID returns a service by id, or nil if not present.
func (r *Registry) GetServiceByID(id string) *models.LlmService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[id]
}

// ListServices returns all services in catalog order.
func (r *Registry) ListServices() []*models.LlmService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.LlmService, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// Empty reports whether the registry has no usable services.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services) == 0
}

// HasCapability reports whether a service declares the given type in the
// given direction. Unknown service ids report false.
func (r *Registry) HasCapability(serviceID string, t models.CapabilityType, dir models.CapabilityDirection) bool {
	svc := r.GetServiceByID(serviceID)
	if svc == nil {
		return false
	}
	return svc.EffectiveCapabilities().Has(dir, t)
}

// GetCapabilities returns the effective capabilities of a service, or the
// spec default if the service is unknown.
func (r *Registry) GetCapabilities(serviceID string) models.Capabilities {
	svc := r.GetServiceByID(serviceID)
	if svc == nil {
		return models.DefaultCapabilities()
	}
	return svc.EffectiveCapabilities()
}

// GetServicesByCapability returns all services declaring t in direction dir.
func (r *Registry) GetServicesByCapability(t models.CapabilityType, dir models.CapabilityDirection) []*models.LlmService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.LlmService
	for _, id := range r.order {
		svc := r.services[id]
		if svc.EffectiveCapabilities().Has(dir, t) {
			out = append(out, svc)
		}
	}
	return out
}

// ErrNoLocalPath is returned by write operations when the registry was
// constructed without a local catalog path to persist to.
var ErrNoLocalPath = fmt.Errorf("registry has no local catalog path configured")

// UpsertService writes svc into the local catalog file (creating it if
// absent), replacing any existing entry with the same id, and reloads.
// Used by the HTTP config surface's CRUD endpoints; never touches
// defaultPath, matching the local-entirely-shadows-default rule.
func (r *Registry) UpsertService(svc models.LlmService) error {
	if r.localPath == "" {
		return ErrNoLocalPath
	}
	if !svc.Valid() {
		return fmt.Errorf("invalid llm service entry %q", svc.ID)
	}

	services, err := r.readLocalCatalog()
	if err != nil {
		return err
	}
	replaced := false
	for i := range services {
		if services[i].ID == svc.ID {
			services[i] = svc
			replaced = true
			break
		}
	}
	if !replaced {
		services = append(services, svc)
	}
	return r.writeLocalCatalog(services)
}

// DeleteService removes id from the local catalog file and reloads. A
// missing id is a no-op.
func (r *Registry) DeleteService(id string) error {
	if r.localPath == "" {
		return ErrNoLocalPath
	}
	services, err := r.readLocalCatalog()
	if err != nil {
		return err
	}
	out := services[:0]
	for _, svc := range services {
		if svc.ID != id {
			out = append(out, svc)
		}
	}
	return r.writeLocalCatalog(out)
}

func (r *Registry) readLocalCatalog() ([]models.LlmService, error) {
	data, err := os.ReadFile(r.localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read local llm services file %s: %w", r.localPath, err)
	}
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse local llm services file %s: %w", r.localPath, err)
	}
	return cat.Services, nil
}

func (r *Registry) writeLocalCatalog(services []models.LlmService) error {
	data, err := yaml.Marshal(catalogFile{Services: services})
	if err != nil {
		return fmt.Errorf("marshal local llm services file: %w", err)
	}
	if err := os.WriteFile(r.localPath, data, 0o644); err != nil {
		return fmt.Errorf("write local llm services file %s: %w", r.localPath, err)
	}
	return r.reload()
}

// selectionResponse is the shape the meta-LLM is asked to return.
type selectionResponse struct {
	ServiceID string `json:"serviceId"`
	Reason    string `json:"reason"`
}

func parseSelectionResponse(text string) (*selectionResponse, error) {
	var resp selectionResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

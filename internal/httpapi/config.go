package httpapi

import (
	"net/http"
	"strings"

	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/pkg/models"
)

// llmDefaults is a small mutable holder for the default LLM config
// exposed at GET/POST /api/config/llm; it is intentionally separate from
// the LLM-service catalog, which lives in internal/llmservice.Registry.
type llmDefaults struct {
	DefaultServiceID         string `json:"defaultServiceId"`
	MaxConcurrentLlmRequests int    `json:"maxConcurrentLlmRequests"`
}

// handleLLMConfig implements GET/POST /api/config/llm: the runtime-wide
// default service id and concurrency bound (distinct from individual
// service catalog entries, CRUD'd under /api/config/llm-services).
func (s *Server) handleLLMConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		cur := s.llmDefaults
		s.mu.RUnlock()
		writeJSON(w, http.StatusOK, cur)
	case http.MethodPost:
		var next llmDefaults
		if err := readJSON(r, &next); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
			return
		}
		if next.MaxConcurrentLlmRequests <= 0 {
			next.MaxConcurrentLlmRequests = 3
		}
		s.mu.Lock()
		s.llmDefaults = next
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLLMServicesCollection implements GET/POST /api/config/llm-services:
// list the catalog, or create/replace a service entry.
func (s *Server) handleLLMServicesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"services": s.registry.ListServices()})
	case http.MethodPost:
		var svc models.LlmService
		if err := readJSON(r, &svc); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
			return
		}
		if err := s.registry.UpsertService(svc); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": svc})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLLMServicesItem implements GET/PUT/DELETE /api/config/llm-services/:id.
func (s *Server) handleLLMServicesItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/config/llm-services/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		svc := s.registry.GetServiceByID(id)
		if svc == nil {
			writeRTErr(w, rterr.New(rterr.CodeNotFound, "llm service %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, svc)
	case http.MethodPut:
		var svc models.LlmService
		if err := readJSON(r, &svc); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
			return
		}
		svc.ID = id
		if err := s.registry.UpsertService(svc); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": svc})
	case http.MethodDelete:
		if err := s.registry.DeleteService(id); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

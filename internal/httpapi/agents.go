package httpapi

import (
	"net/http"
	"strings"

	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/pkg/models"
)

// handleListAgents implements GET /api/agents?org={id|all|home}.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	org := r.URL.Query().Get("org")
	switch org {
	case "", "all":
		writeJSON(w, http.StatusOK, map[string]any{"agents": s.org.ListAgents()})
	case "home":
		writeJSON(w, http.StatusOK, map[string]any{"agents": s.homeAgents()})
	default:
		node := s.org.Tree(org)
		if node == nil {
			writeRTErr(w, rterr.New(rterr.CodeAgentNotFound, "agent %q not found", org))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"org": node})
	}
}

// homeAgents returns only root and the synthetic user participant, per
// SPEC_FULL §6 ("home returns only root and user").
func (s *Server) homeAgents() []*models.Agent {
	var out []*models.Agent
	if root, ok := s.org.GetAgent(models.RootAgentID); ok {
		out = append(out, root)
	}
	out = append(out, &models.Agent{
		AgentID:  models.UserAgentID,
		RoleName: "user",
		Status:   models.StatusIdle,
	})
	return out
}

// handleAgentAction implements POST /api/agents/:id/abort.
func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	agentID, action, ok := strings.Cut(path, "/")
	if !ok || action != "abort" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.runtime.AbortAgentLlmCall(agentID); err != nil {
		writeRTErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

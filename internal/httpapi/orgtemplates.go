package httpapi

import (
	"net/http"
	"strings"

	"github.com/agentmesh/runtime/internal/orgtemplate"
	"github.com/agentmesh/runtime/internal/rterr"
)

// handleOrgTemplatesCollection implements GET/POST /api/org-templates.
func (s *Server) handleOrgTemplatesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"templates": s.templates.List()})
	case http.MethodPost:
		var tmpl orgtemplate.OrgTemplate
		if err := readJSON(r, &tmpl); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
			return
		}
		if err := s.templates.Put(&tmpl); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "template": tmpl})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOrgTemplatesItem implements GET/PUT/DELETE /api/org-templates/:name
// and POST /api/org-templates/:name/instantiate.
func (s *Server) handleOrgTemplatesItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/org-templates/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	if name, rest, cut := strings.Cut(path, "/"); cut && rest == "instantiate" {
		s.handleOrgTemplateInstantiate(w, r, name)
		return
	}
	name := path

	switch r.Method {
	case http.MethodGet:
		tmpl, ok := s.templates.Get(name)
		if !ok {
			writeRTErr(w, rterr.New(rterr.CodeNotFound, "org template %q not found", name))
			return
		}
		writeJSON(w, http.StatusOK, tmpl)
	case http.MethodPut:
		var tmpl orgtemplate.OrgTemplate
		if err := readJSON(r, &tmpl); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
			return
		}
		tmpl.Name = name
		if err := s.templates.Put(&tmpl); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "template": tmpl})
	case http.MethodDelete:
		if err := s.templates.Delete(name); err != nil {
			writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOrgTemplateInstantiate(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tmpl, ok := s.templates.Get(name)
	if !ok {
		writeRTErr(w, rterr.New(rterr.CodeNotFound, "org template %q not found", name))
		return
	}
	created, err := orgtemplate.Instantiate(s.org, tmpl)
	if err != nil {
		writeRTErr(w, rterr.Wrap(rterr.CodeInvalidArgs, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "createdRoleIds": created})
}

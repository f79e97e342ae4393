package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agentmesh/runtime/internal/rterr"
)

const defaultUICommandPollTimeout = 25 * time.Second

// handleUICommandsPoll implements GET /api/ui-commands/poll?clientId&timeoutMs,
// long-polling until a command is queued for clientId or the timeout elapses.
func (s *Server) handleUICommandsPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		writeRTErr(w, rterr.New(rterr.CodeInvalidArgs, "clientId is required"))
		return
	}

	timeout := defaultUICommandPollTimeout
	if raw := r.URL.Query().Get("timeoutMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			writeRTErr(w, rterr.New(rterr.CodeInvalidArgs, "timeoutMs must be a positive integer"))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	cmd, ok := s.bridge.Poll(r.Context(), clientID, timeout)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"command": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": cmd})
}

// uiCommandResultRequest is the body of POST /api/ui-commands/result.
type uiCommandResultRequest struct {
	CommandID string `json:"commandId"`
	Result    any    `json:"result"`
}

// handleUICommandsResult implements POST /api/ui-commands/result: the
// browser client reports the outcome of a previously-polled command, waking
// any caller blocked in the runtime's WaitResult for that command.
func (s *Server) handleUICommandsResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req uiCommandResultRequest
	if err := readJSON(r, &req); err != nil {
		writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
		return
	}
	if req.CommandID == "" {
		writeRTErr(w, rterr.New(rterr.CodeInvalidArgs, "commandId is required"))
		return
	}
	if err := s.bridge.Resolve(req.CommandID, req.Result); err != nil {
		writeRTErr(w, rterr.New(rterr.CodeNotFound, "%s", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

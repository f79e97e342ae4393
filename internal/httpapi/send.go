package httpapi

import (
	"net/http"

	"github.com/agentmesh/runtime/pkg/models"
)

type sendRequest struct {
	To          string              `json:"to"`
	Message     string              `json:"message"`
	Attachments []models.Attachment `json:"attachments"`
}

type sendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
}

// handleSend implements POST /api/send (SPEC_FULL §6, property 5).
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "parse_error", "message": err.Error()},
		})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": "invalid_args", "message": "to is required"},
		})
		return
	}

	messageID, err := s.runtime.SubmitMessage(req.To, req.Message, req.Attachments)
	if err != nil {
		writeRTErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{OK: true, MessageID: messageID})
}

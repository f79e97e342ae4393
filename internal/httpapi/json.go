package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentmesh/runtime/internal/rterr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// codeStatus maps an rterr.Code to its HTTP status, per SPEC_FULL §7 ("user-
// visible messages include the error code and a short Chinese explanation").
func codeStatus(code rterr.Code) int {
	switch code {
	case rterr.CodeAgentNotFound, rterr.CodeRoleNotFound, rterr.CodeArtifactNotFound, rterr.CodeNotFound:
		return http.StatusNotFound
	case rterr.CodeInvalidArgs, rterr.CodeMissingText, rterr.CodeInvalidURL, rterr.CodeInvalidMethod, rterr.CodeParseError:
		return http.StatusBadRequest
	case rterr.CodeToolNotPermitted, rterr.CodeOnlyHTTPSAllowed, rterr.CodeCommandBlocked:
		return http.StatusForbidden
	case rterr.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case rterr.CodeUITimeout, rterr.CodeCommandTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeRTErr renders err as the documented {error: {code, message}} shape,
// using err's own code when it is an *rterr.Error, otherwise a generic
// internal error. No stack traces leak to the client (SPEC_FULL §7).
func writeRTErr(w http.ResponseWriter, err error) {
	rtErr, ok := err.(*rterr.Error)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]string{"code": "internal_error", "message": rterr.Explain("internal_error")},
		})
		return
	}
	writeJSON(w, codeStatus(rtErr.Code), map[string]any{
		"error": map[string]string{"code": string(rtErr.Code), "message": rtErr.Message},
	})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

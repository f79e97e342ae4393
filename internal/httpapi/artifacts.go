package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/rterr"
)

// handleGetArtifact implements GET /api/artifacts/:id, streaming raw
// content using the recorded extension/MIME.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	content, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeRTErr(w, rterr.New(rterr.CodeArtifactNotFound, ""))
			return
		}
		writeRTErr(w, rterr.Wrap(rterr.CodeArtifactNotFound, err))
		return
	}

	mimeType := content.Meta.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content.Data)
}

// handlePostArtifact implements POST /api/artifacts: a multipart upload of
// at most maxArtifactUploadBytes, returning {ok, artifactRef, metadata}.
func (s *Server) handlePostArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxArtifactUploadBytes)
	if err := r.ParseMultipartForm(maxArtifactUploadBytes); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			writeRTErr(w, rterr.New(rterr.CodeFileTooLarge, ""))
			return
		}
		writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeRTErr(w, rterr.Wrap(rterr.CodeParseError, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeRTErr(w, rterr.Wrap(rterr.CodeUploadFailed, err))
		return
	}
	if len(data) > maxArtifactUploadBytes {
		writeRTErr(w, rterr.New(rterr.CodeFileTooLarge, ""))
		return
	}

	artifactType := r.FormValue("type")
	if artifactType == "" {
		artifactType = "upload"
	}

	ref, err := s.artifacts.Put(r.Context(), data, artifactType, map[string]any{
		"filename": header.Filename,
	})
	if err != nil {
		writeRTErr(w, rterr.Wrap(rterr.CodeUploadFailed, err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"artifactRef": ref,
		"metadata": map[string]any{
			"filename": header.Filename,
			"size":     len(data),
		},
	})
}

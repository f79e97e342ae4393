package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/pkg/models"
)

func doSend(t *testing.T, ts *testServer, body sendRequest) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/send", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	return rec
}

func TestHandleSendRoundTripsAttachments(t *testing.T) {
	ts := newTestServer(t)
	var captured []models.Attachment
	ts.runtime.submitFn = func(to, text string, attachments []models.Attachment) (string, error) {
		captured = attachments
		return "msg-42", nil
	}

	attachments := []models.Attachment{
		{Type: models.AttachmentFile, ArtifactRef: "artifact:abc", Filename: "notes.txt", Size: 12},
	}
	rec := doSend(t, ts, sendRequest{To: "root", Message: "see attached", Attachments: attachments})
	require.Equal(t, 200, rec.Code)

	var resp sendResponse
	decodeBody(t, rec, &resp)
	require.True(t, resp.OK)
	require.Equal(t, "msg-42", resp.MessageID)
	require.Equal(t, attachments, captured)
}

func TestHandleSendEmptyAttachmentsNormalizesToPlainText(t *testing.T) {
	ts := newTestServer(t)
	var gotAttachments []models.Attachment
	var gotText string
	ts.runtime.submitFn = func(to, text string, attachments []models.Attachment) (string, error) {
		gotText = text
		gotAttachments = attachments
		return "msg-1", nil
	}

	rec := doSend(t, ts, sendRequest{To: "root", Message: "hello", Attachments: []models.Attachment{}})
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "hello", gotText)
	require.Empty(t, gotAttachments)
}

func TestHandleSendRejectsMissingTextAndAttachments(t *testing.T) {
	ts := newTestServer(t)
	ts.runtime.submitFn = func(to, text string, attachments []models.Attachment) (string, error) {
		return "", rterr.New(rterr.CodeMissingText, "")
	}

	rec := doSend(t, ts, sendRequest{To: "root"})
	require.Equal(t, 400, rec.Code)
	require.Equal(t, string(rterr.CodeMissingText), errorCode(t, rec))
}

func TestHandleSendRejectsMissingTo(t *testing.T) {
	ts := newTestServer(t)
	rec := doSend(t, ts, sendRequest{Message: "hi"})
	require.Equal(t, 400, rec.Code)
	require.Equal(t, "invalid_args", errorCode(t, rec))
}

func TestHandleSendRejectsNonPost(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/send", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 405, rec.Code)
}

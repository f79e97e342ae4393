package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUICommandsPollReturnsQueuedCommand(t *testing.T) {
	ts := newTestServer(t)
	ts.bridge.Push("client-1", map[string]any{"action": "refresh"})

	req := httptest.NewRequest("GET", "/api/ui-commands/poll?clientId=client-1", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var body struct {
		Command *struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"command"`
	}
	decodeBody(t, rec, &body)
	require.NotNil(t, body.Command)
	require.Equal(t, "refresh", body.Command.Payload["action"])
}

func TestUICommandsPollTimesOutWithNullCommand(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/ui-commands/poll?clientId=client-1&timeoutMs=10", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.JSONEq(t, `{"command":null}`, rec.Body.String())
}

func TestUICommandsPollRequiresClientID(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/ui-commands/poll", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 400, rec.Code)
}

func TestUICommandsResultResolvesWaiter(t *testing.T) {
	ts := newTestServer(t)
	cmdID := ts.bridge.Push("client-1", map[string]any{"action": "refresh"})

	payload, err := json.Marshal(uiCommandResultRequest{CommandID: cmdID, Result: map[string]any{"ok": true}})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/ui-commands/result", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := ts.bridge.WaitResult(ctx, cmdID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result)
}

func TestUICommandsResultRejectsUnknownCommand(t *testing.T) {
	ts := newTestServer(t)
	payload, err := json.Marshal(uiCommandResultRequest{CommandID: "does-not-exist", Result: "x"})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/ui-commands/result", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 404, rec.Code)
}

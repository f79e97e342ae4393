package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/orgtemplate"
	"github.com/agentmesh/runtime/internal/processor"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/internal/uibridge"
	"github.com/agentmesh/runtime/pkg/models"
)

// fakeRuntime is a minimal Runtime implementation for handler tests.
type fakeRuntime struct {
	submitFn func(to, text string, attachments []models.Attachment) (string, error)
	abortFn  func(agentID string) error
}

func (f *fakeRuntime) SubmitMessage(to, text string, attachments []models.Attachment) (string, error) {
	if f.submitFn != nil {
		return f.submitFn(to, text, attachments)
	}
	return "msg-1", nil
}

func (f *fakeRuntime) AbortAgentLlmCall(agentID string) error {
	if f.abortFn != nil {
		return f.abortFn(agentID)
	}
	return nil
}

type testServer struct {
	*Server
	runtime   *fakeRuntime
	org       *multiagent.Organization
	registry  *llmservice.Registry
	templates *orgtemplate.Registry
	bridge    *uibridge.Bridge
	artifacts artifacts.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	b := bus.New()
	state := runtimestate.New()
	registry, err := llmservice.NewRegistry(filepath.Join(dir, "llm-services.yaml"), "", nil)
	require.NoError(t, err)
	org := multiagent.New(b, state, registry, "")
	_, err = org.EnsureRootAgent("root prompt")
	require.NoError(t, err)

	store, err := artifacts.NewLocalStore(filepath.Join(dir, "artifacts"), nil)
	require.NoError(t, err)

	templates, err := orgtemplate.NewRegistry(filepath.Join(dir, "org-templates.json"))
	require.NoError(t, err)

	bridge := uibridge.New()
	proc := processor.New(b, state, org.ListAgents, func(ctx context.Context, agentID string, maxMessages int) int { return 0 }, 3, nil)

	rt := &fakeRuntime{}
	srv := New(Config{
		Runtime:   rt,
		Bus:       b,
		State:     state,
		Org:       org,
		Artifacts: store,
		Registry:  registry,
		Templates: templates,
		Bridge:    bridge,
		Processor: proc,
	})

	return &testServer{
		Server:    srv,
		runtime:   rt,
		org:       org,
		registry:  registry,
		templates: templates,
		bridge:    bridge,
		artifacts: store,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	return body.Error.Code
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "agentmesh_turns_total")
}

package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/bus"
	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/internal/multiagent"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/internal/turn"
	"github.com/agentmesh/runtime/pkg/models"
)

func newTestOrg(t *testing.T, registry *llmservice.Registry) (*multiagent.Organization, *runtimestate.Manager, string) {
	t.Helper()
	b := bus.New()
	state := runtimestate.New()
	org := multiagent.New(b, state, registry, "")

	_, err := org.CreateRole(multiagent.CreateRoleParams{Name: "worker", Prompt: "go work", LLMServiceID: "svc-1"})
	require.NoError(t, err)
	role, ok := org.FindRoleByName("worker")
	require.True(t, ok)
	agent, err := org.SpawnAgent(multiagent.SpawnAgentParams{RoleID: role.RoleID})
	require.NoError(t, err)
	return org, state, agent.AgentID
}

func writeCatalog(t *testing.T, baseURL string) *llmservice.Registry {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/services.yaml"
	content := "services:\n  - id: svc-1\n    name: test\n    baseURL: " + baseURL + "\n    model: test-model\n    apiKey: test-key\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	registry, err := llmservice.NewRegistry(path, "", nil)
	require.NoError(t, err)
	return registry
}

func TestChatSendsRequestAndParsesResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "test-model", body.Model)

		resp := wireResponse{}
		resp.Choices = []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = "hello back"
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	registry := writeCatalog(t, srv.URL)
	org, state, agentID := newTestOrg(t, registry)

	client := New(registry, org, state, 2, nil)
	resp, err := client.Chat(context.Background(), turn.ChatRequest{
		AgentID:      agentID,
		SystemPrompt: "be nice",
		Turns:        []models.Turn{{Role: models.TurnUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello back", resp.Text)
	require.Equal(t, "Bearer test-key", gotAuth)
}

func TestChatReturnsAbortedWhenAgentHalting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("must not call the backend once halting")
	}))
	defer srv.Close()

	registry := writeCatalog(t, srv.URL)
	org, state, agentID := newTestOrg(t, registry)
	state.SetAgentComputeStatus(agentID, models.StatusStopping)

	client := New(registry, org, state, 2, nil)
	_, err := client.Chat(context.Background(), turn.ChatRequest{AgentID: agentID})
	require.Error(t, err)
}

func TestChatRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := wireResponse{}
		resp.Choices = []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
		}{{}}
		resp.Choices[0].Message.Content = "recovered"
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	registry := writeCatalog(t, srv.URL)
	org, state, agentID := newTestOrg(t, registry)

	client := New(registry, org, state, 2, nil)
	client.backoff.RetryBackoff = 0

	resp, err := client.Chat(context.Background(), turn.ChatRequest{AgentID: agentID})
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Text)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChatUnknownServiceIsUnavailable(t *testing.T) {
	registry, err := llmservice.NewRegistry("", "", nil)
	require.NoError(t, err)
	org, state, agentID := newTestOrg(t, registry)

	client := New(registry, org, state, 2, nil)
	_, err = client.Chat(context.Background(), turn.ChatRequest{AgentID: agentID})
	require.Error(t, err)
}

func TestNewFallsBackOnInvalidConcurrency(t *testing.T) {
	registry, err := llmservice.NewRegistry("", "", nil)
	require.NoError(t, err)
	org, state, _ := newTestOrg(t, registry)

	client := New(registry, org, state, 0, nil)
	require.Equal(t, defaultMaxConcurrentRequests, client.defaultMax)
}

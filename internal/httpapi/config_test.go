package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/pkg/models"
)

func TestHandleLLMConfigGetSetRoundTrips(t *testing.T) {
	ts := newTestServer(t)

	getReq := httptest.NewRequest("GET", "/api/config/llm", nil)
	getRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(getRec, getReq)
	require.Equal(t, 200, getRec.Code)
	var before llmDefaults
	decodeBody(t, getRec, &before)
	require.Equal(t, 3, before.MaxConcurrentLlmRequests)

	next := llmDefaults{DefaultServiceID: "svc-1", MaxConcurrentLlmRequests: 5}
	data, err := json.Marshal(next)
	require.NoError(t, err)
	postReq := httptest.NewRequest("POST", "/api/config/llm", bytes.NewReader(data))
	postRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(postRec, postReq)
	require.Equal(t, 200, postRec.Code)

	getReq2 := httptest.NewRequest("GET", "/api/config/llm", nil)
	getRec2 := httptest.NewRecorder()
	ts.Mux().ServeHTTP(getRec2, getReq2)
	var after llmDefaults
	decodeBody(t, getRec2, &after)
	require.Equal(t, next, after)
}

func TestHandleLLMServicesCRUD(t *testing.T) {
	ts := newTestServer(t)

	svc := models.LlmService{
		ID:      "svc-a",
		Name:    "Service A",
		BaseURL: "https://example.test/v1",
		Model:   "test-model",
	}
	data, err := json.Marshal(svc)
	require.NoError(t, err)

	postReq := httptest.NewRequest("POST", "/api/config/llm-services", bytes.NewReader(data))
	postRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(postRec, postReq)
	require.Equal(t, 200, postRec.Code)

	listReq := httptest.NewRequest("GET", "/api/config/llm-services", nil)
	listRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(listRec, listReq)
	var list struct {
		Services []*models.LlmService `json:"services"`
	}
	decodeBody(t, listRec, &list)
	require.Len(t, list.Services, 1)
	require.Equal(t, "svc-a", list.Services[0].ID)

	getReq := httptest.NewRequest("GET", "/api/config/llm-services/svc-a", nil)
	getRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(getRec, getReq)
	require.Equal(t, 200, getRec.Code)

	delReq := httptest.NewRequest("DELETE", "/api/config/llm-services/svc-a", nil)
	delRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(delRec, delReq)
	require.Equal(t, 200, delRec.Code)

	getReq2 := httptest.NewRequest("GET", "/api/config/llm-services/svc-a", nil)
	getRec2 := httptest.NewRecorder()
	ts.Mux().ServeHTTP(getRec2, getReq2)
	require.Equal(t, 404, getRec2.Code)
}

func TestHandleLLMServicesRejectsInvalidEntry(t *testing.T) {
	ts := newTestServer(t)
	data, err := json.Marshal(models.LlmService{ID: ""})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/config/llm-services", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 400, rec.Code)
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/orgtemplate"
)

func TestOrgTemplatesCRUDAndInstantiate(t *testing.T) {
	ts := newTestServer(t)

	tmpl := orgtemplate.OrgTemplate{
		Name:        "support-team",
		Description: "Two-role support pod",
		Roles: []orgtemplate.RoleTemplate{
			{Name: "triager", Prompt: "Triage incoming tickets."},
			{Name: "responder", Prompt: "Respond to triaged tickets."},
		},
	}
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)

	postReq := httptest.NewRequest("POST", "/api/org-templates", bytes.NewReader(data))
	postRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(postRec, postReq)
	require.Equal(t, 200, postRec.Code)

	listReq := httptest.NewRequest("GET", "/api/org-templates", nil)
	listRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(listRec, listReq)
	var list struct {
		Templates []*orgtemplate.OrgTemplate `json:"templates"`
	}
	decodeBody(t, listRec, &list)
	require.Len(t, list.Templates, 1)

	instReq := httptest.NewRequest("POST", "/api/org-templates/support-team/instantiate", nil)
	instRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(instRec, instReq)
	require.Equal(t, 200, instRec.Code)

	var instResp struct {
		OK             bool     `json:"ok"`
		CreatedRoleIDs []string `json:"createdRoleIds"`
	}
	decodeBody(t, instRec, &instResp)
	require.True(t, instResp.OK)
	require.Len(t, instResp.CreatedRoleIDs, 2)

	_, ok := ts.org.FindRoleByName("triager")
	require.True(t, ok)

	delReq := httptest.NewRequest("DELETE", "/api/org-templates/support-team", nil)
	delRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(delRec, delReq)
	require.Equal(t, 200, delRec.Code)

	getReq := httptest.NewRequest("GET", "/api/org-templates/support-team", nil)
	getRec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(getRec, getReq)
	require.Equal(t, 404, getRec.Code)
}

func TestOrgTemplatesInstantiateUnknownNameReturnsNotFound(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/org-templates/does-not-exist/instantiate", nil)
	rec := httptest.NewRecorder()
	ts.Mux().ServeHTTP(rec, req)
	require.Equal(t, 404, rec.Code)
}

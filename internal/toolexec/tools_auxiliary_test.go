package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/rterr"
	"github.com/agentmesh/runtime/internal/runtimestate"
	"github.com/agentmesh/runtime/pkg/models"
)

func TestHTTPFetchRejectsNonHTTPS(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAuxiliaryTools(reg))
	tool, ok := reg.Get("http_fetch")
	require.True(t, ok)

	_, err := tool.Handler(context.Background(), ToolContext{}, json.RawMessage(`{"url":"http://example.com"}`))
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeOnlyHTTPSAllowed, rterrErr.Code)
}

func TestHTTPFetchRejectsNonGETMethod(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAuxiliaryTools(reg))
	tool, _ := reg.Get("http_fetch")

	_, err := tool.Handler(context.Background(), ToolContext{}, json.RawMessage(`{"url":"https://example.com","method":"POST"}`))
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeInvalidMethod, rterrErr.Code)
}

func TestRunShellBlocksDenylistedCommand(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAuxiliaryTools(reg))
	tool, _ := reg.Get("run_shell")

	_, err := tool.Handler(context.Background(), ToolContext{}, json.RawMessage(`{"command":"sudo rm -rf /"}`))
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeCommandBlocked, rterrErr.Code)
}

func TestRunShellExecutesAllowedCommand(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAuxiliaryTools(reg))
	tool, _ := reg.Get("run_shell")

	result, err := tool.Handler(context.Background(), ToolContext{}, json.RawMessage(`{"command":"echo hello"}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	require.Contains(t, out["output"], "hello")
}

func TestReadWriteFileScopedToWorkspace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAuxiliaryTools(reg))
	writeTool, _ := reg.Get("write_file")
	readTool, _ := reg.Get("read_file")

	state := runtimestate.New()
	state.SetWorkspace("t1", t.TempDir())
	tc := ToolContext{Agent: &models.Agent{TaskID: "t1"}, Runtime: state}

	_, err := writeTool.Handler(context.Background(), tc, json.RawMessage(`{"path":"out.txt","content":"hi"}`))
	require.NoError(t, err)

	result, err := readTool.Handler(context.Background(), tc, json.RawMessage(`{"path":"out.txt"}`))
	require.NoError(t, err)
	require.Equal(t, "hi", result.(map[string]any)["content"])
}

func TestWriteFileRejectsPathEscape(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterAuxiliaryTools(reg))
	writeTool, _ := reg.Get("write_file")

	state := runtimestate.New()
	state.SetWorkspace("t1", t.TempDir())
	tc := ToolContext{Agent: &models.Agent{TaskID: "t1"}, Runtime: state}

	_, err := writeTool.Handler(context.Background(), tc, json.RawMessage(`{"path":"../escape.txt","content":"x"}`))
	var rterrErr *rterr.Error
	require.True(t, errors.As(err, &rterrErr))
	require.Equal(t, rterr.CodeInvalidArgs, rterrErr.Code)
}

package toolexec

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentmesh/runtime/internal/artifacts"
)

func newTestToolContext(t *testing.T) ToolContext {
	t.Helper()
	store, err := artifacts.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	return ToolContext{ArtifactStore: store}
}

func TestRunScriptArithmeticResult(t *testing.T) {
	tc := newTestToolContext(t)
	result, err := RunScript(context.Background(), tc, `let x = 2 + 3 * 4; x`)
	require.NoError(t, err)
	require.Equal(t, float64(14), result["result"])
}

func TestRunScriptCanvasExportsPNGArtifact(t *testing.T) {
	tc := newTestToolContext(t)
	script := `
let canvas = getCanvas(10, 10)
canvas.fillStyle = "#ff0000"
canvas.fillRect(0, 0, 5, 5)
`
	result, err := RunScript(context.Background(), tc, script)
	require.NoError(t, err)
	images, ok := result["images"].([]string)
	require.True(t, ok)
	require.Len(t, images, 1)
	require.Contains(t, images[0], ".png")

	id := strings.TrimSuffix(images[0], ".png")
	content, err := tc.ArtifactStore.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "image/png", content.Meta.MimeType)
}

func TestRunScriptUndeclaredVariableErrors(t *testing.T) {
	tc := newTestToolContext(t)
	_, err := RunScript(context.Background(), tc, `missing + 1`)
	require.Error(t, err)
}

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
rootPrompt: "coordinate"
`)

	cfg, err := Load(path, slog.Default())
	require.NoError(t, err)
	require.Equal(t, "coordinate", cfg.RootPrompt)
	require.Equal(t, defaultMaxConcurrentLlmRequests, cfg.MaxConcurrentLlmRequests)
	require.Equal(t, "./agentmesh-data/artifacts", cfg.ArtifactsDir)
	require.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadWarnsAndFallsBackOnInvalidConcurrency(t *testing.T) {
	path := writeConfig(t, `
maxConcurrentLlmRequests: -1
`)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg, err := Load(path, logger)
	require.NoError(t, err)
	require.Equal(t, defaultMaxConcurrentLlmRequests, cfg.MaxConcurrentLlmRequests)
	require.Contains(t, buf.String(), "maxConcurrentLlmRequests")
}

func TestLoadHonorsExplicitValidConcurrency(t *testing.T) {
	path := writeConfig(t, `
maxConcurrentLlmRequests: 7
`)

	cfg, err := Load(path, slog.Default())
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxConcurrentLlmRequests)
}

func TestLoadResolvesIncludesAndExpandsEnv(t *testing.T) {
	t.Setenv("AGENTMESH_TEST_PROMPT", "from the environment")

	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte(strings.TrimSpace(`
artifactsDir: /base/artifacts
httpAddr: ":9000"
`)), 0o644))

	mainPath := filepath.Join(dir, "agentmesh.yaml")
	require.NoError(t, os.WriteFile(mainPath, []byte(strings.TrimSpace(`
$include: base.yaml
rootPrompt: "${AGENTMESH_TEST_PROMPT}"
artifactsDir: /override/artifacts
`)), 0o644))

	cfg, err := Load(mainPath, slog.Default())
	require.NoError(t, err)
	require.Equal(t, "from the environment", cfg.RootPrompt)
	require.Equal(t, "/override/artifacts", cfg.ArtifactsDir)
	require.Equal(t, ":9000", cfg.HTTPAddr)
}

func TestLoadRejectsMissingPath(t *testing.T) {
	_, err := Load("", slog.Default())
	require.Error(t, err)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644))

	_, err := Load(aPath, slog.Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestJSONSchemaIsStableAndParseable(t *testing.T) {
	schemaBytes, err := JSONSchema()
	require.NoError(t, err)
	require.Contains(t, string(schemaBytes), "rootPrompt")

	again, err := JSONSchema()
	require.NoError(t, err)
	require.Equal(t, schemaBytes, again)
}

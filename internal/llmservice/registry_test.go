package llmservice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/agentmesh/runtime/pkg/models"
)

func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalShadowsDefaultEntirely(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.yaml")
	defaultPath := filepath.Join(dir, "default.yaml")

	writeCatalog(t, defaultPath, `
services:
  - id: default-svc
    name: Default
    baseURL: https://default.example
    model: default-model
`)
	writeCatalog(t, localPath, `
services:
  - id: local-svc
    name: Local
    baseURL: https://local.example
    model: local-model
`)

	r, err := NewRegistry(localPath, defaultPath, nil)
	require.NoError(t, err)

	require.Nil(t, r.GetServiceByID("default-svc"), "local file must fully shadow default, not merge")
	require.NotNil(t, r.GetServiceByID("local-svc"))
}

func TestInvalidEntriesDroppedNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	writeCatalog(t, path, `
services:
  - id: ""
    name: missing id
    baseURL: https://x
    model: m
  - id: good
    name: Good
    baseURL: https://good.example
    model: good-model
`)

	r, err := NewRegistry(path, "", nil)
	require.NoError(t, err)
	require.Len(t, r.ListServices(), 1)
	require.NotNil(t, r.GetServiceByID("good"))
}

func TestMissingFileYieldsEmptyRegistry(t *testing.T) {
	r, err := NewRegistry("/no/such/path.yaml", "/also/missing.yaml", nil)
	require.NoError(t, err)
	require.True(t, r.Empty())
}

func TestUpsertServiceCreatesThenReplaces(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.yaml")

	r, err := NewRegistry(localPath, "", nil)
	require.NoError(t, err)
	require.True(t, r.Empty())

	require.NoError(t, r.UpsertService(models.LlmService{
		ID: "svc-a", Name: "A", BaseURL: "https://a.example", Model: "model-a",
	}))
	require.Equal(t, "A", r.GetServiceByID("svc-a").Name)

	require.NoError(t, r.UpsertService(models.LlmService{
		ID: "svc-a", Name: "A2", BaseURL: "https://a.example", Model: "model-a",
	}))
	services := r.ListServices()
	require.Len(t, services, 1)
	require.Equal(t, "A2", services[0].Name)
}

func TestUpsertServiceRejectsInvalidEntry(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(filepath.Join(dir, "local.yaml"), "", nil)
	require.NoError(t, err)

	err = r.UpsertService(models.LlmService{ID: "bad"})
	require.Error(t, err)
}

func TestUpsertServiceWithoutLocalPathFails(t *testing.T) {
	r, err := NewRegistry("", "", nil)
	require.NoError(t, err)

	err = r.UpsertService(models.LlmService{ID: "svc-a", Name: "A", BaseURL: "https://a.example", Model: "model-a"})
	require.ErrorIs(t, err, ErrNoLocalPath)
}

func TestDeleteServiceRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.yaml")
	r, err := NewRegistry(localPath, "", nil)
	require.NoError(t, err)

	require.NoError(t, r.UpsertService(models.LlmService{
		ID: "svc-a", Name: "A", BaseURL: "https://a.example", Model: "model-a",
	}))
	require.NoError(t, r.DeleteService("svc-a"))
	require.Nil(t, r.GetServiceByID("svc-a"))
}

func TestDefaultCapabilitiesWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	writeCatalog(t, path, `
services:
  - id: svc1
    name: Svc1
    baseURL: https://x
    model: m
`)
	r, err := NewRegistry(path, "", nil)
	require.NoError(t, err)

	caps := r.GetCapabilities("svc1")
	require.Equal(t, []models.CapabilityType{models.CapabilityText}, caps.Input)
	require.True(t, r.HasCapability("svc1", models.CapabilityText, models.DirectionInput))
	require.False(t, r.HasCapability("svc1", models.CapabilityImage, models.DirectionInput))
}

func TestGetServicesByCapability(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	writeCatalog(t, path, `
services:
  - id: vision
    name: Vision
    baseURL: https://x
    model: m
    capabilities:
      input: [text, image]
      output: [text]
  - id: textonly
    name: TextOnly
    baseURL: https://y
    model: m2
`)
	r, err := NewRegistry(path, "", nil)
	require.NoError(t, err)

	withImage := r.GetServicesByCapability(models.CapabilityImage, models.DirectionInput)
	require.Len(t, withImage, 1)
	require.Equal(t, "vision", withImage[0].ID)
}

package config

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/agentmesh/runtime/internal/runtime"
)

// defaultMaxConcurrentLlmRequests is the fallback used when the configured
// value is absent or not a positive integer (SPEC_FULL §6).
const defaultMaxConcurrentLlmRequests = 3

// Config is the on-disk shape of the runtime's configuration file.
type Config struct {
	// ArtifactsDir backs the content-addressed artifact store (§4.1).
	ArtifactsDir string `yaml:"artifactsDir"`

	// RuntimeDir holds the snapshot database; empty disables persistence.
	RuntimeDir string `yaml:"runtimeDir"`

	// PromptsDir names a directory for role-prompt files. It is decoded from
	// the config file only; no runtime component reads or watches it.
	PromptsDir string `yaml:"promptsDir"`

	// RootPrompt seeds the root agent's system prompt on first init.
	RootPrompt string `yaml:"rootPrompt"`

	// LLMServicesPath/DefaultLLMServicesPath feed the LLM service
	// registry; local entirely shadows default (never merged).
	LLMServicesPath        string `yaml:"llmServicesPath"`
	DefaultLLMServicesPath string `yaml:"defaultLlmServicesPath"`

	// DefaultServiceID is used when a role declares no preferred service.
	DefaultServiceID string `yaml:"defaultServiceId"`

	// MaxConcurrentLlmRequests sizes the LLM client's per-service
	// semaphores (for services without their own maxConcurrentRequests); it
	// does not bound the total across services. A non-positive value is
	// invalid; Load logs a warning and substitutes
	// defaultMaxConcurrentLlmRequests. An absent or null key takes the
	// default without a warning.
	MaxConcurrentLlmRequests int `yaml:"maxConcurrentLlmRequests"`

	// MaxConcurrentTurns bounds the message processor's in-flight turn
	// count.
	MaxConcurrentTurns int `yaml:"maxConcurrentTurns"`

	// SnapshotSchedule is a cron expression (supports "@every") for the
	// periodic persistence snapshot job.
	SnapshotSchedule string `yaml:"snapshotSchedule"`

	// HTTPAddr is the listen address for the HTTP API server.
	HTTPAddr string `yaml:"httpAddr"`
}

// Load reads and validates the configuration file at path, applying
// $include resolution, environment-variable expansion, and defaults.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := loadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	remarshaled, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-marshal merged config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(remarshaled, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// applyDefaults cannot tell an explicit 0 from an absent key, so the
	// explicit-zero warning is issued here from the raw map.
	if v, ok := raw["maxConcurrentLlmRequests"]; ok && v != nil && cfg.MaxConcurrentLlmRequests == 0 {
		logger.Warn("maxConcurrentLlmRequests must be a positive integer, falling back to default",
			"configured", v, "default", defaultMaxConcurrentLlmRequests)
	}

	applyDefaults(&cfg, logger)
	return &cfg, nil
}

func applyDefaults(cfg *Config, logger *slog.Logger) {
	if cfg.MaxConcurrentLlmRequests <= 0 {
		if cfg.MaxConcurrentLlmRequests != 0 {
			logger.Warn("maxConcurrentLlmRequests must be a positive integer, falling back to default",
				"configured", cfg.MaxConcurrentLlmRequests, "default", defaultMaxConcurrentLlmRequests)
		}
		cfg.MaxConcurrentLlmRequests = defaultMaxConcurrentLlmRequests
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = "./agentmesh-data/artifacts"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
}

// RuntimeConfig projects Config into the runtime coordinator's Config
// shape, the only place the two packages' shapes need to agree.
func (c *Config) RuntimeConfig(logger *slog.Logger) runtime.Config {
	return runtime.Config{
		RootPrompt:               c.RootPrompt,
		ArtifactsDir:             c.ArtifactsDir,
		RuntimeDir:               c.RuntimeDir,
		LLMServicesPath:          c.LLMServicesPath,
		DefaultLLMServicesPath:   c.DefaultLLMServicesPath,
		DefaultServiceID:         c.DefaultServiceID,
		MaxConcurrentTurns:       c.MaxConcurrentTurns,
		MaxConcurrentLLMRequests: c.MaxConcurrentLlmRequests,
		SnapshotSchedule:         c.SnapshotSchedule,
		Logger:                   logger,
	}
}

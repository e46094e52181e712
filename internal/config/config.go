// Package config loads the runtime configuration from a JSON5 file with
// environment-variable overrides. Secrets come from the environment only and
// are never written back to disk.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Workspace string `json:"workspace"`

	Provider     ProviderConfig     `json:"provider"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	Memory       MemoryConfig       `json:"memory"`
	Approval     ApprovalConfig     `json:"approval"`
	Context      ContextConfig      `json:"context"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Worker       WorkerConfig       `json:"worker"`
	Logging      LoggingConfig      `json:"logging"`
}

// ProviderConfig selects the model backend. The API key is env-only.
type ProviderConfig struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"-"` // from SOLOQUEUE_API_KEY only
}

// EmbeddingConfig selects the embedding backend for semantic memory. An
// empty model disables semantic memory entirely. The API key is env-only
// and falls back to the provider key.
type EmbeddingConfig struct {
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	APIKey    string `json:"-"` // from SOLOQUEUE_EMBEDDING_API_KEY only
}

// MemoryConfig tunes the artifact store and its garbage collector.
type MemoryConfig struct {
	RetentionDays   int `json:"retention_days"`
	GCIntervalHours int `json:"gc_interval_hours"`
	ArchiveDays     int `json:"archive_days"`
}

type ApprovalConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// ContextConfig tunes the token budget for each model call.
type ContextConfig struct {
	SafetyMargin   float64 `json:"safety_margin"`
	ResponseBuffer int     `json:"response_buffer"`
}

type OrchestratorConfig struct {
	MaxIterations    int `json:"max_iterations"`
	MaxSubIterations int `json:"max_sub_iterations"`
	HistoryTurns     int `json:"history_turns"`
}

// WorkerConfig tunes the queue-worker mode.
type WorkerConfig struct {
	PollIntervalMS   int `json:"poll_interval_ms"`
	HeartbeatSeconds int `json:"heartbeat_seconds"`
}

type LoggingConfig struct {
	Level string `json:"level"` // debug, info, warn, error
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: "~/.soloqueue/workspace",
		Provider: ProviderConfig{
			Name:  "deepseek",
			Model: "deepseek-chat",
		},
		Memory: MemoryConfig{
			RetentionDays:   7,
			GCIntervalHours: 24,
			ArchiveDays:     30,
		},
		Approval: ApprovalConfig{TimeoutSeconds: 30},
		Context: ContextConfig{
			SafetyMargin:   0.95,
			ResponseBuffer: 4096,
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations:    100,
			MaxSubIterations: 50,
			HistoryTurns:     20,
		},
		Worker: WorkerConfig{
			PollIntervalMS:   1000,
			HeartbeatSeconds: 30,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SOLOQUEUE_API_KEY", &c.Provider.APIKey)
	envStr("SOLOQUEUE_PROVIDER", &c.Provider.Name)
	envStr("SOLOQUEUE_MODEL", &c.Provider.Model)
	envStr("SOLOQUEUE_BASE_URL", &c.Provider.BaseURL)
	envStr("SOLOQUEUE_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	envStr("SOLOQUEUE_EMBEDDING_MODEL", &c.Embedding.Model)
	envStr("SOLOQUEUE_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	envStr("SOLOQUEUE_WORKSPACE", &c.Workspace)
	envStr("SOLOQUEUE_LOG_LEVEL", &c.Logging.Level)

	if v := os.Getenv("SOLOQUEUE_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			c.Memory.RetentionDays = days
		}
	}
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Workspace)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	require.Equal(t, "deepseek-chat", cfg.Provider.Model)
	require.Equal(t, 7, cfg.Memory.RetentionDays)
	require.Equal(t, 0.95, cfg.Context.SafetyMargin)
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
	// trailing commas and comments are fine
	workspace: "/tmp/sq",
	provider: { name: "openai", model: "gpt-4", },
	memory: { retention_days: 3, },
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/sq", cfg.Workspace)
	require.Equal(t, "gpt-4", cfg.Provider.Model)
	require.Equal(t, 3, cfg.Memory.RetentionDays)
	// Unset sections keep defaults.
	require.Equal(t, 100, cfg.Orchestrator.MaxIterations)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOLOQUEUE_MODEL", "deepseek-reasoner")
	t.Setenv("SOLOQUEUE_API_KEY", "sk-test")
	t.Setenv("SOLOQUEUE_RETENTION_DAYS", "14")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	require.Equal(t, "deepseek-reasoner", cfg.Provider.Model)
	require.Equal(t, "sk-test", cfg.Provider.APIKey)
	require.Equal(t, 14, cfg.Memory.RetentionDays)
}

func TestEmbeddingConfig(t *testing.T) {
	// Disabled by default: no model set.
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	require.Empty(t, cfg.Embedding.Model)

	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
	embedding: { model: "nomic-embed-text", base_url: "http://localhost:11434/v1", dimension: 768 },
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("SOLOQUEUE_EMBEDDING_API_KEY", "sk-embed")

	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	require.Equal(t, "http://localhost:11434/v1", cfg.Embedding.BaseURL)
	require.Equal(t, 768, cfg.Embedding.Dimension)
	require.Equal(t, "sk-embed", cfg.Embedding.APIKey)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "x"), ExpandHome("~/x"))
	require.Equal(t, "/abs/x", ExpandHome("/abs/x"))
	require.Equal(t, "", ExpandHome(""))
}

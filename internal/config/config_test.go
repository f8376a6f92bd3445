package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir() + "/absent.yaml")
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3, cfg.Retrieval.MaxClauses)
	assert.Equal(t, "memory", cfg.Index.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	content := `
chunking:
  size: 400
  overlap: 80
  unit: characters
retrieval:
  top_k: 7
  max_clauses: 4
server:
  addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 400, cfg.Chunking.Size)
	assert.Equal(t, 80, cfg.Chunking.Overlap)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, 4, cfg.Retrieval.MaxClauses)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	// Untouched sections keep defaults.
	assert.Equal(t, "memory", cfg.Index.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("CLAIMLENS_ADDR", ":7070")
	t.Setenv("CLAIMLENS_CHAT_MODEL", "gpt-4o")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.ChatModel)
}

func TestValidate_RejectsBadParameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }},
		{"overlap >= size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }},
		{"bad unit", func(c *Config) { c.Chunking.Unit = "words" }},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"zero max_clauses", func(c *Config) { c.Retrieval.MaxClauses = 0 }},
		{"unknown backend", func(c *Config) { c.Index.Backend = "redis" }},
		{"qdrant without host", func(c *Config) { c.Index.Backend = "qdrant" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// Package config loads and validates application configuration from a YAML
// file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mstead/claimlens/internal/chunk"
)

// ErrInvalidConfig reports configuration that would break the pipeline.
// It is rejected before anything executes.
var ErrInvalidConfig = errors.New("invalid configuration")

// ChunkingConfig controls document splitting.
type ChunkingConfig struct {
	Size    int    `yaml:"size"`
	Overlap int    `yaml:"overlap"`
	Unit    string `yaml:"unit"`
}

// RetrievalConfig controls search and prompt assembly.
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxClauses      int `yaml:"max_clauses"`
	MaxContextChars int `yaml:"max_context_chars"`
}

// QdrantConfig contains connection details for the Qdrant index backend.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend      string        `yaml:"backend"` // "memory" or "qdrant"
	SnapshotPath string        `yaml:"snapshot_path"`
	Qdrant       *QdrantConfig `yaml:"qdrant,omitempty"`
}

// OpenAIConfig names the models used for embeddings and decisions.
type OpenAIConfig struct {
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
	BatchSize      int    `yaml:"batch_size"`
}

// RetryConfig tunes the shared backoff policy for outbound service calls.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root application configuration.
type Config struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Index     IndexConfig     `yaml:"index"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Retry     RetryConfig     `yaml:"retry"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration used when no file is present: 200-rune
// chunks with 50 overlap (small chunks match clauses better), top-5
// retrieval with 3 clauses in the prompt, in-memory index snapshotted next
// to the binary.
func Default() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			Size:    200,
			Overlap: 50,
			Unit:    string(chunk.UnitCharacters),
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			MaxClauses:      3,
			MaxContextChars: 2000,
		},
		Index: IndexConfig{
			Backend:      "memory",
			SnapshotPath: "claimlens-index.json",
		},
		OpenAI: OpenAIConfig{
			BatchSize: 0, // embedder default
		},
		Retry: RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxElapsedTime:  30 * time.Second,
			CallTimeout:     30 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads the config at path, or returns defaults if path is empty or the
// file does not exist. Environment overrides are applied afterwards, then the
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the environment variables used in deployment.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("CLAIMLENS_ADDR", cfg.Server.Addr)
	cfg.Index.SnapshotPath = getEnv("CLAIMLENS_SNAPSHOT", cfg.Index.SnapshotPath)
	cfg.Index.Backend = getEnv("CLAIMLENS_INDEX_BACKEND", cfg.Index.Backend)
	cfg.OpenAI.EmbeddingModel = getEnv("CLAIMLENS_EMBEDDING_MODEL", cfg.OpenAI.EmbeddingModel)
	cfg.OpenAI.ChatModel = getEnv("CLAIMLENS_CHAT_MODEL", cfg.OpenAI.ChatModel)

	if cfg.Index.Backend == "qdrant" && cfg.Index.Qdrant == nil {
		cfg.Index.Qdrant = &QdrantConfig{}
	}
	if cfg.Index.Qdrant != nil {
		cfg.Index.Qdrant.Host = getEnv("QDRANT_HOST", cfg.Index.Qdrant.Host)
		cfg.Index.Qdrant.Port = getEnvInt("QDRANT_PORT", cfg.Index.Qdrant.Port)
	}
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("%w: chunking.size must be positive", ErrInvalidConfig)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking.overlap must be in [0, size)", ErrInvalidConfig)
	}
	switch chunk.Unit(c.Chunking.Unit) {
	case chunk.UnitCharacters, chunk.UnitTokens:
	default:
		return fmt.Errorf("%w: chunking.unit must be %q or %q",
			ErrInvalidConfig, chunk.UnitCharacters, chunk.UnitTokens)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", ErrInvalidConfig)
	}
	if c.Retrieval.MaxClauses <= 0 {
		return fmt.Errorf("%w: retrieval.max_clauses must be positive", ErrInvalidConfig)
	}
	switch c.Index.Backend {
	case "memory":
	case "qdrant":
		if c.Index.Qdrant == nil || c.Index.Qdrant.Host == "" {
			return fmt.Errorf("%w: index.qdrant.host is required for the qdrant backend", ErrInvalidConfig)
		}
		if c.Index.Qdrant.Dimension <= 0 {
			return fmt.Errorf("%w: index.qdrant.dimension must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown index.backend %q", ErrInvalidConfig, c.Index.Backend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

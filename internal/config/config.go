// Package config loads the docquery configuration from YAML with
// DOCQUERY_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete docquery configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Rewriter   RewriterConfig   `yaml:"rewriter"`
	Reranker   RerankerConfig   `yaml:"reranker"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig configures where indices and metadata live.
type StorageConfig struct {
	// DataDir holds the SQLite metadata database and the per-owner
	// index snapshots. Default: ~/.docquery
	DataDir string `yaml:"data_dir"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	// MaxTokens is the chunk size ceiling in token equivalents (default: 800).
	MaxTokens int `yaml:"max_tokens"`
	// MinTokens is the preferred chunk size floor (default: 300).
	MinTokens int `yaml:"min_tokens"`
	// OverlapRatio is the overlap between adjacent split chunks as a
	// fraction of MaxTokens (default: 0.15).
	OverlapRatio float64 `yaml:"overlap_ratio"`
}

// RetrievalConfig configures hybrid search.
type RetrievalConfig struct {
	// TopK is the default result count (default: 5).
	TopK int `yaml:"top_k"`
	// PoolMultiplier sizes each signal's candidate pool as
	// TopK * PoolMultiplier (default: 3).
	PoolMultiplier int `yaml:"pool_multiplier"`
	// LexicalWeight and VectorWeight balance the fused score
	// (defaults: 0.5 each).
	LexicalWeight float64 `yaml:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight"`
	// MinScore drops results below this fused score (default: 0).
	MinScore float64 `yaml:"min_score"`
	// K1 and B are the BM25 constants (defaults: 1.2, 0.75).
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "auto" (Ollama with static
	// fallback), "ollama" or "static". Default: auto.
	Provider string `yaml:"provider"`
	// Model is the Ollama embedding model (default: bge-m3).
	Model string `yaml:"model"`
	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`
	// BatchSize is texts per embedding request (default: 32).
	BatchSize int `yaml:"batch_size"`
	// CacheSize is the embedding LRU capacity, 0 disables caching
	// (default: 4096).
	CacheSize int `yaml:"cache_size"`
}

// RewriterConfig configures LLM query expansion.
type RewriterConfig struct {
	// Enabled turns query rewriting on for searches that request it
	// (default: true; searches still opt in per call).
	Enabled bool `yaml:"enabled"`
	// Model is the Ollama generation model (default: llama3.2).
	Model string `yaml:"model"`
	// Timeout bounds one rewrite call (default: 3s).
	Timeout time.Duration `yaml:"timeout"`
}

// RerankerConfig configures cross-encoder reranking.
type RerankerConfig struct {
	// Enabled turns reranking on for searches that request it
	// (default: false until an endpoint is configured).
	Enabled bool `yaml:"enabled"`
	// Endpoint is the reranking service URL.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds one rerank call (default: 10s).
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info).
	Level string `yaml:"level"`
	// File is the log destination; empty logs to stderr.
	File string `yaml:"file"`
	// MaxSizeMB rotates the log file past this size (default: 10).
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is how many rotated files to keep (default: 3).
	MaxBackups int `yaml:"max_backups"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chunking: ChunkingConfig{
			MaxTokens:    800,
			MinTokens:    300,
			OverlapRatio: 0.15,
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			PoolMultiplier: 3,
			LexicalWeight:  0.5,
			VectorWeight:   0.5,
			K1:             1.2,
			B:              0.75,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "auto",
			Model:      "bge-m3",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			CacheSize:  4096,
		},
		Rewriter: RewriterConfig{
			Enabled: true,
			Model:   "llama3.2",
			Timeout: 3 * time.Second,
		},
		Reranker: RerankerConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docquery"
	}
	return filepath.Join(home, ".docquery")
}

// Load reads the configuration file at path, falling back to defaults
// when it does not exist, then applies environment overrides. An
// empty path checks ./docquery.yaml.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = "docquery.yaml"
		if _, err := os.Stat(path); err != nil {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
	}

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies DOCQUERY_* environment variables. Env vars
// win over file values so deployments can tune without editing files.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCQUERY_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DOCQUERY_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("DOCQUERY_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCQUERY_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCQUERY_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.LexicalWeight = f
		}
	}
	if v := os.Getenv("DOCQUERY_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.VectorWeight = f
		}
	}
	if v := os.Getenv("DOCQUERY_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("DOCQUERY_REWRITER_MODEL"); v != "" {
		c.Rewriter.Model = v
	}
	if v := os.Getenv("DOCQUERY_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
		c.Reranker.Enabled = true
	}
	if v := os.Getenv("DOCQUERY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCQUERY_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.MinTokens < 0 || c.Chunking.MinTokens > c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.min_tokens must be in [0, max_tokens], got %d", c.Chunking.MinTokens)
	}
	if c.Chunking.OverlapRatio < 0 || c.Chunking.OverlapRatio >= 1 {
		return fmt.Errorf("chunking.overlap_ratio must be in [0, 1), got %g", c.Chunking.OverlapRatio)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.PoolMultiplier <= 0 {
		return fmt.Errorf("retrieval.pool_multiplier must be positive, got %d", c.Retrieval.PoolMultiplier)
	}
	if c.Retrieval.LexicalWeight < 0 || c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Retrieval.LexicalWeight == 0 && c.Retrieval.VectorWeight == 0 {
		return fmt.Errorf("at least one retrieval weight must be positive")
	}
	if c.Retrieval.K1 <= 0 {
		return fmt.Errorf("retrieval.k1 must be positive, got %g", c.Retrieval.K1)
	}
	if c.Retrieval.B < 0 || c.Retrieval.B > 1 {
		return fmt.Errorf("retrieval.b must be in [0, 1], got %g", c.Retrieval.B)
	}
	switch c.Embeddings.Provider {
	case "auto", "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be auto, ollama or static, got %q", c.Embeddings.Provider)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Reranker.Enabled && c.Reranker.Endpoint == "" {
		return fmt.Errorf("reranker.endpoint is required when reranker is enabled")
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Package config provides configuration loading and structs for the RAGLite server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool                    `yaml:"debug"`
	Server    ServerConfig            `yaml:"server"`
	Storage   StorageConfig           `yaml:"storage"`
	Blob      BlobConfig              `yaml:"blob"`
	Chunking  ChunkingConfig          `yaml:"chunking"`
	Embedding EmbeddingConfig         `yaml:"embedding"`
	Models    []ModelConfig           `yaml:"models"`
	Tenants   map[string]TenantConfig `yaml:"tenants"`
	Vector    VectorConfig            `yaml:"vector"`
	Lexical   LexicalConfig           `yaml:"lexical"`
	Search    SearchConfig            `yaml:"search"`
	Queue     QueueConfig             `yaml:"queue"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Watch     WatchConfig             `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the relational store location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// BlobConfig selects where uploaded bytes are kept. Backend is "local" or "s3".
type BlobConfig struct {
	Backend     string `yaml:"backend"`
	Root        string `yaml:"root"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3Secure    bool   `yaml:"s3_secure"`
}

// ChunkingConfig holds token window settings.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// EmbeddingConfig holds the process-wide embedding defaults.
type EmbeddingConfig struct {
	DefaultModel string        `yaml:"default_model"`
	Dimensions   int           `yaml:"dimensions"`
	MaxTokens    int           `yaml:"max_tokens"`
	CacheSize    int           `yaml:"cache_size"`
	ModelCache   int           `yaml:"model_cache"`
	Timeout      time.Duration `yaml:"timeout"`
}

// TenantConfig holds per-tenant overrides.
type TenantConfig struct {
	DefaultEmbedder  string `yaml:"default_embedder"`
	DefaultChatModel string `yaml:"default_chat_model"`
}

// VectorConfig selects the vector index backend: "memory", "qdrant" or "pgvector".
type VectorConfig struct {
	Backend      string        `yaml:"backend"`
	QdrantURL    string        `yaml:"qdrant_url"`
	QdrantAPIKey string        `yaml:"qdrant_api_key"`
	PostgresDSN  string        `yaml:"postgres_dsn"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LexicalConfig configures lexical search. When OpenSearchURL is set and reachable at
// startup the remote index is used, otherwise the in-process index.
type LexicalConfig struct {
	Enabled            *bool         `yaml:"enabled"`
	OpenSearchURL      string        `yaml:"opensearch_url"`
	OpenSearchUser     string        `yaml:"opensearch_user"`
	OpenSearchPassword string        `yaml:"opensearch_password"`
	IndexPrefix        string        `yaml:"index_prefix"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
}

// EnabledOrDefault returns whether lexical search is on; defaults to true when unset.
func (l *LexicalConfig) EnabledOrDefault() bool {
	if l.Enabled != nil {
		return *l.Enabled
	}
	return true
}

// SearchConfig holds query pipeline settings.
type SearchConfig struct {
	DefaultMinScore  float64       `yaml:"default_min_score"`
	RewriteCacheTTL  time.Duration `yaml:"rewrite_cache_ttl"`
	DefaultChatModel string        `yaml:"default_chat_model"`
	RemoteTimeout    time.Duration `yaml:"remote_timeout"`
}

// QueueConfig sizes the in-process worker pool.
type QueueConfig struct {
	Workers     int `yaml:"workers"`
	Size        int `yaml:"size"`
	MaxAttempts int `yaml:"max_attempts"`
}

// RateLimitConfig throttles outbound calls to model providers.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// WatchConfig holds the inbox directory. Files placed under <inbox>/<tenant>/<dataset>/ are ingested.
type WatchConfig struct {
	Inbox      string   `yaml:"inbox"`
	Extensions []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Seed defaults first so explicit zero values in the file survive.
	var cfg Config
	ApplyDefaults(&cfg)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Blob.Root = expandPath(cfg.Blob.Root, configDir)
	if cfg.Watch.Inbox != "" {
		cfg.Watch.Inbox = expandPath(cfg.Watch.Inbox, configDir)
	}
	for i := range cfg.Models {
		if cfg.Models[i].Path != "" {
			cfg.Models[i].Path = expandPath(cfg.Models[i].Path, configDir)
		}
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("invalid config: chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("invalid config: chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	}
	return nil
}

// Default returns a config built only from defaults and the environment.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	return &cfg
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// TenantDefaultEmbedder returns the tenant's default embedder, falling back to the global default.
func (c *Config) TenantDefaultEmbedder(tenantID string) string {
	if t, ok := c.Tenants[tenantID]; ok && t.DefaultEmbedder != "" {
		return t.DefaultEmbedder
	}
	return c.Embedding.DefaultModel
}

// TenantDefaultChatModel returns the tenant's default chat model, falling back to the global default.
func (c *Config) TenantDefaultChatModel(tenantID string) string {
	if t, ok := c.Tenants[tenantID]; ok && t.DefaultChatModel != "" {
		return t.DefaultChatModel
	}
	return c.Search.DefaultChatModel
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

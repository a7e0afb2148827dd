package config

import "time"

// DefaultEmbedder is the embedder used when neither the request, the dataset nor the tenant names one.
const DefaultEmbedder = "sentence-transformers/all-MiniLM-L6-v2"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7615
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/raglite.db"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "local"
	}
	if cfg.Blob.Root == "" {
		cfg.Blob.Root = "./data"
	}
	if cfg.Blob.S3Region == "" {
		cfg.Blob.S3Region = "us-east-1"
	}
	// Zero is a valid overlap, so it is only defaulted together with the size.
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 512
		if cfg.Chunking.Overlap == 0 {
			cfg.Chunking.Overlap = 128
		}
	}
	if cfg.Embedding.DefaultModel == "" {
		cfg.Embedding.DefaultModel = DefaultEmbedder
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.ModelCache == 0 {
		cfg.Embedding.ModelCache = 8
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = 15 * time.Second
	}
	if cfg.Lexical.IndexPrefix == "" {
		cfg.Lexical.IndexPrefix = "raglite"
	}
	if cfg.Lexical.Timeout == 0 {
		cfg.Lexical.Timeout = 10 * time.Second
	}
	if cfg.Search.RewriteCacheTTL == 0 {
		cfg.Search.RewriteCacheTTL = 5 * time.Minute
	}
	if cfg.Search.RemoteTimeout == 0 {
		cfg.Search.RemoteTimeout = 60 * time.Second
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Queue.Size == 0 {
		cfg.Queue.Size = 100
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".markdown", ".html", ".htm", ".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods", ".rtf"}
	}
}

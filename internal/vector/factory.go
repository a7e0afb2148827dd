package vector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hyperjump/raglite/internal/config"
)

// Backend names accepted by vector.backend.
const (
	BackendMemory   = "memory"
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// NewStore creates the configured vector store. Supported backends: "memory" (default),
// "qdrant" (requires qdrant_url) and "pgvector" (requires postgres_dsn).
func NewStore(ctx context.Context, cfg config.VectorConfig) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendQdrant:
		if cfg.QdrantURL == "" {
			return nil, fmt.Errorf("vector backend qdrant requires qdrant_url")
		}
		return NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey, &http.Client{Timeout: cfg.Timeout}), nil
	case BackendPGVector:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("vector backend pgvector requires postgres_dsn")
		}
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		return NewPGVectorStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, qdrant, pgvector)", cfg.Backend)
	}
}

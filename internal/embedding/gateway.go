package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/pkg/utils"
)

// Result is the outcome of a gateway call. Degraded is set when the requested model
// failed and either the default model or zero vectors were returned.
type Result struct {
	Vectors  [][]float32
	Model    string
	Degraded bool
}

// Gateway resolves a model name to an Embedder, caches loaded models and never fails:
// a failing model is retried once with the tenant's default model, then zero vectors
// are returned.
type Gateway struct {
	cfg        *config.Config
	registry   *config.Registry
	httpClient *http.Client
	models     *lruCache[Embedder]
	pinned     map[string]Embedder
	loads      singleflight.Group
	mu         sync.RWMutex
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = utils.OrNop(l) }
}

// WithMetrics records fallbacks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithHTTPClient sets the client used for remote providers.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithEmbedder registers e under name ahead of the model registry. Pinned embedders
// are never evicted.
func WithEmbedder(name string, e Embedder) Option {
	return func(g *Gateway) { g.pinned[name] = e }
}

// NewGateway creates a gateway over cfg's model registry and embedding defaults.
func NewGateway(cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		registry: config.NewRegistry(cfg.Models),
		pinned:   make(map[string]Embedder),
		logger:   zap.NewNop(),
	}
	g.models = newLRUCache[Embedder](cfg.Embedding.ModelCache, func(name string, e Embedder) {
		if err := e.Close(); err != nil {
			g.logger.Warn("failed to close evicted embedding model", zap.String("model", name), zap.Error(err))
		}
	})
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: cfg.Embedding.Timeout}
	}
	return g
}

// DefaultModel returns the process-wide default embedder name.
func (g *Gateway) DefaultModel() string {
	return g.cfg.Embedding.DefaultModel
}

// Resolve picks the model for a call: name when set, otherwise the tenant's default,
// otherwise the process default.
func (g *Gateway) Resolve(tenantID, name string) string {
	if name != "" {
		return name
	}
	return g.cfg.TenantDefaultEmbedder(tenantID)
}

// Embed returns one vector per text. It never returns an error; inspect Result.Degraded.
func (g *Gateway) Embed(ctx context.Context, tenantID, name string, texts []string) Result {
	model := g.Resolve(tenantID, name)
	if len(texts) == 0 {
		return Result{Model: model}
	}

	vectors, err := g.EmbedWith(ctx, model, texts)
	if err == nil {
		return Result{Vectors: vectors, Model: model}
	}
	g.logger.Warn("embedding failed", zap.String("model", model), zap.Int("texts", len(texts)), zap.Error(err))

	if def := g.Resolve(tenantID, ""); model != def {
		vectors, err = g.EmbedWith(ctx, def, texts)
		if err == nil {
			g.metrics.RecordFallback("embedding_default_model")
			return Result{Vectors: vectors, Model: def, Degraded: true}
		}
		g.logger.Warn("default embedding model failed", zap.String("model", def), zap.Error(err))
	}

	g.metrics.RecordFallback("embedding_zero_vectors")
	return Result{Vectors: ZeroVectors(len(texts), FallbackDimension), Model: model, Degraded: true}
}

// EmbedWith embeds texts with exactly the named model and reports failures instead
// of falling back.
func (g *Gateway) EmbedWith(ctx context.Context, name string, texts []string) ([][]float32, error) {
	e, err := g.open(name)
	if err != nil {
		return nil, err
	}
	vectors, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrCountMismatch, len(vectors), len(texts))
	}
	return vectors, nil
}

// open returns a loaded model, loading it at most once concurrently.
func (g *Gateway) open(name string) (Embedder, error) {
	g.mu.RLock()
	e, ok := g.pinned[name]
	g.mu.RUnlock()
	if ok {
		return e, nil
	}
	if e, ok := g.models.Get(name); ok {
		return e, nil
	}

	v, err, _ := g.loads.Do(name, func() (interface{}, error) {
		if e, ok := g.models.Get(name); ok {
			return e, nil
		}
		e, err := g.load(name)
		if err != nil {
			return nil, err
		}
		g.models.Set(name, e)
		g.logger.Debug("loaded embedding model", zap.String("model", name), zap.Int("dimensions", e.Dimensions()))
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}

func (g *Gateway) load(name string) (Embedder, error) {
	if m, ok := g.registry.Lookup(config.ModelEmbedder, name); ok {
		switch {
		case m.Remote():
			return NewRemoteEmbedder(m, g.httpClient), nil
		case m.Path != "":
			dims := m.Dimensions
			if dims == 0 {
				dims = g.cfg.Embedding.Dimensions
			}
			return NewONNXModel(m.Path, dims, g.cfg.Embedding.MaxTokens, g.cfg.Embedding.CacheSize)
		}
		return nil, fmt.Errorf("embedding model %q has neither endpoint nor path", name)
	}
	if dims, ok := IsHashModel(name); ok {
		if dims == 0 {
			dims = g.cfg.Embedding.Dimensions
		}
		return NewHashEmbedder(dims), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// Close releases every loaded model.
func (g *Gateway) Close() error {
	g.models.Drain()
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, e := range g.pinned {
		if err := e.Close(); err != nil {
			g.logger.Warn("failed to close embedding model", zap.String("model", name), zap.Error(err))
		}
	}
	return nil
}

// Package rerank reorders a candidate window of retrieval hits with a remote
// cross-encoder endpoint or a local embedding-similarity scorer. Reranking is
// best-effort: any failure returns the input unchanged.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

// Options selects the model and window for one call.
type Options struct {
	Model string
	// TopK is the candidate window size; zero means every hit.
	TopK     int
	MinScore *float64
}

// Scored is a relevance score for the document at Index within the scored window.
type Scored struct {
	Index int
	Score float64
}

// Scorer scores documents against a query.
type Scorer interface {
	Score(ctx context.Context, tenantID, query string, documents []string) ([]Scored, error)
}

// TextEmbedder embeds texts with one named model and reports failures.
type TextEmbedder interface {
	EmbedWith(ctx context.Context, name string, texts []string) ([][]float32, error)
}

var errMalformed = errors.New("malformed rerank response")

// Gateway picks a scorer per model and applies the window and score floor.
type Gateway struct {
	registry   *config.Registry
	httpClient *http.Client
	embedder   TextEmbedder
	scorers    map[string]Scorer
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

// WithHTTPClient sets the client used for remote rerank endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithEmbedder sets the embedder used by the local scorer.
func WithEmbedder(e TextEmbedder) Option {
	return func(g *Gateway) { g.embedder = e }
}

// WithScorer registers s for model name ahead of the model registry.
func WithScorer(name string, s Scorer) Option {
	return func(g *Gateway) { g.scorers[name] = s }
}

// NewGateway creates a gateway over the rerank models in cfg.
func NewGateway(cfg *config.Config, opts ...Option) *Gateway {
	g := &Gateway{
		registry: config.NewRegistry(cfg.Models),
		scorers:  make(map[string]Scorer),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: cfg.Search.RemoteTimeout}
	}
	return g
}

// scorer resolves the scorer for model. Registered remote models use the rerank
// endpoint; anything else is scored locally by embedding similarity.
func (g *Gateway) scorer(model string) (Scorer, error) {
	if s, ok := g.scorers[model]; ok {
		return s, nil
	}
	m, ok := g.registry.Lookup(config.ModelRerank, model)
	if ok && m.Remote() {
		return &RemoteScorer{Endpoint: m.Endpoint, APIKey: m.APIKey, Model: m.ModelName(), Client: g.httpClient}, nil
	}
	if g.embedder == nil {
		return nil, fmt.Errorf("no embedder for local rerank model %q", model)
	}
	embedModel := model
	if ok {
		embedModel = m.ModelName()
	}
	return &LocalScorer{Embedder: g.embedder, Model: embedModel}, nil
}

// Rerank reorders the first opts.TopK hits by relevance, drops reranked hits
// below opts.MinScore and appends the remaining hits in their original order.
// It returns the input unchanged with applied=false when no model is set or
// scoring fails.
func (g *Gateway) Rerank(ctx context.Context, tenantID, query string, hits []*models.Hit, opts Options) ([]*models.Hit, bool, string) {
	if opts.Model == "" || len(hits) == 0 {
		return hits, false, ""
	}
	window, remainder := splitWindow(hits, opts.TopK)

	s, err := g.scorer(opts.Model)
	if err == nil {
		var scores []Scored
		scores, err = s.Score(ctx, tenantID, query, hitTexts(window))
		if err == nil {
			var out []*models.Hit
			out, err = apply(window, remainder, scores, opts.MinScore)
			if err == nil {
				return out, true, opts.Model
			}
		}
	}
	g.logger.Warn("rerank failed, keeping retrieval order", zap.String("model", opts.Model), zap.Error(err))
	g.metrics.RecordFallback("rerank_identity")
	return hits, false, ""
}

func splitWindow(hits []*models.Hit, topK int) (window, remainder []*models.Hit) {
	if topK <= 0 || topK >= len(hits) {
		return hits, nil
	}
	return hits[:topK], hits[topK:]
}

func hitTexts(hits []*models.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}

// apply builds the reranked list. Scores reference positions within window.
func apply(window, remainder []*models.Hit, scores []Scored, minScore *float64) ([]*models.Hit, error) {
	seen := make(map[int]bool, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(window) || seen[s.Index] {
			return nil, fmt.Errorf("%w: index %d for window of %d", errMalformed, s.Index, len(window))
		}
		seen[s.Index] = true
	}
	sorted := append([]Scored(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	out := make([]*models.Hit, 0, len(window)+len(remainder))
	for _, s := range sorted {
		if minScore != nil && s.Score < *minScore {
			continue
		}
		h := window[s.Index].Clone()
		h.Score = s.Score
		out = append(out, h)
	}
	return append(out, remainder...), nil
}

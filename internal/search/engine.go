// Package search runs the hybrid query pipeline: rewrite, parallel vector and
// lexical retrieval, score merge, score floor, rerank and optional answer.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/embedding"
	"github.com/hyperjump/raglite/internal/keyword"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/rerank"
	"github.com/hyperjump/raglite/internal/vector"
	"github.com/hyperjump/raglite/pkg/utils"
)

// Store is the persistence the engine reads datasets from and logs queries to.
type Store interface {
	GetDataset(ctx context.Context, tenantID, id string) (*models.Dataset, error)
	LogQuery(ctx context.Context, entry *models.QueryLog) error
}

// Embedder embeds the query text.
type Embedder interface {
	Embed(ctx context.Context, tenantID, name string, texts []string) embedding.Result
}

// Reranker reorders retrieved hits.
type Reranker interface {
	Rerank(ctx context.Context, tenantID, query string, hits []*models.Hit, opts rerank.Options) ([]*models.Hit, bool, string)
}

// Answerer writes a grounded answer from the final hits.
type Answerer interface {
	Answer(ctx context.Context, tenantID, question string, hits []*models.Hit, model string) (string, bool)
}

// Fallback components recorded when a retrieval source degrades.
const (
	fallbackVectorQuery  = "vector_query"
	fallbackLexicalQuery = "lexical_query"
	fallbackQueryHistory = "query_history"
)

// Engine runs hybrid retrieval for one tenant at a time.
type Engine struct {
	store    Store
	embedder Embedder
	vectors  vector.Store
	lexical  keyword.Index
	rewrites *RewriteCache
	reranker Reranker
	answerer Answerer
	cfg      config.SearchConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithMetrics records query latency and fallbacks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithReranker enables reranking for datasets that ask for it.
func WithReranker(r Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// WithAnswerer enables answer generation.
func WithAnswerer(a Answerer) Option {
	return func(e *Engine) { e.answerer = a }
}

// WithRewriteCache replaces the default whitespace rewriter cache.
func WithRewriteCache(c *RewriteCache) Option {
	return func(e *Engine) { e.rewrites = c }
}

// NewEngine creates a search engine. lexical may be nil when lexical search is disabled.
func NewEngine(store Store, embedder Embedder, vectors vector.Store, lexical keyword.Index, cfg config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		cfg:      cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rewrites == nil {
		e.rewrites = NewRewriteCache(WhitespaceRewriter{}, cfg.RewriteCacheTTL, nil, e.logger)
	}
	return e
}

// retrieval holds the per-query parameters read from the first dataset.
type retrieval struct {
	embedder string
	rerank   models.RerankConfig
}

// Query runs the hybrid pipeline. Only validation errors, unknown datasets and
// context cancellation fail it; every other stage degrades.
func (e *Engine) Query(ctx context.Context, tenantID string, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	resp, err := e.query(ctx, tenantID, req)
	d := time.Since(start)
	if err != nil {
		e.metrics.RecordQuery("error", d, 0)
		return nil, err
	}
	resp.QueryTimeMS = d.Milliseconds()
	e.metrics.RecordQuery("ok", d, len(resp.Results))
	e.recordHistory(ctx, tenantID, req, resp)
	return resp, nil
}

func (e *Engine) query(ctx context.Context, tenantID string, req *models.QueryRequest) (*models.QueryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params, err := e.retrievalParams(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	text := req.Query
	resp := &models.QueryResponse{Query: req.Query}
	if req.RewriteEnabled() {
		text = e.rewrites.Rewrite(ctx, tenantID, req.Query)
		if text != req.Query {
			resp.Rewritten = text
		}
	}

	k := req.K
	retrievalK := k
	rerankOn := params.rerank.Enabled && params.rerank.Model != "" && e.reranker != nil
	if rerankOn {
		retrievalK = max(k, params.rerank.TopK)
	}
	resp.RetrievalK = retrievalK

	vectorHits, lexicalHits, err := e.retrieve(ctx, tenantID, req, text, params.embedder, retrievalK)
	if err != nil {
		return nil, err
	}
	resp.VectorCount = len(vectorHits)
	resp.LexicalCount = len(lexicalHits)

	hits := Merge(vectorHits, lexicalHits, retrievalK)
	hits = ApplyFloor(hits, e.minScore(req))

	if rerankOn {
		var applied bool
		var model string
		hits, applied, model = e.reranker.Rerank(ctx, tenantID, text, hits, rerank.Options{
			Model:    params.rerank.Model,
			TopK:     params.rerank.TopK,
			MinScore: params.rerank.MinScore,
		})
		resp.Reranked = applied
		resp.RerankModel = model
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	resp.Results = hits

	if req.Answer && e.answerer != nil {
		if answer, ok := e.answerer.Answer(ctx, tenantID, req.Query, hits, req.ChatModel); ok {
			resp.Answer = answer
		}
	}
	return resp, nil
}

// retrievalParams checks every requested dataset belongs to the tenant and reads
// the embedder and rerank settings from the first one.
func (e *Engine) retrievalParams(ctx context.Context, tenantID string, req *models.QueryRequest) (retrieval, error) {
	var params retrieval
	for i, id := range req.DatasetIDs {
		ds, err := e.store.GetDataset(ctx, tenantID, id)
		if err != nil {
			return params, fmt.Errorf("dataset %s: %w", id, err)
		}
		if i == 0 {
			params.embedder = ds.Embedder
			params.rerank = ds.Rerank
		}
	}
	if req.Embedder != "" {
		params.embedder = req.Embedder
	}
	return params, nil
}

// retrieve runs vector and lexical retrieval concurrently. A failing source
// contributes no hits; only cancellation is returned.
func (e *Engine) retrieve(ctx context.Context, tenantID string, req *models.QueryRequest, text, embedder string, k int) (vectorHits, lexicalHits []*models.Hit, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res := e.embedder.Embed(gctx, tenantID, embedder, []string{text})
		if len(res.Vectors) != 1 {
			e.degrade(fallbackVectorQuery, embedding.ErrCountMismatch)
			return gctx.Err()
		}
		hits, qerr := e.vectors.Query(gctx, tenantID, req.DatasetIDs, res.Vectors[0], k, req.Filters)
		if qerr != nil {
			e.degrade(fallbackVectorQuery, qerr)
			return gctx.Err()
		}
		vectorHits = hits
		return nil
	})

	if e.lexical != nil && len(req.DatasetIDs) > 0 {
		g.Go(func() error {
			hits, qerr := e.lexical.Search(gctx, tenantID, req.DatasetIDs, text, k)
			if qerr != nil {
				e.degrade(fallbackLexicalQuery, qerr)
				return gctx.Err()
			}
			lexicalHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectorHits, lexicalHits, nil
}

func (e *Engine) degrade(component string, err error) {
	e.logger.Warn("retrieval source failed, continuing without it", zap.String("source", component), zap.Error(err))
	e.metrics.RecordFallback(component)
}

func (e *Engine) minScore(req *models.QueryRequest) float64 {
	if req.MinScore != nil {
		return *req.MinScore
	}
	return e.cfg.DefaultMinScore
}

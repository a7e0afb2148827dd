package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/answer"
	"github.com/hyperjump/raglite/internal/blob"
	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/embedding"
	"github.com/hyperjump/raglite/internal/indexer"
	"github.com/hyperjump/raglite/internal/jobs"
	"github.com/hyperjump/raglite/internal/keyword"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/provider"
	"github.com/hyperjump/raglite/internal/queue"
	"github.com/hyperjump/raglite/internal/rerank"
	"github.com/hyperjump/raglite/internal/search"
	"github.com/hyperjump/raglite/internal/storage"
	"github.com/hyperjump/raglite/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Config     *config.Config
	Metrics    *metrics.Metrics
	Storage    *storage.SQLiteStorage
	Vectors    vector.Store
	Lexical    keyword.Index
	Blobs      blob.Store
	Embeddings *embedding.Gateway
	Pipeline   *indexer.Pipeline
	Uploader   *indexer.Uploader
	Engine     *search.Engine
	// Pool is nil when tasks run inline.
	Pool *queue.Pool
}

// Close stops the queue first so in-flight tasks can still reach the stores.
func (c *Components) Close() {
	if c.Pool != nil {
		_ = c.Pool.Close()
	}
	if c.Embeddings != nil {
		_ = c.Embeddings.Close()
	}
	if c.Lexical != nil {
		_ = c.Lexical.Close()
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents wires every service from cfg. With inline set, uploads and
// reindex requests run synchronously in the caller, otherwise on a worker pool
// started with ctx.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, inline bool) (*Components, error) {
	c := &Components{Config: cfg, Metrics: metrics.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	c.Vectors, err = vector.NewStore(ctx, cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	logger.Info("vector store initialized", zap.String("backend", cfg.Vector.Backend))

	c.Lexical = keyword.Select(ctx, cfg.Lexical, logger)
	logger.Info("lexical index selected", zap.String("backend", keyword.Name(c.Lexical)))

	c.Blobs, err = blob.NewStore(cfg.Blob, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	limiter := provider.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	c.Embeddings = embedding.NewGateway(cfg,
		embedding.WithLogger(logger),
		embedding.WithMetrics(c.Metrics),
		embedding.WithHTTPClient(limiter.HTTPClient(cfg.Embedding.Timeout)),
	)
	reranker := rerank.NewGateway(cfg,
		rerank.WithLogger(logger),
		rerank.WithMetrics(c.Metrics),
		rerank.WithHTTPClient(limiter.HTTPClient(cfg.Search.RemoteTimeout)),
		rerank.WithEmbedder(c.Embeddings),
	)
	answerer := answer.NewGateway(cfg,
		answer.WithLogger(logger),
		answer.WithMetrics(c.Metrics),
		answer.WithHTTPClient(limiter.HTTPClient(cfg.Search.RemoteTimeout)),
	)

	tracker := jobs.NewTracker(store, jobs.WithLogger(logger), jobs.WithMetrics(c.Metrics))
	c.Pipeline = indexer.NewPipeline(store, tracker, c.Embeddings, c.Vectors, c.Lexical, c.Blobs, cfg.Chunking,
		indexer.WithLogger(logger),
		indexer.WithMetrics(c.Metrics),
	)
	if err := c.Pipeline.WarmLexical(ctx); err != nil {
		logger.Warn("lexical index warm-up failed", zap.Error(err))
	}

	var q queue.Enqueuer = queue.Inline{Handler: c.Pipeline}
	if !inline {
		c.Pool = queue.NewPool(c.Pipeline, cfg.Queue, queue.WithLogger(logger), queue.WithMetrics(c.Metrics))
		c.Pool.Start(ctx)
		q = c.Pool
	}
	c.Uploader = indexer.NewUploader(store, tracker, c.Blobs, q,
		indexer.WithUploaderLogger(logger),
		indexer.WithUploaderMetrics(c.Metrics),
	)
	c.Engine = search.NewEngine(store, c.Embeddings, c.Vectors, c.Lexical, cfg.Search,
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics),
		search.WithReranker(reranker),
		search.WithAnswerer(answerer),
	)
	ok = true
	return c, nil
}

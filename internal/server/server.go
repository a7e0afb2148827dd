// Package server provides the HTTP API for RAGLite.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/indexer"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/search"
	"github.com/hyperjump/raglite/internal/storage"
	"github.com/hyperjump/raglite/pkg/utils"
)

// maxUploadBytes bounds the in-memory part of a multipart upload; larger files spill to disk.
const maxUploadBytes = 32 << 20

// Server is the HTTP server for the RAGLite API.
type Server struct {
	engine   *search.Engine
	uploads  *indexer.Uploader
	pipeline *indexer.Pipeline
	storage  storage.Storage
	metrics  *metrics.Metrics
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	uploads *indexer.Uploader,
	pipeline *indexer.Pipeline,
	storage storage.Storage,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		uploads:  uploads,
		pipeline: pipeline,
		storage:  storage,
		metrics:  m,
		config:   cfg,
		logger:   utils.OrNop(logger),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireTenant)

		r.Post("/datasets", s.handleCreateDataset)
		r.Get("/datasets", s.handleListDatasets)
		r.Get("/datasets/{id}", s.handleGetDataset)
		r.Delete("/datasets/{id}", s.handleDeleteDataset)
		r.Post("/datasets/{id}/documents", s.handleUpload)
		r.Post("/datasets/{id}/reindex", s.handleReindex)

		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/query", s.handleQuery)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

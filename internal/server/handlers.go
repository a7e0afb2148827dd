package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/indexer"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/storage"
)

// TenantHeader carries the caller's tenant id.
const TenantHeader = "X-Tenant-ID"

type tenantKey struct{}

func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenant == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": TenantHeader + " header is required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

func tenantFrom(r *http.Request) string {
	tenant, _ := r.Context().Value(tenantKey{}).(string)
	return tenant
}

type createDatasetRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Embedder    string              `json:"embedder"`
	Rerank      models.RerankConfig `json:"rerank"`
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Rerank.TopK < 0 {
		s.respondError(w, http.StatusBadRequest, "rerank.top_k cannot be negative")
		return
	}
	ds := &models.Dataset{
		TenantID:    tenantFrom(r),
		Name:        req.Name,
		Description: req.Description,
		Embedder:    req.Embedder,
		Rerank:      req.Rerank,
	}
	if err := s.storage.CreateDataset(r.Context(), ds); err != nil {
		s.fail(w, "create dataset failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, ds)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.storage.ListDatasets(r.Context(), tenantFrom(r))
	if err != nil {
		s.fail(w, "list datasets failed", err)
		return
	}
	if list == nil {
		list = []*models.Dataset{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"datasets": list})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.storage.GetDataset(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get dataset failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ds)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete dataset request", zap.String("id", id))
	if err := s.pipeline.DeleteDataset(r.Context(), tenantFrom(r), id); err != nil {
		s.fail(w, "delete dataset failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type uploadResponse struct {
	Document  *models.Document `json:"document"`
	Job       *models.Job      `json:"job,omitempty"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	acc, err := s.uploads.Accept(r.Context(), indexer.Upload{
		TenantID:  tenantFrom(r),
		DatasetID: chi.URLParam(r, "id"),
		Filename:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		SourceURI: r.FormValue("source_uri"),
		Embedder:  r.FormValue("embedder"),
		Content:   file,
	})
	var dup *indexer.DuplicateError
	switch {
	case errors.As(err, &dup):
		s.respondJSON(w, http.StatusOK, uploadResponse{Document: dup.Existing, Duplicate: true})
	case acc != nil:
		// Inline ingest failures are already recorded on the job.
		if err != nil {
			s.logger.Warn("inline ingest failed", zap.String("job_id", acc.Job.ID), zap.Error(err))
		}
		s.respondJSON(w, http.StatusAccepted, uploadResponse{Document: acc.Document, Job: acc.Job})
	default:
		s.fail(w, "upload failed", err)
	}
}

type reindexRequest struct {
	Embedder string `json:"embedder"`
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.uploads.RequestReindex(r.Context(), tenantFrom(r), chi.URLParam(r, "id"), req.Embedder)
	if job == nil {
		s.fail(w, "reindex failed", err)
		return
	}
	if err != nil {
		s.logger.Warn("inline reindex failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"job": job})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil || doc.TenantID != tenantFrom(r) || doc.DeletedAt != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.pipeline.DeleteDocument(r.Context(), tenantFrom(r), id); err != nil {
		s.fail(w, "delete document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.storage.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil || job.TenantID != tenantFrom(r) {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("k", req.K))
	resp, err := s.engine.Query(r.Context(), tenantFrom(r), &req)
	if err != nil {
		s.fail(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.fail(w, "status: count documents failed", err)
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.fail(w, "status: count chunks failed", err)
		return
	}
	resp := map[string]interface{}{
		"documents": docCount,
		"chunks":    chunkCount,
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"vector_backend":  s.config.Vector.Backend,
			"lexical_enabled": s.config.Lexical.EnabledOrDefault(),
			"blob_backend":    s.config.Blob.Backend,
			"embedder":        s.config.Embedding.DefaultModel,
			"chunk_size":      s.config.Chunking.Size,
			"chunk_overlap":   s.config.Chunking.Overlap,
		}
		if usage, err := storage.MeasureUsage(s.config.Storage.DatabasePath, s.config.Blob.Root); err == nil {
			resp["disk_usage"] = usage
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// fail maps err to a status code. Unexpected errors are logged and reported as 500.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDuplicate):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

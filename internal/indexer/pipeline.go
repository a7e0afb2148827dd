package indexer

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/blob"
	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/embedding"
	"github.com/hyperjump/raglite/internal/extract"
	"github.com/hyperjump/raglite/internal/jobs"
	"github.com/hyperjump/raglite/internal/keyword"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/storage"
	"github.com/hyperjump/raglite/internal/vector"
	"github.com/hyperjump/raglite/pkg/utils"
)

// Ingest job checkpoints.
const (
	progressStarted  = 10
	progressParsed   = 40
	progressEmbedded = 60
	progressStored   = 80

	progressReindexStarted = 5
)

// Embedder is the embedding capability the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, tenantID, name string, texts []string) embedding.Result
}

// Pipeline ingests documents into the chunk store and both indexes.
type Pipeline struct {
	store     storage.Storage
	tracker   *jobs.Tracker
	extractor *extract.Extractor
	chunker   *Chunker
	embedder  Embedder
	vectors   vector.Store
	lexical   keyword.Index
	blobs     blob.Materializer
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = utils.OrNop(l) }
}

// WithMetrics records degraded paths on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// NewPipeline creates a pipeline. lexical may be nil when lexical search is disabled.
func NewPipeline(
	store storage.Storage,
	tracker *jobs.Tracker,
	embedder Embedder,
	vectors vector.Store,
	lexical keyword.Index,
	blobs blob.Materializer,
	chunking config.ChunkingConfig,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:    store,
		tracker:  tracker,
		chunker:  NewChunker(chunking.Size, chunking.Overlap),
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		blobs:    blobs,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extractor == nil {
		p.extractor = extract.NewExtractor(extract.WithLogger(p.logger))
	}
	return p
}

// Ingest processes one document under its ingest job. On failure both the document
// and the job are marked failed and the error is returned so the queue can redeliver.
// Redelivering a task whose job already succeeded is a no-op.
func (p *Pipeline) Ingest(ctx context.Context, task models.IngestTask) error {
	job, err := p.tracker.Get(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load ingest job %s: %w", task.JobID, err)
	}
	if job.Status == models.JobSucceeded {
		p.logger.Debug("ingest job already succeeded, skipping", zap.String("job_id", job.ID))
		return nil
	}
	if err := p.tracker.Restart(ctx, job, progressStarted); err != nil {
		return err
	}

	err = p.ingest(ctx, task, func(progress int) error {
		return p.tracker.Progress(ctx, job, progress)
	})
	if err != nil {
		p.markDocumentFailed(ctx, task.DocumentID)
		if ferr := p.tracker.Fail(ctx, job, err); ferr != nil {
			p.logger.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return err
	}
	return p.tracker.Succeed(ctx, job)
}

func (p *Pipeline) ingest(ctx context.Context, task models.IngestTask, progress func(int) error) error {
	doc, err := p.store.GetDocument(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", task.DocumentID, err)
	}
	if doc.DeletedAt != nil {
		return fmt.Errorf("document %s was deleted: %w", doc.ID, storage.ErrNotFound)
	}
	if doc.TenantID != task.TenantID || doc.DatasetID != task.DatasetID {
		return fmt.Errorf("document %s does not belong to %s/%s: %w", doc.ID, task.TenantID, task.DatasetID, storage.ErrNotFound)
	}
	embedder, err := p.effectiveEmbedder(ctx, doc.TenantID, doc.DatasetID, task.Embedder)
	if err != nil {
		return err
	}
	path, mimeType := doc.Path, doc.MimeType
	if task.Path != "" {
		path = task.Path
	}
	if task.MimeType != "" {
		mimeType = task.MimeType
	}
	return p.ingestDocument(ctx, doc, path, mimeType, embedder, progress)
}

// effectiveEmbedder returns explicit when set, else the dataset's embedder. An empty
// result lets the embedding gateway fall back to the tenant default.
func (p *Pipeline) effectiveEmbedder(ctx context.Context, tenantID, datasetID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	ds, err := p.store.GetDataset(ctx, tenantID, datasetID)
	if err != nil {
		return "", fmt.Errorf("load dataset %s: %w", datasetID, err)
	}
	return ds.Embedder, nil
}

// ingestDocument runs parse, chunk, embed, store and index for doc. progress may be nil.
func (p *Pipeline) ingestDocument(ctx context.Context, doc *models.Document, path, mimeType, embedder string, progress func(int) error) error {
	report := func(v int) error {
		if progress == nil {
			return nil
		}
		return progress(v)
	}
	log := p.logger.With(zap.String("tenant_id", doc.TenantID), zap.String("dataset_id", doc.DatasetID), zap.String("document_id", doc.ID))

	local, cleanup, err := p.blobs.EnsureLocal(ctx, path)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", path, err)
	}
	defer cleanup()

	text, lang, err := p.extractor.Parse(local, mimeType)
	if err != nil {
		return fmt.Errorf("parse %s: %w", doc.Filename, err)
	}
	chunks := p.chunker.Chunk(doc, text)
	if err := report(progressParsed); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vectors [][]float32
	if len(chunks) > 0 {
		res := p.embedder.Embed(ctx, doc.TenantID, embedder, texts)
		if len(res.Vectors) != len(chunks) {
			return fmt.Errorf("%w: got %d vectors for %d chunks", embedding.ErrCountMismatch, len(res.Vectors), len(chunks))
		}
		if res.Degraded {
			log.Warn("ingesting with degraded embeddings", zap.String("model", res.Model))
		}
		vectors = res.Vectors
	}
	if err := report(progressEmbedded); err != nil {
		return err
	}

	// Replacing the document's rows keeps a redelivered ingest from leaving stale chunks.
	if err := p.store.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if len(chunks) > 0 {
		if err := p.store.BatchCreateChunks(ctx, chunks); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
	}
	if err := report(progressStored); err != nil {
		return err
	}

	if len(chunks) > 0 {
		p.writeIndexes(ctx, doc, chunks, vectors)
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentSucceeded, lang); err != nil {
		return fmt.Errorf("mark document succeeded: %w", err)
	}
	log.Info("document ingested", zap.Int("chunks", len(chunks)), zap.String("language", lang))
	return nil
}

func (p *Pipeline) writeIndexes(ctx context.Context, doc *models.Document, chunks []*models.Chunk, vectors [][]float32) {
	source := sourceURI(doc)
	items := keyword.ItemsFromChunks(chunks, func(string) string { return source })
	target := []zap.Field{zap.String("tenant_id", doc.TenantID), zap.String("dataset_id", doc.DatasetID), zap.String("document_id", doc.ID)}

	p.attemptLexical(ctx, OpLexicalWrite, func(ctx context.Context) error {
		return p.lexical.Index(ctx, doc.TenantID, doc.DatasetID, items)
	}, target...)

	// Zero vectors come from the embedding fallback and carry no ranking signal.
	points := make([]vector.Item, 0, len(items))
	for i, it := range items {
		if utils.IsZeroVector(vectors[i]) {
			continue
		}
		points = append(points, vector.Item{ID: it.ID, Vector: vectors[i], Payload: it.Payload})
	}
	if len(points) == 0 {
		p.logger.Debug("no rankable vectors, skipping vector write", target...)
		return
	}
	p.attempt(ctx, OpVectorWrite, func(ctx context.Context) error {
		return p.vectors.Upsert(ctx, doc.TenantID, doc.DatasetID, points)
	}, target...)
}

func (p *Pipeline) markDocumentFailed(ctx context.Context, documentID string) {
	p.attempt(ctx, OpMarkDocumentFailed, func(ctx context.Context) error {
		return p.store.UpdateDocumentStatus(ctx, documentID, models.DocumentFailed, "")
	}, zap.String("document_id", documentID))
}

// sourceURI is the provenance reported on hits: the caller-supplied URI, else the filename.
func sourceURI(doc *models.Document) string {
	if doc.SourceURI != "" {
		return doc.SourceURI
	}
	return doc.Filename
}

// Reindex clears a dataset's indexes and chunks and re-ingests its live documents one
// at a time under a single job. It stops at the first failing document.
func (p *Pipeline) Reindex(ctx context.Context, task models.ReindexTask) error {
	job, err := p.tracker.Get(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load reindex job %s: %w", task.JobID, err)
	}
	if job.Status == models.JobSucceeded {
		p.logger.Debug("reindex job already succeeded, skipping", zap.String("job_id", job.ID))
		return nil
	}
	if err := p.tracker.Restart(ctx, job, progressReindexStarted); err != nil {
		return err
	}
	if err := p.reindex(ctx, task, job); err != nil {
		if ferr := p.tracker.Fail(ctx, job, err); ferr != nil {
			p.logger.Error("failed to record job failure", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return err
	}
	return p.tracker.Succeed(ctx, job)
}

func (p *Pipeline) reindex(ctx context.Context, task models.ReindexTask, job *models.Job) error {
	embedder, err := p.effectiveEmbedder(ctx, task.TenantID, task.DatasetID, task.Embedder)
	if err != nil {
		return err
	}
	p.clearIndexes(ctx, task.TenantID, task.DatasetID)
	if err := p.store.DeleteChunksByDataset(ctx, task.TenantID, task.DatasetID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	docs, err := p.store.ListLiveDocuments(ctx, task.TenantID, task.DatasetID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	total := max(len(docs), 1)
	for i, doc := range docs {
		if err := p.ingestDocument(ctx, doc, doc.Path, doc.MimeType, embedder, nil); err != nil {
			p.markDocumentFailed(ctx, doc.ID)
			return fmt.Errorf("reindex document %s: %w", doc.ID, err)
		}
		done := int(math.Round(100 * float64(i+1) / float64(total)))
		if err := p.tracker.Progress(ctx, job, done); err != nil {
			return err
		}
	}
	p.logger.Info("dataset reindexed", zap.String("tenant_id", task.TenantID),
		zap.String("dataset_id", task.DatasetID), zap.Int("documents", len(docs)))
	return nil
}

func (p *Pipeline) clearIndexes(ctx context.Context, tenantID, datasetID string) {
	target := []zap.Field{zap.String("tenant_id", tenantID), zap.String("dataset_id", datasetID)}
	p.attemptLexical(ctx, OpLexicalClear, func(ctx context.Context) error {
		return p.lexical.DeleteDataset(ctx, tenantID, datasetID)
	}, target...)
	p.attempt(ctx, OpVectorClear, func(ctx context.Context) error {
		return p.vectors.DeleteDataset(ctx, tenantID, datasetID)
	}, target...)
}

// DeleteDocument soft-deletes a document and its chunks, then removes its index
// entries. With the in-process lexical index this rebuilds the dataset's index.
func (p *Pipeline) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.TenantID != tenantID {
		return fmt.Errorf("document %s: %w", documentID, storage.ErrNotFound)
	}
	if err := p.store.SoftDeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	target := []zap.Field{zap.String("tenant_id", doc.TenantID), zap.String("dataset_id", doc.DatasetID), zap.String("document_id", doc.ID)}
	p.attemptLexical(ctx, OpLexicalDeleteDocument, func(ctx context.Context) error {
		return p.lexical.DeleteDocument(ctx, doc.TenantID, doc.DatasetID, doc.ID)
	}, target...)
	p.attempt(ctx, OpVectorDeleteDocument, func(ctx context.Context) error {
		return p.vectors.DeleteDocument(ctx, doc.TenantID, doc.DatasetID, doc.ID)
	}, target...)
	p.logger.Info("document deleted", target...)
	return nil
}

// DeleteDataset soft-deletes a dataset with its documents and chunks and clears both
// indexes.
func (p *Pipeline) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	if err := p.store.SoftDeleteDataset(ctx, tenantID, datasetID); err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	p.clearIndexes(ctx, tenantID, datasetID)
	p.logger.Info("dataset deleted", zap.String("tenant_id", tenantID), zap.String("dataset_id", datasetID))
	return nil
}

// WarmLexical loads every live dataset's chunks into the in-process lexical index.
// Remote indexes keep their own state and are left alone.
func (p *Pipeline) WarmLexical(ctx context.Context) error {
	if _, ok := p.lexical.(*keyword.MemoryIndex); !ok {
		return nil
	}
	datasets, err := p.store.ListDatasets(ctx, "")
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	var total int
	for _, ds := range datasets {
		n, err := p.rebuildLexical(ctx, ds.TenantID, ds.ID)
		if err != nil {
			return err
		}
		total += n
	}
	p.logger.Info("lexical index warmed", zap.Int("datasets", len(datasets)), zap.Int("chunks", total))
	return nil
}

func (p *Pipeline) rebuildLexical(ctx context.Context, tenantID, datasetID string) (int, error) {
	docs, err := p.store.ListLiveDocuments(ctx, tenantID, datasetID)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	sources := make(map[string]string, len(docs))
	for _, d := range docs {
		sources[d.ID] = sourceURI(d)
	}
	chunks, err := p.store.ListChunksByDataset(ctx, tenantID, datasetID)
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}
	items := keyword.ItemsFromChunks(chunks, func(id string) string { return sources[id] })
	if err := p.lexical.Rebuild(ctx, tenantID, datasetID, items); err != nil {
		return 0, fmt.Errorf("rebuild lexical index %s/%s: %w", tenantID, datasetID, err)
	}
	return len(items), nil
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/blob"
	"github.com/hyperjump/raglite/internal/fileid"
	"github.com/hyperjump/raglite/internal/jobs"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/queue"
	"github.com/hyperjump/raglite/internal/storage"
	"github.com/hyperjump/raglite/pkg/utils"
)

// ErrDuplicate is matched by the error Accept returns for content already present in
// the dataset.
var ErrDuplicate = errors.New("duplicate upload")

// DuplicateError reports the live document that already holds the uploaded content.
type DuplicateError struct {
	Existing *models.Document
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of document %s", e.Existing.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// Upload is one file offered for ingestion.
type Upload struct {
	TenantID  string
	DatasetID string
	Filename  string
	MimeType  string
	SourceURI string
	Embedder  string
	Content   io.Reader
}

// Accepted is the document and job created for an upload.
type Accepted struct {
	Document *models.Document
	Job      *models.Job
}

// Uploader accepts uploads and reindex requests and hands them to the queue.
type Uploader struct {
	store   storage.Storage
	tracker *jobs.Tracker
	blobs   blob.Store
	queue   queue.Enqueuer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithUploaderLogger sets the logger.
func WithUploaderLogger(l *zap.Logger) UploaderOption {
	return func(u *Uploader) { u.logger = utils.OrNop(l) }
}

// WithUploaderMetrics records upload outcomes on m.
func WithUploaderMetrics(m *metrics.Metrics) UploaderOption {
	return func(u *Uploader) { u.metrics = m }
}

// NewUploader creates an uploader.
func NewUploader(store storage.Storage, tracker *jobs.Tracker, blobs blob.Store, q queue.Enqueuer, opts ...UploaderOption) *Uploader {
	u := &Uploader{store: store, tracker: tracker, blobs: blobs, queue: q, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Accept stores the upload, creates a pending document and ingest job, and enqueues
// the job. Content already present in the dataset yields a *DuplicateError. When the
// queue runs the job inline and it fails, the accepted record is returned together
// with the ingest error.
func (u *Uploader) Accept(ctx context.Context, up Upload) (*Accepted, error) {
	acc, err := u.accept(ctx, up)
	switch {
	case errors.Is(err, ErrDuplicate):
		u.metrics.RecordUpload("duplicate")
	case acc == nil:
		u.metrics.RecordUpload("error")
	default:
		u.metrics.RecordUpload("accepted")
	}
	return acc, err
}

func (u *Uploader) accept(ctx context.Context, up Upload) (*Accepted, error) {
	ds, err := u.store.GetDataset(ctx, up.TenantID, up.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", up.DatasetID, err)
	}
	content, err := io.ReadAll(up.Content)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	hash := fileid.ContentHash(content)

	if existing, err := u.store.FindDuplicate(ctx, ds.TenantID, ds.ID, hash); err == nil {
		u.logger.Info("skipping duplicate upload", zap.String("dataset_id", ds.ID),
			zap.String("filename", up.Filename), zap.String("existing_id", existing.ID))
		return nil, &DuplicateError{Existing: existing}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	mimeType := up.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(content).String()
	}
	filename := utils.SecureFilename(up.Filename, "upload")
	doc := &models.Document{
		ID:          uuid.New().String(),
		TenantID:    ds.TenantID,
		DatasetID:   ds.ID,
		Filename:    filename,
		SourceURI:   up.SourceURI,
		MimeType:    mimeType,
		SizeBytes:   int64(len(content)),
		ContentHash: hash,
		Status:      models.DocumentPending,
	}
	doc.Path, err = u.blobs.Save(ctx, blob.Key(doc.TenantID, doc.DatasetID, doc.ID, filename), content, mimeType)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	if err := u.store.CreateDocument(ctx, doc); err != nil {
		u.discard(ctx, doc.Path)
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with a concurrent upload of the same bytes.
			if existing, ferr := u.store.FindDuplicate(ctx, ds.TenantID, ds.ID, hash); ferr == nil {
				return nil, &DuplicateError{Existing: existing}
			}
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	embedder := up.Embedder
	if embedder == "" {
		embedder = ds.Embedder
	}
	job, err := u.tracker.Create(ctx, doc.TenantID, models.JobIngest, models.JobPayload{
		DatasetID:  doc.DatasetID,
		DocumentID: doc.ID,
		Embedder:   embedder,
	})
	if err != nil {
		u.abandon(ctx, doc)
		return nil, err
	}
	acc := &Accepted{Document: doc, Job: job}
	u.logger.Info("upload accepted", zap.String("tenant_id", doc.TenantID), zap.String("dataset_id", doc.DatasetID),
		zap.String("document_id", doc.ID), zap.String("job_id", job.ID), zap.Int64("size", doc.SizeBytes))

	err = u.queue.EnqueueIngest(ctx, models.IngestTask{
		JobID:      job.ID,
		TenantID:   doc.TenantID,
		DatasetID:  doc.DatasetID,
		DocumentID: doc.ID,
		Path:       doc.Path,
		MimeType:   doc.MimeType,
		Embedder:   up.Embedder,
	})
	if err != nil {
		return acc, fmt.Errorf("ingest %s: %w", doc.ID, err)
	}
	return acc, nil
}

// abandon retracts a document that never got a job, so a retry of the same
// bytes is not reported as a duplicate.
func (u *Uploader) abandon(ctx context.Context, doc *models.Document) {
	if err := u.store.SoftDeleteDocument(ctx, doc.ID); err != nil {
		u.logger.Warn("failed to retract document without job", zap.String("document_id", doc.ID), zap.Error(err))
	}
	u.discard(ctx, doc.Path)
}

func (u *Uploader) discard(ctx context.Context, path string) {
	if err := u.blobs.Delete(ctx, path); err != nil {
		u.logger.Warn("failed to remove orphaned upload", zap.String("op", OpBlobDelete), zap.String("path", path), zap.Error(err))
		u.metrics.RecordFallback(OpBlobDelete)
	}
}

// AcceptFile offers the file at path, keeping its base name.
func (u *Uploader) AcceptFile(ctx context.Context, tenantID, datasetID, path, embedder string) (*Accepted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return u.Accept(ctx, Upload{
		TenantID:  tenantID,
		DatasetID: datasetID,
		Filename:  filepath.Base(path),
		SourceURI: path,
		Embedder:  embedder,
		Content:   f,
	})
}

// RequestReindex creates a reindex job for a dataset and enqueues it. As with Accept,
// an inline run's failure is returned together with the job.
func (u *Uploader) RequestReindex(ctx context.Context, tenantID, datasetID, embedder string) (*models.Job, error) {
	ds, err := u.store.GetDataset(ctx, tenantID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", datasetID, err)
	}
	job, err := u.tracker.Create(ctx, ds.TenantID, models.JobReindex, models.JobPayload{DatasetID: ds.ID, Embedder: embedder})
	if err != nil {
		return nil, err
	}
	err = u.queue.EnqueueReindex(ctx, models.ReindexTask{
		JobID:     job.ID,
		TenantID:  ds.TenantID,
		DatasetID: ds.ID,
		Embedder:  embedder,
	})
	if err != nil {
		return job, fmt.Errorf("reindex %s: %w", ds.ID, err)
	}
	return job, nil
}

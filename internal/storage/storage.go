// Package storage defines the persistence interface for datasets, documents, chunks, jobs and query history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/raglite/internal/models"
)

// ErrNotFound is returned when a record does not exist or is soft-deleted.
var ErrNotFound = errors.New("not found")

// Storage defines relational persistence operations.
type Storage interface {
	// Dataset operations
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	GetDataset(ctx context.Context, tenantID, id string) (*models.Dataset, error)
	// ListDatasets lists live datasets; an empty tenantID means all tenants.
	ListDatasets(ctx context.Context, tenantID string) ([]*models.Dataset, error)
	SoftDeleteDataset(ctx context.Context, tenantID, id string) error

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindDuplicate(ctx context.Context, tenantID, datasetID, contentHash string) (*models.Document, error)
	ListLiveDocuments(ctx context.Context, tenantID, datasetID string) ([]*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, language string) error
	SoftDeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	ListChunksByDataset(ctx context.Context, tenantID, datasetID string) ([]*models.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	DeleteChunksByDataset(ctx context.Context, tenantID, datasetID string) error

	// Job operations
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error

	// Query history
	LogQuery(ctx context.Context, entry *models.QueryLog) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// Package models defines core data structures for datasets, documents, chunks, jobs and queries.
package models

import "time"

// DocumentStatus is the processing state of a document.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentSucceeded DocumentStatus = "succeeded"
	DocumentFailed    DocumentStatus = "failed"
)

// Document is an uploaded file owned by a tenant and dataset.
// ContentHash is unique per (TenantID, DatasetID) among documents that are not soft-deleted.
type Document struct {
	ID          string         `json:"id" db:"id"`
	TenantID    string         `json:"tenant_id" db:"tenant_id"`
	DatasetID   string         `json:"dataset_id" db:"dataset_id"`
	Path        string         `json:"path" db:"path"`
	Filename    string         `json:"filename" db:"filename"`
	SourceURI   string         `json:"source_uri,omitempty" db:"source_uri"`
	MimeType    string         `json:"mime_type,omitempty" db:"mime_type"`
	SizeBytes   int64          `json:"size_bytes" db:"size_bytes"`
	ContentHash string         `json:"content_hash" db:"content_hash"`
	Status      DocumentStatus `json:"status" db:"status"`
	Language    string         `json:"language,omitempty" db:"language"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// Chunk is a contiguous token window of a document's extracted text.
// ID is derived from (DocumentID, Start) so re-ingesting unchanged text yields the same ids.
type Chunk struct {
	ID         string                 `json:"id" db:"id"`
	TenantID   string                 `json:"tenant_id" db:"tenant_id"`
	DatasetID  string                 `json:"dataset_id" db:"dataset_id"`
	DocumentID string                 `json:"document_id" db:"document_id"`
	Text       string                 `json:"text" db:"text"`
	Start      int                    `json:"start" db:"start_offset"`
	End        int                    `json:"end" db:"end_offset"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

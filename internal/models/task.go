package models

// IngestTask asks the ingestion pipeline to process one document under an existing job.
type IngestTask struct {
	JobID      string `json:"job_id"`
	TenantID   string `json:"tenant_id"`
	DatasetID  string `json:"dataset_id"`
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
	MimeType   string `json:"mime_type,omitempty"`
	Embedder   string `json:"embedder,omitempty"`
}

// ReindexTask asks the reindex orchestrator to rebuild one dataset under an existing job.
type ReindexTask struct {
	JobID     string `json:"job_id"`
	TenantID  string `json:"tenant_id"`
	DatasetID string `json:"dataset_id"`
	Embedder  string `json:"embedder,omitempty"`
}

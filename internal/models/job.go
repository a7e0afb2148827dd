package models

import "time"

// JobType identifies the kind of long-running work a Job tracks.
type JobType string

const (
	JobIngest  JobType = "ingest"
	JobReindex JobType = "reindex"
)

// JobStatus is a state of the job state machine: pending -> running -> succeeded|failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobPayload holds the job's target ids and chosen embedder.
type JobPayload struct {
	DatasetID  string `json:"dataset_id"`
	DocumentID string `json:"document_id,omitempty"`
	Embedder   string `json:"embedder,omitempty"`
}

// Job persists progress, status and error of an ingest or reindex run.
type Job struct {
	ID        string     `json:"id" db:"id"`
	TenantID  string     `json:"tenant_id" db:"tenant_id"`
	Type      JobType    `json:"type" db:"type"`
	Status    JobStatus  `json:"status" db:"status"`
	Progress  int        `json:"progress" db:"progress"`
	Error     string     `json:"error,omitempty" db:"error"`
	Payload   JobPayload `json:"payload" db:"payload"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

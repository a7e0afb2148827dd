package models

import "time"

// Dataset is a named collection of documents within a tenant.
type Dataset struct {
	ID          string       `json:"id" db:"id"`
	TenantID    string       `json:"tenant_id" db:"tenant_id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description,omitempty" db:"description"`
	Embedder    string       `json:"embedder,omitempty" db:"embedder"`
	Rerank      RerankConfig `json:"rerank" db:"-"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// RerankConfig is the per-dataset rerank setting read by the query pipeline.
// TopK is the candidate window size; zero means the whole result list.
type RerankConfig struct {
	Enabled  bool     `json:"enabled"`
	Model    string   `json:"model,omitempty"`
	TopK     int      `json:"top_k,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
}

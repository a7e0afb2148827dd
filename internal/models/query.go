package models

import "fmt"

const (
	// DefaultK is the number of hits returned when a request leaves K unset.
	DefaultK = 5
	// MaxK caps the number of hits a single request may ask for.
	MaxK = 50
)

// QueryRequest is a hybrid retrieval request scoped to one tenant.
type QueryRequest struct {
	Query      string                 `json:"query"`
	DatasetIDs []string               `json:"dataset_ids,omitempty"`
	K          int                    `json:"k,omitempty"`
	Rewrite    *bool                  `json:"rewrite,omitempty"`
	MinScore   *float64               `json:"min_score,omitempty"`
	Embedder   string                 `json:"embedder,omitempty"`
	Answer     bool                   `json:"answer,omitempty"`
	ChatModel  string                 `json:"chat_model,omitempty"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
}

// Validate ensures the request has a query and normalizes K into [1, MaxK].
func (q *QueryRequest) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = DefaultK
	}
	if q.K > MaxK {
		q.K = MaxK
	}
	return nil
}

// RewriteEnabled reports whether query rewrite should run; it defaults to true.
func (q *QueryRequest) RewriteEnabled() bool {
	return q.Rewrite == nil || *q.Rewrite
}

// QueryResponse is the result of the hybrid query pipeline.
type QueryResponse struct {
	Query        string `json:"query"`
	Rewritten    string `json:"rewritten,omitempty"`
	Results      []*Hit `json:"results"`
	Reranked     bool   `json:"reranked"`
	RerankModel  string `json:"rerank_model,omitempty"`
	Answer       string `json:"answer,omitempty"`
	QueryTimeMS  int64  `json:"query_time_ms"`
	RetrievalK   int    `json:"retrieval_k"`
	LexicalCount int    `json:"lexical_count"`
	VectorCount  int    `json:"vector_count"`
}

// QueryLog is one best-effort query history record.
type QueryLog struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	DatasetIDs  []string `json:"dataset_ids"`
	Query       string   `json:"query"`
	Rewritten   string   `json:"rewritten,omitempty"`
	ResultCount int      `json:"result_count"`
	LatencyMS   int64    `json:"latency_ms"`
}

package models

// Hit is a single retrieval result keyed by chunk id.
// Score is higher-is-better; its scale depends on the source (vector, lexical, merged or reranked).
type Hit struct {
	ID         string                 `json:"chunk_id"`
	DocumentID string                 `json:"document_id"`
	DatasetID  string                 `json:"dataset_id"`
	Score      float64                `json:"score"`
	Text       string                 `json:"text"`
	SourceURI  string                 `json:"source_uri,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Clone returns a shallow copy of h so score changes do not leak to other result lists.
func (h *Hit) Clone() *Hit {
	c := *h
	return &c
}

// ChunkPayload is the payload stored alongside a chunk in the vector and lexical indexes.
type ChunkPayload struct {
	TenantID   string `json:"tenant_id"`
	DatasetID  string `json:"dataset_id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	SourceURI  string `json:"source_uri,omitempty"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// HitFromPayload builds a Hit from an index payload.
func HitFromPayload(id string, score float64, p ChunkPayload) *Hit {
	return &Hit{
		ID:         id,
		DocumentID: p.DocumentID,
		DatasetID:  p.DatasetID,
		Score:      score,
		Text:       p.Text,
		SourceURI:  p.SourceURI,
		Meta:       map[string]interface{}{"start": p.Start, "end": p.End},
	}
}

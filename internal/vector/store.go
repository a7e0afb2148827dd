// Package vector stores chunk embeddings in one collection per (tenant, dataset) and
// answers top-k similarity queries across datasets.
package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/raglite/internal/models"
)

// Item is one point written to a collection.
type Item struct {
	ID      string
	Vector  []float32
	Payload models.ChunkPayload
}

// Store is the vector index capability. Collections are created lazily on the first
// Upsert with the dimension of the first vector.
type Store interface {
	Upsert(ctx context.Context, tenantID, datasetID string, items []Item) error
	// Query searches each dataset independently and returns the global top-k by score.
	// An all-zero query vector returns no hits.
	Query(ctx context.Context, tenantID string, datasetIDs []string, vector []float32, k int, filters map[string]interface{}) ([]*models.Hit, error)
	DeleteDataset(ctx context.Context, tenantID, datasetID string) error
	DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error
	Close() error
}

// CollectionName returns the collection holding a (tenant, dataset) pair.
func CollectionName(tenantID, datasetID string) string {
	return tenantID + "__" + datasetID
}

// Filters supported by every backend. Other keys are ignored.
const (
	FilterDocumentID = "document_id"
	FilterSourceURI  = "source_uri"
)

// filterValue returns the string value of a supported filter key.
func filterValue(filters map[string]interface{}, key string) (string, bool) {
	v, ok := filters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	return s, s != ""
}

func matchFilters(p models.ChunkPayload, filters map[string]interface{}) bool {
	if v, ok := filterValue(filters, FilterDocumentID); ok && p.DocumentID != v {
		return false
	}
	if v, ok := filterValue(filters, FilterSourceURI); ok && p.SourceURI != v {
		return false
	}
	return true
}

// topK sorts hits by score descending and keeps the first k. Ties keep input order.
func topK(hits []*models.Hit, k int) []*models.Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

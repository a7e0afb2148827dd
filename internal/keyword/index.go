// Package keyword provides lexical (BM25-style) indexing and search of chunk text,
// partitioned by (tenant, dataset).
package keyword

import (
	"context"
	"sort"
	"strings"

	"github.com/hyperjump/raglite/internal/models"
)

// Item is one chunk written to the lexical index.
type Item struct {
	ID      string
	Payload models.ChunkPayload
}

// Index is the lexical index capability. Writes for the same (tenant, dataset)
// are serialized; queries over different keys may run concurrently.
type Index interface {
	// Index adds or replaces items by id.
	Index(ctx context.Context, tenantID, datasetID string, items []Item) error
	// Search returns the global top-k hits across datasetIDs.
	Search(ctx context.Context, tenantID string, datasetIDs []string, query string, k int) ([]*models.Hit, error)
	DeleteDataset(ctx context.Context, tenantID, datasetID string) error
	DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error
	// Rebuild replaces the whole (tenant, dataset) index with items.
	Rebuild(ctx context.Context, tenantID, datasetID string, items []Item) error
	Close() error
}

// Backend names reported by Name.
const (
	BackendMemory     = "memory"
	BackendOpenSearch = "opensearch"
)

// Name reports which backend idx is, or "disabled" for a nil index.
func Name(idx Index) string {
	switch idx.(type) {
	case *MemoryIndex:
		return BackendMemory
	case *OpenSearchIndex:
		return BackendOpenSearch
	case nil:
		return "disabled"
	default:
		return "custom"
	}
}

// ItemsFromChunks converts stored chunks into index items.
func ItemsFromChunks(chunks []*models.Chunk, sourceURI func(documentID string) string) []Item {
	items := make([]Item, 0, len(chunks))
	for _, c := range chunks {
		p := models.ChunkPayload{
			TenantID:   c.TenantID,
			DatasetID:  c.DatasetID,
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
		}
		if sourceURI != nil {
			p.SourceURI = sourceURI(c.DocumentID)
		}
		items = append(items, Item{ID: c.ID, Payload: p})
	}
	return items
}

func topK(hits []*models.Hit, k int) []*models.Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func blankQuery(q string) bool {
	return strings.TrimSpace(q) == ""
}

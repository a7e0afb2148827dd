package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

// MemoryStore is an in-process vector store using brute-force cosine search.
// Suitable for tests, single-node deployments and small datasets.
type MemoryStore struct {
	collections map[string]*memoryCollection
	mu          sync.RWMutex
}

type memoryCollection struct {
	dimensions int
	order      []string
	points     map[string]Item
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

// Upsert inserts or replaces points by id. Vectors must match the collection dimension.
func (m *MemoryStore) Upsert(ctx context.Context, tenantID, datasetID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	name := CollectionName(tenantID, datasetID)
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{dimensions: len(items[0].Vector), points: make(map[string]Item)}
		m.collections[name] = c
	}
	for _, it := range items {
		if len(it.Vector) != c.dimensions {
			return fmt.Errorf("vector dimension mismatch in %s: got %d, expected %d", name, len(it.Vector), c.dimensions)
		}
	}
	for _, it := range items {
		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		it.Vector = vec
		if _, exists := c.points[it.ID]; !exists {
			c.order = append(c.order, it.ID)
		}
		c.points[it.ID] = it
	}
	return nil
}

// Query returns the global top-k hits across datasetIDs by cosine similarity.
func (m *MemoryStore) Query(ctx context.Context, tenantID string, datasetIDs []string, vector []float32, k int, filters map[string]interface{}) ([]*models.Hit, error) {
	if k <= 0 || utils.IsZeroVector(vector) {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*models.Hit
	for _, ds := range datasetIDs {
		c, ok := m.collections[CollectionName(tenantID, ds)]
		if !ok || c.dimensions != len(vector) {
			continue
		}
		var perDataset []*models.Hit
		for _, id := range c.order {
			p := c.points[id]
			if utils.IsZeroVector(p.Vector) || !matchFilters(p.Payload, filters) {
				continue
			}
			perDataset = append(perDataset, models.HitFromPayload(id, utils.Cosine(vector, p.Vector), p.Payload))
		}
		hits = append(hits, topK(perDataset, k)...)
	}
	return topK(hits, k), nil
}

// DeleteDataset drops the dataset's collection.
func (m *MemoryStore) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, CollectionName(tenantID, datasetID))
	return nil
}

// DeleteDocument removes every point of documentID from the dataset's collection.
func (m *MemoryStore) DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[CollectionName(tenantID, datasetID)]
	if !ok {
		return nil
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if c.points[id].Payload.DocumentID == documentID {
			delete(c.points, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return nil
}

// Size returns the number of points in a dataset's collection.
func (m *MemoryStore) Size(tenantID, datasetID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[CollectionName(tenantID, datasetID)]; ok {
		return len(c.points)
	}
	return 0
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}

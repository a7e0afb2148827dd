package keyword

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hyperjump/raglite/internal/models"
)

// MemoryIndex keeps one in-memory bleve index per (tenant, dataset).
// The registry mutex only guards key lookup; each key has its own RWMutex so
// writers to one dataset never block readers of another.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	mapping mapping.IndexMapping
}

type memoryEntry struct {
	mu    sync.RWMutex
	index bleve.Index
	items map[string]Item
}

// bleveDoc is the indexed form of a chunk.
type bleveDoc struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
}

// NewMemoryIndex creates an empty in-process lexical index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]*memoryEntry),
		mapping: newChunkMapping(),
	}
}

func newChunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer lowercases and tokenizes without stemming so exact terms match.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false
	docMapping.AddFieldMappingsAt("text", text)
	docMapping.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	im.DefaultMapping = docMapping
	return im
}

func memoryKey(tenantID, datasetID string) string {
	return tenantID + "\x00" + datasetID
}

// entry returns the key's entry, creating it when create is true.
func (m *MemoryIndex) entry(tenantID, datasetID string, create bool) (*memoryEntry, error) {
	key := memoryKey(tenantID, datasetID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e, nil
	}
	if !create {
		return nil, nil
	}
	idx, err := bleve.NewMemOnly(m.mapping)
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	e := &memoryEntry{index: idx, items: make(map[string]Item)}
	m.entries[key] = e
	return e, nil
}

// Index adds items to the dataset index, replacing any with the same id.
func (m *MemoryIndex) Index(ctx context.Context, tenantID, datasetID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	e, err := m.entry(tenantID, datasetID, true)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := indexBatch(e.index, items); err != nil {
		return err
	}
	for _, it := range items {
		e.items[it.ID] = it
	}
	return nil
}

func indexBatch(idx bleve.Index, items []Item) error {
	batch := idx.NewBatch()
	for _, it := range items {
		doc := bleveDoc{Text: it.Payload.Text, DocumentID: it.Payload.DocumentID}
		if err := batch.Index(it.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", it.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("lexical batch: %w", err)
	}
	return nil
}

// Search runs a match query against each dataset and keeps the global top-k.
func (m *MemoryIndex) Search(ctx context.Context, tenantID string, datasetIDs []string, query string, k int) ([]*models.Hit, error) {
	if k <= 0 || blankQuery(query) {
		return nil, nil
	}
	var hits []*models.Hit
	for _, ds := range datasetIDs {
		e, err := m.entry(tenantID, ds, false)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		found, err := e.search(query, k)
		if err != nil {
			return nil, fmt.Errorf("lexical search %s: %w", ds, err)
		}
		hits = append(hits, found...)
	}
	return topK(hits, k), nil
}

func (e *memoryEntry) search(query string, k int) ([]*models.Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = k
	res, err := e.index.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		it, ok := e.items[h.ID]
		if !ok {
			continue
		}
		out = append(out, models.HitFromPayload(h.ID, h.Score, it.Payload))
	}
	return out, nil
}

// DeleteDataset drops the dataset index.
func (m *MemoryIndex) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	key := memoryKey(tenantID, datasetID)
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Close()
}

// DeleteDocument removes the document's chunks by rebuilding the dataset index from
// the remaining items. Cost is proportional to the dataset size.
func (m *MemoryIndex) DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error {
	e, err := m.entry(tenantID, datasetID, false)
	if err != nil || e == nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := make([]Item, 0, len(e.items))
	for _, it := range e.items {
		if it.Payload.DocumentID != documentID {
			remaining = append(remaining, it)
		}
	}
	if len(remaining) == len(e.items) {
		return nil
	}
	return e.replace(m.mapping, remaining)
}

// Rebuild replaces the dataset index with items.
func (m *MemoryIndex) Rebuild(ctx context.Context, tenantID, datasetID string, items []Item) error {
	e, err := m.entry(tenantID, datasetID, true)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replace(m.mapping, items)
}

// replace swaps in a fresh bleve index holding items. Caller holds e.mu.
func (e *memoryEntry) replace(im mapping.IndexMapping, items []Item) error {
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}
	if len(items) > 0 {
		if err := indexBatch(idx, items); err != nil {
			_ = idx.Close()
			return err
		}
	}
	old := e.index
	e.index = idx
	e.items = make(map[string]Item, len(items))
	for _, it := range items {
		e.items[it.ID] = it
	}
	return old.Close()
}

// Size returns the number of items indexed for (tenant, dataset).
func (m *MemoryIndex) Size(tenantID, datasetID string) int {
	e, _ := m.entry(tenantID, datasetID, false)
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

// Close releases every dataset index.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, e := range m.entries {
		e.mu.Lock()
		if err := e.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.mu.Unlock()
		delete(m.entries, key)
	}
	return firstErr
}

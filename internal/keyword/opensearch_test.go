package keyword

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenSearch implements the handful of endpoints the adapter uses.
type fakeOpenSearch struct {
	mu      sync.Mutex
	indices map[string]map[string]map[string]any
	created []string
	healthy bool
}

func newFakeOpenSearch() *fakeOpenSearch {
	return &fakeOpenSearch{indices: make(map[string]map[string]map[string]any), healthy: true}
}

func (f *fakeOpenSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	switch {
	case path == "":
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	case path == "_cluster/health":
		if !f.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"green"}`))
	case len(parts) == 1 && r.Method == http.MethodHead:
		if _, ok := f.indices[parts[0]]; !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		f.indices[parts[0]] = make(map[string]map[string]any)
		f.created = append(f.created, parts[0])
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if _, ok := f.indices[parts[0]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		delete(f.indices, parts[0])
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case len(parts) == 2 && parts[1] == "_bulk":
		f.bulk(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "_search":
		f.search(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "_delete_by_query":
		var body struct {
			Query struct {
				Term map[string]string `json:"term"`
			} `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		docs := f.indices[parts[0]]
		for id, src := range docs {
			if src["document_id"] == body.Query.Term["document_id"] {
				delete(docs, id)
			}
		}
		_, _ = w.Write([]byte(`{"deleted":1}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeOpenSearch) createdIndices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func (f *fakeOpenSearch) bulk(w http.ResponseWriter, r *http.Request, index string) {
	docs, ok := f.indices[index]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
		return
	}
	sc := bufio.NewScanner(r.Body)
	for sc.Scan() {
		var action map[string]map[string]string
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !sc.Scan() {
			break
		}
		var src map[string]any
		_ = json.Unmarshal(sc.Bytes(), &src)
		docs[action["index"]["_id"]] = src
	}
	_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
}

func (f *fakeOpenSearch) search(w http.ResponseWriter, r *http.Request, index string) {
	var body struct {
		Query struct {
			MultiMatch struct {
				Query string `json:"query"`
			} `json:"multi_match"`
		} `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	term := strings.ToLower(body.Query.MultiMatch.Query)

	type hit struct {
		ID     string         `json:"_id"`
		Score  float64        `json:"_score"`
		Source map[string]any `json:"_source"`
	}
	var hits []hit
	for id, src := range f.indices[index] {
		text, _ := src["text"].(string)
		if n := strings.Count(strings.ToLower(text), term); n > 0 {
			hits = append(hits, hit{ID: id, Score: float64(n), Source: src})
		}
	}
	out := map[string]any{"hits": map[string]any{"hits": hits}}
	_ = json.NewEncoder(w).Encode(out)
}

func newTestOpenSearch(t *testing.T) (*OpenSearchIndex, *fakeOpenSearch) {
	t.Helper()
	fake := newFakeOpenSearch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	idx, err := NewOpenSearchIndex(OpenSearchOptions{URL: srv.URL, Prefix: "rag"})
	require.NoError(t, err)
	return idx, fake
}

func TestOpenSearchIndex_IndexName(t *testing.T) {
	idx, err := NewOpenSearchIndex(OpenSearchOptions{URL: "http://localhost:9200", Prefix: "RAG"})
	require.NoError(t, err)
	assert.Equal(t, "rag-acme-corp-ds1", idx.IndexName("Acme Corp", "DS1"))

	def, err := NewOpenSearchIndex(OpenSearchOptions{URL: "http://localhost:9200"})
	require.NoError(t, err)
	assert.Equal(t, "raglite-t-d", def.IndexName("t", "d"))
}

func TestOpenSearchIndex_Lifecycle(t *testing.T) {
	idx, fake := newTestOpenSearch(t)
	ctx := context.Background()

	require.NoError(t, idx.Ping(ctx))

	items := []Item{
		chunk("c1", "ds1", "d1", "alpha alpha beta"),
		chunk("c2", "ds1", "d2", "alpha gamma"),
	}
	require.NoError(t, idx.Index(ctx, "acme", "ds1", items))
	require.NoError(t, idx.Index(ctx, "acme", "ds1", []Item{chunk("c3", "ds1", "d2", "delta")}))
	assert.Equal(t, []string{"rag-acme-ds1"}, fake.createdIndices(), "index should be created once")

	hits, err := idx.Search(ctx, "acme", []string{"ds1", "missing"}, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ID)
	assert.Equal(t, 2.0, hits[0].Score)
	assert.Equal(t, "d1", hits[0].DocumentID)
	assert.Equal(t, "ds1", hits[0].DatasetID)

	require.NoError(t, idx.DeleteDocument(ctx, "acme", "ds1", "d2"))
	hits, err = idx.Search(ctx, "acme", []string{"ds1"}, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ID)

	require.NoError(t, idx.Rebuild(ctx, "acme", "ds1", []Item{chunk("c9", "ds1", "d9", "alpha")}))
	hits, err = idx.Search(ctx, "acme", []string{"ds1"}, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c9", hits[0].ID)

	require.NoError(t, idx.DeleteDataset(ctx, "acme", "ds1"))
	require.NoError(t, idx.DeleteDataset(ctx, "acme", "ds1"), "missing index delete is tolerated")
	require.NoError(t, idx.DeleteDocument(ctx, "acme", "ds1", "d1"), "missing index document delete is a no-op")
	hits, err = idx.Search(ctx, "acme", []string{"ds1"}, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	off := false
	assert.Nil(t, Select(ctx, config.LexicalConfig{Enabled: &off}, nil))
	assert.Equal(t, BackendMemory, Name(Select(ctx, config.LexicalConfig{}, nil)))

	fake := newFakeOpenSearch()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	assert.Equal(t, BackendOpenSearch, Name(Select(ctx, config.LexicalConfig{OpenSearchURL: srv.URL}, nil)))

	fake.mu.Lock()
	fake.healthy = false
	fake.mu.Unlock()
	assert.Equal(t, BackendMemory, Name(Select(ctx, config.LexicalConfig{OpenSearchURL: srv.URL}, nil)),
		"unhealthy cluster falls back to the in-process index")
}

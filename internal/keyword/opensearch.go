package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hyperjump/raglite/internal/models"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// OpenSearchIndex stores chunks in one BM25 index per (tenant, dataset) named
// "<prefix>-<tenant>-<dataset>".
type OpenSearchIndex struct {
	client *opensearch.Client
	prefix string

	mu    sync.Mutex
	known map[string]bool
}

// OpenSearchOptions configures the remote client.
type OpenSearchOptions struct {
	URL      string
	Username string
	Password string
	Prefix   string
	// Transport overrides the HTTP transport (timeouts, TLS).
	Transport http.RoundTripper
}

// NewOpenSearchIndex creates a client. It does not contact the cluster; see Ping.
func NewOpenSearchIndex(opts OpenSearchOptions) (*OpenSearchIndex, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{opts.URL},
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: opts.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "raglite"
	}
	return &OpenSearchIndex{client: client, prefix: prefix, known: make(map[string]bool)}, nil
}

// IndexName returns the remote index for (tenant, dataset).
func (o *OpenSearchIndex) IndexName(tenantID, datasetID string) string {
	name := fmt.Sprintf("%s-%s-%s", o.prefix, tenantID, datasetID)
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// Ping checks cluster health.
func (o *OpenSearchIndex) Ping(ctx context.Context) error {
	res, err := opensearchapi.ClusterHealthRequest{}.Do(ctx, o.client)
	if err != nil {
		return err
	}
	return checkResponse(res, "cluster health")
}

var indexSettings = map[string]any{
	"settings": map[string]any{
		"index": map[string]any{
			"similarity": map[string]any{"default": map[string]any{"type": "BM25"}},
		},
	},
	"mappings": map[string]any{
		"properties": map[string]any{
			"text":        map[string]any{"type": "text"},
			"tenant_id":   map[string]any{"type": "keyword"},
			"dataset_id":  map[string]any{"type": "keyword"},
			"document_id": map[string]any{"type": "keyword"},
			"source_uri":  map[string]any{"type": "keyword"},
			"meta":        map[string]any{"type": "object"},
		},
	},
}

func (o *OpenSearchIndex) ensureIndex(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.known[name] {
		return nil
	}
	exists, err := o.exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		body, err := json.Marshal(indexSettings)
		if err != nil {
			return err
		}
		res, err := opensearchapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(body)}.Do(ctx, o.client)
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		if err := checkResponse(res, "create index "+name); err != nil {
			return err
		}
	}
	o.known[name] = true
	return nil
}

func (o *OpenSearchIndex) exists(ctx context.Context, name string) (bool, error) {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, o.client)
	if err != nil {
		return false, fmt.Errorf("index exists %s: %w", name, err)
	}
	defer drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("index exists %s: status %d", name, res.StatusCode)
	}
}

type osSource struct {
	Text       string         `json:"text"`
	TenantID   string         `json:"tenant_id"`
	DatasetID  string         `json:"dataset_id"`
	DocumentID string         `json:"document_id"`
	SourceURI  string         `json:"source_uri,omitempty"`
	Meta       map[string]int `json:"meta,omitempty"`
}

// Index bulk-indexes items, replacing documents with the same id.
func (o *OpenSearchIndex) Index(ctx context.Context, tenantID, datasetID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	name := o.IndexName(tenantID, datasetID)
	if err := o.ensureIndex(ctx, name); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		action := map[string]any{"index": map[string]any{"_index": name, "_id": it.ID}}
		src := osSource{
			Text:       it.Payload.Text,
			TenantID:   tenantID,
			DatasetID:  datasetID,
			DocumentID: it.Payload.DocumentID,
			SourceURI:  it.Payload.SourceURI,
			Meta:       map[string]int{"start": it.Payload.Start, "end": it.Payload.End},
		}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(src); err != nil {
			return err
		}
	}
	res, err := opensearchapi.BulkRequest{Index: name, Body: &buf, Refresh: "true"}.Do(ctx, o.client)
	if err != nil {
		return fmt.Errorf("bulk index %s: %w", name, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("bulk index %s: status %d", name, res.StatusCode)
	}
	var out struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("bulk index %s: decode: %w", name, err)
	}
	if out.Errors {
		return fmt.Errorf("bulk index %s: some items failed", name)
	}
	return nil
}

type osSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source osSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search queries each dataset index and keeps the global top-k.
func (o *OpenSearchIndex) Search(ctx context.Context, tenantID string, datasetIDs []string, query string, k int) ([]*models.Hit, error) {
	if k <= 0 || blankQuery(query) {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"size": k,
		"query": map[string]any{
			"multi_match": map[string]any{"query": query, "fields": []string{"text"}},
		},
	})
	if err != nil {
		return nil, err
	}
	var hits []*models.Hit
	for _, ds := range datasetIDs {
		name := o.IndexName(tenantID, ds)
		exists, err := o.exists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		found, err := o.searchIndex(ctx, name, body)
		if err != nil {
			return nil, err
		}
		for _, h := range found.Hits.Hits {
			p := models.ChunkPayload{
				TenantID:   tenantID,
				DatasetID:  h.Source.DatasetID,
				DocumentID: h.Source.DocumentID,
				Text:       h.Source.Text,
				SourceURI:  h.Source.SourceURI,
				Start:      h.Source.Meta["start"],
				End:        h.Source.Meta["end"],
			}
			if p.DatasetID == "" {
				p.DatasetID = ds
			}
			hits = append(hits, models.HitFromPayload(h.ID, h.Score, p))
		}
	}
	return topK(hits, k), nil
}

func (o *OpenSearchIndex) searchIndex(ctx context.Context, name string, body []byte) (*osSearchResponse, error) {
	res, err := opensearchapi.SearchRequest{Index: []string{name}, Body: bytes.NewReader(body)}.Do(ctx, o.client)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("search %s: status %d", name, res.StatusCode)
	}
	var out osSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search %s: decode: %w", name, err)
	}
	return &out, nil
}

// DeleteDataset removes the dataset index if it exists.
func (o *OpenSearchIndex) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	name := o.IndexName(tenantID, datasetID)
	o.mu.Lock()
	delete(o.known, name)
	o.mu.Unlock()

	ignore := true
	res, err := opensearchapi.IndicesDeleteRequest{Index: []string{name}, IgnoreUnavailable: &ignore}.Do(ctx, o.client)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete index %s: status %d", name, res.StatusCode)
	}
	return nil
}

// DeleteDocument removes the document's chunks by query.
func (o *OpenSearchIndex) DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error {
	name := o.IndexName(tenantID, datasetID)
	exists, err := o.exists(ctx, name)
	if err != nil || !exists {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"document_id": documentID}},
	})
	if err != nil {
		return err
	}
	refresh := true
	res, err := opensearchapi.DeleteByQueryRequest{Index: []string{name}, Body: bytes.NewReader(body), Refresh: &refresh}.Do(ctx, o.client)
	if err != nil {
		return fmt.Errorf("delete by query %s: %w", name, err)
	}
	return checkResponse(res, "delete by query "+name)
}

// Rebuild recreates the dataset index holding only items.
func (o *OpenSearchIndex) Rebuild(ctx context.Context, tenantID, datasetID string, items []Item) error {
	if err := o.DeleteDataset(ctx, tenantID, datasetID); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return o.Index(ctx, tenantID, datasetID, items)
}

// Close is a no-op; the client holds no resources beyond its transport.
func (o *OpenSearchIndex) Close() error { return nil }

func checkResponse(res *opensearchapi.Response, op string) error {
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("%s: status %d", op, res.StatusCode)
	}
	return nil
}

func drain(res *opensearchapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

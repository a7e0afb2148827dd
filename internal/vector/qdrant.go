package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/pkg/utils"
)

// errCollectionMissing marks a 404 from Qdrant for a collection that was never created.
var errCollectionMissing = errors.New("qdrant collection not found")

// QdrantStore is a minimal REST client to Qdrant. It uses cosine distance and
// creates collections on first upsert.
type QdrantStore struct {
	url    string
	apiKey string
	client *http.Client
	known  map[string]bool
	mu     sync.Mutex
}

// NewQdrantStore creates a store for the Qdrant server at baseURL. client carries the timeout.
func NewQdrantStore(baseURL, apiKey string, client *http.Client) *QdrantStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &QdrantStore{
		url:    strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		client: client,
		known:  make(map[string]bool),
	}
}

func (s *QdrantStore) collectionURL(name string, parts ...string) string {
	u := s.url + "/collections/" + url.PathEscape(name)
	if len(parts) > 0 {
		u += "/" + strings.Join(parts, "/")
	}
	return u
}

// Ping checks that the server answers.
func (s *QdrantStore) Ping(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, s.url+"/collections", nil, nil)
}

func (s *QdrantStore) ensureCollection(ctx context.Context, name string, dimension int) error {
	s.mu.Lock()
	ok := s.known[name]
	s.mu.Unlock()
	if ok {
		return nil
	}

	err := s.do(ctx, http.MethodGet, s.collectionURL(name), nil, nil)
	if errors.Is(err, errCollectionMissing) {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		err = s.do(ctx, http.MethodPut, s.collectionURL(name), body, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
	return nil
}

// Upsert writes points, creating the collection with the first vector's dimension if needed.
func (s *QdrantStore) Upsert(ctx context.Context, tenantID, datasetID string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	name := CollectionName(tenantID, datasetID)
	if err := s.ensureCollection(ctx, name, len(items[0].Vector)); err != nil {
		return err
	}
	points := make([]map[string]any, len(items))
	for i, it := range items {
		points[i] = map[string]any{
			"id":      it.ID,
			"vector":  it.Vector,
			"payload": it.Payload,
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(name, "points")+"?wait=true", map[string]any{"points": points}, nil)
}

func qdrantFilter(filters map[string]interface{}) map[string]any {
	var must []map[string]any
	for _, key := range []string{FilterDocumentID, FilterSourceURI} {
		if v, ok := filterValue(filters, key); ok {
			must = append(must, map[string]any{"key": key, "match": map[string]any{"value": v}})
		}
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any                 `json:"id"`
		Score   float64             `json:"score"`
		Payload models.ChunkPayload `json:"payload"`
	} `json:"result"`
}

// Query searches every dataset's collection and keeps the global top-k. Missing
// collections contribute no hits; an error is returned only if every search failed.
func (s *QdrantStore) Query(ctx context.Context, tenantID string, datasetIDs []string, vector []float32, k int, filters map[string]interface{}) ([]*models.Hit, error) {
	if k <= 0 || utils.IsZeroVector(vector) {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if f := qdrantFilter(filters); f != nil {
		req["filter"] = f
	}

	var (
		hits    []*models.Hit
		lastErr error
		failed  int
	)
	for _, ds := range datasetIDs {
		var resp qdrantSearchResponse
		err := s.do(ctx, http.MethodPost, s.collectionURL(CollectionName(tenantID, ds), "points", "search"), req, &resp)
		if errors.Is(err, errCollectionMissing) {
			continue
		}
		if err != nil {
			lastErr = err
			failed++
			continue
		}
		for _, r := range resp.Result {
			hits = append(hits, models.HitFromPayload(fmt.Sprint(r.ID), r.Score, r.Payload))
		}
	}
	if failed > 0 && failed == len(datasetIDs) {
		return nil, fmt.Errorf("qdrant search failed: %w", lastErr)
	}
	return topK(hits, k), nil
}

// DeleteDataset drops the dataset's collection. A missing collection is not an error.
func (s *QdrantStore) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	name := CollectionName(tenantID, datasetID)
	s.mu.Lock()
	delete(s.known, name)
	s.mu.Unlock()
	err := s.do(ctx, http.MethodDelete, s.collectionURL(name), nil, nil)
	if errors.Is(err, errCollectionMissing) {
		return nil
	}
	return err
}

// DeleteDocument deletes the document's points by payload filter.
func (s *QdrantStore) DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) error {
	body := map[string]any{
		"filter": qdrantFilter(map[string]interface{}{FilterDocumentID: documentID}),
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL(CollectionName(tenantID, datasetID), "points", "delete")+"?wait=true", body, nil)
	if errors.Is(err, errCollectionMissing) {
		return nil
	}
	return err
}

// Close is a no-op; the HTTP client is shared.
func (s *QdrantStore) Close() error {
	return nil
}

func (s *QdrantStore) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errCollectionMissing
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, u, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

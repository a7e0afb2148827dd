package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/embedding"
	"github.com/hyperjump/raglite/internal/keyword"
	"github.com/hyperjump/raglite/internal/metrics"
	"github.com/hyperjump/raglite/internal/models"
	"github.com/hyperjump/raglite/internal/rerank"
	"github.com/hyperjump/raglite/internal/storage"
	"github.com/hyperjump/raglite/internal/vector"
)

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(_ context.Context, _, name string, texts []string) embedding.Result {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return embedding.Result{Vectors: out, Model: name}
}

var errVectorsDown = errors.New("vector service unreachable")

type brokenVectors struct{}

func (brokenVectors) Upsert(context.Context, string, string, []vector.Item) error { return errVectorsDown }
func (brokenVectors) Query(context.Context, string, []string, []float32, int, map[string]interface{}) ([]*models.Hit, error) {
	return nil, errVectorsDown
}
func (brokenVectors) DeleteDataset(context.Context, string, string) error          { return errVectorsDown }
func (brokenVectors) DeleteDocument(context.Context, string, string, string) error { return errVectorsDown }
func (brokenVectors) Close() error                                                 { return nil }

// historyStore counts query log writes and can be told to fail them.
type historyStore struct {
	storage.Storage
	logged atomic.Int32
	fail   bool
}

func (s *historyStore) LogQuery(ctx context.Context, entry *models.QueryLog) error {
	if s.fail {
		return errors.New("history table locked")
	}
	s.logged.Add(1)
	return s.Storage.LogQuery(ctx, entry)
}

type fakeReranker struct {
	got []rerank.Options
}

// Rerank reverses the window so the effect is visible.
func (f *fakeReranker) Rerank(_ context.Context, _, _ string, hits []*models.Hit, opts rerank.Options) ([]*models.Hit, bool, string) {
	f.got = append(f.got, opts)
	out := make([]*models.Hit, len(hits))
	for i, h := range hits {
		out[len(hits)-1-i] = h
	}
	return out, true, opts.Model
}

type fakeAnswerer struct{ question string }

func (f *fakeAnswerer) Answer(_ context.Context, _, question string, hits []*models.Hit, _ string) (string, bool) {
	f.question = question
	return "answer from " + hits[0].ID, true
}

type harness struct {
	store   *historyStore
	dataset *models.Dataset
	vectors *vector.MemoryStore
	lexical *keyword.MemoryIndex
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, rc models.RerankConfig) *harness {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ds := &models.Dataset{TenantID: "acme", Name: "handbook", Rerank: rc}
	if err := db.CreateDataset(context.Background(), ds); err != nil {
		t.Fatal(err)
	}
	lexical := keyword.NewMemoryIndex()
	t.Cleanup(func() { lexical.Close() })
	return &harness{
		store:   &historyStore{Storage: db},
		dataset: ds,
		vectors: vector.NewMemoryStore(),
		lexical: lexical,
		metrics: metrics.NewMetrics(),
	}
}

func (h *harness) payload(id, text string) models.ChunkPayload {
	return models.ChunkPayload{TenantID: "acme", DatasetID: h.dataset.ID, DocumentID: "doc-" + id, Text: text}
}

func (h *harness) indexText(t *testing.T, id, text string) {
	t.Helper()
	if err := h.lexical.Index(context.Background(), "acme", h.dataset.ID, []keyword.Item{{ID: id, Payload: h.payload(id, text)}}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) indexVector(t *testing.T, id string, vec []float32) {
	t.Helper()
	if err := h.vectors.Upsert(context.Background(), "acme", h.dataset.ID, []vector.Item{{ID: id, Vector: vec, Payload: h.payload(id, id)}}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) engine(vectors vector.Store, opts ...Option) *Engine {
	opts = append([]Option{WithMetrics(h.metrics)}, opts...)
	return NewEngine(h.store, fixedEmbedder{vec: []float32{1, 0}}, vectors, h.lexical, config.SearchConfig{RewriteCacheTTL: time.Minute}, opts...)
}

func ids(hits []*models.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestQuery_LexicalOnlyWhenVectorsDown(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	h.indexText(t, "c1", "alpha beta")
	h.indexText(t, "c2", "beta gamma")

	resp, err := h.engine(brokenVectors{}).Query(context.Background(), "acme", &models.QueryRequest{
		Query: "beta", DatasetIDs: []string{h.dataset.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %v, want both chunks", ids(resp.Results))
	}
	if resp.VectorCount != 0 || resp.LexicalCount != 2 {
		t.Errorf("counts vector=%d lexical=%d", resp.VectorCount, resp.LexicalCount)
	}
	for _, hit := range resp.Results {
		if hit.Score <= 0 {
			t.Errorf("hit %s score = %v, want lexical score only", hit.ID, hit.Score)
		}
	}
	if got := testutil.ToFloat64(h.metrics.FallbacksTotal.WithLabelValues(fallbackVectorQuery)); got != 1 {
		t.Errorf("vector fallbacks = %v", got)
	}
	if resp.Rewritten != "" {
		t.Errorf("rewritten = %q, want empty for an unchanged query", resp.Rewritten)
	}
}

func TestQuery_MergesSharedChunks(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	h.indexVector(t, "c1", []float32{1, 0})
	h.indexVector(t, "c2", []float32{0.6, 0.8})
	h.indexText(t, "c1", "beta")
	h.indexText(t, "c3", "beta beta")

	resp, err := h.engine(h.vectors).Query(context.Background(), "acme", &models.QueryRequest{
		Query: "beta", DatasetIDs: []string{h.dataset.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.VectorCount != 2 || resp.LexicalCount != 2 {
		t.Fatalf("counts vector=%d lexical=%d", resp.VectorCount, resp.LexicalCount)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %v, want 3 distinct chunks", ids(resp.Results))
	}
	if resp.Results[0].ID != "c1" || resp.Results[0].Score <= 1 {
		t.Errorf("top = %s (%v), want c1 with vector plus lexical score", resp.Results[0].ID, resp.Results[0].Score)
	}
}

func TestQuery_MinScoreIsMonotonic(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	h.indexVector(t, "c1", []float32{1, 0})
	h.indexVector(t, "c2", []float32{0.6, 0.8})
	h.indexVector(t, "c3", []float32{0, 1})
	e := h.engine(h.vectors)

	prev := -1
	for _, floor := range []float64{0, 0.5, 0.9, 2} {
		resp, err := e.Query(context.Background(), "acme", &models.QueryRequest{
			Query: "anything", DatasetIDs: []string{h.dataset.ID}, MinScore: &floor,
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, hit := range resp.Results {
			if hit.Score < floor {
				t.Errorf("floor %v kept %s at %v", floor, hit.ID, hit.Score)
			}
		}
		if prev >= 0 && len(resp.Results) > prev {
			t.Errorf("floor %v returned %d results, more than %d", floor, len(resp.Results), prev)
		}
		prev = len(resp.Results)
	}
	if prev != 0 {
		t.Errorf("floor 2 returned %d results", prev)
	}
}

func TestQuery_RerankWidensRetrieval(t *testing.T) {
	floor := 0.5
	h := newHarness(t, models.RerankConfig{Enabled: true, Model: "local", TopK: 3, MinScore: &floor})
	h.indexVector(t, "c1", []float32{1, 0})
	h.indexVector(t, "c2", []float32{0.8, 0.6})
	h.indexVector(t, "c3", []float32{0.6, 0.8})
	rr := &fakeReranker{}

	resp, err := h.engine(h.vectors, WithReranker(rr)).Query(context.Background(), "acme", &models.QueryRequest{
		Query: "q", DatasetIDs: []string{h.dataset.ID}, K: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RetrievalK != 3 {
		t.Errorf("retrieval k = %d, want 3", resp.RetrievalK)
	}
	if !resp.Reranked || resp.RerankModel != "local" {
		t.Errorf("reranked = %v model = %q", resp.Reranked, resp.RerankModel)
	}
	if len(rr.got) != 1 || rr.got[0].TopK != 3 || rr.got[0].MinScore == nil || *rr.got[0].MinScore != floor {
		t.Errorf("rerank options = %+v", rr.got)
	}
	if got := ids(resp.Results); len(got) != 2 || got[0] != "c3" || got[1] != "c2" {
		t.Errorf("results = %v, want [c3 c2]", got)
	}
}

func TestQuery_RerankDisabled(t *testing.T) {
	h := newHarness(t, models.RerankConfig{Enabled: false, Model: "local", TopK: 10})
	h.indexVector(t, "c1", []float32{1, 0})
	rr := &fakeReranker{}

	resp, err := h.engine(h.vectors, WithReranker(rr)).Query(context.Background(), "acme", &models.QueryRequest{
		Query: "q", DatasetIDs: []string{h.dataset.ID}, K: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Reranked || len(rr.got) != 0 || resp.RetrievalK != 2 {
		t.Errorf("reranked = %v calls = %d retrieval k = %d", resp.Reranked, len(rr.got), resp.RetrievalK)
	}
}

func TestQuery_Answer(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	h.indexVector(t, "c1", []float32{1, 0})
	a := &fakeAnswerer{}

	resp, err := h.engine(h.vectors, WithAnswerer(a)).Query(context.Background(), "acme", &models.QueryRequest{
		Query: "  what   is c1 ", DatasetIDs: []string{h.dataset.ID}, Answer: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "answer from c1" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if a.question != "  what   is c1 " {
		t.Errorf("answerer got %q, want the original question", a.question)
	}
	if resp.Rewritten != "what is c1" {
		t.Errorf("rewritten = %q", resp.Rewritten)
	}
}

func TestQuery_Errors(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	e := h.engine(h.vectors)

	if _, err := e.Query(context.Background(), "acme", &models.QueryRequest{Query: ""}); err == nil {
		t.Error("empty query: want error")
	}
	_, err := e.Query(context.Background(), "acme", &models.QueryRequest{Query: "q", DatasetIDs: []string{"missing"}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown dataset err = %v, want ErrNotFound", err)
	}
	_, err = e.Query(context.Background(), "other-tenant", &models.QueryRequest{Query: "q", DatasetIDs: []string{h.dataset.ID}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("foreign dataset err = %v, want ErrNotFound", err)
	}
	if got := testutil.ToFloat64(h.metrics.QueriesTotal.WithLabelValues("error")); got != 3 {
		t.Errorf("error queries = %v", got)
	}
	if h.store.logged.Load() != 0 {
		t.Error("failed queries must not be logged")
	}
}

func TestQuery_HistoryIsBestEffort(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	h.indexVector(t, "c1", []float32{1, 0})
	e := h.engine(h.vectors)
	req := func() *models.QueryRequest {
		return &models.QueryRequest{Query: "q", DatasetIDs: []string{h.dataset.ID}}
	}

	if _, err := e.Query(context.Background(), "acme", req()); err != nil {
		t.Fatal(err)
	}
	if h.store.logged.Load() != 1 {
		t.Fatalf("logged = %d", h.store.logged.Load())
	}

	h.store.fail = true
	resp, err := e.Query(context.Background(), "acme", req())
	if err != nil {
		t.Fatalf("history failure surfaced: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("results = %v", ids(resp.Results))
	}
	if got := testutil.ToFloat64(h.metrics.FallbacksTotal.WithLabelValues(fallbackQueryHistory)); got != 1 {
		t.Errorf("history fallbacks = %v", got)
	}
}

func TestQuery_Cancelled(t *testing.T) {
	h := newHarness(t, models.RerankConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine(brokenVectors{}).Query(ctx, "acme", &models.QueryRequest{Query: "q", DatasetIDs: []string{h.dataset.ID}})
	if err == nil {
		t.Fatal("want error for a cancelled context")
	}
}

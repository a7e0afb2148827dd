package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/pkg/utils"
)

type failingEmbedder struct{ calls atomic.Int32 }

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("model unavailable")
}
func (f *failingEmbedder) Dimensions() int { return 8 }
func (f *failingEmbedder) Close() error    { return nil }

type shortEmbedder struct{}

func (shortEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return ZeroVectors(len(texts)-1, 4), nil
}
func (shortEmbedder) Dimensions() int { return 4 }
func (shortEmbedder) Close() error    { return nil }

func testConfig(defaultModel string) *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.DefaultModel = defaultModel
	cfg.Embedding.Dimensions = 16
	return cfg
}

func TestGateway_Resolve(t *testing.T) {
	cfg := testConfig("global-model")
	cfg.Tenants = map[string]config.TenantConfig{"acme": {DefaultEmbedder: "acme-model"}}
	g := NewGateway(cfg)

	assert.Equal(t, "explicit", g.Resolve("acme", "explicit"))
	assert.Equal(t, "acme-model", g.Resolve("acme", ""))
	assert.Equal(t, "global-model", g.Resolve("other", ""))
}

func TestGateway_hashModel(t *testing.T) {
	g := NewGateway(testConfig("hash"))
	res := g.Embed(context.Background(), "acme", "", []string{"alpha beta", "alpha beta", "gamma"})
	require.Len(t, res.Vectors, 3)
	assert.False(t, res.Degraded)
	assert.Equal(t, "hash", res.Model)
	assert.Len(t, res.Vectors[0], 16)
	assert.Equal(t, res.Vectors[0], res.Vectors[1], "same text must embed identically")
	assert.Greater(t, utils.Cosine(res.Vectors[0], res.Vectors[1]), utils.Cosine(res.Vectors[0], res.Vectors[2]))

	res = g.Embed(context.Background(), "acme", "hash-32", []string{"x"})
	assert.Len(t, res.Vectors[0], 32)
}

func TestGateway_fallsBackToDefaultModel(t *testing.T) {
	failing := &failingEmbedder{}
	g := NewGateway(testConfig("hash"), WithEmbedder("broken", failing))

	res := g.Embed(context.Background(), "acme", "broken", []string{"a", "b"})
	assert.True(t, res.Degraded)
	assert.Equal(t, "hash", res.Model)
	require.Len(t, res.Vectors, 2)
	assert.False(t, utils.IsZeroVector(res.Vectors[0]))
	assert.Equal(t, int32(1), failing.calls.Load())
}

func TestGateway_zeroVectorsWhenDefaultFails(t *testing.T) {
	failing := &failingEmbedder{}
	g := NewGateway(testConfig("broken"), WithEmbedder("broken", failing))

	res := g.Embed(context.Background(), "acme", "", []string{"a", "b", "c"})
	assert.True(t, res.Degraded)
	require.Len(t, res.Vectors, 3)
	for _, v := range res.Vectors {
		assert.Len(t, v, FallbackDimension)
		assert.True(t, utils.IsZeroVector(v))
	}
	// the default model is not retried against itself
	assert.Equal(t, int32(1), failing.calls.Load())
}

func TestGateway_unknownModelDegrades(t *testing.T) {
	g := NewGateway(testConfig("also-unknown"))
	res := g.Embed(context.Background(), "acme", "nope", []string{"a"})
	assert.True(t, res.Degraded)
	assert.True(t, utils.IsZeroVector(res.Vectors[0]))
}

func TestGateway_countMismatchDegrades(t *testing.T) {
	g := NewGateway(testConfig("hash"), WithEmbedder("short", shortEmbedder{}))
	res := g.Embed(context.Background(), "acme", "short", []string{"a", "b"})
	assert.True(t, res.Degraded)
	assert.Equal(t, "hash", res.Model)
	assert.Len(t, res.Vectors, 2)
}

func TestGateway_emptyInput(t *testing.T) {
	g := NewGateway(testConfig("hash"))
	res := g.Embed(context.Background(), "acme", "", nil)
	assert.Empty(t, res.Vectors)
	assert.False(t, res.Degraded)
}

func embeddingsServer(t *testing.T, dims int, drop int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := len(req.Input) - drop
		data := make([]map[string]interface{}, 0, n)
		// reversed order to check that results are re-sorted by index
		for i := n - 1; i >= 0; i-- {
			vec := make([]float64, dims)
			vec[i%dims] = 1
			data = append(data, map[string]interface{}{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestGateway_remoteModel(t *testing.T) {
	var hits atomic.Int32
	srv := embeddingsServer(t, 4, 0, &hits)
	defer srv.Close()

	cfg := testConfig("hash")
	cfg.Models = []config.ModelConfig{{Name: "remote", Type: config.ModelEmbedder, Endpoint: srv.URL, APIKey: "k", Model: "text-embedding-3-small"}}
	g := NewGateway(cfg)

	res := g.Embed(context.Background(), "acme", "remote", []string{"a", "b", "c"})
	require.False(t, res.Degraded)
	require.Len(t, res.Vectors, 3)
	assert.Equal(t, []float32{1, 0, 0, 0}, res.Vectors[0])
	assert.Equal(t, []float32{0, 1, 0, 0}, res.Vectors[1])
	assert.Equal(t, int32(1), hits.Load(), "a batch is one request")
}

func TestRemoteEmbedder_countMismatch(t *testing.T) {
	var hits atomic.Int32
	srv := embeddingsServer(t, 4, 1, &hits)
	defer srv.Close()

	e := NewRemoteEmbedder(&config.ModelConfig{Name: "remote", Endpoint: srv.URL}, srv.Client())
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCountMismatch)
}

func TestRemoteEmbedder_learnsDimensions(t *testing.T) {
	var hits atomic.Int32
	srv := embeddingsServer(t, 6, 0, &hits)
	defer srv.Close()

	e := NewRemoteEmbedder(&config.ModelConfig{Name: "remote", Endpoint: srv.URL}, srv.Client())
	assert.Equal(t, 0, e.Dimensions())
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 6, e.Dimensions())
}

func TestIsHashModel(t *testing.T) {
	dims, ok := IsHashModel("hash")
	assert.True(t, ok)
	assert.Equal(t, 0, dims)
	dims, ok = IsHashModel("hash-64")
	assert.True(t, ok)
	assert.Equal(t, 64, dims)
	_, ok = IsHashModel("hash-x")
	assert.False(t, ok)
	_, ok = IsHashModel("hashbrown")
	assert.False(t, ok)
}

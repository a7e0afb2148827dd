package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/raglite/internal/config"
	"github.com/hyperjump/raglite/internal/embedding"
	"github.com/hyperjump/raglite/internal/models"
)

type fixedScorer struct {
	scores []Scored
	err    error
	calls  [][]string
}

func (f *fixedScorer) Score(ctx context.Context, tenantID, query string, documents []string) ([]Scored, error) {
	f.calls = append(f.calls, documents)
	return f.scores, f.err
}

func hit(id string, score float64) *models.Hit {
	return &models.Hit{ID: id, Score: score, Text: "text of " + id}
}

func ids(hits []*models.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func floatPtr(f float64) *float64 { return &f }

func TestRerank_NoModelIsIdentity(t *testing.T) {
	g := NewGateway(config.Default())
	in := []*models.Hit{hit("a", 1), hit("b", 0.5)}
	out, applied, model := g.Rerank(context.Background(), "acme", "q", in, Options{})
	assert.False(t, applied)
	assert.Empty(t, model)
	assert.Equal(t, in, out)
}

func TestRerank_WindowMinScoreAndRemainder(t *testing.T) {
	scorer := &fixedScorer{scores: []Scored{{Index: 0, Score: 0.9}, {Index: 1, Score: 0.3}}}
	g := NewGateway(config.Default(), WithScorer("rr", scorer))

	in := []*models.Hit{hit("hit1", 0.8), hit("hit2", 0.7), hit("hit3", 0.1)}
	out, applied, model := g.Rerank(context.Background(), "acme", "q", in,
		Options{Model: "rr", TopK: 2, MinScore: floatPtr(0.5)})

	require.True(t, applied)
	assert.Equal(t, "rr", model)
	assert.Equal(t, []string{"hit1", "hit3"}, ids(out))
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 0.1, out[1].Score, "remainder keeps its original score")
	require.Len(t, scorer.calls, 1)
	assert.Len(t, scorer.calls[0], 2, "only the window is scored")
	assert.Equal(t, 0.8, in[0].Score, "input hits are not mutated")
}

func TestRerank_RemainderKeepsOrder(t *testing.T) {
	scorer := &fixedScorer{scores: []Scored{{Index: 0, Score: 0.1}, {Index: 1, Score: 0.2}, {Index: 2, Score: 0.9}}}
	g := NewGateway(config.Default(), WithScorer("rr", scorer))

	in := []*models.Hit{hit("a", 5), hit("b", 4), hit("c", 3), hit("d", 0.1), hit("e", 9), hit("f", 2)}
	out, applied, _ := g.Rerank(context.Background(), "acme", "q", in, Options{Model: "rr", TopK: 3})
	require.True(t, applied)
	assert.Equal(t, []string{"c", "b", "a", "d", "e", "f"}, ids(out))
}

func TestRerank_ZeroTopKScoresEverything(t *testing.T) {
	scorer := &fixedScorer{scores: []Scored{{Index: 0, Score: 0.1}, {Index: 1, Score: 0.7}}}
	g := NewGateway(config.Default(), WithScorer("rr", scorer))
	out, applied, _ := g.Rerank(context.Background(), "acme", "q", []*models.Hit{hit("a", 1), hit("b", 0.5)}, Options{Model: "rr"})
	require.True(t, applied)
	assert.Equal(t, []string{"b", "a"}, ids(out))
}

func TestRerank_FailuresReturnInput(t *testing.T) {
	in := []*models.Hit{hit("a", 1), hit("b", 0.5)}
	cases := map[string]Scorer{
		"scorer error":   &fixedScorer{err: errors.New("boom")},
		"index too big":  &fixedScorer{scores: []Scored{{Index: 7, Score: 1}}},
		"duplicate rank": &fixedScorer{scores: []Scored{{Index: 0, Score: 1}, {Index: 0, Score: 2}}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			g := NewGateway(config.Default(), WithScorer("rr", s))
			out, applied, model := g.Rerank(context.Background(), "acme", "q", in, Options{Model: "rr", MinScore: floatPtr(0.9)})
			assert.False(t, applied)
			assert.Empty(t, model)
			assert.Equal(t, in, out)
		})
	}
}

func TestRemoteScorer(t *testing.T) {
	var got rerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.8},{"index":0,"score":0.2}]}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Models = []config.ModelConfig{{Name: "cohere", Type: config.ModelRerank, Endpoint: srv.URL + "/", APIKey: "key", Model: "rerank-v3"}}
	g := NewGateway(cfg, WithHTTPClient(srv.Client()))

	out, applied, model := g.Rerank(context.Background(), "acme", "what", []*models.Hit{hit("a", 1), hit("b", 0.5)}, Options{Model: "cohere"})
	require.True(t, applied)
	assert.Equal(t, "cohere", model)
	assert.Equal(t, []string{"b", "a"}, ids(out))
	assert.Equal(t, "rerank-v3", got.Model)
	assert.Equal(t, "what", got.Query)
	assert.Equal(t, 2, got.TopN)
	assert.Equal(t, []string{"text of a", "text of b"}, got.Documents)
}

func TestRemoteScorer_Failures(t *testing.T) {
	bodies := map[string]string{
		"status":   "",
		"not json": "<html>",
		"no score": `{"results":[{"index":0}]}`,
		"no index": `{"results":[{"relevance_score":0.5}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if body == "" {
					http.Error(w, "overloaded", http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()
			s := &RemoteScorer{Endpoint: srv.URL, Model: "m", Client: srv.Client()}
			_, err := s.Score(context.Background(), "acme", "q", []string{"x"})
			assert.Error(t, err)
		})
	}
}

func TestLocalScorer(t *testing.T) {
	emb := embedding.NewGateway(config.Default())
	defer func() { _ = emb.Close() }()
	g := NewGateway(config.Default(), WithEmbedder(emb))

	in := []*models.Hit{
		{ID: "far", Score: 0.9, Text: "zeta omega lorem"},
		{ID: "near", Score: 0.1, Text: "alpha beta"},
	}
	out, applied, model := g.Rerank(context.Background(), "acme", "alpha beta", in, Options{Model: "hash"})
	require.True(t, applied)
	assert.Equal(t, "hash", model)
	assert.Equal(t, []string{"near", "far"}, ids(out))
	assert.InDelta(t, 1.0, out[0].Score, 1e-6)
}

func TestLocalScorer_UnknownModelFails(t *testing.T) {
	emb := embedding.NewGateway(config.Default())
	g := NewGateway(config.Default(), WithEmbedder(emb))
	in := []*models.Hit{hit("a", 1)}
	out, applied, _ := g.Rerank(context.Background(), "acme", "q", in, Options{Model: "no-such-model"})
	assert.False(t, applied)
	assert.Equal(t, in, out)
}

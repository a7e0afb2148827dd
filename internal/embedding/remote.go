package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/hyperjump/raglite/internal/config"
)

// RemoteEmbedder calls an OpenAI-compatible /v1/embeddings endpoint with one batched
// request per call.
type RemoteEmbedder struct {
	client     openai.Client
	model      string
	dimensions atomic.Int64
}

// BaseURL returns the OpenAI-style API root for a configured endpoint.
func BaseURL(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/v1/"
}

// NewRemoteEmbedder creates an embedder for a registered remote model. httpClient
// carries the timeout and provider throttling; nil uses http.DefaultClient.
func NewRemoteEmbedder(m *config.ModelConfig, httpClient *http.Client) *RemoteEmbedder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithBaseURL(BaseURL(m.Endpoint)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if m.APIKey != "" {
		opts = append(opts, option.WithAPIKey(m.APIKey))
	}
	e := &RemoteEmbedder{
		client: openai.NewClient(opts...),
		model:  m.ModelName(),
	}
	e.dimensions.Store(int64(m.Dimensions))
	return e
}

// EmbedBatch embeds texts in a single request. A response with a different number
// of vectors than texts yields ErrCountMismatch.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrCountMismatch, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		vector := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vector[j] = float32(v)
		}
		embeddings[i] = vector
	}
	if e.dimensions.Load() == 0 && len(embeddings[0]) > 0 {
		e.dimensions.Store(int64(len(embeddings[0])))
	}
	return embeddings, nil
}

// Dimensions returns the configured dimension, or the width of the last response
// when none was configured.
func (e *RemoteEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Close is a no-op; the HTTP client is shared.
func (e *RemoteEmbedder) Close() error {
	return nil
}

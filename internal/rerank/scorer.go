package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/raglite/pkg/utils"
)

// RemoteScorer calls a Cohere-compatible POST {endpoint}/v1/rerank.
type RemoteScorer struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          *int     `json:"index"`
		RelevanceScore *float64 `json:"relevance_score"`
		Score          *float64 `json:"score"`
	} `json:"results"`
}

// Score sends one request for all documents.
func (r *RemoteScorer) Score(ctx context.Context, tenantID, query string, documents []string) ([]Scored, error) {
	body, err := json.Marshal(rerankRequest{Model: r.Model, Query: query, Documents: documents, TopN: len(documents)})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(r.Endpoint, "/") + "/v1/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	scores := make([]Scored, 0, len(out.Results))
	for _, res := range out.Results {
		score := res.RelevanceScore
		if score == nil {
			score = res.Score
		}
		if res.Index == nil || score == nil {
			return nil, fmt.Errorf("%w: result without index or score", errMalformed)
		}
		scores = append(scores, Scored{Index: *res.Index, Score: *score})
	}
	return scores, nil
}

// LocalScorer scores documents by cosine similarity between the query embedding
// and each document embedding.
type LocalScorer struct {
	Embedder TextEmbedder
	Model    string
}

// Score embeds the query together with the documents in one batch.
func (l *LocalScorer) Score(ctx context.Context, tenantID, query string, documents []string) ([]Scored, error) {
	texts := make([]string, 0, len(documents)+1)
	texts = append(texts, query)
	texts = append(texts, documents...)
	vectors, err := l.Embedder.EmbedWith(ctx, l.Model, texts)
	if err != nil {
		return nil, fmt.Errorf("local rerank embed: %w", err)
	}
	if utils.IsZeroVector(vectors[0]) {
		return nil, fmt.Errorf("local rerank: query embedding is empty")
	}
	scores := make([]Scored, len(documents))
	for i := range documents {
		scores[i] = Scored{Index: i, Score: utils.Cosine(vectors[0], vectors[i+1])}
	}
	return scores, nil
}

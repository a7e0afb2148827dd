package embedding

import (
	"context"
	"strconv"
	"strings"

	"github.com/hyperjump/raglite/pkg/utils"
)

// HashModelPrefix names the built-in hashing model. "hash" uses the configured
// dimension, "hash-<n>" uses n.
const HashModelPrefix = "hash"

// HashEmbedder is a deterministic bag-of-words embedder. Each lowercase token is
// hashed into a signed bucket and the result is L2-normalized, so texts that share
// words have positive cosine similarity. Useful offline and in tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing embedder of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = FallbackDimension
	}
	return &HashEmbedder{dimensions: dimensions}
}

// IsHashModel reports whether name refers to the built-in hashing model and returns
// the dimension it encodes, or 0 for the configured default.
func IsHashModel(name string) (int, bool) {
	if name == HashModelPrefix {
		return 0, true
	}
	rest, ok := strings.CutPrefix(name, HashModelPrefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (e *HashEmbedder) embed(text string) []float32 {
	emb := make([]float32, e.dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := HashString(tok)
		sign := float32(1)
		if h&1 == 1 {
			sign = -1
		}
		emb[(h>>1)%e.dimensions] += sign
	}
	utils.NormalizeL2(emb)
	return emb
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = e.embed(text)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}

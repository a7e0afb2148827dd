// Package embedding turns text into vectors through remote providers, local ONNX models
// or a deterministic hashing model, behind a gateway that never fails its caller.
package embedding

import (
	"context"
	"errors"
)

// FallbackDimension is the width of the zero vectors returned when every model fails.
const FallbackDimension = 384

var (
	// ErrCountMismatch is returned when a provider returns a different number of vectors than texts.
	ErrCountMismatch = errors.New("embedding count mismatch")
	// ErrUnknownModel is returned when a model name is neither registered nor built in.
	ErrUnknownModel = errors.New("unknown embedding model")
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ZeroVectors returns n zero vectors of width dim.
func ZeroVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
	}
	return out
}

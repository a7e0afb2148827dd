//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXModel stub type when built without CGO (see onnx.go for real implementation).
type ONNXModel struct{}

// NewONNXModel returns an error when built without CGO (ONNX not available).
func NewONNXModel(_ string, _, _, _ int) (*ONNXModel, error) {
	return nil, errNoCGO
}

// EmbedBatch always fails without CGO.
func (m *ONNXModel) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}

// Dimensions returns 0 without CGO.
func (m *ONNXModel) Dimensions() int { return 0 }

// Close is a no-op without CGO.
func (m *ONNXModel) Close() error { return nil }

//go:build !cgo

package retrieval

import (
	"context"
	"errors"
)

// ErrLocalEmbedderUnavailable is returned when the binary was built without
// CGO; the local provider needs the ONNX runtime. Use the http provider
// instead.
var ErrLocalEmbedderUnavailable = errors.New("local embedder not available: built without CGO")

// LocalEmbedderConfig configures the in-process ONNX embedder.
type LocalEmbedderConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// LocalEmbedder is a stub for non-CGO builds.
type LocalEmbedder struct{}

// NewLocalEmbedder always fails without CGO.
func NewLocalEmbedder(LocalEmbedderConfig) (*LocalEmbedder, error) {
	return nil, ErrLocalEmbedderUnavailable
}

func (*LocalEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrLocalEmbedderUnavailable
}

func (*LocalEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrLocalEmbedderUnavailable
}

func (*LocalEmbedder) Dimension() int { return 0 }

func (*LocalEmbedder) Close() error { return nil }

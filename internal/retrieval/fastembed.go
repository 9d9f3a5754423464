//go:build cgo

package retrieval

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// LocalEmbedderConfig configures the in-process ONNX embedder.
type LocalEmbedderConfig struct {
	// Model is the embedding model. Default: BAAI/bge-small-en-v1.5.
	Model string

	// CacheDir caches downloaded model files.
	CacheDir string

	// MaxLength is the maximum input sequence length. Default: 512.
	MaxLength int
}

// localModels maps friendly model names to fastembed constants.
var localModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// localModelDimensions maps fastembed models to their output dimension.
var localModelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGEBaseENV15:  768,
	fastembed.AllMiniLML6V2: 384,
}

// LocalEmbedder generates embeddings with local ONNX models via fastembed.
type LocalEmbedder struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	dimension int
}

// NewLocalEmbedder initializes the ONNX runtime and downloads the model on
// first use.
func NewLocalEmbedder(cfg LocalEmbedderConfig) (*LocalEmbedder, error) {
	name := cfg.Model
	if name == "" {
		name = "BAAI/bge-small-en-v1.5"
	}
	model, ok := localModels[name]
	if !ok {
		model = fastembed.EmbeddingModel(name)
		if _, known := localModelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported local model %q", ErrInvalidConfig, name)
		}
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cfg.CacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &LocalEmbedder{
		model:     flagEmbed,
		dimension: localModelDimensions[model],
	}, nil
}

// EmbedDocuments embeds a batch of passages with the BGE "passage: " prefix.
func (e *LocalEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	embeddings, err := e.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embeddings, nil
}

// EmbedQuery embeds a single query with the BGE "query: " prefix.
func (e *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	embedding, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embedding, nil
}

// Dimension returns the embedding dimension for the loaded model.
func (e *LocalEmbedder) Dimension() int { return e.dimension }

// Close destroys the underlying ONNX session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}

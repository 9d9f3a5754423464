package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments embeds a batch of passages.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int

	// Close releases resources held by the embedder.
	Close() error
}

// EmbedderConfig selects and configures an embedding provider.
type EmbedderConfig struct {
	// Provider is "local" (in-process ONNX via fastembed) or "http"
	// (TEI-style service).
	Provider string

	// Model is the embedding model name.
	Model string

	// BaseURL is the embedding service URL (http provider only).
	BaseURL string

	// CacheDir caches downloaded model files (local provider only).
	CacheDir string
}

// NewEmbedder builds the embedder named by cfg.Provider.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocalEmbedder(LocalEmbedderConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case "http":
		return NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// modelDimension returns the embedding dimension for a model name, falling
// back to 384 (bge-small) for unknown models.
func modelDimension(model string) int {
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"), strings.Contains(model, "BERT"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"), strings.Contains(model, "MiniLM"):
		return 384
	default:
		return 384
	}
}

// HTTPEmbedderConfig configures the TEI-style HTTP embedder.
type HTTPEmbedderConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// HTTPEmbedder calls a text-embeddings-inference style service: POST /embed
// with {"inputs": ...} returning a float matrix.
type HTTPEmbedder struct {
	config HTTPEmbedderConfig
	client *http.Client
}

// NewHTTPEmbedder builds an embedder against a TEI-style endpoint.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type embedRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

func (e *HTTPEmbedder) embed(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}

// EmbedDocuments embeds a batch of passages.
func (e *HTTPEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return e.embed(ctx, texts)
}

// EmbedQuery embeds a single search query.
func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension inferred from the model name.
func (e *HTTPEmbedder) Dimension() int {
	return modelDimension(e.config.Model)
}

// Close is a no-op for the HTTP embedder.
func (e *HTTPEmbedder) Close() error { return nil }

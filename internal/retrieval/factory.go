package retrieval

import (
	"fmt"

	"github.com/fyrsmithlabs/sdlcd/internal/config"
	"go.uber.org/zap"
)

// NewStore builds the snippet store named by cfg.Retrieval.Provider:
//
//   - "chromem" (default): embedded store, no external service
//   - "qdrant": external Qdrant server over gRPC
//
// Retrieval disabled returns a NoopStore so callers never branch on
// configuration. The returned store owns its embedder.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	if !cfg.Retrieval.Enabled {
		return NewNoopStore(), nil
	}

	embedder, err := NewEmbedder(EmbedderConfig{
		Provider: cfg.Retrieval.Embeddings.Provider,
		Model:    cfg.Retrieval.Embeddings.Model,
		BaseURL:  cfg.Retrieval.Embeddings.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	var store Store
	switch cfg.Retrieval.Provider {
	case "chromem", "":
		store, err = NewChromemStore(ChromemConfig{
			Path:       cfg.Retrieval.Chromem.Path,
			Collection: cfg.Retrieval.Chromem.Collection,
			VectorSize: cfg.Retrieval.Chromem.VectorSize,
			Compress:   cfg.Retrieval.Chromem.Compress,
		}, embedder, logger)

	case "qdrant":
		store, err = NewQdrantStore(QdrantConfig{
			Host:       cfg.Retrieval.Qdrant.Host,
			Port:       cfg.Retrieval.Qdrant.Port,
			APIKey:     cfg.Retrieval.Qdrant.APIKey.Value(),
			Collection: cfg.Retrieval.Qdrant.Collection,
			VectorSize: cfg.Retrieval.Qdrant.VectorSize,
			UseTLS:     cfg.Retrieval.Qdrant.UseTLS,
		}, embedder, logger)

	default:
		_ = embedder.Close()
		return nil, fmt.Errorf("%w: unsupported retrieval provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Retrieval.Provider)
	}

	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	return store, nil
}

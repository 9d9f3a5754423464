package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Collection is the collection name.
	Collection string

	// VectorSize must match the embedder's output dimension.
	VectorSize int

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/sdlcd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "sdlcd_default"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// ChromemStore is a Store backed by chromem-go, an embeddable pure-Go vector
// database with gob-file persistence. No external service is needed.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the persistent database at cfg.Path.
// The store owns the embedder and closes it on Close.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logger.Named("retrieval.chromem"),
	}
	store.collection, err = db.GetOrCreateCollection(cfg.Collection, nil, store.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	store.logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Int("vector_size", cfg.VectorSize),
	)
	return store, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder for chromem query embedding.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add embeds and indexes snippets. Embeddings are generated in one batch.
func (s *ChromemStore) Add(ctx context.Context, snippets []Snippet) error {
	if len(snippets) == 0 {
		return nil
	}

	texts := make([]string, len(snippets))
	for i, snip := range snippets {
		texts[i] = snip.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	docs := make([]chromem.Document, len(snippets))
	for i, snip := range snippets {
		id := snip.ID
		if id == "" {
			id = fmt.Sprintf("snip_%d_%d", time.Now().UnixNano(), i)
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   snip.Content,
			Metadata:  map[string]string{"path": snip.Path},
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("added snippets", zap.Int("count", len(snippets)))
	return nil
}

// Query returns up to topK snippets ranked by similarity to text.
func (s *ChromemStore) Query(ctx context.Context, text string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if text == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	// chromem requires nResults <= document count.
	count := s.collection.Count()
	if count == 0 {
		return []Snippet{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	snippets := make([]Snippet, len(results))
	for i, r := range results {
		snippets[i] = Snippet{
			ID:      r.ID,
			Path:    r.Metadata["path"],
			Content: r.Content,
			Score:   r.Similarity,
		}
	}
	return snippets, nil
}

// Count reports the number of indexed snippets.
func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close releases the owned embedder. The database itself persists to disk on
// every write and needs no explicit shutdown.
func (s *ChromemStore) Close() error {
	return s.embedder.Close()
}

package retrieval

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates invalid store or embedder configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")
)

// Snippet is one indexed chunk of repository text. Score is only set on
// query results.
type Snippet struct {
	ID      string
	Path    string
	Content string
	Score   float32
}

// Store is a ranked-snippet store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Add indexes snippets. Snippet IDs are preserved; empty IDs are
	// assigned by the store.
	Add(ctx context.Context, snippets []Snippet) error

	// Query returns up to topK snippets ranked by similarity to text.
	Query(ctx context.Context, text string, topK int) ([]Snippet, error)

	// Count reports the number of indexed snippets.
	Count(ctx context.Context) (int, error)

	// Close releases store resources, including any owned embedder.
	Close() error
}

// NoopStore is the Store used when retrieval is not configured. Queries
// return nothing and adds are discarded.
type NoopStore struct{}

// NewNoopStore returns a Store that indexes nothing.
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (*NoopStore) Add(context.Context, []Snippet) error { return nil }

func (*NoopStore) Query(context.Context, string, int) ([]Snippet, error) { return nil, nil }

func (*NoopStore) Count(context.Context) (int, error) { return 0, nil }

func (*NoopStore) Close() error { return nil }

package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEmbedder maps each distinct text to a distinct unit vector, so an
// exact-match query scores 1.0 and everything else scores 0.
type stubEmbedder struct {
	dim    int
	closed bool
}

func (e *stubEmbedder) embedding(text string) []float32 {
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % e.dim
	}
	vec := make([]float32, e.dim)
	vec[hash] = 1
	return vec
}

func (e *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedding(text)
	}
	return out, nil
}

func (e *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embedding(text), nil
}

func (e *stubEmbedder) Dimension() int { return e.dim }

func (e *stubEmbedder) Close() error {
	e.closed = true
	return nil
}

func newTestChromemStore(t *testing.T) (*ChromemStore, *stubEmbedder, string) {
	t.Helper()
	dir := t.TempDir()
	embedder := &stubEmbedder{dim: 64}
	store, err := NewChromemStore(ChromemConfig{
		Path:       dir,
		Collection: "test_collection",
		VectorSize: 64,
	}, embedder, zap.NewNop())
	require.NoError(t, err)
	return store, embedder, dir
}

func TestNewChromemStore(t *testing.T) {
	store, _, _ := newTestChromemStore(t)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNewChromemStore_NilEmbedder(t *testing.T) {
	_, err := NewChromemStore(ChromemConfig{Path: t.TempDir()}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChromemStore_AddAndQuery(t *testing.T) {
	store, _, _ := newTestChromemStore(t)
	ctx := context.Background()

	snippets := []Snippet{
		{ID: "a", Path: "auth/token.go", Content: "token validation logic"},
		{ID: "b", Path: "auth/session.go", Content: "session cookie handling"},
		{ID: "c", Path: "db/pool.go", Content: "connection pool sizing"},
	}
	require.NoError(t, store.Add(ctx, snippets))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := store.Query(ctx, "token validation logic", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "auth/token.go", results[0].Path)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
}

func TestChromemStore_AddEmpty(t *testing.T) {
	store, _, _ := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, nil))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestChromemStore_AssignsMissingIDs(t *testing.T) {
	store, _, _ := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, []Snippet{{Path: "a.go", Content: "some content"}}))

	results, err := store.Query(ctx, "some content", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, strings.HasPrefix(results[0].ID, "snip_"), "ID = %q", results[0].ID)
}

func TestChromemStore_QueryValidation(t *testing.T) {
	store, _, _ := newTestChromemStore(t)
	ctx := context.Background()

	_, err := store.Query(ctx, "q", 0)
	assert.Error(t, err)

	_, err = store.Query(ctx, "", 5)
	assert.Error(t, err)
}

func TestChromemStore_QueryEmptyCollection(t *testing.T) {
	store, _, _ := newTestChromemStore(t)

	results, err := store.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_QueryCapsTopK(t *testing.T) {
	store, _, _ := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, []Snippet{
		{ID: "a", Content: "first document"},
		{ID: "b", Content: "second document"},
	}))

	results, err := store.Query(ctx, "first document", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestChromemStore_CloseReleasesEmbedder(t *testing.T) {
	store, embedder, _ := newTestChromemStore(t)

	require.NoError(t, store.Close())
	assert.True(t, embedder.closed)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "persist", VectorSize: 64},
		&stubEmbedder{dim: 64}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, []Snippet{{ID: "a", Path: "a.go", Content: "kept across restarts"}}))
	require.NoError(t, first.Close())

	second, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "persist", VectorSize: 64},
		&stubEmbedder{dim: 64}, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	count, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := second.Query(ctx, "kept across restarts", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

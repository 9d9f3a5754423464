package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

// flushBatchSize bounds memory during indexing and sizes embedding batches.
const flushBatchSize = 64

// indexableExtensions are the file types worth indexing for prompt context.
var indexableExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".rs": true, ".rb": true, ".c": true, ".h": true, ".cpp": true,
	".sh": true, ".sql": true, ".proto": true,
	".md": true, ".txt": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true,
}

// IndexerConfig holds chunking parameters for repository indexing.
type IndexerConfig struct {
	// ChunkSize is the target chunk size in characters. Default: 512.
	ChunkSize int

	// ChunkOverlap is the overlap between adjacent chunks. Default: 64.
	ChunkOverlap int

	// MaxFileSizeKB skips files larger than this. Default: 256.
	MaxFileSizeKB int
}

func (c *IndexerConfig) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 512
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 64
	}
	if c.MaxFileSizeKB == 0 {
		c.MaxFileSizeKB = 256
	}
}

// IndexSummary reports what one indexing pass covered.
type IndexSummary struct {
	Branch   string
	Files    int
	Chunks   int
	Skipped  int
	Duration time.Duration
}

// Indexer walks a git work tree at HEAD and feeds chunked file contents into
// a Store.
type Indexer struct {
	store  Store
	config IndexerConfig
	logger *zap.Logger
}

// NewIndexer builds an indexer over store.
func NewIndexer(store Store, cfg IndexerConfig, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Indexer{
		store:  store,
		config: cfg,
		logger: logger.Named("retrieval.indexer"),
	}
}

// IndexRepository resolves HEAD of the repository at path, splits every
// indexable file in its tree, and adds the chunks to the store in batches.
func (ix *Indexer) IndexRepository(ctx context.Context, path string) (*IndexSummary, error) {
	start := time.Now()

	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	summary := &IndexSummary{}
	if head.Name().IsBranch() {
		summary.Branch = head.Name().Short()
	}

	branchCount := 0
	if branches, err := repo.Branches(); err == nil {
		_ = branches.ForEach(func(*plumbing.Reference) error {
			branchCount++
			return nil
		})
	}
	ix.logger.Debug("resolved repository",
		zap.String("path", path),
		zap.String("branch", summary.Branch),
		zap.Int("branches", branchCount),
	)

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("resolving commit tree: %w", err)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ix.config.ChunkSize),
		textsplitter.WithChunkOverlap(ix.config.ChunkOverlap),
	)
	maxBytes := int64(ix.config.MaxFileSizeKB) * 1024

	var batch []Snippet
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.store.Add(ctx, batch); err != nil {
			return fmt.Errorf("indexing batch: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !indexableExtensions[strings.ToLower(filepath.Ext(f.Name))] || f.Size > maxBytes {
			summary.Skipped++
			return nil
		}
		if binary, err := f.IsBinary(); err != nil || binary {
			summary.Skipped++
			return nil
		}

		content, err := f.Contents()
		if err != nil {
			ix.logger.Warn("skipping unreadable file", zap.String("file", f.Name), zap.Error(err))
			summary.Skipped++
			return nil
		}
		chunks, err := splitter.SplitText(content)
		if err != nil {
			ix.logger.Warn("skipping unsplittable file", zap.String("file", f.Name), zap.Error(err))
			summary.Skipped++
			return nil
		}

		for i, chunk := range chunks {
			batch = append(batch, Snippet{
				ID:      fmt.Sprintf("%s#%d", f.Name, i),
				Path:    f.Name,
				Content: chunk,
			})
		}
		summary.Files++
		summary.Chunks += len(chunks)

		if len(batch) >= flushBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	ix.logger.Info("repository indexed",
		zap.String("path", path),
		zap.String("branch", summary.Branch),
		zap.Int("files", summary.Files),
		zap.Int("chunks", summary.Chunks),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

package agents

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/sdlcd/internal/redact"
	"github.com/fyrsmithlabs/sdlcd/internal/retrieval"
	"go.uber.org/zap"
)

// ContextSource supplies repository snippets for code and test prompts. An
// empty result is valid.
type ContextSource interface {
	Snippets(ctx context.Context, query string, limit int) ([]string, error)
}

// RetrievalContext adapts a retrieval.Store into a ContextSource. Store
// failures degrade to no context rather than failing the stage, and snippet
// contents pass through the secret scanner before reaching prompts.
type RetrievalContext struct {
	store   retrieval.Store
	scanner *redact.Scanner
	logger  *zap.Logger
}

// NewRetrievalContext builds a context source over store. scanner may be nil.
func NewRetrievalContext(store retrieval.Store, scanner *redact.Scanner, logger *zap.Logger) *RetrievalContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalContext{
		store:   store,
		scanner: scanner,
		logger:  logger.Named("agents.context"),
	}
}

// Snippets queries the store and redacts results. Retrieval errors are
// logged and swallowed; a snippet that cannot be redacted is dropped.
func (r *RetrievalContext) Snippets(ctx context.Context, query string, limit int) ([]string, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}

	snippets, err := r.store.Query(ctx, query, limit)
	if err != nil {
		r.logger.Warn("snippet retrieval failed, continuing without context", zap.Error(err))
		return nil, nil
	}

	out := make([]string, 0, len(snippets))
	for _, snip := range snippets {
		content := snip.Content
		if r.scanner != nil && r.scanner.Enabled() {
			redacted, audit, err := r.scanner.Redact(content)
			if err != nil {
				r.logger.Warn("snippet redaction failed, dropping snippet",
					zap.String("path", snip.Path), zap.Error(err))
				continue
			}
			if audit.HasRedactions() {
				r.logger.Debug("redacted snippet",
					zap.String("path", snip.Path),
					zap.Int("secrets", audit.Summary.TotalSecrets))
			}
			content = redacted
		}
		out = append(out, fmt.Sprintf("%s:\n%s", snip.Path, content))
	}
	return out, nil
}

var _ ContextSource = (*RetrievalContext)(nil)

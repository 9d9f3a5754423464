package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/config"
)

// New builds the Source the config selects. An empty provider falls back to
// the static source.
func New(ctx context.Context, cfg config.TrackerConfig, logger *zap.Logger) (Source, error) {
	switch cfg.Provider {
	case "", "static":
		return NewStaticSource(cfg.Static.Dir), nil
	case "jira":
		return NewJiraSource(JiraConfig{
			BaseURL:  cfg.Jira.BaseURL,
			Email:    cfg.Jira.Email,
			APIToken: cfg.Jira.APIToken.Value(),
			Timeout:  cfg.Jira.Timeout.Duration(),
		}, logger)
	case "github":
		return NewGitHubSource(ctx, GitHubConfig{
			Token: cfg.GitHub.Token.Value(),
			Owner: cfg.GitHub.Owner,
			Repo:  cfg.GitHub.Repo,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown tracker provider: %q", cfg.Provider)
	}
}

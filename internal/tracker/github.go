package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// GitHubConfig holds the settings for the GitHub Issues source. Owner and
// Repo are the defaults applied when a ref carries only an issue number.
type GitHubConfig struct {
	Token string
	Owner string
	Repo  string
}

// GitHubSource fetches issues from the GitHub API. Refs take the form
// "owner/repo#number", "#number", or a bare number; the short forms resolve
// against the configured owner and repo.
type GitHubSource struct {
	client *github.Client
	owner  string
	repo   string
	logger *zap.Logger
}

// NewGitHubSource builds a source authenticated with a static token.
func NewGitHubSource(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubSource, error) {
	if cfg.Token == "" {
		return nil, errors.New("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(ctx, ts)
	return newGitHubSource(github.NewClient(tc), cfg.Owner, cfg.Repo, logger), nil
}

func newGitHubSource(client *github.Client, owner, repo string, logger *zap.Logger) *GitHubSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubSource{
		client: client,
		owner:  owner,
		repo:   repo,
		logger: logger.Named("tracker.github"),
	}
}

// Fetch retrieves the issue the ref points at.
func (s *GitHubSource) Fetch(ctx context.Context, ref string) (*pipeline.Ticket, error) {
	owner, repo, number, err := s.locate(ref)
	if err != nil {
		return nil, err
	}

	issue, resp, err := s.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s/%s#%d", ErrTicketNotFound, owner, repo, number)
		}
		return nil, fmt.Errorf("fetching github issue %s/%s#%d: %w", owner, repo, number, err)
	}

	body := issue.GetBody()
	s.logger.Debug("fetched github issue",
		zap.String("repo", owner+"/"+repo),
		zap.Int("number", number))

	return &pipeline.Ticket{
		ID:                 fmt.Sprintf("%s/%s#%d", owner, repo, number),
		Title:              issue.GetTitle(),
		Description:        body,
		AcceptanceCriteria: extractCriteria(body),
		RepoRef:            owner + "/" + repo,
	}, nil
}

// locate splits a ref into owner, repo, and issue number, filling in the
// configured defaults when the ref omits the repository.
func (s *GitHubSource) locate(ref string) (string, string, int, error) {
	repoPart, numPart, found := strings.Cut(ref, "#")
	if !found {
		repoPart, numPart = "", ref
	}

	number, err := strconv.Atoi(strings.TrimSpace(numPart))
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid ticket ref %q: expected owner/repo#number", ref)
	}

	owner, repo := s.owner, s.repo
	if repoPart != "" {
		o, r, ok := strings.Cut(repoPart, "/")
		if !ok || o == "" || r == "" {
			return "", "", 0, fmt.Errorf("invalid ticket ref %q: expected owner/repo#number", ref)
		}
		owner, repo = o, r
	}
	if owner == "" || repo == "" {
		return "", "", 0, fmt.Errorf("ticket ref %q names no repository and none is configured", ref)
	}
	return owner, repo, number, nil
}

var _ Source = (*GitHubSource)(nil)

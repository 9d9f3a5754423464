package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// JiraConfig holds the connection settings for a Jira Cloud instance.
type JiraConfig struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
}

// JiraSource fetches issues from the Jira REST API v2.
type JiraSource struct {
	client *resty.Client
	logger *zap.Logger
}

// NewJiraSource builds a source over the Jira instance at cfg.BaseURL.
// Requests authenticate with basic auth (email + API token) when both are
// set.
func NewJiraSource(cfg JiraConfig, logger *zap.Logger) (*JiraSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("jira base URL not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Email != "" && cfg.APIToken != "" {
		client.SetBasicAuth(cfg.Email, cfg.APIToken)
	}

	return &JiraSource{
		client: client,
		logger: logger.Named("tracker.jira"),
	}, nil
}

type jiraIssue struct {
	Key    string     `json:"key"`
	Fields jiraFields `json:"fields"`
}

type jiraFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

// Fetch retrieves the issue with the given key.
func (s *JiraSource) Fetch(ctx context.Context, ref string) (*pipeline.Ticket, error) {
	var issue jiraIssue
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "summary,description").
		SetResult(&issue).
		Get("/rest/api/2/issue/" + url.PathEscape(ref))
	if err != nil {
		return nil, fmt.Errorf("fetching jira issue %s: %w", ref, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: jira issue %s", ErrTicketNotFound, ref)
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, fmt.Errorf("jira authentication failed (%d), check email and API token", resp.StatusCode())
	case resp.IsError():
		return nil, fmt.Errorf("jira API error (%d): %s", resp.StatusCode(), resp.String())
	}

	key := issue.Key
	if key == "" {
		key = ref
	}
	criteria := extractCriteria(issue.Fields.Description)
	s.logger.Debug("fetched jira issue",
		zap.String("key", key),
		zap.Int("criteria", len(criteria)))

	return &pipeline.Ticket{
		ID:                 key,
		Title:              issue.Fields.Summary,
		Description:        issue.Fields.Description,
		AcceptanceCriteria: criteria,
	}, nil
}

var _ Source = (*JiraSource)(nil)

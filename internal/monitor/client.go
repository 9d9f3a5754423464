package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// RunClient queries the sdlcd HTTP API for run state.
type RunClient struct {
	baseURL string
	client  *http.Client
}

// RunSnapshot is one poll of a run: its state plus how long the poll took.
type RunSnapshot struct {
	State   pipeline.RunState
	Latency time.Duration
}

// NewRunClient creates a new run state client
func NewRunClient(baseURL string) *RunClient {
	return &RunClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// FetchRun fetches a run's latest checkpointed state and measures the
// request round trip.
func (c *RunClient) FetchRun(ctx context.Context, runID string) (RunSnapshot, error) {
	url := fmt.Sprintf("%s/api/v1/runs/%s", c.baseURL, runID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RunSnapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return RunSnapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return RunSnapshot{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var state pipeline.RunState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return RunSnapshot{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return RunSnapshot{State: state, Latency: latency}, nil
}

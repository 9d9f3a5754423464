package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// eventsCmd streams a run's lifecycle events
var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Stream a run's lifecycle events",
	Long: `Stream a run's lifecycle events over SSE until the run reaches a
terminal state. A finished run prints its terminal event and exits.

Examples:
  # Follow a live run
  sdlc events 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

// Event matches internal/pipeline/types.go Event
type Event struct {
	Kind      string       `json:"kind"`
	RunID     string       `json:"run_id"`
	Stage     string       `json:"stage,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Result    *StageResult `json:"result,omitempty"`
	Dropped   int          `json:"dropped,omitempty"`
}

// runEvents handles the events command
func runEvents(cmd *cobra.Command, args []string) error {
	streamURL := fmt.Sprintf("%s/api/v1/runs/%s/events", serverURL, args[0])

	// No client timeout: the stream stays open until the run finishes.
	resp, err := http.Get(streamURL)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", streamURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return printEventStream(resp.Body)
}

// printEventStream renders SSE frames from body until the run's terminal
// event arrives or the stream ends.
func printEventStream(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var kind string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")

		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")

			// An error event means the run never started.
			if kind == "error" {
				var errResp ErrorResponse
				if err := json.Unmarshal([]byte(data), &errResp); err != nil {
					return fmt.Errorf("run failed: %s", data)
				}
				return fmt.Errorf("run failed: %s", errResp.Error)
			}

			var ev Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			printEvent(ev)

			if ev.Kind == "run_complete" || ev.Kind == "run_error" {
				return nil
			}
		}
	}

	return scanner.Err()
}

// printEvent renders one lifecycle event on a single line.
func printEvent(ev Event) {
	ts := ev.Timestamp.Local().Format("15:04:05.000")
	switch {
	case ev.Result != nil && ev.Result.Error != "":
		fmt.Printf("%s  %-14s %s: %s\n", ts, ev.Kind, ev.Stage, ev.Result.Error)
	case ev.Stage != "":
		fmt.Printf("%s  %-14s %s\n", ts, ev.Kind, ev.Stage)
	case ev.Dropped > 0:
		fmt.Printf("%s  %-14s %d event(s) dropped\n", ts, ev.Kind, ev.Dropped)
	default:
		fmt.Printf("%s  %s\n", ts, ev.Kind)
	}
}

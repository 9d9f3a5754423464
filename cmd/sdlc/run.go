package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	analyzeAction   string
	analyzeTitle    string
	analyzeDesc     string
	analyzeCriteria []string
	analyzeRepoRef  string
	analyzeRunID    string
	analyzeStream   bool
)

// analyzeCmd starts a pipeline run and waits for the result
var analyzeCmd = &cobra.Command{
	Use:   "analyze <ticket-ref>",
	Short: "Run a pipeline action against a ticket",
	Long: `Run a pipeline action against a ticket and wait for the result.

The ticket resolves through the daemon's configured tracker unless --title
or --description inline it. Passing --run-id with the ID of a finished run
replays its stored result without re-executing.

Examples:
  # Full pipeline against a tracker ticket
  sdlc analyze PROJ-123

  # Requirements only
  sdlc analyze PROJ-123 --action analyze_requirements

  # Inline ticket without a tracker
  sdlc analyze adhoc-1 --title "Rate limiter" --description "Limit login attempts per client IP."

  # Stream lifecycle events while the run executes
  sdlc analyze PROJ-123 --stream

  # Retrieve context from a specific repository
  sdlc analyze PROJ-123 --repo acme/billing

  # Replay a finished run
  sdlc analyze PROJ-123 --run-id 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

// resumeCmd continues an interrupted run
var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run from its latest checkpoint",
	Long: `Resume an interrupted run from its latest checkpoint and wait for
the result. Resuming a finished run returns its stored result unchanged.

Examples:
  # Resume a run
  sdlc resume 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

// stateCmd shows a run's latest checkpointed state
var stateCmd = &cobra.Command{
	Use:   "state <run-id>",
	Short: "Show a run's latest checkpointed state",
	Long: `Show a run's latest checkpointed state: ticket, action, status,
and per-stage results.

Examples:
  # Inspect a run
  sdlc state 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

// historyCmd shows a run's checkpoint history
var historyCmd = &cobra.Command{
	Use:   "history <run-id>",
	Short: "Show a run's checkpoint history",
	Long: `Show a run's checkpoint history in sequence order. A completed
full_pipeline run has exactly four checkpoints: the initial one plus one
per completed stage.

Examples:
  # Show checkpoints
  sdlc history 2f6c1fa2-7c30-4a83-9e6b-0f0a4f4f2b11`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeAction, "action", "full_pipeline", "pipeline action: analyze_requirements, generate_code, generate_tests, full_pipeline")
	analyzeCmd.Flags().StringVar(&analyzeTitle, "title", "", "inline ticket title (skips the tracker)")
	analyzeCmd.Flags().StringVar(&analyzeDesc, "description", "", "inline ticket description (skips the tracker)")
	analyzeCmd.Flags().StringArrayVar(&analyzeCriteria, "criteria", nil, "inline acceptance criterion (repeatable)")
	analyzeCmd.Flags().StringVar(&analyzeRepoRef, "repo", "", "source repository to retrieve context from (e.g. owner/repo)")
	analyzeCmd.Flags().StringVar(&analyzeRunID, "run-id", "", "run ID to create or replay")
	analyzeCmd.Flags().BoolVar(&analyzeStream, "stream", false, "stream lifecycle events instead of waiting for the result")
}

// AnalyzeRequest matches internal/http/analyze.go AnalyzeRequest
type AnalyzeRequest struct {
	TicketID           string   `json:"ticket_id"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Action             string   `json:"action"`
	ExternalRepoRef    string   `json:"external_repo_ref,omitempty"`
	RunID              string   `json:"run_id,omitempty"`
}

// AnalyzeResponse matches internal/http/analyze.go AnalyzeResponse
type AnalyzeResponse struct {
	RunID          string        `json:"run_id"`
	TicketID       string        `json:"ticket_id"`
	Status         string        `json:"status"`
	Requirements   []Requirement `json:"requirements"`
	GeneratedCode  *CodeArtifact `json:"generated_code,omitempty"`
	GeneratedTests *TestArtifact `json:"generated_tests,omitempty"`
	StageResults   []StageResult `json:"stage_results"`
}

// Requirement matches internal/agents/types.go Requirement
type Requirement struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Priority   string  `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// GeneratedFile matches internal/agents/types.go GeneratedFile
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CodeArtifact matches internal/agents/types.go CodeArtifact
type CodeArtifact struct {
	Language   string          `json:"language"`
	Summary    string          `json:"summary,omitempty"`
	Files      []GeneratedFile `json:"files"`
	Confidence float64         `json:"confidence"`
}

// TestArtifact matches internal/agents/types.go TestArtifact
type TestArtifact struct {
	Framework  string          `json:"framework"`
	Summary    string          `json:"summary,omitempty"`
	Files      []GeneratedFile `json:"files"`
	Confidence float64         `json:"confidence"`
}

// StageResult matches internal/pipeline/types.go StageResult
type StageResult struct {
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
}

// Ticket matches internal/pipeline/types.go Ticket
type Ticket struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	RepoRef            string   `json:"repo_ref,omitempty"`
}

// RunState matches internal/pipeline/types.go RunState
type RunState struct {
	RunID        string        `json:"run_id"`
	Ticket       Ticket        `json:"ticket"`
	Action       string        `json:"action"`
	Results      []StageResult `json:"results"`
	CurrentStage string        `json:"current_stage"`
	Status       string        `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Checkpoint matches internal/pipeline/types.go Checkpoint
type Checkpoint struct {
	Sequence  uint64    `json:"sequence"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	State     RunState  `json:"state"`
}

// HistoryResponse matches internal/http/runs.go HistoryResponse
type HistoryResponse struct {
	RunID       string       `json:"run_id"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// runAnalyze handles the analyze command
func runAnalyze(cmd *cobra.Command, args []string) error {
	reqBody := AnalyzeRequest{
		TicketID:           args[0],
		Title:              analyzeTitle,
		Description:        analyzeDesc,
		AcceptanceCriteria: analyzeCriteria,
		Action:             analyzeAction,
		ExternalRepoRef:    analyzeRepoRef,
		RunID:              analyzeRunID,
	}

	if analyzeStream {
		return streamAnalyze(reqBody)
	}

	var runResp AnalyzeResponse
	if err := postJSON(fmt.Sprintf("%s/api/v1/pipeline/analyze", serverURL), reqBody, &runResp); err != nil {
		return err
	}

	printRun(runResp)
	return nil
}

// streamAnalyze starts the run on the streaming endpoint and prints its
// lifecycle events until the terminal one arrives.
func streamAnalyze(reqBody AnalyzeRequest) error {
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/pipeline/analyze/stream", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// No client timeout: the stream stays open until the run finishes.
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
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

// runResume handles the resume command
func runResume(cmd *cobra.Command, args []string) error {
	var runResp AnalyzeResponse
	if err := postJSON(fmt.Sprintf("%s/api/v1/runs/%s/resume", serverURL, args[0]), nil, &runResp); err != nil {
		return err
	}

	printRun(runResp)
	return nil
}

// runState handles the state command
func runState(cmd *cobra.Command, args []string) error {
	var state RunState
	if err := getJSON(fmt.Sprintf("%s/api/v1/runs/%s", serverURL, args[0]), &state); err != nil {
		return err
	}

	fmt.Printf("Run:     %s\n", state.RunID)
	fmt.Printf("Ticket:  %s\n", state.Ticket.ID)
	fmt.Printf("Action:  %s\n", state.Action)
	fmt.Printf("Status:  %s\n", state.Status)
	if state.CurrentStage != "" {
		fmt.Printf("Stage:   %s\n", state.CurrentStage)
	}
	fmt.Printf("Updated: %s\n", state.UpdatedAt.Local().Format(time.RFC3339))
	printStages(state.Results)

	return nil
}

// runHistory handles the history command
func runHistory(cmd *cobra.Command, args []string) error {
	var histResp HistoryResponse
	if err := getJSON(fmt.Sprintf("%s/api/v1/runs/%s/history", serverURL, args[0]), &histResp); err != nil {
		return err
	}

	fmt.Printf("Run: %s (%d checkpoints)\n\n", histResp.RunID, len(histResp.Checkpoints))
	for _, cp := range histResp.Checkpoints {
		fmt.Printf("  #%-3d %s  %-10s %-12s %d stage(s)\n",
			cp.Sequence,
			cp.Timestamp.Local().Format("15:04:05.000"),
			cp.State.Status,
			cp.State.CurrentStage,
			len(cp.State.Results))
	}

	return nil
}

// printRun renders a finished run with its stages and artifacts.
func printRun(resp AnalyzeResponse) {
	fmt.Printf("Run:    %s\n", resp.RunID)
	fmt.Printf("Ticket: %s\n", resp.TicketID)
	fmt.Printf("Status: %s\n", resp.Status)
	printStages(resp.StageResults)

	if len(resp.Requirements) > 0 {
		fmt.Printf("\nRequirements (%d):\n", len(resp.Requirements))
		for _, r := range resp.Requirements {
			fmt.Printf("  [%s] %-6s %s\n", r.ID, r.Priority, r.Text)
		}
	}

	if resp.GeneratedCode != nil {
		fmt.Printf("\nGenerated code (%s, %d files):\n", resp.GeneratedCode.Language, len(resp.GeneratedCode.Files))
		for _, f := range resp.GeneratedCode.Files {
			fmt.Printf("  %s\n", f.Path)
		}
	}

	if resp.GeneratedTests != nil {
		fmt.Printf("\nGenerated tests (%s, %d files):\n", resp.GeneratedTests.Framework, len(resp.GeneratedTests.Files))
		for _, f := range resp.GeneratedTests.Files {
			fmt.Printf("  %s\n", f.Path)
		}
	}
}

// printStages renders per-stage results in execution order.
func printStages(results []StageResult) {
	if len(results) == 0 {
		return
	}

	fmt.Println("\nStages:")
	for _, sr := range results {
		line := fmt.Sprintf("  %-12s %-10s %s", sr.Stage, sr.Status, stageDuration(sr))
		if sr.Error != "" {
			line += "  " + sr.Error
		}
		fmt.Println(line)
	}
}

// stageDuration formats a completed stage's elapsed time.
func stageDuration(sr StageResult) string {
	if sr.StartedAt.IsZero() || sr.CompletedAt.IsZero() {
		return ""
	}
	return sr.CompletedAt.Sub(sr.StartedAt).Round(time.Millisecond).String()
}

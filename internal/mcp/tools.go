package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/sdlcd/internal/agents"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// pipelineRunInput starts (or replays) a pipeline run.
type pipelineRunInput struct {
	TicketID           string   `json:"ticket_id" jsonschema:"required,Ticket reference (e.g. PROJ-123 or owner/repo#45)"`
	Title              string   `json:"title,omitempty" jsonschema:"Inline ticket title; when any inline field is set the tracker is not consulted"`
	Description        string   `json:"description,omitempty" jsonschema:"Inline ticket description"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" jsonschema:"Inline acceptance criteria"`
	Action             string   `json:"action" jsonschema:"required,Pipeline action: analyze_requirements generate_code generate_tests or full_pipeline"`
	ExternalRepoRef    string   `json:"external_repo_ref,omitempty" jsonschema:"Source repository to retrieve context from (e.g. owner/repo); overrides the tracker-derived repository"`
	RunID              string   `json:"run_id,omitempty" jsonschema:"Run identifier; omit to generate one. Reusing a finished run's ID replays its result"`
}

type pipelineResumeInput struct {
	RunID string `json:"run_id" jsonschema:"required,Run identifier returned by pipeline_run"`
}

type pipelineStateInput struct {
	RunID string `json:"run_id" jsonschema:"required,Run identifier"`
}

type pipelineHistoryInput struct {
	RunID string `json:"run_id" jsonschema:"required,Run identifier"`
}

// stageOutcome summarizes one executed stage.
type stageOutcome struct {
	Stage      string `json:"stage" jsonschema:"Stage name"`
	Status     string `json:"status" jsonschema:"Stage outcome: completed or failed"`
	DurationMS int64  `json:"duration_ms" jsonschema:"Stage wall time in milliseconds"`
	Error      string `json:"error,omitempty" jsonschema:"Failure detail for failed stages"`
}

// runOutput is the tool-facing view of a run.
type runOutput struct {
	RunID          string               `json:"run_id" jsonschema:"Run identifier; reuse it with pipeline_resume or pipeline_state"`
	TicketID       string               `json:"ticket_id" jsonschema:"Ticket reference the run operates on"`
	Action         string               `json:"action" jsonschema:"Requested pipeline action"`
	Status         string               `json:"status" jsonschema:"Run status: running completed or failed"`
	CurrentStage   string               `json:"current_stage" jsonschema:"Latest checkpointed stage pointer"`
	Stages         []stageOutcome       `json:"stages" jsonschema:"Executed stages in order"`
	Requirements   []agents.Requirement `json:"requirements,omitempty" jsonschema:"Structured requirements extracted from the ticket"`
	GeneratedCode  *agents.CodeArtifact `json:"generated_code,omitempty" jsonschema:"Code artifact produced by the code stage"`
	GeneratedTests *agents.TestArtifact `json:"generated_tests,omitempty" jsonschema:"Test artifact produced by the test stage"`
}

// checkpointSummary is one history entry. The full state snapshot stays on the
// daemon; clients that need artifacts use pipeline_state.
type checkpointSummary struct {
	Sequence     uint64    `json:"sequence" jsonschema:"Checkpoint sequence number, strictly increasing from 1"`
	Timestamp    time.Time `json:"timestamp" jsonschema:"When the checkpoint was written"`
	Status       string    `json:"status" jsonschema:"Run status at this checkpoint"`
	CurrentStage string    `json:"current_stage" jsonschema:"Stage pointer at this checkpoint"`
	Stages       int       `json:"stages" jsonschema:"Stage results recorded so far"`
}

type pipelineHistoryOutput struct {
	RunID       string              `json:"run_id" jsonschema:"Run identifier"`
	Checkpoints []checkpointSummary `json:"checkpoints" jsonschema:"Checkpoints in sequence order"`
}

// registerTools registers all pipeline tools on the MCP server.
func (s *Server) registerTools() {
	// pipeline_run
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "pipeline_run",
		Description: "Run a pipeline action against a ticket. The ticket is resolved from the " +
			"configured tracker unless inline fields are given. Reusing a finished run_id " +
			"replays the stored result without re-executing any stage.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineRunInput) (*mcp.CallToolResult, runOutput, error) {
		start := time.Now()
		out, err := s.runPipeline(ctx, args)
		observeTool("pipeline_run", start, err)
		if err != nil {
			return nil, runOutput{}, fmt.Errorf("pipeline run failed: %w", err)
		}
		return textResult(runSummary(out)), out, nil
	})

	// pipeline_resume
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "pipeline_resume",
		Description: "Resume an interrupted run from its latest checkpoint. Finished runs " +
			"return their stored result unchanged.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineResumeInput) (*mcp.CallToolResult, runOutput, error) {
		start := time.Now()
		out, err := s.resumePipeline(ctx, args.RunID)
		observeTool("pipeline_resume", start, err)
		if err != nil {
			return nil, runOutput{}, fmt.Errorf("pipeline resume failed: %w", err)
		}
		return textResult(runSummary(out)), out, nil
	})

	// pipeline_state
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_state",
		Description: "Get the latest checkpointed state of a run, including any generated artifacts.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineStateInput) (*mcp.CallToolResult, runOutput, error) {
		start := time.Now()
		out, err := s.pipelineState(ctx, args.RunID)
		observeTool("pipeline_state", start, err)
		if err != nil {
			return nil, runOutput{}, fmt.Errorf("pipeline state failed: %w", err)
		}
		return textResult(runSummary(out)), out, nil
	})

	// pipeline_history
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_history",
		Description: "List a run's checkpoint history in sequence order.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineHistoryInput) (*mcp.CallToolResult, pipelineHistoryOutput, error) {
		start := time.Now()
		out, err := s.pipelineHistory(ctx, args.RunID)
		observeTool("pipeline_history", start, err)
		if err != nil {
			return nil, pipelineHistoryOutput{}, fmt.Errorf("pipeline history failed: %w", err)
		}
		summary := fmt.Sprintf("Found %d checkpoints for run %s", len(out.Checkpoints), out.RunID)
		return textResult(summary), out, nil
	})
}

func (s *Server) runPipeline(ctx context.Context, args pipelineRunInput) (runOutput, error) {
	ticket, err := s.resolveTicket(ctx, args)
	if err != nil {
		return runOutput{}, err
	}

	state, err := s.service.Execute(ctx, ticket, pipeline.Action(args.Action), args.RunID)
	if err != nil {
		return runOutput{}, err
	}
	return runOutputFrom(state), nil
}

func (s *Server) resumePipeline(ctx context.Context, runID string) (runOutput, error) {
	state, err := s.service.Resume(ctx, runID)
	if err != nil {
		return runOutput{}, err
	}
	return runOutputFrom(state), nil
}

func (s *Server) pipelineState(ctx context.Context, runID string) (runOutput, error) {
	state, err := s.service.GetState(ctx, runID)
	if err != nil {
		return runOutput{}, err
	}
	return runOutputFrom(state), nil
}

func (s *Server) pipelineHistory(ctx context.Context, runID string) (pipelineHistoryOutput, error) {
	checkpoints, err := s.service.GetHistory(ctx, runID)
	if err != nil {
		return pipelineHistoryOutput{}, err
	}

	out := pipelineHistoryOutput{
		RunID:       runID,
		Checkpoints: make([]checkpointSummary, 0, len(checkpoints)),
	}
	for _, cp := range checkpoints {
		out.Checkpoints = append(out.Checkpoints, checkpointSummary{
			Sequence:     cp.Sequence,
			Timestamp:    cp.Timestamp,
			Status:       string(cp.State.Status),
			CurrentStage: string(cp.State.CurrentStage),
			Stages:       len(cp.State.Results),
		})
	}
	return out, nil
}

// resolveTicket builds the ticket for a run. Inline fields win; otherwise the
// reference is resolved through the tracker. An external repo ref overrides
// the tracker-derived repository.
func (s *Server) resolveTicket(ctx context.Context, args pipelineRunInput) (pipeline.Ticket, error) {
	if args.TicketID == "" {
		return pipeline.Ticket{}, fmt.Errorf("ticket_id is required")
	}

	if args.Title != "" || args.Description != "" || len(args.AcceptanceCriteria) > 0 {
		return pipeline.Ticket{
			ID:                 args.TicketID,
			Title:              args.Title,
			Description:        args.Description,
			AcceptanceCriteria: args.AcceptanceCriteria,
			RepoRef:            args.ExternalRepoRef,
		}, nil
	}

	ticket, err := s.source.Fetch(ctx, args.TicketID)
	if err != nil {
		return pipeline.Ticket{}, fmt.Errorf("fetching ticket %s: %w", args.TicketID, err)
	}
	if args.ExternalRepoRef != "" {
		ticket.RepoRef = args.ExternalRepoRef
	}
	return *ticket, nil
}

// runOutputFrom maps checkpointed run state into the tool output shape,
// decoding stage payloads into typed artifacts.
func runOutputFrom(state *pipeline.RunState) runOutput {
	out := runOutput{
		RunID:        state.RunID,
		TicketID:     state.Ticket.ID,
		Action:       string(state.Action),
		Status:       string(state.Status),
		CurrentStage: string(state.CurrentStage),
		Stages:       make([]stageOutcome, 0, len(state.Results)),
	}
	for _, r := range state.Results {
		out.Stages = append(out.Stages, stageOutcome{
			Stage:      string(r.Stage),
			Status:     string(r.Status),
			DurationMS: r.CompletedAt.Sub(r.StartedAt).Milliseconds(),
			Error:      r.Error,
		})
	}

	sc := &pipeline.StageContext{
		Ticket:  state.Ticket,
		Action:  state.Action,
		Results: state.Results,
	}
	out.Requirements = agents.RequirementsFrom(sc)
	out.GeneratedCode = agents.CodeFrom(sc)
	out.GeneratedTests = agents.TestsFrom(sc)
	return out
}

func runSummary(out runOutput) string {
	return fmt.Sprintf("Run %s %s (%d stages)", out.RunID, out.Status, len(out.Stages))
}

// textResult wraps a one-line summary as the human-readable tool result; the
// typed output travels as structured content.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

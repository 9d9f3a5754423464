package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/agents"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
	"github.com/fyrsmithlabs/sdlcd/internal/tracker"
)

// AnalyzeRequest is the request body for POST /api/v1/pipeline/analyze.
// A request carrying only ticket_id resolves the ticket through the
// configured tracker; title, description, and acceptance_criteria inline the
// ticket instead.
type AnalyzeRequest struct {
	TicketID           string   `json:"ticket_id"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Action             string   `json:"action"`
	ExternalRepoRef    string   `json:"external_repo_ref,omitempty"`
	RunID              string   `json:"run_id,omitempty"`
}

// AnalyzeResponse is the response body for POST /api/v1/pipeline/analyze.
// Requirements and artifacts are unpacked from the stage payloads; a failed
// run carries whatever stages completed before the failure.
type AnalyzeResponse struct {
	RunID          string                 `json:"run_id"`
	TicketID       string                 `json:"ticket_id"`
	Status         string                 `json:"status"`
	Requirements   []agents.Requirement   `json:"requirements"`
	GeneratedCode  *agents.CodeArtifact   `json:"generated_code,omitempty"`
	GeneratedTests *agents.TestArtifact   `json:"generated_tests,omitempty"`
	StageResults   []pipeline.StageResult `json:"stage_results"`
}

// handleAnalyze executes the pipeline synchronously and returns the final
// run state. A run that started and failed is a 200 with status "failed";
// 4xx is reserved for runs that never started.
func (s *Server) handleAnalyze(c echo.Context) error {
	req, err := s.bindAnalyzeRequest(c)
	if err != nil {
		return err
	}

	ticket, err := s.resolveTicket(c.Request().Context(), req)
	if err != nil {
		return s.ticketError(c, err)
	}

	state, err := s.service.Execute(c.Request().Context(), ticket, pipeline.Action(req.Action), req.RunID)
	if err != nil {
		return s.runError(c, err)
	}

	return c.JSON(http.StatusOK, analyzeResponse(state))
}

// handleAnalyzeStream executes the pipeline while streaming its lifecycle
// events as SSE. The subscription is attached before execution starts so no
// event is missed; a client disconnect leaves the run executing.
func (s *Server) handleAnalyzeStream(c echo.Context) error {
	req, err := s.bindAnalyzeRequest(c)
	if err != nil {
		return err
	}

	ticket, err := s.resolveTicket(c.Request().Context(), req)
	if err != nil {
		return s.ticketError(c, err)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	sub := s.bus.Subscribe(runID)
	defer sub.Close()

	// A terminal run re-emits only its terminal event: resume of a finished
	// run is idempotent and publishes nothing.
	if req.RunID != "" {
		if state, err := s.service.GetState(c.Request().Context(), runID); err == nil && state.Terminal() {
			startSSE(c)
			return writeSSEEvent(c, terminalEvent(state))
		}
	}

	startSSE(c)

	// Execution is detached from the request context: the stream is an
	// observer, not the run's owner.
	done := make(chan error, 1)
	execCtx := context.WithoutCancel(c.Request().Context())
	go func() {
		_, err := s.service.Execute(execCtx, ticket, pipeline.Action(req.Action), runID)
		done <- err
	}()

	return s.streamEvents(c, sub, done)
}

// bindAnalyzeRequest decodes and validates the request body. Validation
// failures are written to the response; the returned error is non-nil once
// a response has been sent.
func (s *Server) bindAnalyzeRequest(c echo.Context) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid analyze request", zap.Error(err))
		return req, jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.TicketID == "" {
		return req, jsonError(c, http.StatusBadRequest, "ticket_id is required")
	}
	if !pipeline.Action(req.Action).Valid() {
		return req, jsonError(c, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}
	return req, nil
}

// resolveTicket builds the run's ticket: inline fields win, otherwise the
// tracker resolves the reference. An external repo ref on the request
// overrides whatever repository the tracker derived.
func (s *Server) resolveTicket(ctx context.Context, req AnalyzeRequest) (pipeline.Ticket, error) {
	if req.Title != "" || req.Description != "" || len(req.AcceptanceCriteria) > 0 {
		return pipeline.Ticket{
			ID:                 req.TicketID,
			Title:              req.Title,
			Description:        req.Description,
			AcceptanceCriteria: req.AcceptanceCriteria,
			RepoRef:            req.ExternalRepoRef,
		}, nil
	}

	ticket, err := s.source.Fetch(ctx, req.TicketID)
	if err != nil {
		return pipeline.Ticket{}, err
	}
	if req.ExternalRepoRef != "" {
		ticket.RepoRef = req.ExternalRepoRef
	}
	return *ticket, nil
}

// ticketError maps tracker failures: unknown refs are the client's problem,
// everything else is a bad gateway.
func (s *Server) ticketError(c echo.Context, err error) error {
	if errors.Is(err, tracker.ErrTicketNotFound) {
		return jsonError(c, http.StatusNotFound, err.Error())
	}
	s.logger.Warn("ticket lookup failed", zap.Error(err))
	return jsonError(c, http.StatusBadGateway, fmt.Sprintf("fetching ticket: %v", err))
}

// analyzeResponse unpacks a run state into the response shape.
func analyzeResponse(state *pipeline.RunState) AnalyzeResponse {
	sc := &pipeline.StageContext{
		Ticket:  state.Ticket,
		Action:  state.Action,
		Results: state.Results,
	}

	resp := AnalyzeResponse{
		RunID:          state.RunID,
		TicketID:       state.Ticket.ID,
		Status:         string(state.Status),
		Requirements:   agents.RequirementsFrom(sc),
		GeneratedCode:  agents.CodeFrom(sc),
		GeneratedTests: agents.TestsFrom(sc),
		StageResults:   state.Results,
	}
	if resp.Requirements == nil {
		resp.Requirements = []agents.Requirement{}
	}
	if resp.StageResults == nil {
		resp.StageResults = []pipeline.StageResult{}
	}
	return resp
}

package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// HistoryResponse is the response body for GET /api/v1/runs/:id/history.
type HistoryResponse struct {
	RunID       string                `json:"run_id"`
	Checkpoints []pipeline.Checkpoint `json:"checkpoints"`
}

// handleResume re-attaches to an existing run. Terminal runs return their
// state untouched; non-terminal runs continue from their latest checkpoint.
func (s *Server) handleResume(c echo.Context) error {
	state, err := s.service.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.runError(c, err)
	}
	return c.JSON(http.StatusOK, analyzeResponse(state))
}

// handleGetRun returns the latest checkpointed state for a run.
func (s *Server) handleGetRun(c echo.Context) error {
	state, err := s.service.GetState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.runError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// handleGetHistory returns a run's full checkpoint history.
func (s *Server) handleGetHistory(c echo.Context) error {
	runID := c.Param("id")
	history, err := s.service.GetHistory(c.Request().Context(), runID)
	if err != nil {
		return s.runError(c, err)
	}
	return c.JSON(http.StatusOK, HistoryResponse{RunID: runID, Checkpoints: history})
}

// handleRunEvents attaches an SSE stream to a live run. The subscription is
// taken before the state check so a run finishing in between still delivers
// its terminal event. Unknown runs fail with a JSON 404 before any SSE bytes
// are written.
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("id")

	sub := s.bus.Subscribe(runID)
	defer sub.Close()

	state, err := s.service.GetState(c.Request().Context(), runID)
	if err != nil {
		return s.runError(c, err)
	}

	startSSE(c)
	if state.Terminal() {
		return writeSSEEvent(c, terminalEvent(state))
	}
	return s.streamEvents(c, sub, nil)
}

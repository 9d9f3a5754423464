package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/checkpoint"
	"github.com/fyrsmithlabs/sdlcd/internal/eventbus"
	"github.com/fyrsmithlabs/sdlcd/internal/orchestrator"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
	"github.com/fyrsmithlabs/sdlcd/internal/tracker"
)

// postJSON drives one JSON POST through the echo stack.
func postJSON(t *testing.T, server *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeAnalyze(t *testing.T, rec *httptest.ResponseRecorder) AnalyzeResponse {
	t.Helper()
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleAnalyze_FullPipeline(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID:    "PROJ-2",
		Title:       "Session handling",
		Description: "The system must expire sessions after 30 minutes.",
		Action:      string(pipeline.ActionFullPipeline),
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAnalyze(t, rec)

	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "PROJ-2", resp.TicketID)
	assert.Equal(t, string(pipeline.RunCompleted), resp.Status)
	assert.NotEmpty(t, resp.Requirements)

	require.NotNil(t, resp.GeneratedCode)
	assert.Equal(t, "go", resp.GeneratedCode.Language)
	assert.NotEmpty(t, resp.GeneratedCode.Files)

	require.NotNil(t, resp.GeneratedTests)
	assert.NotEmpty(t, resp.GeneratedTests.Files)

	require.Len(t, resp.StageResults, 3)
	assert.Equal(t, pipeline.StageRequirement, resp.StageResults[0].Stage)
	assert.Equal(t, pipeline.StageCode, resp.StageResults[1].Stage)
	assert.Equal(t, pipeline.StageTest, resp.StageResults[2].Stage)
}

func TestHandleAnalyze_AnalyzeRequirementsOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID:    "PROJ-3",
		Description: "The importer should retry failed batches.",
		Action:      string(pipeline.ActionAnalyzeRequirements),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAnalyze(t, rec)

	assert.Equal(t, string(pipeline.RunCompleted), resp.Status)
	assert.NotEmpty(t, resp.Requirements)
	assert.Nil(t, resp.GeneratedCode)
	assert.Nil(t, resp.GeneratedTests)
	require.Len(t, resp.StageResults, 1)
	assert.Equal(t, pipeline.StageRequirement, resp.StageResults[0].Stage)
}

func TestHandleAnalyze_GenerateTestsSkipsCode(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID:    "PROJ-4",
		Description: "The parser must reject malformed input.",
		Action:      string(pipeline.ActionGenerateTests),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAnalyze(t, rec)

	assert.Equal(t, string(pipeline.RunCompleted), resp.Status)
	assert.Nil(t, resp.GeneratedCode)
	assert.NotNil(t, resp.GeneratedTests)
	require.Len(t, resp.StageResults, 2)
	assert.Equal(t, pipeline.StageRequirement, resp.StageResults[0].Stage)
	assert.Equal(t, pipeline.StageTest, resp.StageResults[1].Stage)
}

func TestHandleAnalyze_ResolvesTicketFromTracker(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID: "PROJ-1",
		Action:   string(pipeline.ActionAnalyzeRequirements),
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAnalyze(t, rec)

	assert.Equal(t, "PROJ-1", resp.TicketID)
	assert.Equal(t, string(pipeline.RunCompleted), resp.Status)
	assert.NotEmpty(t, resp.Requirements)
}

func TestHandleAnalyze_ExternalRepoRef(t *testing.T) {
	env := newTestEnv(t)

	t.Run("inline ticket carries the repo ref", func(t *testing.T) {
		rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
			TicketID:        "PROJ-8",
			Description:     "The gateway must sign outbound requests.",
			Action:          string(pipeline.ActionAnalyzeRequirements),
			ExternalRepoRef: "acme/gateway",
			RunID:           "run-repo-inline",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		state, err := env.server.service.GetState(context.Background(), "run-repo-inline")
		require.NoError(t, err)
		assert.Equal(t, "acme/gateway", state.Ticket.RepoRef)
	})

	t.Run("request overrides the tracker-derived repo", func(t *testing.T) {
		rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
			TicketID:        "PROJ-1",
			Action:          string(pipeline.ActionAnalyzeRequirements),
			ExternalRepoRef: "acme/auth",
			RunID:           "run-repo-tracker",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		state, err := env.server.service.GetState(context.Background(), "run-repo-tracker")
		require.NoError(t, err)
		assert.Equal(t, "acme/auth", state.Ticket.RepoRef)
	})
}

func TestHandleAnalyze_UnknownTicket(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID: "MISSING-1",
		Action:   string(pipeline.ActionFullPipeline),
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "ticket not found")
}

func TestHandleAnalyze_Validation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing ticket_id", func(t *testing.T) {
		rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
			Action: string(pipeline.ActionFullPipeline),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "ticket_id is required")
	})

	t.Run("unknown action", func(t *testing.T) {
		rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
			TicketID: "PROJ-1",
			Action:   "deploy",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `unknown action \"deploy\"`)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/analyze", bytes.NewReader([]byte("not json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		env.server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid request body")
	})
}

func TestHandleAnalyze_ConcurrentRun(t *testing.T) {
	env := newTestEnv(t)

	// Hold the lease the way a competing executor would.
	require.NoError(t, env.store.Acquire(context.Background(), "run-busy"))
	defer env.store.Release("run-busy")

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID:    "PROJ-5",
		Description: "Anything.",
		Action:      string(pipeline.ActionFullPipeline),
		RunID:       "run-busy",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already executing")
}

func TestHandleAnalyze_TerminalReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	body := AnalyzeRequest{
		TicketID:    "PROJ-6",
		Description: "The exporter must stream results.",
		Action:      string(pipeline.ActionFullPipeline),
		RunID:       "run-replay",
	}

	first := postJSON(t, env.server, "/api/v1/pipeline/analyze", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, string(pipeline.RunCompleted), decodeAnalyze(t, first).Status)

	history, err := env.server.service.GetHistory(context.Background(), "run-replay")
	require.NoError(t, err)
	require.Len(t, history, 4)

	second := postJSON(t, env.server, "/api/v1/pipeline/analyze", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, string(pipeline.RunCompleted), decodeAnalyze(t, second).Status)

	history, err = env.server.service.GetHistory(context.Background(), "run-replay")
	require.NoError(t, err)
	assert.Len(t, history, 4, "replay must not add checkpoints")
}

// failingStage always fails, standing in for a broken capability.
type failingStage struct{}

func (failingStage) Name() pipeline.StageName { return pipeline.StageRequirement }

func (failingStage) Execute(context.Context, *pipeline.StageContext) (map[string]any, error) {
	return nil, assert.AnError
}

func TestHandleAnalyze_StartedButFailedIsOK(t *testing.T) {
	store := checkpoint.NewMemoryStore(zap.NewNop())
	bus := eventbus.NewBus(eventbus.Config{}, nil, zap.NewNop())
	t.Cleanup(bus.Close)

	svc, err := orchestrator.NewService(nil, store, bus, []pipeline.Stage{failingStage{}}, zap.NewNop())
	require.NoError(t, err)

	server, err := NewServer(svc, bus, tracker.NewStaticSource(""), "heuristic", zap.NewNop(), nil)
	require.NoError(t, err)

	rec := postJSON(t, server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID:    "PROJ-7",
		Description: "Doomed.",
		Action:      string(pipeline.ActionAnalyzeRequirements),
	})

	// The run started, so its failure is a result, not an HTTP error.
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAnalyze(t, rec)

	assert.Equal(t, string(pipeline.RunFailed), resp.Status)
	require.Len(t, resp.StageResults, 1)
	assert.Equal(t, pipeline.StageFailed, resp.StageResults[0].Status)
	assert.Contains(t, resp.StageResults[0].Error, "stage requirement failed")
	assert.Empty(t, resp.Requirements)
}

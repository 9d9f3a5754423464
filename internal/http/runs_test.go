package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// completeRun executes a full pipeline through the API and returns its run ID.
func completeRun(t *testing.T, env *testEnv, runID string) string {
	t.Helper()

	rec := postJSON(t, env.server, "/api/v1/pipeline/analyze", AnalyzeRequest{
		TicketID:    "PROJ-8",
		Description: "The scheduler must debounce duplicate jobs.",
		Action:      string(pipeline.ActionFullPipeline),
		RunID:       runID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeAnalyze(t, rec)
	require.Equal(t, string(pipeline.RunCompleted), resp.Status)
	return resp.RunID
}

// seedRunningState checkpoints a fresh, non-terminal run and releases its
// lease, simulating an executor that died mid-run.
func seedRunningState(t *testing.T, env *testEnv, runID string) {
	t.Helper()

	ctx := context.Background()
	state := pipeline.NewRunState(runID, pipeline.Ticket{
		ID:          "PROJ-9",
		Description: "The gateway must rate-limit clients.",
	}, pipeline.ActionFullPipeline)

	require.NoError(t, env.store.Acquire(ctx, runID))
	_, err := env.store.Save(ctx, state)
	require.NoError(t, err)
	env.store.Release(runID)
}

func TestHandleGetRun(t *testing.T) {
	env := newTestEnv(t)
	runID := completeRun(t, env, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID, nil)
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var state pipeline.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, runID, state.RunID)
	assert.Equal(t, pipeline.RunCompleted, state.Status)
	assert.Len(t, state.Results, 3)
}

func TestHandleGetRun_Unknown(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/no-such-run", nil)
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkpoint not found")
}

func TestHandleGetHistory(t *testing.T) {
	env := newTestEnv(t)
	runID := completeRun(t, env, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID+"/history", nil)
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, runID, resp.RunID)
	require.Len(t, resp.Checkpoints, 4)

	for i, cp := range resp.Checkpoints {
		assert.Equal(t, uint64(i+1), cp.Sequence)
		assert.Equal(t, runID, cp.RunID)
	}
	assert.Equal(t, pipeline.RunRunning, resp.Checkpoints[0].State.Status)
	assert.Empty(t, resp.Checkpoints[0].State.Results)
	assert.Equal(t, pipeline.RunCompleted, resp.Checkpoints[3].State.Status)
}

func TestHandleGetHistory_Unknown(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/no-such-run/history", nil)
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResume_ContinuesInterruptedRun(t *testing.T) {
	env := newTestEnv(t)
	seedRunningState(t, env, "run-crashed")

	rec := postJSON(t, env.server, "/api/v1/runs/run-crashed/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeAnalyze(t, rec)
	assert.Equal(t, string(pipeline.RunCompleted), resp.Status)
	assert.Len(t, resp.StageResults, 3)
	assert.NotNil(t, resp.GeneratedCode)

	history, err := env.server.service.GetHistory(context.Background(), "run-crashed")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestHandleResume_TerminalIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	runID := completeRun(t, env, "run-done")

	rec := postJSON(t, env.server, "/api/v1/runs/"+runID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeAnalyze(t, rec)
	assert.Equal(t, string(pipeline.RunCompleted), resp.Status)
	assert.NotEmpty(t, resp.Requirements)

	history, err := env.server.service.GetHistory(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, history, 4, "terminal resume must not add checkpoints")
}

func TestHandleResume_Unknown(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.server, "/api/v1/runs/no-such-run/resume", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkpoint not found")
}

func TestHandleResume_LeaseHeld(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	state := pipeline.NewRunState("run-held", pipeline.Ticket{ID: "PROJ-10"}, pipeline.ActionAnalyzeRequirements)
	require.NoError(t, env.store.Acquire(ctx, "run-held"))
	_, err := env.store.Save(ctx, state)
	require.NoError(t, err)
	defer env.store.Release("run-held")

	rec := postJSON(t, env.server, "/api/v1/runs/run-held/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already executing")
}

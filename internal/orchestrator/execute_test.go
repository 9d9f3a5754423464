package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/checkpoint"
	"github.com/fyrsmithlabs/sdlcd/internal/eventbus"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// fakeStage counts invocations and delegates to fn, defaulting to a
// successful empty payload.
type fakeStage struct {
	name  pipeline.StageName
	fn    func(ctx context.Context, sc *pipeline.StageContext) (map[string]any, error)
	calls atomic.Int32
}

func (f *fakeStage) Name() pipeline.StageName { return f.name }

func (f *fakeStage) Execute(ctx context.Context, sc *pipeline.StageContext) (map[string]any, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, sc)
	}
	return map[string]any{"stage": string(f.name)}, nil
}

func okStages() []*fakeStage {
	return []*fakeStage{
		{name: pipeline.StageRequirement},
		{name: pipeline.StageCode},
		{name: pipeline.StageTest},
	}
}

func asStages(fakes []*fakeStage) []pipeline.Stage {
	stages := make([]pipeline.Stage, len(fakes))
	for i, f := range fakes {
		stages[i] = f
	}
	return stages
}

func newTestService(t *testing.T, cfg *Config, stages []pipeline.Stage) (Service, checkpoint.Store, *eventbus.Bus) {
	t.Helper()

	store := checkpoint.NewMemoryStore(zap.NewNop())
	bus := eventbus.NewBus(eventbus.Config{}, nil, zap.NewNop())
	t.Cleanup(func() {
		bus.Close()
		_ = store.Close()
	})

	svc, err := NewService(cfg, store, bus, stages, zap.NewNop())
	require.NoError(t, err)
	return svc, store, bus
}

func testTicket() pipeline.Ticket {
	return pipeline.Ticket{
		ID:          "TICKET-42",
		Title:       "Add rate limiting to the ingest endpoint",
		Description: "Requests above the configured budget must receive 429 responses.",
		AcceptanceCriteria: []string{
			"Budget is configurable per client",
			"Rejected requests carry a Retry-After header",
		},
	}
}

// collectEvents drains the subscription until the given kind arrives.
func collectEvents(t *testing.T, sub *eventbus.Subscription, until pipeline.EventKind) []pipeline.Event {
	t.Helper()

	var out []pipeline.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed before %s arrived", until)
			out = append(out, ev)
			if ev.Kind == until {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, got %d events", until, len(out))
		}
	}
}

func eventKinds(events []pipeline.Event) []pipeline.EventKind {
	kinds := make([]pipeline.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestService_Execute_StageSequencePerAction(t *testing.T) {
	tests := []struct {
		action pipeline.Action
		stages []pipeline.StageName
	}{
		{pipeline.ActionAnalyzeRequirements, []pipeline.StageName{pipeline.StageRequirement}},
		{pipeline.ActionGenerateCode, []pipeline.StageName{pipeline.StageRequirement, pipeline.StageCode}},
		{pipeline.ActionGenerateTests, []pipeline.StageName{pipeline.StageRequirement, pipeline.StageTest}},
		{pipeline.ActionFullPipeline, []pipeline.StageName{pipeline.StageRequirement, pipeline.StageCode, pipeline.StageTest}},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			svc, _, _ := newTestService(t, nil, asStages(okStages()))

			state, err := svc.Execute(context.Background(), testTicket(), tt.action, "")
			require.NoError(t, err)
			require.NotNil(t, state)

			assert.Equal(t, pipeline.RunCompleted, state.Status)
			require.Len(t, state.Results, len(tt.stages))
			for i, want := range tt.stages {
				assert.Equal(t, want, state.Results[i].Stage)
				assert.Equal(t, pipeline.StageCompleted, state.Results[i].Status)
			}
		})
	}
}

func TestService_Execute_GeneratesRunID(t *testing.T) {
	svc, _, _ := newTestService(t, nil, asStages(okStages()))

	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionAnalyzeRequirements, "")
	require.NoError(t, err)
	assert.NotEmpty(t, state.RunID)
}

func TestService_Execute_HonorsCallerRunID(t *testing.T) {
	svc, _, _ := newTestService(t, nil, asStages(okStages()))

	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionAnalyzeRequirements, "run-explicit")
	require.NoError(t, err)
	assert.Equal(t, "run-explicit", state.RunID)
}

func TestService_Execute_ValidationErrors(t *testing.T) {
	svc, _, _ := newTestService(t, nil, asStages(okStages()))

	_, err := svc.Execute(context.Background(), pipeline.Ticket{}, pipeline.ActionFullPipeline, "")
	require.ErrorIs(t, err, pipeline.ErrValidation, "empty ticket id must be rejected")

	_, err = svc.Execute(context.Background(), testTicket(), pipeline.Action("ship_it"), "")
	require.ErrorIs(t, err, pipeline.ErrValidation, "unknown action must be rejected")
}

func TestService_Execute_FullPipelineWritesFourCheckpoints(t *testing.T) {
	svc, store, _ := newTestService(t, nil, asStages(okStages()))

	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunCompleted, state.Status)

	history, err := store.History(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, history, 4, "initial checkpoint plus one per stage")

	// The terminal status rides the final stage checkpoint.
	assert.Equal(t, pipeline.RunRunning, history[0].State.Status)
	assert.Empty(t, history[0].State.Results)
	assert.Equal(t, pipeline.RunCompleted, history[3].State.Status)
	assert.Len(t, history[3].State.Results, 3)

	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Sequence, history[i-1].Sequence)
		assert.Len(t, history[i].State.Results, i)
	}
}

func TestService_Execute_EventOrdering(t *testing.T) {
	svc, _, bus := newTestService(t, nil, asStages(okStages()))

	sub := bus.Subscribe("run-1")
	defer sub.Close()

	_, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "run-1")
	require.NoError(t, err)

	events := collectEvents(t, sub, pipeline.EventRunComplete)
	require.Equal(t, []pipeline.EventKind{
		pipeline.EventRunStart,
		pipeline.EventStageStart, pipeline.EventStageComplete,
		pipeline.EventStageStart, pipeline.EventStageComplete,
		pipeline.EventStageStart, pipeline.EventStageComplete,
		pipeline.EventRunComplete,
	}, eventKinds(events))

	wantStages := []pipeline.StageName{pipeline.StageRequirement, pipeline.StageCode, pipeline.StageTest}
	for i, want := range wantStages {
		start := events[1+2*i]
		complete := events[2+2*i]
		assert.Equal(t, want, start.Stage)
		assert.Equal(t, want, complete.Stage)
		require.NotNil(t, complete.Result)
		assert.Equal(t, pipeline.StageCompleted, complete.Result.Status)
	}
}

func TestService_Execute_StageFailureFailsFast(t *testing.T) {
	fakes := okStages()
	fakes[1].fn = func(context.Context, *pipeline.StageContext) (map[string]any, error) {
		return nil, errors.New("model returned malformed diff")
	}
	svc, store, bus := newTestService(t, nil, asStages(fakes))

	sub := bus.Subscribe("run-1")
	defer sub.Close()

	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "run-1")
	require.NoError(t, err, "a failed run is still a started run")
	require.NotNil(t, state)

	assert.Equal(t, pipeline.RunFailed, state.Status)
	require.Len(t, state.Results, 2)
	assert.Equal(t, pipeline.StageCompleted, state.Results[0].Status)
	assert.Equal(t, pipeline.StageFailed, state.Results[1].Status)
	assert.Contains(t, state.Results[1].Error, "malformed diff")
	assert.Equal(t, int32(0), fakes[2].calls.Load(), "test stage must not run after code failed")

	history, err := store.History(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, history, 3, "initial, requirement, failed code")

	events := collectEvents(t, sub, pipeline.EventRunError)
	require.Equal(t, []pipeline.EventKind{
		pipeline.EventRunStart,
		pipeline.EventStageStart, pipeline.EventStageComplete,
		pipeline.EventStageStart, pipeline.EventStageError,
		pipeline.EventRunError,
	}, eventKinds(events))
	require.NotNil(t, events[4].Result)
	assert.Equal(t, pipeline.StageFailed, events[4].Result.Status)
}

func TestService_Execute_StageTimeout(t *testing.T) {
	fakes := okStages()
	fakes[0].fn = func(ctx context.Context, _ *pipeline.StageContext) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	svc, _, _ := newTestService(t, &Config{StageTimeout: 30 * time.Millisecond}, asStages(fakes))

	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunFailed, state.Status)
	require.Len(t, state.Results, 1)
	assert.Equal(t, pipeline.StageFailed, state.Results[0].Status)
	assert.Contains(t, state.Results[0].Error, "timed out")
}

func TestService_Execute_ConcurrentRunRejected(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})

	fakes := okStages()
	fakes[0].fn = func(context.Context, *pipeline.StageContext) (map[string]any, error) {
		once.Do(func() { close(entered) })
		<-release
		return map[string]any{}, nil
	}
	svc, _, _ := newTestService(t, nil, asStages(fakes))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionAnalyzeRequirements, "run-1")
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never entered its stage")
	}

	_, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionAnalyzeRequirements, "run-1")
	require.ErrorIs(t, err, pipeline.ErrConcurrentRun)

	close(release)
	require.NoError(t, <-done)

	// With the lease released the run is terminal, so a third call is a
	// no-op returning the finished state.
	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionAnalyzeRequirements, "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCompleted, state.Status)
	assert.Equal(t, int32(1), fakes[0].calls.Load())
}

func TestService_Execute_TerminalRunIsIdempotent(t *testing.T) {
	fakes := okStages()
	svc, store, bus := newTestService(t, nil, asStages(fakes))

	first, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunCompleted, first.Status)

	sub := bus.Subscribe("run-1")
	defer sub.Close()

	again, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "run-1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, again.Status)
	assert.Len(t, again.Results, len(first.Results))

	history, err := store.History(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, history, 4, "terminal re-execute must not checkpoint")

	for _, f := range fakes {
		assert.Equal(t, int32(1), f.calls.Load(), "stage %s re-invoked on terminal run", f.name)
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("terminal re-execute published %s", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestService_Resume_ContinuesFromCheckpoint(t *testing.T) {
	fakes := okStages()
	svc, store, bus := newTestService(t, nil, asStages(fakes))

	// Seed a lineage that stopped after the requirement stage, as a crashed
	// process would leave it.
	ctx := context.Background()
	state := pipeline.NewRunState("run-1", testTicket(), pipeline.ActionFullPipeline)
	require.NoError(t, store.Acquire(ctx, "run-1"))
	_, err := store.Save(ctx, state)
	require.NoError(t, err)

	state.CurrentStage = pipeline.StageRequirement
	state.Results = append(state.Results, pipeline.StageResult{
		Stage:       pipeline.StageRequirement,
		Status:      pipeline.StageCompleted,
		StartedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
		Payload:     map[string]any{"requirements": []any{"budget per client"}},
	})
	_, err = store.Save(ctx, state)
	require.NoError(t, err)
	store.Release("run-1")

	sub := bus.Subscribe("run-1")
	defer sub.Close()

	resumed, err := svc.Resume(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunCompleted, resumed.Status)
	require.Len(t, resumed.Results, 3)
	assert.Equal(t, int32(0), fakes[0].calls.Load(), "requirement stage must not re-run")
	assert.Equal(t, int32(1), fakes[1].calls.Load())
	assert.Equal(t, int32(1), fakes[2].calls.Load())

	// The resumed lineage announces no second run_start.
	events := collectEvents(t, sub, pipeline.EventRunComplete)
	require.Equal(t, []pipeline.EventKind{
		pipeline.EventStageStart, pipeline.EventStageComplete,
		pipeline.EventStageStart, pipeline.EventStageComplete,
		pipeline.EventRunComplete,
	}, eventKinds(events))

	history, err := store.History(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestService_Execute_ResumesExistingLineage(t *testing.T) {
	fakes := okStages()
	svc, store, _ := newTestService(t, nil, asStages(fakes))

	ctx := context.Background()
	state := pipeline.NewRunState("run-1", testTicket(), pipeline.ActionGenerateCode)
	require.NoError(t, store.Acquire(ctx, "run-1"))
	_, err := store.Save(ctx, state)
	require.NoError(t, err)

	state.Results = append(state.Results, pipeline.StageResult{
		Stage:       pipeline.StageRequirement,
		Status:      pipeline.StageCompleted,
		StartedAt:   time.Now().UTC(),
		CompletedAt: time.Now().UTC(),
	})
	_, err = store.Save(ctx, state)
	require.NoError(t, err)
	store.Release("run-1")

	done, err := svc.Execute(ctx, testTicket(), pipeline.ActionGenerateCode, "run-1")
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunCompleted, done.Status)
	assert.Equal(t, int32(0), fakes[0].calls.Load())
	assert.Equal(t, int32(1), fakes[1].calls.Load())
}

func TestService_Resume_TerminalRunIsNoOp(t *testing.T) {
	fakes := okStages()
	svc, store, _ := newTestService(t, nil, asStages(fakes))

	_, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionGenerateTests, "run-1")
	require.NoError(t, err)

	for _, f := range fakes {
		f.calls.Store(0)
	}

	state, err := svc.Resume(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCompleted, state.Status)

	for _, f := range fakes {
		assert.Equal(t, int32(0), f.calls.Load())
	}

	history, err := store.History(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, history, 3, "resume of a terminal run must not checkpoint")
}

func TestService_Resume_UnknownRun(t *testing.T) {
	svc, _, _ := newTestService(t, nil, asStages(okStages()))

	_, err := svc.Resume(context.Background(), "no-such-run")
	require.ErrorIs(t, err, pipeline.ErrCheckpointNotFound)

	_, err = svc.Resume(context.Background(), "")
	require.ErrorIs(t, err, pipeline.ErrValidation)
}

func TestService_Execute_MissingStageFailsRun(t *testing.T) {
	// Only the requirement stage is registered; generate_code needs code.
	svc, _, _ := newTestService(t, nil, []pipeline.Stage{&fakeStage{name: pipeline.StageRequirement}})

	state, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionGenerateCode, "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.RunFailed, state.Status)
	require.Len(t, state.Results, 2)
	assert.Equal(t, pipeline.StageFailed, state.Results[1].Status)
	assert.Contains(t, state.Results[1].Error, "no stage registered")
}

func TestService_GetState_And_History(t *testing.T) {
	svc, _, _ := newTestService(t, nil, asStages(okStages()))

	_, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionFullPipeline, "run-1")
	require.NoError(t, err)

	state, err := svc.GetState(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunCompleted, state.Status)

	history, err := svc.GetHistory(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, history, 4)

	_, err = svc.GetState(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrCheckpointNotFound)

	_, err = svc.GetHistory(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrCheckpointNotFound)
}

func TestService_Execute_StageSeesPriorResults(t *testing.T) {
	fakes := okStages()
	var sawRequirement atomic.Bool
	fakes[1].fn = func(_ context.Context, sc *pipeline.StageContext) (map[string]any, error) {
		if _, ok := sc.Result(pipeline.StageRequirement); ok {
			sawRequirement.Store(true)
		}
		return map[string]any{}, nil
	}
	svc, _, _ := newTestService(t, nil, asStages(fakes))

	_, err := svc.Execute(context.Background(), testTicket(), pipeline.ActionGenerateCode, "")
	require.NoError(t, err)
	assert.True(t, sawRequirement.Load(), "code stage must see the requirement result")
}

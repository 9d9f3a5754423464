package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/checkpoint"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// Execute runs the pipeline for a ticket and action.
func (s *service) Execute(ctx context.Context, ticket pipeline.Ticket, action pipeline.Action, runID string) (*pipeline.RunState, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.execute")
	defer span.End()

	if ticket.ID == "" {
		return nil, fmt.Errorf("%w: ticket id is required", pipeline.ErrValidation)
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", pipeline.ErrValidation, action)
	}

	if runID == "" {
		runID = uuid.New().String()
	}

	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("ticket_id", ticket.ID),
		attribute.String("action", string(action)),
	)

	// Terminal lineages are returned as-is: resume of a finished run never
	// re-executes anything and needs no lease.
	if state, err := s.store.Latest(ctx, runID); err == nil {
		if state.Terminal() {
			return state, nil
		}
	} else if !errors.Is(err, checkpoint.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	state, err := s.acquireRun(ctx, runID, func() *pipeline.RunState {
		return pipeline.NewRunState(runID, ticket, action)
	})
	if err != nil || state.Terminal() {
		if err != nil {
			span.RecordError(err)
		}
		return state, err
	}
	defer s.store.Release(runID)

	return s.run(ctx, state)
}

// Resume re-attaches to an existing run.
func (s *service) Resume(ctx context.Context, runID string) (*pipeline.RunState, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.resume")
	defer span.End()

	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", pipeline.ErrValidation)
	}

	span.SetAttributes(attribute.String("run_id", runID))

	state, err := s.store.Latest(ctx, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s", pipeline.ErrCheckpointNotFound, runID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}
	if state.Terminal() {
		return state, nil
	}

	state, err = s.acquireRun(ctx, runID, nil)
	if err != nil || state.Terminal() {
		if err != nil {
			span.RecordError(err)
		}
		return state, err
	}
	defer s.store.Release(runID)

	return s.run(ctx, state)
}

// acquireRun takes the run lease and returns the state to execute. After
// winning the lease it re-reads the store: the run may have gone terminal
// while this caller raced for the lease, or may not exist yet, in which case
// fresh (when non-nil) supplies the initial state, which is checkpointed and
// announced with run_start. The caller owns the lease unless an error or a
// terminal state is returned.
func (s *service) acquireRun(ctx context.Context, runID string, fresh func() *pipeline.RunState) (*pipeline.RunState, error) {
	if err := s.store.Acquire(ctx, runID); err != nil {
		if errors.Is(err, checkpoint.ErrLeaseHeld) {
			return nil, fmt.Errorf("%w: run %s", pipeline.ErrConcurrentRun, runID)
		}
		return nil, fmt.Errorf("failed to acquire run lease: %w", err)
	}

	state, err := s.store.Latest(ctx, runID)
	switch {
	case err == nil:
		if state.Terminal() {
			s.store.Release(runID)
		}
		return state, nil
	case errors.Is(err, checkpoint.ErrNotFound):
		if fresh == nil {
			s.store.Release(runID)
			return nil, fmt.Errorf("%w: run %s", pipeline.ErrCheckpointNotFound, runID)
		}
	default:
		s.store.Release(runID)
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	state = fresh()
	if _, err := s.store.Save(ctx, state); err != nil {
		s.store.Release(runID)
		return nil, fmt.Errorf("failed to write initial checkpoint: %w", err)
	}
	s.bus.Publish(ctx, runID, newRunEvent(pipeline.EventRunStart, runID))

	if s.runsStarted != nil {
		s.runsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(state.Action)),
		))
	}

	return state, nil
}

// run walks the transition table from the state's pending stage until the
// pipeline terminates. The caller must hold the run lease.
func (s *service) run(ctx context.Context, state *pipeline.RunState) (*pipeline.RunState, error) {
	logger := s.logger.With(
		zap.String("run_id", state.RunID),
		zap.String("ticket_id", state.Ticket.ID),
		zap.String("action", string(state.Action)),
	)

	stage, ok := s.pendingStage(state)
	if !ok {
		return nil, fmt.Errorf("run %s has no pending stage but is not terminal", state.RunID)
	}

	logger.Info("executing run", zap.String("stage", string(stage)), zap.Int("completed_stages", len(state.Results)))

	for {
		state.CurrentStage = stage
		state.UpdatedAt = time.Now().UTC()
		s.bus.Publish(ctx, state.RunID, newStageStartEvent(state.RunID, stage))

		result := s.invokeStage(ctx, stage, state)
		state.Results = append(state.Results, result)
		state.UpdatedAt = time.Now().UTC()

		if result.Status == pipeline.StageFailed {
			state.Status = pipeline.RunFailed
			if _, err := s.store.Save(ctx, state); err != nil {
				return nil, fmt.Errorf("failed to checkpoint failed stage: %w", err)
			}
			s.bus.Publish(ctx, state.RunID, newStageEvent(pipeline.EventStageError, state.RunID, result))
			s.bus.Publish(ctx, state.RunID, newRunEvent(pipeline.EventRunError, state.RunID))

			if s.runsFailed != nil {
				s.runsFailed.Add(ctx, 1, metric.WithAttributes(
					attribute.String("action", string(state.Action)),
					attribute.String("stage", string(stage)),
				))
			}
			logger.Warn("run failed",
				zap.String("stage", string(stage)),
				zap.String("error", result.Error),
			)
			return state, nil
		}

		// Consult the table before checkpointing so a terminal status rides
		// the final stage's checkpoint instead of adding another one.
		next, more := pipeline.Next(stage, state.Action, result.Status)
		if !more {
			state.Status = pipeline.RunCompleted
		}
		if _, err := s.store.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to checkpoint stage: %w", err)
		}
		s.bus.Publish(ctx, state.RunID, newStageEvent(pipeline.EventStageComplete, state.RunID, result))

		if !more {
			s.bus.Publish(ctx, state.RunID, newRunEvent(pipeline.EventRunComplete, state.RunID))
			if s.runsCompleted != nil {
				s.runsCompleted.Add(ctx, 1, metric.WithAttributes(
					attribute.String("action", string(state.Action)),
				))
			}
			logger.Info("run completed", zap.Int("stages", len(state.Results)))
			return state, nil
		}
		stage = next
	}
}

// pendingStage derives the next stage to execute from the recorded results.
// A fresh run starts from the table's start row; a resumed run continues
// after its last completed stage.
func (s *service) pendingStage(state *pipeline.RunState) (pipeline.StageName, bool) {
	last, ok := state.LastResult()
	if !ok {
		return pipeline.Next(pipeline.StageStart, state.Action, "")
	}
	return pipeline.Next(last.Stage, state.Action, last.Status)
}

// invokeStage executes one stage under the configured timeout and returns
// its result. Stage errors and timeouts become failed results, never
// orchestrator errors.
func (s *service) invokeStage(ctx context.Context, name pipeline.StageName, state *pipeline.RunState) pipeline.StageResult {
	ctx, span := s.tracer.Start(ctx, "orchestrator.stage")
	span.SetAttributes(
		attribute.String("run_id", state.RunID),
		attribute.String("stage", string(name)),
	)
	defer span.End()

	result := pipeline.StageResult{
		Stage:     name,
		StartedAt: time.Now().UTC(),
	}

	fail := func(err error, timeout bool) pipeline.StageResult {
		serr := &pipeline.StageError{Stage: name, Cause: err, Timeout: timeout}
		result.Status = pipeline.StageFailed
		result.Error = serr.Error()
		result.CompletedAt = time.Now().UTC()
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Error())
		return result
	}

	stage, ok := s.stages[name]
	if !ok {
		return fail(fmt.Errorf("no stage registered for %s", name), false)
	}

	view := state.Clone()
	sctx := &pipeline.StageContext{
		Ticket:  view.Ticket,
		Action:  view.Action,
		Results: view.Results,
	}

	stageCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()

	payload, err := stage.Execute(stageCtx, sctx)
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded)
		return fail(err, timeout)
	}

	result.Status = pipeline.StageCompleted
	result.Payload = payload
	result.CompletedAt = time.Now().UTC()

	if s.stageDuration != nil {
		s.stageDuration.Record(ctx, result.CompletedAt.Sub(result.StartedAt).Seconds(), metric.WithAttributes(
			attribute.String("stage", string(name)),
		))
	}

	return result
}

func newRunEvent(kind pipeline.EventKind, runID string) pipeline.Event {
	return pipeline.Event{
		Kind:      kind,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}
}

func newStageStartEvent(runID string, stage pipeline.StageName) pipeline.Event {
	return pipeline.Event{
		Kind:      pipeline.EventStageStart,
		RunID:     runID,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}
}

func newStageEvent(kind pipeline.EventKind, runID string, result pipeline.StageResult) pipeline.Event {
	r := result.Clone()
	return pipeline.Event{
		Kind:      kind,
		RunID:     runID,
		Stage:     result.Stage,
		Timestamp: time.Now().UTC(),
		Result:    &r,
	}
}

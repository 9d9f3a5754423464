package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/checkpoint"
	"github.com/fyrsmithlabs/sdlcd/internal/eventbus"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/sdlcd/internal/orchestrator"

// Service executes and inspects pipeline runs.
type Service interface {
	// Execute runs the pipeline for a ticket and action. An empty runID
	// generates one; a runID whose state is terminal returns that state
	// without re-invoking any stage. A non-nil error means the pipeline
	// never started; a run that started and failed returns its state with
	// Status RunFailed and a nil error.
	Execute(ctx context.Context, ticket pipeline.Ticket, action pipeline.Action, runID string) (*pipeline.RunState, error)

	// Resume re-attaches to an existing run: terminal states return
	// immediately, non-terminal runs re-enter the execution loop from
	// their latest checkpoint.
	Resume(ctx context.Context, runID string) (*pipeline.RunState, error)

	// GetState returns the latest checkpointed state for a run.
	GetState(ctx context.Context, runID string) (*pipeline.RunState, error)

	// GetHistory returns a run's full checkpoint history in sequence order.
	GetHistory(ctx context.Context, runID string) ([]pipeline.Checkpoint, error)

	// Stages returns the registered stage names in pipeline order.
	Stages() []pipeline.StageName

	// Close releases resources.
	Close() error
}

// Config configures the orchestrator.
type Config struct {
	// StageTimeout bounds a single stage invocation. A stage exceeding it
	// fails the run exactly like a stage-reported failure (default: 5m).
	StageTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 5 * time.Minute
	}
}

// service implements the Service interface.
type service struct {
	config *Config
	store  checkpoint.Store
	bus    *eventbus.Bus
	stages map[pipeline.StageName]pipeline.Stage
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
	stageDuration metric.Float64Histogram
}

// NewService creates an orchestrator over the given store, bus, and stages.
func NewService(cfg *Config, store checkpoint.Store, bus *eventbus.Bus, stages []pipeline.Stage, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[pipeline.StageName]pipeline.Stage, len(stages))
	for _, st := range stages {
		if _, dup := byName[st.Name()]; dup {
			return nil, fmt.Errorf("duplicate stage registered: %s", st.Name())
		}
		byName[st.Name()] = st
	}

	s := &service{
		config: cfg,
		store:  store,
		bus:    bus,
		stages: byName,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.runsStarted, err = s.meter.Int64Counter(
		"sdlcd.orchestrator.runs_started_total",
		metric.WithDescription("Total number of pipeline runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create runs started counter", zap.Error(err))
	}

	s.runsCompleted, err = s.meter.Int64Counter(
		"sdlcd.orchestrator.runs_completed_total",
		metric.WithDescription("Total number of pipeline runs completed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create runs completed counter", zap.Error(err))
	}

	s.runsFailed, err = s.meter.Int64Counter(
		"sdlcd.orchestrator.runs_failed_total",
		metric.WithDescription("Total number of pipeline runs failed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create runs failed counter", zap.Error(err))
	}

	s.stageDuration, err = s.meter.Float64Histogram(
		"sdlcd.orchestrator.stage_duration_seconds",
		metric.WithDescription("Stage execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		s.logger.Warn("failed to create stage duration histogram", zap.Error(err))
	}
}

// GetState returns the latest checkpointed state for a run.
func (s *service) GetState(ctx context.Context, runID string) (*pipeline.RunState, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.get_state")
	defer span.End()

	state, err := s.store.Latest(ctx, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s", pipeline.ErrCheckpointNotFound, runID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}
	return state, nil
}

// GetHistory returns a run's checkpoint history.
func (s *service) GetHistory(ctx context.Context, runID string) ([]pipeline.Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.get_history")
	defer span.End()

	history, err := s.store.History(ctx, runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s", pipeline.ErrCheckpointNotFound, runID)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}
	return history, nil
}

// Stages returns the registered stage names in pipeline order.
func (s *service) Stages() []pipeline.StageName {
	var names []pipeline.StageName
	for _, name := range []pipeline.StageName{pipeline.StageRequirement, pipeline.StageCode, pipeline.StageTest} {
		if _, ok := s.stages[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Close releases resources.
func (s *service) Close() error {
	return nil
}

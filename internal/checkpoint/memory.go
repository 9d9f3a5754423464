package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/sdlcd/internal/checkpoint"

// runLog holds one run's checkpoint lineage and lease flag.
type runLog struct {
	seq     uint64
	history []pipeline.Checkpoint
	leased  bool
}

// memoryStore is the process-scoped Store. State does not survive a restart;
// callers needing durability swap in another Store implementation.
type memoryStore struct {
	logger      *zap.Logger
	saveCounter metric.Int64Counter

	mu     sync.RWMutex
	runs   map[string]*runLog
	closed bool
}

// NewMemoryStore creates an in-memory checkpoint store.
func NewMemoryStore(logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &memoryStore{
		logger: logger,
		runs:   make(map[string]*runLog),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.saveCounter, err = meter.Int64Counter(
		"sdlcd.checkpoint.saves_total",
		metric.WithDescription("Total number of run state checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		logger.Warn("failed to create save counter", zap.Error(err))
	}

	return s
}

func (s *memoryStore) Save(ctx context.Context, state *pipeline.RunState) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	log, ok := s.runs[state.RunID]
	if !ok || !log.leased {
		return 0, ErrLeaseRequired
	}

	log.seq++
	log.history = append(log.history, pipeline.Checkpoint{
		Sequence:  log.seq,
		RunID:     state.RunID,
		Timestamp: time.Now().UTC(),
		State:     *state.Clone(),
	})

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(state.Action)),
		))
	}

	s.logger.Debug("saved checkpoint",
		zap.String("run_id", state.RunID),
		zap.Uint64("sequence", log.seq),
		zap.String("status", string(state.Status)),
	)

	return log.seq, nil
}

func (s *memoryStore) Latest(ctx context.Context, runID string) (*pipeline.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	log, ok := s.runs[runID]
	if !ok || len(log.history) == 0 {
		return nil, ErrNotFound
	}

	latest := log.history[len(log.history)-1].State
	return latest.Clone(), nil
}

func (s *memoryStore) History(ctx context.Context, runID string) ([]pipeline.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	log, ok := s.runs[runID]
	if !ok || len(log.history) == 0 {
		return nil, ErrNotFound
	}

	out := make([]pipeline.Checkpoint, len(log.history))
	for i, cp := range log.history {
		cp.State = *cp.State.Clone()
		out[i] = cp
	}
	return out, nil
}

func (s *memoryStore) Acquire(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	log, ok := s.runs[runID]
	if !ok {
		log = &runLog{}
		s.runs[runID] = log
	}
	if log.leased {
		return ErrLeaseHeld
	}
	log.leased = true
	return nil
}

func (s *memoryStore) Release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.runs[runID]
	if !ok {
		return
	}
	log.leased = false

	// A lease taken for a run that never checkpointed leaves nothing behind.
	if len(log.history) == 0 {
		delete(s.runs, runID)
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.runs = nil
	return nil
}

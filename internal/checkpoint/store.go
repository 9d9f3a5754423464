package checkpoint

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a run identifier.
	ErrNotFound = errors.New("no checkpoint for run")

	// ErrLeaseHeld is returned by Acquire when another writer already holds
	// the run's execution lease.
	ErrLeaseHeld = errors.New("run lease already held")

	// ErrLeaseRequired is returned by Save when the caller does not hold the
	// run's lease. Checkpoint writes are strictly single-writer per run.
	ErrLeaseRequired = errors.New("run lease not held")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("checkpoint store is closed")
)

// Store persists run state snapshots and enforces single-writer access per
// run identifier. Implementations must be safe for concurrent use across
// independent runs.
type Store interface {
	// Save snapshots the state under its run identifier and returns the new
	// checkpoint's sequence number. The caller must hold the run's lease.
	Save(ctx context.Context, state *pipeline.RunState) (uint64, error)

	// Latest returns a copy of the most recently checkpointed state for the
	// run, or ErrNotFound.
	Latest(ctx context.Context, runID string) (*pipeline.RunState, error)

	// History returns the run's full checkpoint history in sequence order,
	// or ErrNotFound when the run is unknown.
	History(ctx context.Context, runID string) ([]pipeline.Checkpoint, error)

	// Acquire takes the run's execution lease, or fails with ErrLeaseHeld.
	Acquire(ctx context.Context, runID string) error

	// Release returns the run's lease. Releasing an unheld lease is a no-op.
	Release(runID string)

	// Close releases resources. Subsequent operations fail with ErrClosed.
	Close() error
}

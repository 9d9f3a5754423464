package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects a request before any run state exists: missing
	// ticket reference or an empty/unknown action.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentRun reports that the execution lease for a run is already
	// held. The pipeline is strictly single-writer per run.
	ErrConcurrentRun = errors.New("run is already executing")

	// ErrCheckpointNotFound reports a resume or inspection against an
	// unknown run identifier.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// StageError reports a stage (or its capability) failure that terminated a
// run. Timeout is set when the stage's deadline expired; the orchestrator
// treats both identically.
type StageError struct {
	Stage   StageName
	Cause   error
	Timeout bool
}

func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s timed out: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

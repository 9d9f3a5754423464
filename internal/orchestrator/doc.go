// Package orchestrator drives checkpointed pipeline runs. For each run it
// consults the transition table, invokes stages, appends results, writes
// checkpoints, and publishes lifecycle events. Failures are fatal to the run
// (fail-fast, no retries at this layer); interrupted runs resume from their
// latest checkpoint under a single-writer lease.
package orchestrator

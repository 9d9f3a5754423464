// Package checkpoint persists run state snapshots keyed by run identifier.
//
// The store keeps the full ordered checkpoint history per run (sequence
// numbers strictly increasing from 1) and enforces single-writer access via
// per-run leases: Save requires the caller to hold the run's lease.
//
// The in-memory store is process-scoped: nothing survives a restart. A
// durable backend is a drop-in replacement behind the Store interface.
package checkpoint

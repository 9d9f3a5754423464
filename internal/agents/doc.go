// Package agents implements the pipeline's stage capabilities: requirement
// extraction, code generation, and test generation.
//
// A provider factory builds the capability set: "heuristic" runs a compiled
// pattern classifier and deterministic scaffolds with no network access;
// "anthropic" and "openai" drive chat completion APIs through a shared
// prompt pack with optional confidence gating; "noop" produces empty
// artifacts. The stage types adapt capabilities to the pipeline's Stage
// contract and shape their results into checkpoint payloads.
package agents

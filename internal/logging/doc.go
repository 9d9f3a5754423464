// Package logging provides structured, context-aware logging for sdlcd.
//
// The Logger wraps Zap with methods that pull correlation fields (trace and
// span IDs, run, ticket, and request identifiers) from the context, so every
// log line produced while a pipeline run executes can be tied back to that
// run. Output goes to stdout, to an OpenTelemetry log exporter, or both, and
// sensitive fields are redacted before encoding.
package logging

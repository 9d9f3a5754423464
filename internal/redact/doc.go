// Package redact provides secret detection and redaction for stage payloads
// using the Gitleaks SDK.
//
// Ticket text and generated artifacts pass through external systems: the
// event bus, NATS mirrors, LLM providers, and the HTTP API. The Scanner
// strips credentials from that content first, replacing each match with a
// [REDACTED:rule-id:preview] marker that keeps enough context for readers
// and embeddings without the secret itself. Allowlists in Gitleaks TOML
// format exclude known-false-positive patterns.
package redact

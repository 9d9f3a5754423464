package redact

import (
	"encoding/json"
	"time"
)

// AuditLog records what was redacted without storing the secrets themselves.
type AuditLog struct {
	Timestamp  time.Time   `json:"timestamp"`
	Redactions []Redaction `json:"redactions"`
	Summary    Summary     `json:"summary"`
}

// Redaction describes a single redacted secret. It never stores the actual
// secret value, only metadata for auditing.
type Redaction struct {
	RuleID      string `json:"rule_id"`      // e.g., "github-pat"
	RuleDesc    string `json:"rule_desc"`    // e.g., "GitHub Personal Access Token"
	LineNumber  int    `json:"line_number"`  // Line where the secret was found
	Column      int    `json:"column"`       // Column where the secret starts
	OriginalLen int    `json:"original_len"` // Length of the redacted secret
	Preview     string `json:"preview"`      // First 4 chars only
}

// Summary provides aggregate statistics about redactions.
type Summary struct {
	TotalSecrets     int            `json:"total_secrets"`
	UniqueRules      int            `json:"unique_rules"`
	RuleCounts       map[string]int `json:"rule_counts"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// JSON returns the audit log as a compact JSON string.
func (a *AuditLog) JSON() string {
	data, err := json.Marshal(a)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// HasRedactions returns true if any secrets were redacted.
func (a *AuditLog) HasRedactions() bool {
	return len(a.Redactions) > 0
}

// merge folds another audit log's redactions into this one.
func (a *AuditLog) merge(other AuditLog) {
	a.Redactions = append(a.Redactions, other.Redactions...)
	a.Summary.TotalSecrets += other.Summary.TotalSecrets
	a.Summary.ProcessingTimeMs += other.Summary.ProcessingTimeMs
	if a.Summary.RuleCounts == nil {
		a.Summary.RuleCounts = make(map[string]int)
	}
	for rule, n := range other.Summary.RuleCounts {
		a.Summary.RuleCounts[rule] += n
	}
	a.Summary.UniqueRules = len(a.Summary.RuleCounts)
}

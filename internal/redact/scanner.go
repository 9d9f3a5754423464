package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Config controls outbound secret scanning.
type Config struct {
	// Enabled toggles scanning. When false, Redact and RedactPayload return
	// their input unchanged.
	Enabled bool
	// ProjectPath names a directory searched for a .gitleaks.toml allowlist.
	ProjectPath string
	// AllowlistPath is the full path to a user-level allowlist TOML file.
	AllowlistPath string
}

// Finding is a detected secret with location information.
type Finding struct {
	RuleID   string // gitleaks rule ID (e.g., "github-pat")
	RuleDesc string // human-readable description
	Line     int    // 1-based line number
	StartCol int    // start column within the line
	EndCol   int    // end column within the line
	Match    string // the matched secret value
}

// Scanner detects and redacts secrets in text and event payloads.
//
// The gitleaks detector compiles several hundred rules at construction time,
// so the Scanner builds it once on first use and reuses it for every call.
// Detection runs are serialized; the detector is not documented as safe for
// concurrent use.
type Scanner struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	detector *detect.Detector
}

// NewScanner returns a Scanner for the given configuration. The underlying
// detector is constructed lazily on first use so that a disabled scanner
// costs nothing.
func NewScanner(cfg Config, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{cfg: cfg, logger: logger}
}

// Enabled reports whether scanning is active.
func (s *Scanner) Enabled() bool { return s.cfg.Enabled }

// Scan returns all secrets detected in content. The result is empty when
// scanning is disabled.
func (s *Scanner) Scan(content string) ([]Finding, error) {
	if !s.cfg.Enabled || content == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initDetectorLocked(); err != nil {
		return nil, err
	}

	raw := s.detector.DetectString(content)
	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return findings, nil
}

// Redact replaces every detected secret in content with a
// [REDACTED:rule-id:preview] marker. Markers keep the rule and a four
// character preview so downstream consumers can tell a value existed
// without seeing it.
func (s *Scanner) Redact(content string) (string, AuditLog, error) {
	start := time.Now()

	if !s.cfg.Enabled {
		return content, buildAuditLog(nil, 0), nil
	}

	findings, err := s.Scan(content)
	if err != nil {
		return "", AuditLog{}, fmt.Errorf("scanning for secrets: %w", err)
	}

	audit := buildAuditLog(findings, time.Since(start))
	if len(findings) == 0 {
		return content, audit, nil
	}

	s.logger.Debug("redacted secrets",
		zap.Int("count", audit.Summary.TotalSecrets),
		zap.Int("rules", audit.Summary.UniqueRules),
	)
	return spliceMarkers(content, findings), audit, nil
}

// RedactPayload returns a deep copy of payload with every string value
// redacted. Nested maps and slices are walked recursively; non-string leaves
// are carried over unchanged. The input payload is never mutated.
func (s *Scanner) RedactPayload(payload map[string]any) (map[string]any, AuditLog, error) {
	audit := buildAuditLog(nil, 0)
	if !s.cfg.Enabled || payload == nil {
		return payload, audit, nil
	}

	out, err := s.redactValue(payload, &audit)
	if err != nil {
		return nil, AuditLog{}, err
	}
	return out.(map[string]any), audit, nil
}

func (s *Scanner) redactValue(v any, audit *AuditLog) (any, error) {
	switch val := v.(type) {
	case string:
		redacted, a, err := s.Redact(val)
		if err != nil {
			return nil, err
		}
		audit.merge(a)
		return redacted, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			r, err := s.redactValue(inner, audit)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			r, err := s.redactValue(inner, audit)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// initDetectorLocked builds the cached detector. Callers must hold s.mu.
func (s *Scanner) initDetectorLocked() error {
	if s.detector != nil {
		return nil
	}

	allowlist, err := LoadAllowlists(s.cfg.ProjectPath, s.cfg.AllowlistPath)
	if err != nil {
		return fmt.Errorf("loading allowlists: %w", err)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return fmt.Errorf("building secret detector: %w", err)
	}

	if len(allowlist.Paths) > 0 || len(allowlist.Regexes) > 0 {
		applyAllowlist(&detector.Config, allowlist)
	}

	s.detector = detector
	s.logger.Debug("secret detector initialized",
		zap.Int("allowlist_paths", len(allowlist.Paths)),
		zap.Int("allowlist_regexes", len(allowlist.Regexes)),
	)
	return nil
}

// applyAllowlist merges pre-validated allowlist patterns into the gitleaks
// config. Patterns are validated in loadTOML; a compile failure here means
// validation was bypassed.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "sdlcd user/project allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}

	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}

// spliceMarkers replaces secrets with redaction markers. Findings are
// processed bottom-up so earlier replacements do not shift the positions of
// later ones.
func spliceMarkers(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]

		preview := extractPreview(f.Match, 4)
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview)

		if f.StartCol >= 0 && f.EndCol <= len(line) {
			lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
		}
	}
	return strings.Join(lines, "\n")
}

// extractPreview returns the first n characters of s.
func extractPreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// buildAuditLog constructs an audit log from findings and timing information.
func buildAuditLog(findings []Finding, elapsed time.Duration) AuditLog {
	redactions := make([]Redaction, 0, len(findings))
	ruleCounts := make(map[string]int)

	for _, f := range findings {
		redactions = append(redactions, Redaction{
			RuleID:      f.RuleID,
			RuleDesc:    f.RuleDesc,
			LineNumber:  f.Line,
			Column:      f.StartCol,
			OriginalLen: len(f.Match),
			Preview:     extractPreview(f.Match, 4),
		})
		ruleCounts[f.RuleID]++
	}

	return AuditLog{
		Timestamp:  time.Now(),
		Redactions: redactions,
		Summary: Summary{
			TotalSecrets:     len(findings),
			UniqueRules:      len(ruleCounts),
			RuleCounts:       ruleCounts,
			ProcessingTimeMs: elapsed.Milliseconds(),
		},
	}
}

package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// Pattern is one weighted classification rule for requirement extraction.
type Pattern struct {
	Name     string  `json:"name"`
	Regex    string  `json:"regex"`
	Kind     string  `json:"kind"`
	Priority string  `json:"priority"`
	Weight   float64 `json:"weight"`
}

// DefaultPatterns returns the built-in requirement detection rules.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Modal obligations
		{Name: "modal_must", Regex: `(?i)\b(must|shall|required to|has to|needs? to)\b`, Kind: KindFunctional, Priority: PriorityMust, Weight: 0.9},
		{Name: "modal_should", Regex: `(?i)\bshould\b`, Kind: KindFunctional, Priority: PriorityShould, Weight: 0.8},
		{Name: "modal_may", Regex: `(?i)\b(may|can|could|optionally)\b`, Kind: KindFunctional, Priority: PriorityMay, Weight: 0.55},

		// Behaviour verbs
		{Name: "behaviour", Regex: `(?i)\b(support|provide|allow|enable|return|validate|reject|accept|display|send|store|expose)s?\b`, Kind: KindFunctional, Priority: PriorityShould, Weight: 0.5},

		// Constraints
		{Name: "constraint_bound", Regex: `(?i)\b(at most|at least|no more than|no longer than|within|up to|limited to)\b`, Kind: KindConstraint, Priority: PriorityMust, Weight: 0.85},
		{Name: "constraint_conditional", Regex: `(?i)\bonly (if|when|for|after)\b`, Kind: KindConstraint, Priority: PriorityMust, Weight: 0.75},

		// Non-functional keywords
		{Name: "nfr_performance", Regex: `(?i)\b(performance|latency|throughput|response time|concurrent(ly)?|scalab(le|ility))\b`, Kind: KindNonFunctional, Priority: PriorityShould, Weight: 0.8},
		{Name: "nfr_security", Regex: `(?i)\b(secure(ly)?|security|encrypt(s|ed|ion)?|authenticat(e|es|ion)|authoriz(e|es|ation)|audit(ed|ing)?)\b`, Kind: KindNonFunctional, Priority: PriorityMust, Weight: 0.85},
		{Name: "nfr_reliability", Regex: `(?i)\b(available|availability|reliab(le|ility)|recover(s|y|able)?|fault[- ]?toleran(t|ce)|uptime|resum(e|es|able))\b`, Kind: KindNonFunctional, Priority: PriorityShould, Weight: 0.75},
	}
}

// HeuristicConfig tunes the pattern-based extractor. Zero values select the
// built-in patterns and thresholds.
type HeuristicConfig struct {
	Patterns      []Pattern
	MinConfidence float64
}

// HeuristicExtractor implements RequirementCapability with compiled pattern
// matching. It is deterministic and needs no network access, which makes it
// the default provider.
type HeuristicExtractor struct {
	patterns      []*compiledPattern
	minConfidence float64
}

type compiledPattern struct {
	Pattern
	regex *regexp.Regexp
}

// NewHeuristicExtractor compiles the configured patterns. Invalid patterns
// are skipped.
func NewHeuristicExtractor(cfg HeuristicConfig) *HeuristicExtractor {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}

	compiled := make([]*compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			continue
		}
		compiled = append(compiled, &compiledPattern{Pattern: p, regex: re})
	}

	minConfidence := cfg.MinConfidence
	if minConfidence == 0 {
		minConfidence = 0.4
	}

	return &HeuristicExtractor{
		patterns:      compiled,
		minConfidence: minConfidence,
	}
}

// Extract classifies ticket sentences into requirements. Acceptance criteria
// become must-priority requirements verbatim; title and description sentences
// are matched against the pattern classes.
func (h *HeuristicExtractor) Extract(_ context.Context, ticket pipeline.Ticket, _ *pipeline.StageContext) ([]Requirement, error) {
	var reqs []Requirement
	seq := 0
	add := func(text, kind, priority, source string, confidence float64) {
		seq++
		reqs = append(reqs, Requirement{
			ID:         fmt.Sprintf("REQ-%03d", seq),
			Text:       text,
			Kind:       kind,
			Priority:   priority,
			Source:     source,
			Confidence: confidence,
		})
	}

	for _, criterion := range ticket.AcceptanceCriteria {
		criterion = strings.TrimSpace(criterion)
		if criterion == "" {
			continue
		}
		add(criterion, KindFunctional, PriorityMust, "acceptance_criteria", 0.95)
	}

	for _, candidate := range splitCandidates(ticket.Title, ticket.Description) {
		match := h.findBestMatch(candidate)
		if match == nil || match.Weight < h.minConfidence {
			continue
		}
		add(candidate, match.Kind, match.Priority, "description", match.Weight)
	}

	return reqs, nil
}

// findBestMatch returns the matching pattern with the highest weight.
func (h *HeuristicExtractor) findBestMatch(content string) *compiledPattern {
	var best *compiledPattern
	var bestWeight float64

	for _, p := range h.patterns {
		if p.regex.MatchString(content) && p.Weight > bestWeight {
			best = p
			bestWeight = p.Weight
		}
	}
	return best
}

// minCandidateLen filters out fragments too short to carry a requirement.
const minCandidateLen = 8

// splitCandidates breaks the ticket text into classification candidates:
// the title plus each sentence of each description line, with list bullets
// stripped.
func splitCandidates(title, description string) []string {
	var out []string
	if t := strings.TrimSpace(title); t != "" {
		out = append(out, t)
	}
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, " \t-*"))
		if line == "" {
			continue
		}
		for _, sentence := range splitSentences(line) {
			if len(sentence) < minCandidateLen {
				continue
			}
			out = append(out, sentence)
		}
	}
	return out
}

// splitSentences cuts a line at sentence-ending punctuation followed by a
// space or end of line.
func splitSentences(line string) []string {
	var out []string
	start := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '.', '!', '?':
			if i+1 == len(line) || line[i+1] == ' ' {
				if s := strings.TrimSpace(line[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(line[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

var _ RequirementCapability = (*HeuristicExtractor)(nil)

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
	"go.uber.org/zap"
)

// snippetLimit caps the repository context attached to one prompt.
const snippetLimit = 5

// GateConfig bounds confidence gating of LLM output. When enabled, a result
// whose confidence falls below MinConfidence is retried with a stricter
// prompt, up to MaxAttempts total attempts. The last attempt's result is
// kept either way, so the gate never fails a stage on its own.
type GateConfig struct {
	Enabled       bool
	MinConfidence float64
	MaxAttempts   int
}

func (c GateConfig) attempts() int {
	if !c.Enabled {
		return 1
	}
	if c.MaxAttempts <= 0 {
		return 2
	}
	return c.MaxAttempts
}

// promptData feeds the prompt templates.
type promptData struct {
	Ticket           pipeline.Ticket
	RequirementsJSON string
	CodeJSON         string
	Snippets         []string
}

// requirementsResponse is the JSON shape the requirements prompt demands.
type requirementsResponse struct {
	Requirements []Requirement `json:"requirements"`
	Confidence   float64       `json:"confidence"`
}

// llmCapabilities implements all three stage capabilities against one chat
// completion client.
type llmCapabilities struct {
	client  Completer
	prompts *PromptPack
	gate    GateConfig
	source  ContextSource
	logger  *zap.Logger
}

func newLLMCapabilities(client Completer, prompts *PromptPack, gate GateConfig, source ContextSource, logger *zap.Logger) *llmCapabilities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &llmCapabilities{
		client:  client,
		prompts: prompts,
		gate:    gate,
		source:  source,
		logger:  logger.Named("agents.llm"),
	}
}

// Extract asks the model for the ticket's requirements.
func (l *llmCapabilities) Extract(ctx context.Context, ticket pipeline.Ticket, _ *pipeline.StageContext) ([]Requirement, error) {
	var resp requirementsResponse
	err := l.completeGated(ctx, PromptRequirements, promptData{Ticket: ticket}, func(raw string) (float64, error) {
		var r requirementsResponse
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return 0, err
		}
		resp = r
		return r.Confidence, nil
	})
	if err != nil {
		return nil, err
	}

	reqs := resp.Requirements
	for i := range reqs {
		if reqs[i].ID == "" {
			reqs[i].ID = fmt.Sprintf("REQ-%03d", i+1)
		}
		if reqs[i].Kind == "" {
			reqs[i].Kind = KindFunctional
		}
		if reqs[i].Priority == "" {
			reqs[i].Priority = PriorityShould
		}
		if reqs[i].Confidence == 0 {
			reqs[i].Confidence = resp.Confidence
		}
	}
	return reqs, nil
}

// Generate asks the model for an implementation of the requirements,
// augmented with repository context when a source is wired.
func (l *llmCapabilities) Generate(ctx context.Context, reqs []Requirement, sc *pipeline.StageContext) (*CodeArtifact, error) {
	ticket := ticketFrom(sc)
	reqJSON, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding requirements: %w", err)
	}

	data := promptData{
		Ticket:           ticket,
		RequirementsJSON: string(reqJSON),
		Snippets:         l.snippets(ctx, snippetQuery(ticket, reqs)),
	}

	var artifact CodeArtifact
	err = l.completeGated(ctx, PromptCode, data, func(raw string) (float64, error) {
		var a CodeArtifact
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return 0, err
		}
		if len(a.Files) == 0 {
			return 0, fmt.Errorf("no files in response")
		}
		artifact = a
		return a.Confidence, nil
	})
	if err != nil {
		return nil, err
	}
	if artifact.Language == "" {
		artifact.Language = "go"
	}
	return &artifact, nil
}

// GenerateTests asks the model for tests. code may be nil when the action
// skipped the code stage; the prompt then derives the surface under test
// from the requirements alone.
func (l *llmCapabilities) GenerateTests(ctx context.Context, code *CodeArtifact, reqs []Requirement, sc *pipeline.StageContext) (*TestArtifact, error) {
	ticket := ticketFrom(sc)
	reqJSON, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding requirements: %w", err)
	}

	data := promptData{
		Ticket:           ticket,
		RequirementsJSON: string(reqJSON),
		Snippets:         l.snippets(ctx, snippetQuery(ticket, reqs)),
	}
	if code != nil {
		codeJSON, err := json.MarshalIndent(code, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding code artifact: %w", err)
		}
		data.CodeJSON = string(codeJSON)
	}

	var artifact TestArtifact
	err = l.completeGated(ctx, PromptTests, data, func(raw string) (float64, error) {
		var a TestArtifact
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return 0, err
		}
		if len(a.Files) == 0 {
			return 0, fmt.Errorf("no files in response")
		}
		artifact = a
		return a.Confidence, nil
	})
	if err != nil {
		return nil, err
	}
	if artifact.Framework == "" {
		artifact.Framework = "go-test"
	}
	return &artifact, nil
}

// completeGated renders the named prompt, calls the model, and hands the
// fence-trimmed response to parse, which stores the decoded result and
// reports its confidence. Unparseable responses and below-gate confidence
// consume attempts with the strict prompt. A below-gate result on the final
// attempt is accepted; an earlier parsed result survives a later parse
// failure.
func (l *llmCapabilities) completeGated(ctx context.Context, prompt string, data promptData, parse func(raw string) (float64, error)) error {
	attempts := l.gate.attempts()
	parsed := false
	var lastParseErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		system, user, err := l.prompts.Render(prompt, data, attempt > 1)
		if err != nil {
			return err
		}
		raw, err := l.client.Complete(ctx, system, user)
		if err != nil {
			return fmt.Errorf("completing %s prompt: %w", prompt, err)
		}

		confidence, err := parse(trimFences(raw))
		if err != nil {
			lastParseErr = fmt.Errorf("parsing %s response: %w", prompt, err)
			l.logger.Warn("unparseable model response",
				zap.String("prompt", prompt), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		parsed = true

		if l.gate.Enabled && confidence < l.gate.MinConfidence {
			if attempt < attempts {
				l.logger.Info("confidence below gate, retrying strict",
					zap.String("prompt", prompt),
					zap.Int("attempt", attempt),
					zap.Float64("confidence", confidence),
					zap.Float64("min_confidence", l.gate.MinConfidence))
				continue
			}
			l.logger.Warn("accepting low-confidence result after final attempt",
				zap.String("prompt", prompt), zap.Float64("confidence", confidence))
		}
		return nil
	}

	if parsed {
		l.logger.Warn("keeping earlier result after failed strict retry", zap.String("prompt", prompt))
		return nil
	}
	return lastParseErr
}

func (l *llmCapabilities) snippets(ctx context.Context, query string) []string {
	if l.source == nil {
		return nil
	}
	snips, err := l.source.Snippets(ctx, query, snippetLimit)
	if err != nil {
		l.logger.Warn("context lookup failed", zap.Error(err))
		return nil
	}
	return snips
}

func ticketFrom(sc *pipeline.StageContext) pipeline.Ticket {
	if sc == nil {
		return pipeline.Ticket{}
	}
	return sc.Ticket
}

// snippetQuery builds a retrieval query from the ticket and the leading
// requirements. The ticket's repo ref leads the query so retrieval favors
// chunks from that repository.
func snippetQuery(ticket pipeline.Ticket, reqs []Requirement) string {
	var parts []string
	if ticket.RepoRef != "" {
		parts = append(parts, ticket.RepoRef)
	}
	parts = append(parts, ticket.Title)
	for i, req := range reqs {
		if i == 3 {
			break
		}
		parts = append(parts, req.Text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// trimFences strips the markdown code fences some models wrap JSON in.
func trimFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

var (
	_ RequirementCapability = (*llmCapabilities)(nil)
	_ CodeCapability        = (*llmCapabilities)(nil)
	_ TestCapability        = (*llmCapabilities)(nil)
)

package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
	"go.uber.org/zap"
)

// Config selects and configures a capability provider.
type Config struct {
	// Provider is "heuristic" (default), "anthropic", "openai", or "noop".
	Provider string

	// BaseURL overrides the provider's API endpoint.
	BaseURL string

	// APIKey authenticates against the provider (anthropic/openai only).
	APIKey string

	// Model overrides the provider's default model.
	Model string

	// PromptFile is a YAML file overriding the built-in prompts.
	PromptFile string

	// RequestTimeout bounds one completion request.
	RequestTimeout time.Duration

	// RequestsPerSecond throttles the provider client.
	RequestsPerSecond float64

	// MaxRetries bounds retries of transient API failures.
	MaxRetries int

	// Gate configures confidence gating of LLM output.
	Gate GateConfig
}

// Capabilities bundles the three stage capabilities built by one provider.
// Prompts is non-nil only for LLM providers; the caller may Watch it for
// hot reload.
type Capabilities struct {
	Provider    string
	Requirement RequirementCapability
	Code        CodeCapability
	Test        TestCapability
	Prompts     *PromptPack
}

// New builds the capability set for cfg.Provider. source supplies repository
// context for LLM prompts and may be nil.
func New(cfg Config, source ContextSource, logger *zap.Logger) (*Capabilities, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "heuristic", "":
		return &Capabilities{
			Provider:    "heuristic",
			Requirement: NewHeuristicExtractor(HeuristicConfig{}),
			Code:        &ScaffoldCodeGenerator{},
			Test:        &ScaffoldTestGenerator{},
		}, nil

	case "noop":
		return &Capabilities{
			Provider:    "noop",
			Requirement: &NoOpExtractor{},
			Code:        &NoOpCodeGenerator{},
			Test:        &NoOpTestGenerator{},
		}, nil

	case "anthropic", "openai":
		prompts, err := NewPromptPack(cfg.PromptFile, logger)
		if err != nil {
			return nil, err
		}
		clientCfg := ClientConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Timeout:           cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        cfg.MaxRetries,
		}
		var client Completer
		if cfg.Provider == "anthropic" {
			client, err = newAnthropicClient(clientCfg)
		} else {
			client, err = newOpenAIClient(clientCfg)
		}
		if err != nil {
			return nil, err
		}
		llm := newLLMCapabilities(client, prompts, cfg.Gate, source, logger)
		return &Capabilities{
			Provider:    cfg.Provider,
			Requirement: llm,
			Code:        llm,
			Test:        llm,
			Prompts:     prompts,
		}, nil

	default:
		return nil, fmt.Errorf("unknown agents provider: %q", cfg.Provider)
	}
}

// Stages returns the pipeline stages wired to the capability set, in
// transition order.
func (c *Capabilities) Stages(logger *zap.Logger) []pipeline.Stage {
	return []pipeline.Stage{
		NewRequirementStage(c.Requirement, c.Provider, logger),
		NewCodeStage(c.Code, c.Provider, logger),
		NewTestStage(c.Test, c.Provider, logger),
	}
}

// NoOpExtractor returns no requirements. It keeps the pipeline runnable
// when no real provider is configured.
type NoOpExtractor struct{}

func (*NoOpExtractor) Extract(context.Context, pipeline.Ticket, *pipeline.StageContext) ([]Requirement, error) {
	return []Requirement{}, nil
}

// NoOpCodeGenerator returns an empty artifact.
type NoOpCodeGenerator struct{}

func (*NoOpCodeGenerator) Generate(context.Context, []Requirement, *pipeline.StageContext) (*CodeArtifact, error) {
	return &CodeArtifact{Language: "none", Files: []GeneratedFile{}}, nil
}

// NoOpTestGenerator returns an empty artifact.
type NoOpTestGenerator struct{}

func (*NoOpTestGenerator) GenerateTests(context.Context, *CodeArtifact, []Requirement, *pipeline.StageContext) (*TestArtifact, error) {
	return &TestArtifact{Framework: "none", Files: []GeneratedFile{}}, nil
}

var (
	_ RequirementCapability = (*NoOpExtractor)(nil)
	_ CodeCapability        = (*NoOpCodeGenerator)(nil)
	_ TestCapability        = (*NoOpTestGenerator)(nil)
)

package agents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// RequirementStage extracts structured requirements from the run's ticket.
type RequirementStage struct {
	capability RequirementCapability
	provider   string
	logger     *zap.Logger
}

// NewRequirementStage returns the requirement stage backed by capability.
// provider names the configured capability provider in stage payloads.
func NewRequirementStage(capability RequirementCapability, provider string, logger *zap.Logger) *RequirementStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequirementStage{
		capability: capability,
		provider:   provider,
		logger:     logger.Named("stage.requirement"),
	}
}

// Name implements pipeline.Stage.
func (s *RequirementStage) Name() pipeline.StageName { return pipeline.StageRequirement }

// Execute implements pipeline.Stage. An empty requirement set is a valid
// outcome; only capability errors fail the stage.
func (s *RequirementStage) Execute(ctx context.Context, sc *pipeline.StageContext) (map[string]any, error) {
	reqs, err := s.capability.Extract(ctx, sc.Ticket, sc)
	if err != nil {
		return nil, fmt.Errorf("extracting requirements: %w", err)
	}

	s.logger.Debug("requirements extracted",
		zap.String("ticket_id", sc.Ticket.ID),
		zap.Int("count", len(reqs)),
	)
	return toPayload(requirementPayload{
		Provider:     s.provider,
		Count:        len(reqs),
		Requirements: reqs,
	})
}

// CodeStage generates a code artifact from the extracted requirements.
type CodeStage struct {
	capability CodeCapability
	provider   string
	logger     *zap.Logger
}

// NewCodeStage returns the code stage backed by capability.
func NewCodeStage(capability CodeCapability, provider string, logger *zap.Logger) *CodeStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeStage{
		capability: capability,
		provider:   provider,
		logger:     logger.Named("stage.code"),
	}
}

// Name implements pipeline.Stage.
func (s *CodeStage) Name() pipeline.StageName { return pipeline.StageCode }

// Execute implements pipeline.Stage. The transition table guarantees the
// requirement stage ran first; a missing result means corrupted run state.
func (s *CodeStage) Execute(ctx context.Context, sc *pipeline.StageContext) (map[string]any, error) {
	if _, ok := sc.Result(pipeline.StageRequirement); !ok {
		return nil, errors.New("requirement results missing from run context")
	}

	artifact, err := s.capability.Generate(ctx, RequirementsFrom(sc), sc)
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}
	if artifact == nil {
		return nil, errors.New("code capability returned no artifact")
	}

	s.logger.Debug("code generated",
		zap.String("ticket_id", sc.Ticket.ID),
		zap.String("language", artifact.Language),
		zap.Int("files", len(artifact.Files)),
	)
	return toPayload(codePayload{Provider: s.provider, Code: artifact})
}

// TestStage generates tests from the requirements and, when the action ran a
// code stage, the code artifact.
type TestStage struct {
	capability TestCapability
	provider   string
	logger     *zap.Logger
}

// NewTestStage returns the test stage backed by capability.
func NewTestStage(capability TestCapability, provider string, logger *zap.Logger) *TestStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TestStage{
		capability: capability,
		provider:   provider,
		logger:     logger.Named("stage.test"),
	}
}

// Name implements pipeline.Stage.
func (s *TestStage) Name() pipeline.StageName { return pipeline.StageTest }

// Execute implements pipeline.Stage. The code artifact is nil for
// generate_tests runs; the capability works from requirements alone.
func (s *TestStage) Execute(ctx context.Context, sc *pipeline.StageContext) (map[string]any, error) {
	if _, ok := sc.Result(pipeline.StageRequirement); !ok {
		return nil, errors.New("requirement results missing from run context")
	}

	artifact, err := s.capability.GenerateTests(ctx, CodeFrom(sc), RequirementsFrom(sc), sc)
	if err != nil {
		return nil, fmt.Errorf("generating tests: %w", err)
	}
	if artifact == nil {
		return nil, errors.New("test capability returned no artifact")
	}

	s.logger.Debug("tests generated",
		zap.String("ticket_id", sc.Ticket.ID),
		zap.String("framework", artifact.Framework),
		zap.Int("files", len(artifact.Files)),
	)
	return toPayload(testPayload{Provider: s.provider, Tests: artifact})
}

var (
	_ pipeline.Stage = (*RequirementStage)(nil)
	_ pipeline.Stage = (*CodeStage)(nil)
	_ pipeline.Stage = (*TestStage)(nil)
)

package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// Requirement kinds.
const (
	KindFunctional    = "functional"
	KindNonFunctional = "non_functional"
	KindConstraint    = "constraint"
)

// Requirement priorities, MoSCoW-style.
const (
	PriorityMust   = "must"
	PriorityShould = "should"
	PriorityMay    = "may"
)

// Requirement is one structured requirement extracted from a ticket.
type Requirement struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Kind       string  `json:"kind"`
	Priority   string  `json:"priority"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence"`
}

// GeneratedFile is one file of a generated artifact.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CodeArtifact is the output of the code stage.
type CodeArtifact struct {
	Language   string          `json:"language"`
	Summary    string          `json:"summary,omitempty"`
	Files      []GeneratedFile `json:"files"`
	Confidence float64         `json:"confidence"`
}

// TestArtifact is the output of the test stage.
type TestArtifact struct {
	Framework  string          `json:"framework"`
	Summary    string          `json:"summary,omitempty"`
	Files      []GeneratedFile `json:"files"`
	Confidence float64         `json:"confidence"`
}

// RequirementCapability extracts structured requirements from a ticket.
type RequirementCapability interface {
	Extract(ctx context.Context, ticket pipeline.Ticket, sc *pipeline.StageContext) ([]Requirement, error)
}

// CodeCapability generates a code artifact from extracted requirements.
type CodeCapability interface {
	Generate(ctx context.Context, reqs []Requirement, sc *pipeline.StageContext) (*CodeArtifact, error)
}

// TestCapability generates tests from requirements and, when present, a code
// artifact. code is nil for actions that skip the code stage.
type TestCapability interface {
	GenerateTests(ctx context.Context, code *CodeArtifact, reqs []Requirement, sc *pipeline.StageContext) (*TestArtifact, error)
}

// Stage payload shapes. Payloads cross the checkpoint store as JSON, so every
// read goes through a JSON round trip rather than type assertions.
type requirementPayload struct {
	Provider     string        `json:"provider"`
	Count        int           `json:"count"`
	Requirements []Requirement `json:"requirements"`
}

type codePayload struct {
	Provider string        `json:"provider"`
	Code     *CodeArtifact `json:"code"`
}

type testPayload struct {
	Provider string        `json:"provider"`
	Tests    *TestArtifact `json:"tests"`
}

// RequirementsFrom returns the requirements recorded by a completed
// requirement stage, or nil if none are present.
func RequirementsFrom(sc *pipeline.StageContext) []Requirement {
	payload := sc.Payload(pipeline.StageRequirement)
	if payload == nil {
		return nil
	}
	var decoded requirementPayload
	if err := decodeInto(payload, &decoded); err != nil {
		return nil
	}
	return decoded.Requirements
}

// CodeFrom returns the code artifact recorded by a completed code stage, or
// nil if the run has none.
func CodeFrom(sc *pipeline.StageContext) *CodeArtifact {
	payload := sc.Payload(pipeline.StageCode)
	if payload == nil {
		return nil
	}
	var decoded codePayload
	if err := decodeInto(payload, &decoded); err != nil {
		return nil
	}
	return decoded.Code
}

// TestsFrom returns the test artifact recorded by a completed test stage, or
// nil if the run has none.
func TestsFrom(sc *pipeline.StageContext) *TestArtifact {
	payload := sc.Payload(pipeline.StageTest)
	if payload == nil {
		return nil
	}
	var decoded testPayload
	if err := decodeInto(payload, &decoded); err != nil {
		return nil
	}
	return decoded.Tests
}

// toPayload converts a JSON-tagged value into the map form stage payloads use.
func toPayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return out, nil
}

// decodeInto converts a JSON-shaped value (map, slice, scalar) into a typed
// destination.
func decodeInto(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

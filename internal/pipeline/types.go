// Package pipeline defines the data model for checkpointed agent pipeline runs:
// tickets, actions, stages, run state, checkpoints, and lifecycle events.
// The transition table (transitions.go) decides which stages run for an action;
// execution itself lives in the orchestrator package.
package pipeline

import "time"

// Action selects which pipeline stages are eligible for a run.
type Action string

const (
	// ActionAnalyzeRequirements runs requirement analysis only.
	ActionAnalyzeRequirements Action = "analyze_requirements"

	// ActionGenerateCode runs requirement analysis followed by code generation.
	ActionGenerateCode Action = "generate_code"

	// ActionGenerateTests runs requirement analysis followed by test generation.
	// No code stage runs; the test capability works from requirements alone.
	ActionGenerateTests Action = "generate_tests"

	// ActionFullPipeline runs all three stages in order.
	ActionFullPipeline Action = "full_pipeline"
)

// Actions returns all valid actions.
func Actions() []Action {
	return []Action{ActionAnalyzeRequirements, ActionGenerateCode, ActionGenerateTests, ActionFullPipeline}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAnalyzeRequirements, ActionGenerateCode, ActionGenerateTests, ActionFullPipeline:
		return true
	}
	return false
}

// StageName identifies one pipeline step.
type StageName string

const (
	// StageStart is the pre-execution pointer; it never runs.
	StageStart StageName = "start"

	// StageRequirement extracts structured requirements from the ticket.
	StageRequirement StageName = "requirement"

	// StageCode generates a code artifact from the requirements.
	StageCode StageName = "code"

	// StageTest generates tests from the code artifact and requirements.
	StageTest StageName = "test"
)

// StageStatus is the outcome of a single stage execution.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// RunStatus is the overall status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Ticket is the immutable unit of work a run operates on.
type Ticket struct {
	// ID is the tracker reference (e.g. "PROJ-123", "owner/repo#45").
	ID string `json:"id"`

	// Title is the one-line summary.
	Title string `json:"title,omitempty"`

	// Description is the full ticket body.
	Description string `json:"description,omitempty"`

	// AcceptanceCriteria lists the ticket's acceptance criteria, if any.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// RepoRef names the source repository the ticket concerns (e.g.
	// "owner/repo"). It scopes context retrieval; empty means unscoped.
	RepoRef string `json:"repo_ref,omitempty"`
}

// StageResult captures the outcome of one stage execution. The payload shape
// is owned by the stage that produced it; the orchestrator treats it as opaque.
type StageResult struct {
	Stage       StageName      `json:"stage"`
	Status      StageStatus    `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Clone returns a deep copy of the result.
func (r StageResult) Clone() StageResult {
	r.Payload = clonePayload(r.Payload)
	return r
}

// RunState is the mutable record of one pipeline execution. It is owned by the
// orchestrator invocation holding the run's execution lease; everyone else
// sees deep copies. Results are append-only; a terminal state is never
// mutated again.
type RunState struct {
	RunID        string        `json:"run_id"`
	Ticket       Ticket        `json:"ticket"`
	Action       Action        `json:"action"`
	Results      []StageResult `json:"results"`
	CurrentStage StageName     `json:"current_stage"`
	Status       RunStatus     `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewRunState creates the initial state for a fresh run.
func NewRunState(runID string, ticket Ticket, action Action) *RunState {
	now := time.Now().UTC()
	return &RunState{
		RunID:        runID,
		Ticket:       ticket,
		Action:       action,
		Results:      []StageResult{},
		CurrentStage: StageStart,
		Status:       RunRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Terminal reports whether the run has finished (completed or failed).
func (s *RunState) Terminal() bool {
	return s.Status == RunCompleted || s.Status == RunFailed
}

// LastResult returns the most recently appended stage result.
func (s *RunState) LastResult() (StageResult, bool) {
	if len(s.Results) == 0 {
		return StageResult{}, false
	}
	return s.Results[len(s.Results)-1], true
}

// Result returns the recorded result for a stage, if present.
func (s *RunState) Result(stage StageName) (StageResult, bool) {
	for _, r := range s.Results {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageResult{}, false
}

// Clone returns a deep copy. Checkpoints and observer views are built from
// clones so later mutation of the live state cannot leak into them.
func (s *RunState) Clone() *RunState {
	out := *s
	out.Ticket.AcceptanceCriteria = cloneStrings(s.Ticket.AcceptanceCriteria)
	if s.Results != nil {
		out.Results = make([]StageResult, len(s.Results))
		for i, r := range s.Results {
			out.Results[i] = r.Clone()
		}
	}
	return &out
}

// Checkpoint is an immutable snapshot of a run's state. Sequence numbers are
// strictly increasing per run, starting at 1.
type Checkpoint struct {
	Sequence  uint64    `json:"sequence"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	State     RunState  `json:"state"`
}

// EventKind identifies a lifecycle event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventStageStart    EventKind = "stage_start"
	EventStageComplete EventKind = "stage_complete"
	EventStageError    EventKind = "stage_error"
	EventRunComplete   EventKind = "run_complete"
	EventRunError      EventKind = "run_error"

	// EventGap is synthesized by the event bus when a subscriber's buffer
	// overflowed. It is delivered in place of the lost events; Dropped
	// carries how many were lost. Consumers should re-query run state.
	EventGap EventKind = "gap"
)

// Event is one lifecycle event for a run. Stage is set on stage-level events;
// Result mirrors the associated StageResult on stage_complete and stage_error.
type Event struct {
	Kind      EventKind    `json:"kind"`
	RunID     string       `json:"run_id"`
	Stage     StageName    `json:"stage,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Result    *StageResult `json:"result,omitempty"`
	Dropped   int          `json:"dropped,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// clonePayload deep-copies a JSON-shaped payload. Stage payloads are built
// from JSON-compatible values (maps, slices, scalars); anything else is
// copied by reference.
func clonePayload(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}

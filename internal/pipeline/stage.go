package pipeline

import "context"

// Stage is one pipeline step bound to a single capability. Implementations
// are stateless: they consume the accumulated run context and produce an
// opaque payload or an error. A returned error terminates the run; any retry
// policy belongs inside the stage's capability and is invisible here.
type Stage interface {
	// Name returns the identifier the transition table routes by.
	Name() StageName

	// Execute runs the stage. The payload shape is owned by the stage.
	Execute(ctx context.Context, sc *StageContext) (map[string]any, error)
}

// StageContext is the read-only view of a run handed to a stage: the ticket,
// the selected action, and the results accumulated so far.
type StageContext struct {
	Ticket  Ticket
	Action  Action
	Results []StageResult
}

// Result returns the recorded result for a prior stage, if present.
func (sc *StageContext) Result(stage StageName) (StageResult, bool) {
	for _, r := range sc.Results {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageResult{}, false
}

// Payload returns the payload of a prior completed stage, or nil.
func (sc *StageContext) Payload(stage StageName) map[string]any {
	r, ok := sc.Result(stage)
	if !ok || r.Status != StageCompleted {
		return nil
	}
	return r.Payload
}

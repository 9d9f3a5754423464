package pipeline

// The transition table is explicit data: for each (current stage, action) pair
// it names the stage that runs next. Absence means the pipeline terminates.
// Every action starts with the requirement stage so later stages are always
// grounded in extracted requirements, even when the caller asked only for code
// or tests. generate_tests deliberately skips the code stage; the test
// capability accepts a requirements-only input.

type transitionKey struct {
	current StageName
	action  Action
}

var transitions = map[transitionKey]StageName{
	{StageStart, ActionAnalyzeRequirements}: StageRequirement,
	{StageStart, ActionGenerateCode}:        StageRequirement,
	{StageStart, ActionGenerateTests}:       StageRequirement,
	{StageStart, ActionFullPipeline}:        StageRequirement,

	{StageRequirement, ActionGenerateCode}:  StageCode,
	{StageRequirement, ActionFullPipeline}:  StageCode,
	{StageRequirement, ActionGenerateTests}: StageTest,

	{StageCode, ActionFullPipeline}: StageTest,
}

// Next returns the stage that follows current for the given action. ok is
// false when the pipeline terminates: either the table has no row for the
// pair, or the last stage failed (failure always terminates).
func Next(current StageName, action Action, last StageStatus) (next StageName, ok bool) {
	if last == StageFailed {
		return "", false
	}
	next, ok = transitions[transitionKey{current, action}]
	return next, ok
}

// StageSequence returns the full stage order an action realizes when every
// stage completes. Used for introspection and tests; execution itself walks
// Next one step at a time.
func StageSequence(action Action) []StageName {
	var seq []StageName
	current := StageStart
	var last StageStatus
	for {
		next, ok := Next(current, action, last)
		if !ok {
			return seq
		}
		seq = append(seq, next)
		current = next
		last = StageCompleted
	}
}

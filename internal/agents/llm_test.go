package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// scriptedCompleter replays canned responses and records every prompt pair.
type scriptedCompleter struct {
	responses []string
	err       error
	calls     int
	systems   []string
	users     []string
}

func (s *scriptedCompleter) Complete(_ context.Context, system, user string) (string, error) {
	s.calls++
	s.systems = append(s.systems, system)
	s.users = append(s.users, user)
	if s.err != nil {
		return "", s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

type fakeSource struct {
	snippets []string
	err      error
	queries  []string
}

func (f *fakeSource) Snippets(_ context.Context, query string, _ int) ([]string, error) {
	f.queries = append(f.queries, query)
	return f.snippets, f.err
}

func newTestLLM(t *testing.T, client Completer, gate GateConfig, source ContextSource) *llmCapabilities {
	t.Helper()
	prompts, err := NewPromptPack("", zap.NewNop())
	if err != nil {
		t.Fatalf("NewPromptPack() error = %v", err)
	}
	return newLLMCapabilities(client, prompts, gate, source, zap.NewNop())
}

func TestLLMCapabilities_Extract(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"requirements":[{"id":"","text":"validate tokens","kind":"","priority":"","confidence":0}],"confidence":0.9}`,
	}}
	llm := newTestLLM(t, client, GateConfig{}, nil)

	reqs, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1", Title: "Tokens"}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requirements, want 1", len(reqs))
	}
	// Blank fields take defaults; zero confidence inherits the overall score.
	r := reqs[0]
	if r.ID != "REQ-001" || r.Kind != KindFunctional || r.Priority != PriorityShould || r.Confidence != 0.9 {
		t.Errorf("normalized requirement = %+v", r)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
	if !strings.Contains(client.users[0], "Ticket T-1: Tokens") {
		t.Errorf("user prompt missing ticket header:\n%s", client.users[0])
	}
}

func TestLLMCapabilities_ExtractFencedJSON(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		"```json\n{\"requirements\":[{\"id\":\"REQ-001\",\"text\":\"x\",\"kind\":\"functional\",\"priority\":\"must\",\"confidence\":0.8}],\"confidence\":0.8}\n```",
	}}
	llm := newTestLLM(t, client, GateConfig{}, nil)

	reqs, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != "REQ-001" {
		t.Errorf("reqs = %+v", reqs)
	}
}

func TestLLMCapabilities_GateRetriesStrict(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"requirements":[{"id":"REQ-001","text":"first","kind":"functional","priority":"must","confidence":0.3}],"confidence":0.3}`,
		`{"requirements":[{"id":"REQ-001","text":"second","kind":"functional","priority":"must","confidence":0.9}],"confidence":0.9}`,
	}}
	llm := newTestLLM(t, client, GateConfig{Enabled: true, MinConfidence: 0.8, MaxAttempts: 2}, nil)

	reqs, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("calls = %d, want 2", client.calls)
	}
	if reqs[0].Text != "second" {
		t.Errorf("kept %q, want the retry result", reqs[0].Text)
	}
	if strings.Contains(client.systems[0], "STRICT MODE") {
		t.Error("first attempt used the strict prompt")
	}
	if !strings.Contains(client.systems[1], "STRICT MODE") {
		t.Error("retry did not use the strict prompt")
	}
}

func TestLLMCapabilities_GateAcceptsFinalLowConfidence(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"requirements":[{"id":"REQ-001","text":"first","kind":"functional","priority":"must","confidence":0.3}],"confidence":0.3}`,
		`{"requirements":[{"id":"REQ-001","text":"second","kind":"functional","priority":"must","confidence":0.4}],"confidence":0.4}`,
	}}
	llm := newTestLLM(t, client, GateConfig{Enabled: true, MinConfidence: 0.8, MaxAttempts: 2}, nil)

	reqs, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v, want low-confidence result accepted", err)
	}
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}
	if reqs[0].Text != "second" {
		t.Errorf("kept %q, want the final attempt", reqs[0].Text)
	}
}

func TestLLMCapabilities_GateDisabledSingleAttempt(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"requirements":[{"id":"REQ-001","text":"x","kind":"functional","priority":"must","confidence":0.1}],"confidence":0.1}`,
	}}
	llm := newTestLLM(t, client, GateConfig{}, nil)

	if _, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
}

func TestLLMCapabilities_UnparseableThenGood(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		"I think the requirements are...",
		`{"requirements":[{"id":"REQ-001","text":"x","kind":"functional","priority":"must","confidence":0.9}],"confidence":0.9}`,
	}}
	llm := newTestLLM(t, client, GateConfig{Enabled: true, MinConfidence: 0.5, MaxAttempts: 2}, nil)

	reqs, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if client.calls != 2 || len(reqs) != 1 {
		t.Errorf("calls = %d, reqs = %+v", client.calls, reqs)
	}
}

func TestLLMCapabilities_AllUnparseable(t *testing.T) {
	client := &scriptedCompleter{responses: []string{"nope", "still nope"}}
	llm := newTestLLM(t, client, GateConfig{Enabled: true, MinConfidence: 0.5, MaxAttempts: 2}, nil)

	_, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err == nil || !strings.Contains(err.Error(), "parsing requirements response") {
		t.Fatalf("error = %v, want parse error", err)
	}
}

func TestLLMCapabilities_EarlierResultSurvivesFailedRetry(t *testing.T) {
	// Attempt one parses below the gate; the strict retry comes back
	// unparseable. The attempt-one result is kept.
	client := &scriptedCompleter{responses: []string{
		`{"requirements":[{"id":"REQ-001","text":"first","kind":"functional","priority":"must","confidence":0.3}],"confidence":0.3}`,
		"garbage",
	}}
	llm := newTestLLM(t, client, GateConfig{Enabled: true, MinConfidence: 0.8, MaxAttempts: 2}, nil)

	reqs, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(reqs) != 1 || reqs[0].Text != "first" {
		t.Errorf("reqs = %+v, want the attempt-one result", reqs)
	}
}

func TestLLMCapabilities_ClientErrorFailsFast(t *testing.T) {
	client := &scriptedCompleter{err: errors.New("connection refused")}
	llm := newTestLLM(t, client, GateConfig{Enabled: true, MinConfidence: 0.5, MaxAttempts: 3}, nil)

	_, err := llm.Extract(context.Background(), pipeline.Ticket{ID: "T-1"}, nil)
	if err == nil || !strings.Contains(err.Error(), "completing requirements prompt") {
		t.Fatalf("error = %v, want completion error", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on transport errors here)", client.calls)
	}
}

func TestLLMCapabilities_Generate(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"language":"","summary":"impl","files":[{"path":"auth/auth.go","content":"package auth"}],"confidence":0.9}`,
	}}
	source := &fakeSource{snippets: []string{"foo.go:\nfunc Foo() {}"}}
	llm := newTestLLM(t, client, GateConfig{}, source)

	reqs := []Requirement{{ID: "REQ-001", Text: "validate tokens", Kind: KindFunctional, Priority: PriorityMust}}
	sc := &pipeline.StageContext{Ticket: pipeline.Ticket{ID: "T-1", Title: "Token validation"}}

	artifact, err := llm.Generate(context.Background(), reqs, sc)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if artifact.Language != "go" {
		t.Errorf("Language = %q, want go default", artifact.Language)
	}
	if len(artifact.Files) != 1 || artifact.Files[0].Path != "auth/auth.go" {
		t.Errorf("Files = %+v", artifact.Files)
	}

	user := client.users[0]
	if !strings.Contains(user, "validate tokens") {
		t.Errorf("user prompt missing requirements JSON:\n%s", user)
	}
	if !strings.Contains(user, "Relevant repository context:") || !strings.Contains(user, "foo.go") {
		t.Errorf("user prompt missing retrieval context:\n%s", user)
	}
	if len(source.queries) != 1 || !strings.Contains(source.queries[0], "Token validation") {
		t.Errorf("queries = %q, want ticket title in the retrieval query", source.queries)
	}
}

func TestLLMCapabilities_GenerateRejectsEmptyFiles(t *testing.T) {
	client := &scriptedCompleter{responses: []string{`{"language":"go","files":[],"confidence":1}`}}
	llm := newTestLLM(t, client, GateConfig{}, nil)

	_, err := llm.Generate(context.Background(), nil, &pipeline.StageContext{Ticket: pipeline.Ticket{ID: "T-1"}})
	if err == nil || !strings.Contains(err.Error(), "no files in response") {
		t.Fatalf("error = %v, want no-files rejection", err)
	}
}

func TestLLMCapabilities_GenerateTests(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"framework":"","summary":"tests","files":[{"path":"auth/auth_test.go","content":"package auth"}],"confidence":0.9}`,
	}}
	llm := newTestLLM(t, client, GateConfig{}, nil)

	reqs := []Requirement{{ID: "REQ-001", Text: "validate tokens"}}
	code := &CodeArtifact{Language: "go", Files: []GeneratedFile{{Path: "auth/auth.go", Content: "package auth"}}}
	sc := &pipeline.StageContext{Ticket: pipeline.Ticket{ID: "T-1"}}

	artifact, err := llm.GenerateTests(context.Background(), code, reqs, sc)
	if err != nil {
		t.Fatalf("GenerateTests() error = %v", err)
	}
	if artifact.Framework != "go-test" {
		t.Errorf("Framework = %q, want go-test default", artifact.Framework)
	}
	if !strings.Contains(client.users[0], "Implementation under test:") {
		t.Errorf("user prompt missing code artifact:\n%s", client.users[0])
	}
}

func TestLLMCapabilities_GenerateTestsWithoutCode(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"framework":"go-test","files":[{"path":"a_test.go","content":"package a"}],"confidence":0.9}`,
	}}
	llm := newTestLLM(t, client, GateConfig{}, nil)

	_, err := llm.GenerateTests(context.Background(), nil, []Requirement{{ID: "REQ-001", Text: "x"}}, &pipeline.StageContext{Ticket: pipeline.Ticket{ID: "T-1"}})
	if err != nil {
		t.Fatalf("GenerateTests() error = %v", err)
	}
	if strings.Contains(client.users[0], "Implementation under test:") {
		t.Errorf("user prompt includes code section without a code artifact:\n%s", client.users[0])
	}
}

func TestLLMCapabilities_SourceFailureDegrades(t *testing.T) {
	client := &scriptedCompleter{responses: []string{
		`{"language":"go","files":[{"path":"a.go","content":"package a"}],"confidence":0.9}`,
	}}
	source := &fakeSource{err: errors.New("store down")}
	llm := newTestLLM(t, client, GateConfig{}, source)

	_, err := llm.Generate(context.Background(), []Requirement{{ID: "REQ-001", Text: "x"}}, &pipeline.StageContext{Ticket: pipeline.Ticket{ID: "T-1"}})
	if err != nil {
		t.Fatalf("Generate() error = %v, want snippet failure swallowed", err)
	}
	if strings.Contains(client.users[0], "Relevant repository context:") {
		t.Error("user prompt includes context section after source failure")
	}
}

func TestSnippetQuery(t *testing.T) {
	ticket := pipeline.Ticket{Title: "Login flow"}
	reqs := []Requirement{
		{Text: "one"}, {Text: "two"}, {Text: "three"}, {Text: "four"},
	}
	got := snippetQuery(ticket, reqs)
	if !strings.Contains(got, "Login flow") || !strings.Contains(got, "three") {
		t.Errorf("snippetQuery() = %q", got)
	}
	if strings.Contains(got, "four") {
		t.Errorf("snippetQuery() = %q, want at most three requirement texts", got)
	}
}

func TestSnippetQuery_RepoRefLeads(t *testing.T) {
	ticket := pipeline.Ticket{Title: "Login flow", RepoRef: "acme/auth"}
	got := snippetQuery(ticket, nil)
	if !strings.HasPrefix(got, "acme/auth") {
		t.Errorf("snippetQuery() = %q, want repo ref first", got)
	}
}

func TestTrimFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimFences(tt.in); got != tt.want {
				t.Errorf("trimFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

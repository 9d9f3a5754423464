package agents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// Prompt names understood by the LLM capabilities.
const (
	PromptRequirements = "requirements"
	PromptCode         = "code"
	PromptTests        = "tests"
)

const requirementsSystem = `You are the requirement analysis agent of an automated delivery pipeline.
Extract the requirements stated or implied by the ticket.

Respond ONLY with a JSON object of this shape:
{
  "requirements": [
    {"id": "REQ-001", "text": "...", "kind": "functional|non_functional|constraint", "priority": "must|should|may", "confidence": 0.0}
  ],
  "confidence": 0.0
}

Rules:
- Number requirements REQ-001, REQ-002, ... in reading order.
- Each acceptance criterion becomes its own must-priority requirement.
- confidence is your overall confidence in the extraction, 0.0 to 1.0.`

const requirementsUser = `Ticket {{.Ticket.ID}}: {{.Ticket.Title}}

{{.Ticket.Description}}
{{- if .Ticket.AcceptanceCriteria}}

Acceptance criteria:
{{- range .Ticket.AcceptanceCriteria}}
- {{.}}
{{- end}}
{{- end}}`

const codeSystem = `You are the code generation agent of an automated delivery pipeline.
Implement the ticket's requirements as compilable source files.

Respond ONLY with a JSON object of this shape:
{
  "language": "go",
  "summary": "...",
  "files": [{"path": "...", "content": "..."}],
  "confidence": 0.0
}

confidence is your overall confidence that the implementation satisfies the
requirements, 0.0 to 1.0.`

const codeUser = `Ticket {{.Ticket.ID}}: {{.Ticket.Title}}

Requirements:
{{.RequirementsJSON}}
{{- if .Snippets}}

Relevant repository context:
{{- range .Snippets}}
---
{{.}}
{{- end}}
{{- end}}`

const testsSystem = `You are the test generation agent of an automated delivery pipeline.
Write tests that verify the ticket's requirements. When an implementation is
provided, test against its exported surface; otherwise derive the expected
surface from the requirements.

Respond ONLY with a JSON object of this shape:
{
  "framework": "go-test",
  "summary": "...",
  "files": [{"path": "...", "content": "..."}],
  "confidence": 0.0
}`

const testsUser = `Ticket {{.Ticket.ID}}: {{.Ticket.Title}}

Requirements:
{{.RequirementsJSON}}
{{- if .CodeJSON}}

Implementation under test:
{{.CodeJSON}}
{{- end}}
{{- if .Snippets}}

Relevant repository context:
{{- range .Snippets}}
---
{{.}}
{{- end}}
{{- end}}`

// strictAddendum is appended to the system prompt on quality-gate retries.
const strictAddendum = `STRICT MODE: your previous answer fell below the confidence bar. Re-read the input, include only content grounded in it, and emit exactly the JSON schema requested with no surrounding prose.`

// promptSource is the overridable form of one prompt: a system template and
// a user template. Empty fields inherit the built-in text.
type promptSource struct {
	System string `koanf:"system"`
	User   string `koanf:"user"`
}

func builtinPrompts() map[string]promptSource {
	return map[string]promptSource{
		PromptRequirements: {System: requirementsSystem, User: requirementsUser},
		PromptCode:         {System: codeSystem, User: codeUser},
		PromptTests:        {System: testsSystem, User: testsUser},
	}
}

type parsedPrompt struct {
	system *template.Template
	user   *template.Template
}

// PromptPack holds the templates used by the LLM capabilities. Built-in
// prompts can be overridden per name from a YAML file; Watch hot-reloads the
// file on change.
type PromptPack struct {
	logger *zap.Logger
	path   string

	mu      sync.RWMutex
	prompts map[string]*parsedPrompt
}

// NewPromptPack builds the pack from the built-in prompts, then applies the
// override file at path if one is given.
func NewPromptPack(path string, logger *zap.Logger) (*PromptPack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &PromptPack{
		logger:  logger.Named("prompts"),
		path:    path,
		prompts: make(map[string]*parsedPrompt),
	}

	for name, src := range builtinPrompts() {
		parsed, err := parsePrompt(name, src)
		if err != nil {
			return nil, fmt.Errorf("parsing built-in prompt %s: %w", name, err)
		}
		p.prompts[name] = parsed
	}

	if path != "" {
		if err := p.load(path); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Render executes the named prompt against data. strict appends the
// quality-gate addendum to the system prompt.
func (p *PromptPack) Render(name string, data any, strict bool) (system, user string, err error) {
	p.mu.RLock()
	parsed, ok := p.prompts[name]
	p.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("unknown prompt: %s", name)
	}

	var sysBuf, userBuf strings.Builder
	if err := parsed.system.Execute(&sysBuf, data); err != nil {
		return "", "", fmt.Errorf("rendering %s system prompt: %w", name, err)
	}
	if err := parsed.user.Execute(&userBuf, data); err != nil {
		return "", "", fmt.Errorf("rendering %s user prompt: %w", name, err)
	}

	system = sysBuf.String()
	if strict {
		system += "\n\n" + strictAddendum
	}
	return system, userBuf.String(), nil
}

// Names returns the prompt names in the pack.
func (p *PromptPack) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.prompts))
	for name := range p.prompts {
		names = append(names, name)
	}
	return names
}

// load reads the override file and swaps the template set. Unknown prompt
// names and unparsable templates are rejected; the previous set stays live
// on failure.
func (p *PromptPack) load(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading prompt file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing prompt file %s: %w", path, err)
	}
	var overrides map[string]promptSource
	if err := k.Unmarshal("", &overrides); err != nil {
		return fmt.Errorf("decoding prompt file %s: %w", path, err)
	}

	builtins := builtinPrompts()
	next := make(map[string]*parsedPrompt, len(builtins))

	for name, src := range builtins {
		if override, ok := overrides[name]; ok {
			if override.System != "" {
				src.System = override.System
			}
			if override.User != "" {
				src.User = override.User
			}
			delete(overrides, name)
		}
		parsed, err := parsePrompt(name, src)
		if err != nil {
			return fmt.Errorf("parsing prompt %s from %s: %w", name, path, err)
		}
		next[name] = parsed
	}
	for name := range overrides {
		return fmt.Errorf("unknown prompt %q in %s", name, path)
	}

	p.mu.Lock()
	p.prompts = next
	p.mu.Unlock()
	return nil
}

// Watch hot-reloads the override file when it changes. It returns immediately
// when the pack has no override file. The watcher stops when ctx is done.
func (p *PromptPack) Watch(ctx context.Context) error {
	if p.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching prompt file: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.load(p.path); err != nil {
					p.logger.Warn("prompt reload failed", zap.Error(err))
					continue
				}
				p.logger.Info("prompt pack reloaded", zap.String("path", p.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("prompt watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func parsePrompt(name string, src promptSource) (*parsedPrompt, error) {
	system, err := template.New(name + ".system").Parse(src.System)
	if err != nil {
		return nil, err
	}
	user, err := template.New(name + ".user").Parse(src.User)
	if err != nil {
		return nil, err
	}
	return &parsedPrompt{system: system, user: user}, nil
}

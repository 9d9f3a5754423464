// Package tracker resolves ticket references against an issue tracker. The
// configured Source turns a reference like "PROJ-123" or "owner/repo#42" into
// the pipeline's ticket shape; the HTTP analyze endpoint uses it when a
// request carries only a ticket ID.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// ErrTicketNotFound indicates the referenced ticket does not exist in the
// configured tracker.
var ErrTicketNotFound = errors.New("ticket not found")

// Source fetches tickets by reference.
type Source interface {
	Fetch(ctx context.Context, ref string) (*pipeline.Ticket, error)
}

// criteriaPattern matches an "Acceptance Criteria" section of a ticket body,
// up to the next blank line or heading.
var criteriaPattern = regexp.MustCompile(`(?is)(?:^|\n)#{0,3}\s*acceptance criteria\s*:?\s*\n(.+?)(?:\n\s*\n|\n#|\z)`)

// extractCriteria pulls acceptance criteria lines out of a free-form ticket
// description. Returns nil when no section is present.
func extractCriteria(description string) []string {
	m := criteriaPattern.FindStringSubmatch(description)
	if m == nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, " \t-*"))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// staticRefPattern limits directory lookups to plain file stems.
var staticRefPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// StaticSource serves tickets from an in-memory set and, when a directory is
// configured, from YAML files named <ref>.yaml. It backs local use and tests
// where no real tracker exists.
type StaticSource struct {
	dir string

	mu      sync.RWMutex
	tickets map[string]pipeline.Ticket
}

// NewStaticSource returns a source over dir. dir may be empty for a purely
// in-memory source.
func NewStaticSource(dir string) *StaticSource {
	return &StaticSource{
		dir:     dir,
		tickets: make(map[string]pipeline.Ticket),
	}
}

// Put registers an in-memory ticket, keyed by its ID.
func (s *StaticSource) Put(ticket pipeline.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket.ID] = ticket
}

// Fetch resolves ref from memory first, then from <dir>/<ref>.yaml.
func (s *StaticSource) Fetch(_ context.Context, ref string) (*pipeline.Ticket, error) {
	s.mu.RLock()
	ticket, ok := s.tickets[ref]
	s.mu.RUnlock()
	if ok {
		return cloneTicket(ticket), nil
	}

	if s.dir == "" || !staticRefPattern.MatchString(ref) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ref)
	}

	for _, ext := range []string{".yaml", ".yml"} {
		content, err := os.ReadFile(filepath.Join(s.dir, ref+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading ticket file for %s: %w", ref, err)
		}
		return parseTicketFile(ref, content)
	}
	return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, ref)
}

type ticketFile struct {
	ID                 string   `koanf:"id"`
	Title              string   `koanf:"title"`
	Description        string   `koanf:"description"`
	AcceptanceCriteria []string `koanf:"acceptance_criteria"`
}

func parseTicketFile(ref string, content []byte) (*pipeline.Ticket, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing ticket file for %s: %w", ref, err)
	}
	var tf ticketFile
	if err := k.Unmarshal("", &tf); err != nil {
		return nil, fmt.Errorf("decoding ticket file for %s: %w", ref, err)
	}
	if tf.ID == "" {
		tf.ID = ref
	}
	return &pipeline.Ticket{
		ID:                 tf.ID,
		Title:              tf.Title,
		Description:        tf.Description,
		AcceptanceCriteria: tf.AcceptanceCriteria,
	}, nil
}

func cloneTicket(t pipeline.Ticket) *pipeline.Ticket {
	out := t
	if t.AcceptanceCriteria != nil {
		out.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	}
	return &out
}

var _ Source = (*StaticSource)(nil)

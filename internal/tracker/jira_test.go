package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newJiraTestServer(t *testing.T, handler http.HandlerFunc) *JiraSource {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src, err := NewJiraSource(JiraConfig{
		BaseURL:  server.URL,
		Email:    "dev@example.com",
		APIToken: "api-token",
	}, nil)
	if err != nil {
		t.Fatalf("NewJiraSource() error = %v", err)
	}
	return src
}

func TestJiraSource_Fetch(t *testing.T) {
	src := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/PROJ-7" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/rest/api/2/issue/PROJ-7")
		}
		if got := r.URL.Query().Get("fields"); got != "summary,description" {
			t.Errorf("fields param = %q, want %q", got, "summary,description")
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dev@example.com" || pass != "api-token" {
			t.Errorf("basic auth = (%q, %q, %v), want configured credentials", user, pass, ok)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"key": "PROJ-7",
			"fields": {
				"summary": "Login flow",
				"description": "Allow SSO.\n\nAcceptance Criteria:\n- redirects back after login"
			}
		}`)
	})

	got, err := src.Fetch(context.Background(), "PROJ-7")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.ID != "PROJ-7" {
		t.Errorf("ID = %q, want %q", got.ID, "PROJ-7")
	}
	if got.Title != "Login flow" {
		t.Errorf("Title = %q, want %q", got.Title, "Login flow")
	}
	if !strings.Contains(got.Description, "Allow SSO.") {
		t.Errorf("Description = %q, want full body", got.Description)
	}
	if len(got.AcceptanceCriteria) != 1 || got.AcceptanceCriteria[0] != "redirects back after login" {
		t.Errorf("AcceptanceCriteria = %v", got.AcceptanceCriteria)
	}
}

func TestJiraSource_KeyFallsBackToRef(t *testing.T) {
	src := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"fields": {"summary": "No key in payload"}}`)
	})

	got, err := src.Fetch(context.Background(), "PROJ-8")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.ID != "PROJ-8" {
		t.Errorf("ID = %q, want ref fallback %q", got.ID, "PROJ-8")
	}
}

func TestJiraSource_NotFound(t *testing.T) {
	src := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := src.Fetch(context.Background(), "PROJ-404")
	if !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("Fetch() error = %v, want ErrTicketNotFound", err)
	}
}

func TestJiraSource_AuthFailure(t *testing.T) {
	src := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := src.Fetch(context.Background(), "PROJ-1")
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("Fetch() error = %v, want authentication failure", err)
	}
}

func TestJiraSource_ServerError(t *testing.T) {
	src := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := src.Fetch(context.Background(), "PROJ-1")
	if err == nil || !strings.Contains(err.Error(), "jira API error (500)") {
		t.Errorf("Fetch() error = %v, want API error", err)
	}
}

func TestNewJiraSource_RequiresBaseURL(t *testing.T) {
	if _, err := NewJiraSource(JiraConfig{}, nil); err == nil {
		t.Error("NewJiraSource() error = nil, want base URL error")
	}
}

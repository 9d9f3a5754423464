package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Duration() != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout.Duration())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
	if cfg.Observability.ServiceName != "sdlcd" {
		t.Errorf("Observability.ServiceName = %q, want sdlcd", cfg.Observability.ServiceName)
	}
	if cfg.Orchestrator.StageTimeout.Duration() != 5*time.Minute {
		t.Errorf("Orchestrator.StageTimeout = %v, want 5m", cfg.Orchestrator.StageTimeout.Duration())
	}
	if cfg.Events.BufferSize != 64 {
		t.Errorf("Events.BufferSize = %d, want 64", cfg.Events.BufferSize)
	}
	if cfg.Events.SubjectPrefix != "pipeline.run" {
		t.Errorf("Events.SubjectPrefix = %q, want pipeline.run", cfg.Events.SubjectPrefix)
	}
	if cfg.Agents.Provider != "heuristic" {
		t.Errorf("Agents.Provider = %q, want heuristic", cfg.Agents.Provider)
	}
	if cfg.Retrieval.Provider != "chromem" {
		t.Errorf("Retrieval.Provider = %q, want chromem", cfg.Retrieval.Provider)
	}
	if cfg.Retrieval.Chromem.VectorSize != 384 {
		t.Errorf("Retrieval.Chromem.VectorSize = %d, want 384", cfg.Retrieval.Chromem.VectorSize)
	}
	if cfg.Tracker.Provider != "static" {
		t.Errorf("Tracker.Provider = %q, want static", cfg.Tracker.Provider)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"zero stage timeout", func(c *Config) { c.Orchestrator.StageTimeout = 0 }, "stage timeout"},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, "buffer size"},
		{"bad agents provider", func(c *Config) { c.Agents.Provider = "psychic" }, "unknown agents provider"},
		{
			"openai without api key",
			func(c *Config) { c.Agents.Provider = "openai" },
			"api_key required",
		},
		{
			"anthropic without api key",
			func(c *Config) { c.Agents.Provider = "anthropic" },
			"api_key required",
		},
		{"bad retrieval provider", func(c *Config) { c.Retrieval.Provider = "pinecone" }, "unknown retrieval provider"},
		{"bad embeddings provider", func(c *Config) { c.Retrieval.Embeddings.Provider = "psychic" }, "unknown embeddings provider"},
		{"bad tracker provider", func(c *Config) { c.Tracker.Provider = "linear" }, "unknown tracker provider"},
		{"jira without base url", func(c *Config) { c.Tracker.Provider = "jira" }, "jira base_url required"},
		{"github without repo", func(c *Config) { c.Tracker.Provider = "github" }, "github owner and repo required"},
		{
			"telemetry without service name",
			func(c *Config) { c.Observability.EnableTelemetry = true; c.Observability.ServiceName = "" },
			"service name required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("negative duration must be rejected")
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("garbage duration must be rejected")
	}
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("hunter2")

	if got := s.String(); got != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", got)
	}
	if got := fmt.Sprintf("%v %s %#v", s, s, s); strings.Contains(got, "hunter2") {
		t.Errorf("formatted output leaked secret: %q", got)
	}

	data, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("JSON leaked secret: %s", data)
	}

	if s.Value() != "hunter2" {
		t.Errorf("Value() = %q, want raw secret", s.Value())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for non-empty secret")
	}
	if Secret("").IsSet() {
		t.Error("IsSet() = true for empty secret")
	}
}

func TestSecret_Unmarshal(t *testing.T) {
	var out struct {
		Token Secret `json:"token"`
	}
	if err := json.Unmarshal([]byte(`{"token":"raw-value"}`), &out); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if out.Token.Value() != "raw-value" {
		t.Errorf("Value() = %q, want raw-value", out.Token.Value())
	}
}

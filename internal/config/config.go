// Package config provides configuration loading for sdlcd.
//
// Configuration is merged from a YAML file and environment variables, with
// hardcoded defaults for everything else.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete sdlcd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Events        EventsConfig        `koanf:"events"`
	Agents        AgentsConfig        `koanf:"agents"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Tracker       TrackerConfig       `koanf:"tracker"`
	Redaction     RedactionConfig     `koanf:"redaction"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds log level and format, expanded into the logging
// package's own config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration. Exporter endpoints
// follow the standard OTEL_EXPORTER_OTLP_* environment variables.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
}

// OrchestratorConfig holds pipeline execution configuration.
type OrchestratorConfig struct {
	StageTimeout Duration `koanf:"stage_timeout"`
}

// EventsConfig holds event bus configuration. NATSURL is optional; when
// empty, events are delivered to in-process subscribers only.
type EventsConfig struct {
	BufferSize    int    `koanf:"buffer_size"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// AgentsConfig holds stage capability configuration.
type AgentsConfig struct {
	Provider          string            `koanf:"provider"`
	BaseURL           string            `koanf:"base_url"`
	APIKey            Secret            `koanf:"api_key"`
	Model             string            `koanf:"model"`
	PromptFile        string            `koanf:"prompt_file"`
	RequestTimeout    Duration          `koanf:"request_timeout"`
	RequestsPerSecond float64           `koanf:"requests_per_second"`
	MaxRetries        int               `koanf:"max_retries"`
	QualityGate       QualityGateConfig `koanf:"quality_gate"`
}

// QualityGateConfig controls confidence gating of LLM capability output.
// Artifacts below MinConfidence trigger a strict-prompt retry inside the
// capability, up to MaxAttempts total attempts.
type QualityGateConfig struct {
	Enabled       bool    `koanf:"enabled"`
	MinConfidence float64 `koanf:"min_confidence"`
	MaxAttempts   int     `koanf:"max_attempts"`
}

// RetrievalConfig holds repository context retrieval configuration.
type RetrievalConfig struct {
	Enabled    bool             `koanf:"enabled"`
	Provider   string           `koanf:"provider"`
	Chromem    ChromemConfig    `koanf:"chromem"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Index      IndexConfig      `koanf:"index"`
}

// ChromemConfig holds embedded vector store configuration.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds the external vector store configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     Secret `koanf:"api_key"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
}

// IndexConfig holds repository indexing configuration. Path names the work
// tree indexed at startup; empty means no indexing.
type IndexConfig struct {
	Path          string `koanf:"path"`
	ChunkSize     int    `koanf:"chunk_size"`
	ChunkOverlap  int    `koanf:"chunk_overlap"`
	MaxFileSizeKB int    `koanf:"max_file_size_kb"`
}

// TrackerConfig holds ticket tracker configuration.
type TrackerConfig struct {
	Provider string       `koanf:"provider"`
	Jira     JiraConfig   `koanf:"jira"`
	GitHub   GitHubConfig `koanf:"github"`
	Static   StaticConfig `koanf:"static"`
}

// JiraConfig holds Jira REST API configuration.
type JiraConfig struct {
	BaseURL  string   `koanf:"base_url"`
	Email    string   `koanf:"email"`
	APIToken Secret   `koanf:"api_token"`
	Timeout  Duration `koanf:"timeout"`
}

// GitHubConfig holds GitHub issues configuration.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
}

// StaticConfig holds file-backed ticket configuration.
type StaticConfig struct {
	Dir string `koanf:"dir"`
}

// RedactionConfig holds secret scanning configuration for stage payloads.
// ProjectPath locates a project .gitleaks.toml allowlist; AllowlistPath names
// a user-level one.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	ProjectPath   string `koanf:"project_path"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "sdlcd"
	}

	if cfg.Orchestrator.StageTimeout == 0 {
		cfg.Orchestrator.StageTimeout = Duration(5 * time.Minute)
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 64
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "pipeline.run"
	}

	if cfg.Agents.Provider == "" {
		cfg.Agents.Provider = "heuristic"
	}
	if cfg.Agents.RequestTimeout == 0 {
		cfg.Agents.RequestTimeout = Duration(60 * time.Second)
	}
	if cfg.Agents.RequestsPerSecond == 0 {
		cfg.Agents.RequestsPerSecond = 2
	}
	if cfg.Agents.MaxRetries == 0 {
		cfg.Agents.MaxRetries = 2
	}
	if cfg.Agents.QualityGate.MinConfidence == 0 {
		cfg.Agents.QualityGate.MinConfidence = 0.5
	}
	if cfg.Agents.QualityGate.MaxAttempts == 0 {
		cfg.Agents.QualityGate.MaxAttempts = 2
	}

	if cfg.Retrieval.Provider == "" {
		cfg.Retrieval.Provider = "chromem"
	}
	if cfg.Retrieval.Chromem.Path == "" {
		cfg.Retrieval.Chromem.Path = "~/.config/sdlcd/vectorstore"
	}
	if cfg.Retrieval.Chromem.Collection == "" {
		cfg.Retrieval.Chromem.Collection = "sdlcd_default"
	}
	if cfg.Retrieval.Chromem.VectorSize == 0 {
		cfg.Retrieval.Chromem.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.Retrieval.Qdrant.Host == "" {
		cfg.Retrieval.Qdrant.Host = "localhost"
	}
	if cfg.Retrieval.Qdrant.Port == 0 {
		cfg.Retrieval.Qdrant.Port = 6334
	}
	if cfg.Retrieval.Qdrant.Collection == "" {
		cfg.Retrieval.Qdrant.Collection = "sdlcd_default"
	}
	if cfg.Retrieval.Qdrant.VectorSize == 0 {
		cfg.Retrieval.Qdrant.VectorSize = 384
	}
	if cfg.Retrieval.Embeddings.Provider == "" {
		cfg.Retrieval.Embeddings.Provider = "local"
	}
	if cfg.Retrieval.Embeddings.BaseURL == "" {
		cfg.Retrieval.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Retrieval.Embeddings.Model == "" {
		cfg.Retrieval.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Retrieval.Index.ChunkSize == 0 {
		cfg.Retrieval.Index.ChunkSize = 512
	}
	if cfg.Retrieval.Index.ChunkOverlap == 0 {
		cfg.Retrieval.Index.ChunkOverlap = 64
	}
	if cfg.Retrieval.Index.MaxFileSizeKB == 0 {
		cfg.Retrieval.Index.MaxFileSizeKB = 256
	}

	if cfg.Tracker.Provider == "" {
		cfg.Tracker.Provider = "static"
	}
	if cfg.Tracker.Static.Dir == "" {
		cfg.Tracker.Static.Dir = "./tickets"
	}
	if cfg.Tracker.Jira.Timeout == 0 {
		cfg.Tracker.Jira.Timeout = Duration(30 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Orchestrator.StageTimeout.Duration() <= 0 {
		return errors.New("orchestrator stage timeout must be positive")
	}

	if c.Events.BufferSize < 1 {
		return fmt.Errorf("events buffer size must be >= 1, got %d", c.Events.BufferSize)
	}

	switch c.Agents.Provider {
	case "heuristic", "anthropic", "openai", "noop":
	default:
		return fmt.Errorf("unknown agents provider: %q (must be heuristic, anthropic, openai, or noop)", c.Agents.Provider)
	}
	if (c.Agents.Provider == "anthropic" || c.Agents.Provider == "openai") && !c.Agents.APIKey.IsSet() {
		return fmt.Errorf("agents api_key required for the %s provider", c.Agents.Provider)
	}

	switch c.Retrieval.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown retrieval provider: %q (must be chromem or qdrant)", c.Retrieval.Provider)
	}
	switch c.Retrieval.Embeddings.Provider {
	case "local", "http":
	default:
		return fmt.Errorf("unknown embeddings provider: %q (must be local or http)", c.Retrieval.Embeddings.Provider)
	}

	switch c.Tracker.Provider {
	case "static", "jira", "github":
	default:
		return fmt.Errorf("unknown tracker provider: %q (must be static, jira, or github)", c.Tracker.Provider)
	}
	if c.Tracker.Provider == "jira" && c.Tracker.Jira.BaseURL == "" {
		return errors.New("jira base_url required for the jira tracker")
	}
	if c.Tracker.Provider == "github" && (c.Tracker.GitHub.Owner == "" || c.Tracker.GitHub.Repo == "") {
		return errors.New("github owner and repo required for the github tracker")
	}

	return nil
}

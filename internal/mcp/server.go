// Package mcp exposes the pipeline daemon over the Model Context Protocol.
//
// The server speaks MCP over stdio so coding agents can start, resume, and
// inspect pipeline runs as tools without going through the HTTP API. Tool
// inputs and outputs are typed structs; the SDK derives their JSON schemas
// from struct tags.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/orchestrator"
	"github.com/fyrsmithlabs/sdlcd/internal/tracker"
)

// Server exposes pipeline operations as MCP tools.
type Server struct {
	mcp     *mcp.Server
	service orchestrator.Service
	source  tracker.Source
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "sdlcd")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sdlcd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server backed by the given pipeline service
// and ticket source.
func NewServer(cfg *Config, service orchestrator.Service, source tracker.Source) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if service == nil {
		return nil, fmt.Errorf("orchestrator service is required")
	}
	if source == nil {
		return nil, fmt.Errorf("ticket source is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		service: service,
		source:  source,
		logger:  cfg.Logger,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close closes the server and the pipeline service behind it.
func (s *Server) Close() error {
	s.logger.Info("closing MCP server")
	return s.service.Close()
}

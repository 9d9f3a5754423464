package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/config"
	"github.com/fyrsmithlabs/sdlcd/internal/mcp"
)

// runMCP serves the pipeline tools over MCP stdio. Stdout carries the MCP
// protocol, so this mode logs to stderr and never starts the HTTP server.
// The pipeline stack underneath (store, bus, agents, tracker) is the same
// one the daemon serves over HTTP.
func runMCP(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newStderrLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svc, _, err := initPipeline(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = logger

	server, err := mcp.NewServer(mcpCfg, svc, deps.source)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() {
		_ = server.Close()
	}()

	fmt.Fprintln(os.Stderr, "sdlcd MCP stdio mode started")

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("stdio server error: %w", err)
	}

	logger.Info("MCP server shutdown complete")
	return nil
}

// newStderrLogger builds a zap logger that writes to stderr only.
func newStderrLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Format == "console" {
		zcfg.Encoding = "console"
	}
	if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
		zcfg.Level = level
	}
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

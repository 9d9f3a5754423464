// Sdlcd is the pipeline daemon. It executes checkpointed agent pipelines
// against tickets and serves their state over HTTP or MCP stdio.
//
// The default mode starts the HTTP server with full service initialization:
// checkpoint store, event bus (mirrored to NATS when configured), agent
// capabilities, ticket tracker, and repository retrieval.
//
// Configuration merges ~/.config/sdlcd/config.yaml with environment
// variables. See internal/config for the full schema.
//
// Usage:
//
//	# Start the daemon with defaults
//	sdlcd
//
//	# Start with an explicit config file
//	sdlcd -config /etc/sdlcd/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9191 TRACKER_PROVIDER=github sdlcd
//
//	# Serve the pipeline tools over MCP stdio instead of HTTP
//	sdlcd mcp
//
//	# Show version information
//	sdlcd version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/agents"
	"github.com/fyrsmithlabs/sdlcd/internal/checkpoint"
	"github.com/fyrsmithlabs/sdlcd/internal/config"
	"github.com/fyrsmithlabs/sdlcd/internal/eventbus"
	httpserver "github.com/fyrsmithlabs/sdlcd/internal/http"
	"github.com/fyrsmithlabs/sdlcd/internal/logging"
	"github.com/fyrsmithlabs/sdlcd/internal/orchestrator"
	"github.com/fyrsmithlabs/sdlcd/internal/redact"
	"github.com/fyrsmithlabs/sdlcd/internal/retrieval"
	"github.com/fyrsmithlabs/sdlcd/internal/telemetry"
	"github.com/fyrsmithlabs/sdlcd/internal/tracker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/sdlcd/config.yaml)")
	flag.Parse()

	mode := "serve"
	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "serve":
		case "mcp":
			mode = "mcp"
		case "version", "--version", "-v":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			fmt.Fprintf(os.Stderr, "Usage:\n")
			fmt.Fprintf(os.Stderr, "  sdlcd           Start the pipeline daemon\n")
			fmt.Fprintf(os.Stderr, "  sdlcd mcp       Serve pipeline tools over MCP stdio\n")
			fmt.Fprintf(os.Stderr, "  sdlcd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	var err error
	switch mode {
	case "mcp":
		err = runMCP(ctx, *configPath)
	default:
		err = run(ctx, *configPath)
	}
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("sdlcd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the sdlcd HTTP server and blocks until the context is
// cancelled or the server fails.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize telemetry and the logger
//  3. Connect infrastructure (NATS, stores, tracker)
//  4. Build agent capabilities and the orchestrator
//  5. Start the HTTP server
//  6. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, logger, err := initTelemetryAndLogger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	zlog := logger.Underlying()
	zlog.Info("starting sdlcd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.Int("port", cfg.Server.Port))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svc, caps, err := initPipeline(ctx, cfg, deps, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		_ = svc.Close()
	}()

	srv, err := httpserver.NewServer(svc, deps.bus, deps.source, caps.Provider, zlog, &httpserver.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	zlog.Info("server ready",
		zap.String("provider", caps.Provider),
		zap.String("health", fmt.Sprintf("http://localhost:%d/healthz", cfg.Server.Port)),
		zap.String("metrics", fmt.Sprintf("http://localhost:%d/metrics", cfg.Server.Port)))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// initTelemetryAndLogger wires the OTEL provider into the logger when
// telemetry is enabled. Telemetry degrades to no-op providers on exporter
// failure rather than blocking startup.
func initTelemetryAndLogger(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, *logging.Logger, error) {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Observability.EnableTelemetry
	tcfg.ServiceName = cfg.Observability.ServiceName
	tcfg.ServiceVersion = version

	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lcfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.Output.OTEL = cfg.Observability.EnableTelemetry

	logger, err := logging.NewLogger(lcfg, tel.LoggerProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return tel, logger, nil
}

// dependencies holds infrastructure shared by the serve and MCP modes.
type dependencies struct {
	natsConn *nats.Conn
	store    checkpoint.Store
	bus      *eventbus.Bus
	scanner  *redact.Scanner
	snippets retrieval.Store
	source   tracker.Source
}

// Close releases dependencies in reverse initialization order. The bus
// closes before the NATS connection so the mirror goroutine drains first.
func (d *dependencies) Close() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.snippets != nil {
		_ = d.snippets.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	var nc *nats.Conn
	if cfg.Events.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.Events.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.NATSURL, err)
		}
		logger.Info("connected to NATS", zap.String("url", cfg.Events.NATSURL))
	}

	store := checkpoint.NewMemoryStore(logger)
	bus := eventbus.NewBus(eventbus.Config{
		BufferSize:    cfg.Events.BufferSize,
		SubjectPrefix: cfg.Events.SubjectPrefix,
	}, nc, logger)

	scanner := redact.NewScanner(redact.Config{
		Enabled:       cfg.Redaction.Enabled,
		ProjectPath:   cfg.Redaction.ProjectPath,
		AllowlistPath: cfg.Redaction.AllowlistPath,
	}, logger)

	snippets, err := retrieval.NewStore(cfg, logger)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		return nil, fmt.Errorf("failed to create retrieval store: %w", err)
	}

	source, err := tracker.New(ctx, cfg.Tracker, logger)
	if err != nil {
		_ = snippets.Close()
		if nc != nil {
			nc.Close()
		}
		return nil, fmt.Errorf("failed to create ticket source: %w", err)
	}

	return &dependencies{
		natsConn: nc,
		store:    store,
		bus:      bus,
		scanner:  scanner,
		snippets: snippets,
		source:   source,
	}, nil
}

// initPipeline builds the agent capabilities and the orchestrator on top of
// the shared dependencies, and kicks off startup repository indexing when
// retrieval is configured with an index path.
func initPipeline(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (orchestrator.Service, *agents.Capabilities, error) {
	caps, err := agents.New(agents.Config{
		Provider:          cfg.Agents.Provider,
		BaseURL:           cfg.Agents.BaseURL,
		APIKey:            cfg.Agents.APIKey.Value(),
		Model:             cfg.Agents.Model,
		PromptFile:        cfg.Agents.PromptFile,
		RequestTimeout:    cfg.Agents.RequestTimeout.Duration(),
		RequestsPerSecond: cfg.Agents.RequestsPerSecond,
		MaxRetries:        cfg.Agents.MaxRetries,
		Gate: agents.GateConfig{
			Enabled:       cfg.Agents.QualityGate.Enabled,
			MinConfidence: cfg.Agents.QualityGate.MinConfidence,
			MaxAttempts:   cfg.Agents.QualityGate.MaxAttempts,
		},
	}, agents.NewRetrievalContext(deps.snippets, deps.scanner, logger), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build agent capabilities: %w", err)
	}

	if caps.Prompts != nil {
		if err := caps.Prompts.Watch(ctx); err != nil {
			logger.Warn("prompt hot reload unavailable", zap.Error(err))
		}
	}

	svc, err := orchestrator.NewService(&orchestrator.Config{
		StageTimeout: cfg.Orchestrator.StageTimeout.Duration(),
	}, deps.store, deps.bus, caps.Stages(logger), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if cfg.Retrieval.Enabled && cfg.Retrieval.Index.Path != "" {
		indexer := retrieval.NewIndexer(deps.snippets, retrieval.IndexerConfig{
			ChunkSize:     cfg.Retrieval.Index.ChunkSize,
			ChunkOverlap:  cfg.Retrieval.Index.ChunkOverlap,
			MaxFileSizeKB: cfg.Retrieval.Index.MaxFileSizeKB,
		}, logger)
		go func() {
			summary, err := indexer.IndexRepository(ctx, cfg.Retrieval.Index.Path)
			if err != nil {
				logger.Warn("startup indexing failed",
					zap.String("path", cfg.Retrieval.Index.Path),
					zap.Error(err))
				return
			}
			logger.Info("repository indexed",
				zap.String("path", cfg.Retrieval.Index.Path),
				zap.String("branch", summary.Branch),
				zap.Int("files", summary.Files),
				zap.Int("chunks", summary.Chunks),
				zap.Duration("took", summary.Duration))
		}()
	}

	return svc, caps, nil
}

// Package http provides the HTTP API for sdlcd: pipeline execution and
// resume, run inspection, live event streaming over SSE, and ticket lookup.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sdlcd/internal/eventbus"
	"github.com/fyrsmithlabs/sdlcd/internal/orchestrator"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
	"github.com/fyrsmithlabs/sdlcd/internal/tracker"
)

// Server exposes the pipeline over HTTP.
type Server struct {
	echo     *echo.Echo
	service  orchestrator.Service
	bus      *eventbus.Bus
	source   tracker.Source
	provider string
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server over the orchestrator, event bus, and
// ticket source. provider names the configured agent capability provider.
func NewServer(service orchestrator.Service, bus *eventbus.Bus, source tracker.Source, provider string, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("orchestrator service cannot be nil")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("ticket source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		service:  service,
		bus:      bus,
		source:   source,
		provider: provider,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health and metrics
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/readyz", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/pipeline/analyze", s.handleAnalyze)
	v1.POST("/pipeline/analyze/stream", s.handleAnalyzeStream)
	v1.POST("/runs/:id/resume", s.handleResume)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/history", s.handleGetHistory)
	v1.GET("/runs/:id/events", s.handleRunEvents)
	v1.GET("/tickets/:ref", s.handleGetTicket)
	v1.GET("/agents", s.handleAgents)
}

// ErrorResponse is the JSON error envelope for all failure responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response body for GET /healthz and GET /readyz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady reports whether the daemon can accept pipeline work.
func (s *Server) handleReady(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ready"})
}

// jsonError writes the error envelope with the given status.
func jsonError(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{Error: message})
}

// runError maps orchestrator errors to HTTP statuses. Only errors from runs
// that never started arrive here; a run that started and failed is a 200 with
// status "failed".
func (s *Server) runError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrConcurrentRun):
		return jsonError(c, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrCheckpointNotFound):
		return jsonError(c, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

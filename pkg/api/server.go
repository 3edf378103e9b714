// Package api exposes the HTTP and WebSocket surface of the moderation
// pipeline.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamguard/streamguard/pkg/config"
	"github.com/streamguard/streamguard/pkg/database"
	"github.com/streamguard/streamguard/pkg/filter"
	"github.com/streamguard/streamguard/pkg/hub"
	"github.com/streamguard/streamguard/pkg/llm"
	"github.com/streamguard/streamguard/pkg/moderation"
	"github.com/streamguard/streamguard/pkg/policy"
	"github.com/streamguard/streamguard/pkg/simulator"
	"github.com/streamguard/streamguard/pkg/template"
	"github.com/streamguard/streamguard/pkg/violation"
)

// Server is the HTTP API server.
type Server struct {
	cfg          *config.Config
	dbClient     *database.Client
	orchestrator *moderation.Orchestrator
	filterSvc    *filter.Service
	templates    *template.Registry
	engine       *policy.Engine
	llmClient    *llm.Client
	violations   *violation.Store
	eventHub     *hub.Hub
	simulator    *simulator.Manager

	echo   *echo.Echo
	http   *http.Server
	logger *slog.Logger
}

// NewServer wires the API server and registers all routes.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	orchestrator *moderation.Orchestrator,
	filterSvc *filter.Service,
	templates *template.Registry,
	engine *policy.Engine,
	llmClient *llm.Client,
	violations *violation.Store,
	eventHub *hub.Hub,
	sim *simulator.Manager,
) *Server {
	s := &Server{
		cfg:          cfg,
		dbClient:     dbClient,
		orchestrator: orchestrator,
		filterSvc:    filterSvc,
		templates:    templates,
		engine:       engine,
		llmClient:    llmClient,
		violations:   violations,
		eventHub:     eventHub,
		simulator:    sim,
		logger:       slog.Default().With("component", "api"),
	}

	e := echo.New()
	e.Use(securityHeaders())
	s.registerRoutes(e)
	s.echo = e
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/moderate", s.moderateHandler)
	v1.POST("/filter", s.filterHandler)
	v1.POST("/decide", s.decideHandler)
	v1.GET("/templates", s.listTemplatesHandler)
	v1.GET("/filter/stats", s.filterStatsHandler)
	v1.GET("/users/:id/violations", s.userViolationsHandler)
	v1.POST("/simulate/start", s.simulateStartHandler)
	v1.POST("/simulate/stop", s.simulateStopHandler)
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

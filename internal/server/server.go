package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/dagbolade/rasp-agent/internal/agent"
	"github.com/dagbolade/rasp-agent/internal/audit"
	"github.com/dagbolade/rasp-agent/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	echo    *echo.Echo
	agent   *agent.Agent
	workers sync.Pool
}

// New builds the HTTP surface of the agent. aud may be nil when alarms are
// only logged; a nil authManager leaves the admin API open.
func New(a *agent.Agent, aud audit.Store, authManager *auth.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:  e,
		agent: a,
	}
	s.workers.New = func() any {
		return a.NewWorker()
	}

	if authManager == nil {
		authManager = auth.NewManager(auth.Config{})
	}

	s.setupMiddleware()
	s.setupRoutes(aud, authManager)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	cfg := s.agent.Config()
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Int("port", cfg.Server.Port).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = cfg.ReadTimeout()
	s.echo.Server.WriteTimeout = cfg.WriteTimeout()

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.agent.Config().ShutdownTimeout())
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
}

func (s *Server) setupRoutes(aud audit.Store, authManager *auth.Manager) {
	auditHandler := NewAuditHandler(aud)
	authHandler := auth.NewHandler(authManager)
	demo := NewDemoHandler(s.agent.Fs())

	// Public endpoints
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.agent.Metrics().Handler()))
	s.echo.POST("/login", authHandler.Login)

	// Admin endpoints
	requireToken := authManager.Middleware()
	s.echo.GET("/me", authHandler.Me, requireToken)
	s.echo.GET("/audit", auditHandler.GetAuditLog, requireToken, authManager.RequireRole(auth.RoleAuditor))

	// Application routes run under the agent.
	app := s.echo.Group("/demo")
	app.Use(s.protect)
	app.GET("/file", demo.ReadFile)
	app.GET("/echo", demo.Echo)
	app.GET("/fetch", demo.Fetch)
	app.GET("/sql", demo.Query)
	app.POST("/sql", demo.Query)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"hooks":  len(s.agent.Hooks().Names()),
	})
}

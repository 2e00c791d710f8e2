package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/runbroker/sandboxd/internal/executor"
	"github.com/runbroker/sandboxd/internal/rawserver"
	"github.com/runbroker/sandboxd/internal/toolserver"
)

// Server hosts both HTTP surfaces described in spec §2 on one echo
// instance and listener: the buffered MCP tool-call endpoint at POST
// /mcp, and the uncapped raw streaming endpoint at POST /raw.
type Server struct {
	echo   *echo.Echo
	config Config
}

// New wires the shared Executor into both surfaces and mounts them behind
// the teacher's middleware stack (request logging through zerolog, panic
// recovery, permissive CORS for the network-isolated sandbox scenario).
func New(cfg Config, exec *executor.Executor) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, config: cfg}

	s.setupMiddleware()
	s.setupRoutes(exec)

	return s
}

// Handler exposes the underlying http.Handler so integration tests can
// drive the full route tree with httptest.NewServer instead of binding a
// real listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.config.BindAddr).Msg("starting broker HTTP server")

	if err := s.echo.Start(s.config.BindAddr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down broker HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
}

func (s *Server) setupRoutes(exec *executor.Executor) {
	tools := toolserver.New(exec)
	raw := rawserver.New(exec)

	s.echo.GET("/health", s.handleHealth)
	s.echo.Any("/mcp", echo.WrapHandler(tools.Handler()))
	s.echo.POST("/raw", raw.Handle)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

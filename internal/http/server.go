// Package http provides the read-only status API for wavekeeper.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
	"github.com/fyrsmithlabs/wavekeeper/internal/services"
)

var (
	// ErrNilRegistry is returned by NewServer without a service registry.
	ErrNilRegistry = errors.New("service registry cannot be nil")
	// ErrNilLogger is returned by NewServer without a logger.
	ErrNilLogger = errors.New("logger is required")
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
	// AuthToken enables bearer authentication on /api when set.
	AuthToken config.Secret
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	// Instrumentation traces and counts every request when set.
	Instrumentation *Instrumentation
}

// DefaultConfig listens on loopback without auth or limits.
func DefaultConfig() *Config {
	return &Config{Host: "127.0.0.1", Port: 9191}
}

// ConfigFromSettings maps the server section of the configuration file.
func ConfigFromSettings(s config.ServerConfig) *Config {
	return &Config{
		Host:      s.Host,
		Port:      s.Port,
		RateLimit: s.RateLimit,
		RateBurst: s.RateBurst,
		AuthToken: s.AuthToken,
	}
}

// Server serves the state documents over HTTP.
type Server struct {
	echo     *echo.Echo
	services services.Registry
	logger   *zap.Logger
	config   *Config
}

// NewServer wires middleware and routes. A nil cfg means DefaultConfig.
func NewServer(reg services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case reg == nil:
		return nil, ErrNilRegistry
	case logger == nil:
		return nil, ErrNilLogger
	case cfg == nil:
		cfg = DefaultConfig()
	}

	s := &Server{echo: echo.New(), services: reg, logger: logger, config: cfg}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover(), middleware.RequestID(), requestLogger(logger))
	if cfg.Instrumentation != nil {
		s.echo.Use(cfg.Instrumentation.Middleware())
	}
	if cfg.RateLimit > 0 {
		s.echo.Use(rateLimiter(cfg.RateLimit, cfg.RateBurst))
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api/v1")
	if s.config.AuthToken.IsSet() {
		api.Use(bearerAuth(s.config.AuthToken))
	}

	wf := api.Group("/workflow")
	wf.GET("", s.handleWorkflow)
	wf.GET("/status", s.handleWorkflowStatus)
	wf.GET("/handoff/:phase", s.handleHandoff)

	api.GET("/retries", s.handleRetries)
	api.GET("/retries/:phase", s.handleRetry)

	api.GET("/logs/:workflow", s.handleLogEvents)
	api.GET("/logs/:workflow/stats", s.handleLogStats)

	tg := api.Group("/taskgraph")
	tg.POST("/validate", s.handleValidate)
	tg.GET("/depth", s.handleDepth)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start blocks serving until Shutdown. It returns http.ErrServerClosed after
// a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server",
		zap.String("addr", s.Addr()),
		logging.Secret("auth_token", s.config.AuthToken),
		zap.Bool("metrics", s.config.Gatherer != nil),
	)
	if err := s.echo.Start(s.Addr()); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

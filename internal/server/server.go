// Package server exposes the open indexes of a Registry over HTTP.
//
// Routes live under /api/v1:
//
//	GET    /indexes                          list indexes
//	GET    /indexes/:name                    index status
//	GET    /indexes/:name/search?q=&limit=&min_gen=
//	POST   /indexes/:name/documents          add a document
//	DELETE /indexes/:name/documents/:rid     remove a record
//	POST   /indexes/:name/commit
//	POST   /indexes/:name/refresh
//	POST   /indexes/:name/clear
//	POST   /indexes/:name/rollback
//	GET    /indexes/:name/size
//	GET    /indexes/:name/stats              query statistics
//
// plus GET /health and GET /metrics (Prometheus text format).
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/nrtsearch/internal/index"
)

const (
	// BaseRoute prefixes every index route.
	BaseRoute = "/api/v1"

	defaultShutdownTimeout = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr string

	// DefaultLimit applies to searches without a limit parameter.
	DefaultLimit int

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server serves a Registry over HTTP.
type Server struct {
	registry *index.Registry
	cfg      Config
	logger   *slog.Logger
	echo     *echo.Echo
	http     *http.Server
}

// New builds a server for registry. Nothing listens until Start.
func New(registry *index.Registry, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = index.DefaultSearchLimit
	}

	s := &Server{registry: registry, cfg: cfg, logger: cfg.Logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("http_request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	api := e.Group(BaseRoute)
	newIndexGroup(api.Group("/indexes"), s)

	s.echo = e
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server_starting", slog.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. A ctx
// without a deadline gets a default timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("server_stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"indexes": len(s.registry.Names()),
	})
}

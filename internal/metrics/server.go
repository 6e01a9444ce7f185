package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc returns a JSON-serializable session status.
type StatusFunc func() any

// FrameFunc returns the path of the frame currently on screen.
type FrameFunc func() (path string, ok bool)

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Addr     string
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Status   StatusFunc
	Frame    FrameFunc
	Logger   *slog.Logger
}

// Server provides HTTP endpoints for metrics, health, session status and
// the current frame image.
type Server struct {
	addr   string
	echo   *echo.Echo
	server *http.Server
	logger *slog.Logger
	ln     net.Listener
}

// NewServer creates a new server. It does not listen until Start.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	// Prometheus metrics endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Health check endpoints
	e.GET("/health", healthHandler)
	e.GET("/healthz", healthHandler)

	e.GET("/status", func(c echo.Context) error {
		if cfg.Status == nil {
			return c.JSON(http.StatusOK, map[string]any{})
		}
		return c.JSON(http.StatusOK, cfg.Status())
	})

	e.GET("/frame", func(c echo.Context) error {
		if cfg.Frame == nil {
			return echo.NewHTTPError(http.StatusNotFound, "no frame")
		}
		path, ok := cfg.Frame()
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "no frame")
		}
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.File(path)
	})

	return &Server{
		addr:   cfg.Addr,
		echo:   e,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      e,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// healthHandler handles health check requests.
func healthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok\n")
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http_request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return err
		}
	}
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the address and serves in a goroutine.
// Returns once the listener is bound. Use Shutdown to stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("metrics_server_starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

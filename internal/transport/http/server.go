package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/middleware"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/websocket"
)

const (
	readHeaderTimeout = 10 * time.Second
	requestTimeout    = 30 * time.Second
)

// Options wires the monitoring server to the running batch. Every field but
// Addr is optional; absent collaborators disable their routes.
type Options struct {
	Addr        string
	Metrics     http.Handler
	Hub         *websocket.Hub
	Jobs        operations.JobStore
	Broadcaster *operations.StatusBroadcaster
	ActiveRuns  func() []string
	RunsRoot    string
	Logger      *slog.Logger
}

// Server is the monitoring HTTP server
type Server struct {
	opts     Options
	router   chi.Router
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer builds the router; call Start to listen
func NewServer(opts Options) *Server {
	logger := infrastructure.WithComponent(opts.Logger, "monitor")
	s := &Server{opts: opts, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))

	health := NewHealthHandler(s.opts.ActiveRuns, s.logger)
	runs := NewRunsHandler(s.opts.Jobs, s.opts.Broadcaster, s.opts.RunsRoot, s.logger)

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(requestTimeout))
		r.Get("/healthz", health.HealthCheck)
		r.Mount("/runs", runs.Routes())
		r.Get("/jobs/{id}", runs.GetJob)
	})

	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}
	if s.opts.Hub != nil {
		r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWS(s.opts.Hub, w, req, s.logger)
		})
	}

	s.router = r
}

// Handler returns the instrumented router
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "rbi.monitor",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Start binds the address and serves in the background. It returns the bound
// address, which differs from Addr when the port is 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Monitoring server stopped", slog.String("error", err.Error()))
		}
	}()

	addr := ln.Addr().String()
	s.logger.Info("Monitoring server listening", slog.String("addr", addr))
	return addr, nil
}

// Shutdown stops accepting connections and waits for handlers up to ctx
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitoring server shutdown: %w", err)
	}
	s.logger.Info("Monitoring server stopped")
	return nil
}

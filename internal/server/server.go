// Package server implements the hpbatch status server: health probes,
// build info, the job summary as JSON, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/hpbatch/internal/errors"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/internal/server/handlers"
	"github.com/3leaps/hpbatch/internal/server/middleware"
)

// Server is the HTTP status server.
type Server struct {
	host string
	port int

	router  chi.Router
	logger  *zap.Logger
	metrics *observability.Metrics
	summary *handlers.SummaryHandler

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithSummary exposes GET /v1/summary backed by s. user and prefix are the
// defaults when the request does not name them.
func WithSummary(s handlers.Summarizer, user, prefix string) Option {
	return func(srv *Server) {
		srv.summary = &handlers.SummaryHandler{Summarizer: s, User: user, Prefix: prefix}
	}
}

// WithMetrics exposes GET /metrics from m's registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// WithTimeouts sets the http.Server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(srv *Server) {
		if read > 0 {
			srv.readTimeout = read
		}
		if write > 0 {
			srv.writeTimeout = write
		}
		if idle > 0 {
			srv.idleTimeout = idle
		}
	}
}

// New builds a Server and its routes. Nothing listens until Run.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       observability.CLILogger,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.summary != nil {
		s.summary.Metrics = s.metrics
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logger(s.logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFound("no route for "+req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowed("method "+req.Method+" not allowed"))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.summary != nil {
		r.Method(http.MethodGet, "/v1/summary", s.summary)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is done, then shuts down within shutdownTimeout.
// ready, if non-nil, receives the bound address once the listener is up.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration, ready chan<- string) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down status server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

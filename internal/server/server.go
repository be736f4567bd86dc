package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/cyclops-relay/cyclops/internal/errors"
	"github.com/cyclops-relay/cyclops/internal/observability"
	"github.com/cyclops-relay/cyclops/internal/server/handlers"
	servermw "github.com/cyclops-relay/cyclops/internal/server/middleware"
)

// Timeouts configures the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts are used for any zero field.
var DefaultTimeouts = Timeouts{
	Read:     30 * time.Second,
	Write:    30 * time.Second,
	Idle:     120 * time.Second,
	Shutdown: 10 * time.Second,
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	timeouts     Timeouts
	health       *handlers.HealthManager
	ingest       http.Handler
	ingestRPS    float64
	ingestBurst  int
	status       http.Handler
	adminToken   string
	adminFromEnv bool
	profiler     bool
}

// Option customizes a Server.
type Option func(*Server)

// WithHealthManager serves the health probes from hm.
func WithHealthManager(hm *handlers.HealthManager) Option {
	return func(s *Server) { s.health = hm }
}

// WithIngest mounts the report ingest handler.
func WithIngest(h http.Handler) Option {
	return func(s *Server) { s.ingest = h }
}

// WithIngestThrottle puts a shared token bucket in front of ingest. rps <= 0 disables it.
func WithIngestThrottle(rps float64, burst int) Option {
	return func(s *Server) {
		s.ingestRPS = rps
		s.ingestBurst = burst
	}
}

// WithForwarderStatus mounts the status handler at /forwarder/status.
func WithForwarderStatus(h http.Handler) Option {
	return func(s *Server) { s.status = h }
}

func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// WithProfiler mounts the pprof handlers under /debug.
func WithProfiler(enabled bool) Option {
	return func(s *Server) { s.profiler = enabled }
}

// WithAdminToken enables /admin/signal with the given bearer token. Without
// this option the token is read from CYCLOPS_ADMIN_TOKEN.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
		s.adminFromEnv = false
	}
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:       r,
		host:         host,
		port:         port,
		timeouts:     DefaultTimeouts,
		adminFromEnv: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timeouts = s.timeouts.withDefaults()
	if s.health == nil {
		s.health = handlers.NewHealthManager(handlers.CurrentVersion())
	}

	s.registerRoutes()

	return s
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Read <= 0 {
		t.Read = DefaultTimeouts.Read
	}
	if t.Write <= 0 {
		t.Write = DefaultTimeouts.Write
	}
	if t.Idle <= 0 {
		t.Idle = DefaultTimeouts.Idle
	}
	if t.Shutdown <= 0 {
		t.Shutdown = DefaultTimeouts.Shutdown
	}
	return t
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// Start blocks serving HTTP until Shutdown. It returns http.ErrServerClosed
// after a graceful shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", s.Addr()))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server. The configured shutdown
// timeout applies when ctx has no earlier deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Shutdown)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}

// Health returns the manager serving the health probes.
func (s *Server) Health() *handlers.HealthManager {
	return s.health
}

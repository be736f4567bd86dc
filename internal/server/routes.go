package server

import (
	"net/http"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/appid"
	"github.com/cyclops-relay/cyclops/internal/observability"
	"github.com/cyclops-relay/cyclops/internal/server/handlers"
	servermw "github.com/cyclops-relay/cyclops/internal/server/middleware"
)

// IngestRoutes are the report endpoints accepted from clients.
var IngestRoutes = []string{
	"/api/{project_id}/store/",
	"/api/{project_id}/envelope/",
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	if s.status != nil {
		s.router.Method(http.MethodGet, "/forwarder/status", s.status)
	}

	if s.ingest != nil {
		s.router.Group(func(r chi.Router) {
			r.Use(servermw.Throttle(s.ingestRPS, s.ingestBurst))
			for _, pattern := range IngestRoutes {
				r.Method(http.MethodPost, pattern, s.ingest)
			}
		})
	}

	if s.profiler {
		s.router.Mount("/debug", middleware.Profiler())
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Profiling endpoints enabled", zap.String("path", "/debug/pprof/"))
		}
	}

	s.registerAdminEndpoint()
}

// registerAdminEndpoint mounts /admin/signal when an admin token is configured.
func (s *Server) registerAdminEndpoint() {
	token := s.adminToken
	tokenVar := appid.EnvPrefix + "ADMIN_TOKEN"
	if s.adminFromEnv {
		token = os.Getenv(tokenVar)
	}
	logger := observability.ServerLogger

	if token == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + tokenVar + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}

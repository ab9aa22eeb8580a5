package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/handlers"
	"github.com/n3tuk/document-node-lock/internal/health"
	"github.com/n3tuk/document-node-lock/internal/metrics"
	"github.com/n3tuk/document-node-lock/internal/middleware"
)

// setupAPIRoutes configures the API server routes. auth resolves the caller
// for the lock routes only.
func setupAPIRoutes(r chi.Router, h *handlers.LockHandlers, auth func(http.Handler) http.Handler, logger *zap.Logger) {
	r.Get("/ping", handlePing(logger))

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Post("/locks", h.HandleAcquire)
		r.Delete("/locks/{lockID}", h.HandleRelease)
		r.Post("/locks/{lockID}/refresh", h.HandleRefresh)

		r.Get("/resources/{resourceType}/{resourceID}/lock", h.HandleGetLock)
		r.Get("/resources/{resourceType}/{resourceID}/conflict", h.HandleGetConflict)
	})
}

// setupProbeRoutes configures the probe server routes.
func setupProbeRoutes(r chi.Router, manager *health.Manager, m *metrics.Metrics, logger *zap.Logger) {
	r.With(middleware.HealthCheckMetricsMiddleware(m, "startup")).
		Get("/healthz/startup", handleStartup(manager, logger))
	r.With(middleware.HealthCheckMetricsMiddleware(m, "live")).
		Get("/healthz/live", handleLive(manager, logger))
	r.With(middleware.HealthCheckMetricsMiddleware(m, "ready")).
		Get("/healthz/ready", handleReady(manager, logger))
}

// handlePing handles the /ping endpoint.
func handlePing(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "pong"})
	}
}

// handleStartup reports 200 once every registered check passes.
func handleStartup(manager *health.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetStartupStatus(r.Context())
		status := http.StatusOK
		if response.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, logger, status, response)
	}
}

func handleLive(manager *health.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, manager.GetLivenessStatus())
	}
}

// handleReady reports 503 while starting, shutting down, or when a
// dependency such as the lock store is unreachable.
func handleReady(manager *health.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetReadinessStatus(r.Context())
		status := http.StatusOK
		if !response.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, logger, status, response)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

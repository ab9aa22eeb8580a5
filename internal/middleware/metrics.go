package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/metrics"
	"github.com/n3tuk/document-node-lock/internal/model"
)

// unmatchedRoute labels requests no route matched, so raw paths never
// become label values.
const unmatchedRoute = "unmatched"

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// MetricsMiddleware records request counts, latency and sizes per chi route
// pattern. The pattern is only known once routing has run, so everything
// except the in-flight gauge is recorded after the handler returns.
func MetricsMiddleware(m *metrics.Metrics, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			inFlight := m.HTTPRequestsInFlight.WithLabelValues(r.Method)
			inFlight.Inc()
			defer inFlight.Dec()

			rw := newResponseWriter(w)

			record := func() {
				route := getRoutePattern(r)
				status := strconv.Itoa(rw.statusCode)

				m.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
				m.HTTPRequestDurationSeconds.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
				if r.ContentLength > 0 {
					m.HTTPRequestSizeBytes.WithLabelValues(r.Method, route).Observe(float64(r.ContentLength))
				}
				if rw.bytesWritten > 0 {
					m.HTTPResponseSizeBytes.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
				}
			}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic in HTTP handler",
						zap.String("method", r.Method),
						zap.String("route", getRoutePattern(r)),
						zap.Any("error", err),
					)
					rw.statusCode = http.StatusInternalServerError
					record()
					// Re-panic to let the recovery middleware respond
					panic(err)
				}
			}()

			next.ServeHTTP(rw, r)
			record()
		})
	}
}

// getRoutePattern returns the chi route pattern of the request, or
// unmatchedRoute when routing found nothing.
func getRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// LoggingMiddleware creates a middleware that logs HTTP requests.
func LoggingMiddleware(logger *zap.Logger, serverName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("server", serverName),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", getRoutePattern(r)),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("HTTP request", fields...)
				return
			}
			logger.Info("HTTP request", fields...)
		})
	}
}

// HealthCheckMetricsMiddleware creates a middleware that records health check metrics.
func HealthCheckMetricsMiddleware(m *metrics.Metrics, checkName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			m.HealthCheckDurationSeconds.WithLabelValues(checkName).Observe(time.Since(start).Seconds())

			if rw.statusCode == http.StatusOK {
				m.HealthCheckStatus.WithLabelValues(checkName, "ok").Set(1)
				m.HealthCheckStatus.WithLabelValues(checkName, "error").Set(0)
				m.HealthCheckLastSuccessTimestamp.WithLabelValues(checkName).Set(float64(time.Now().Unix()))
				return
			}
			m.HealthCheckStatus.WithLabelValues(checkName, "ok").Set(0)
			m.HealthCheckStatus.WithLabelValues(checkName, "error").Set(1)
			m.HealthCheckFailuresTotal.WithLabelValues(checkName).Inc()
		})
	}
}

// RecovererMiddleware recovers from panics and answers with the JSON error
// envelope. Panic values are logged, never sent to the client.
func RecovererMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("Panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("error", err),
						zap.Stack("stack"),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(model.LockResponse{
						Status:  "error",
						Code:    model.CodeInternal,
						Message: "Internal error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

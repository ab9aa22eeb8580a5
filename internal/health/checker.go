package health

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

// DependencyChecker checks an external dependency, such as the lock store or
// the catalog database, with a single ping.
type DependencyChecker struct {
	name   string
	ping   PingFunc
	logger *zap.Logger
}

// NewDependencyChecker creates a checker named name that calls ping.
func NewDependencyChecker(name string, ping PingFunc, logger *zap.Logger) *DependencyChecker {
	return &DependencyChecker{
		name:   name,
		ping:   ping,
		logger: logger,
	}
}

// Name returns the name of the health check.
func (d *DependencyChecker) Name() string {
	return d.name
}

// Check performs the health check.
func (d *DependencyChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := d.ping(ctx)

	result := CheckResult{
		Name:      d.name,
		Status:    StatusOK,
		Message:   "Reachable",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		d.logger.Warn("Dependency check failed",
			zap.String("check", d.name),
			zap.Error(err),
		)
		result.Status = StatusError
		result.Message = err.Error()
	}
	return result
}

// ServerChecker checks if the servers are running.
type ServerChecker struct {
	logger         *zap.Logger
	serversRunning atomic.Bool
}

// NewServerChecker creates a new server health checker.
func NewServerChecker(logger *zap.Logger) *ServerChecker {
	return &ServerChecker{logger: logger}
}

// Name returns the name of the health check.
func (s *ServerChecker) Name() string {
	return "servers"
}

// SetRunning marks the servers as running.
func (s *ServerChecker) SetRunning(running bool) {
	s.serversRunning.Store(running)
}

// Check performs the health check.
func (s *ServerChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:      s.Name(),
		Status:    StatusOK,
		Message:   "All servers running",
		Timestamp: time.Now(),
	}
	if !s.serversRunning.Load() {
		result.Status = StatusStarting
		result.Message = "Servers starting"
	}
	return result
}

// ReadinessChecker checks if the service is ready to handle requests.
type ReadinessChecker struct {
	logger         *zap.Logger
	shuttingDown   atomic.Bool
	serversRunning atomic.Bool
}

// NewReadinessChecker creates a new readiness health checker.
func NewReadinessChecker(logger *zap.Logger) *ReadinessChecker {
	return &ReadinessChecker{logger: logger}
}

// Name returns the name of the health check.
func (r *ReadinessChecker) Name() string {
	return "readiness"
}

// SetRunning marks the servers as running.
func (r *ReadinessChecker) SetRunning(running bool) {
	r.serversRunning.Store(running)
}

// SetShuttingDown marks the service as shutting down.
func (r *ReadinessChecker) SetShuttingDown(shutDown bool) {
	r.shuttingDown.Store(shutDown)
}

// Check performs the health check.
func (r *ReadinessChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:      r.Name(),
		Status:    StatusOK,
		Message:   "Service ready",
		Timestamp: time.Now(),
	}

	switch {
	case r.shuttingDown.Load():
		result.Status = StatusNotReady
		result.Message = "Service shutting down"
	case !r.serversRunning.Load():
		result.Status = StatusNotReady
		result.Message = "Service not ready"
	}
	return result
}

package health

import (
	"context"
	"time"
)

// Status represents the health status of a check.
type Status string

const (
	// StatusOK indicates the check passed.
	StatusOK Status = "ok"
	// StatusStarting indicates the service is still starting.
	StatusStarting Status = "starting"
	// StatusNotReady indicates the service is not ready to handle requests.
	StatusNotReady Status = "not-ready"
	// StatusError indicates the check failed.
	StatusError Status = "error"
)

// CheckResult is the outcome of one check. Message explains a failure,
// e.g. the error returned when pinging the lock store.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Checker is the interface that health checks must implement.
type Checker interface {
	// Name returns the name of the health check.
	Name() string
	// Check performs the health check and returns the result.
	Check(ctx context.Context) CheckResult
}

// StartupResponse represents the response from the startup probe endpoint.
type StartupResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Status `json:"checks"`
}

// LivenessResponse represents the response from the liveness probe endpoint.
type LivenessResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is served by the readiness probe. Checks lists the
// dependencies that gate readiness; Failures carries the message of each one
// that did not pass.
type ReadinessResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Ready     bool              `json:"ready"`
	Checks    map[string]Status `json:"checks,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(namespace string) *Metrics {
	return NewMetrics(namespace, map[string]string{
		"version": "1.0.0",
		"commit":  "abc123",
		"date":    "2026-01-08",
	})
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics("test")

	if m.namespace != "test" {
		t.Errorf("namespace = %s, want test", m.namespace)
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
	if testutil.ToFloat64(m.AppStartTimeSeconds) == 0 {
		t.Error("app_start_time_seconds is 0")
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := newTestMetrics("test")
	m.RecordLockOperation("acquire", "success", time.Millisecond)
	m.RecordLockConflict("ancestor")
	m.RecordLocksExpired("tree", 1)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := make(map[string]string)
	for _, mf := range families {
		found[mf.GetName()] = mf.GetType().String()
	}

	want := map[string]string{
		"test_app_info":                        "GAUGE",
		"test_app_start_time_seconds":          "GAUGE",
		"test_lock_operations_total":           "COUNTER",
		"test_lock_operation_duration_seconds": "HISTOGRAM",
		"test_lock_conflicts_total":            "COUNTER",
		"test_lock_expired_total":              "COUNTER",
		"test_locks_held":                      "GAUGE",
	}
	for name, typ := range want {
		got, ok := found[name]
		if !ok {
			t.Errorf("metric %s not registered", name)
			continue
		}
		if got != typ {
			t.Errorf("metric %s type = %s, want %s", name, got, typ)
		}
	}
}

func TestLockMetrics(t *testing.T) {
	m := newTestMetrics("test")

	m.RecordLockOperation("acquire", "success", 2*time.Millisecond)
	m.RecordLockOperation("acquire", "conflict", time.Millisecond)
	m.RecordLockOperation("acquire", "conflict", time.Millisecond)
	m.RecordLockConflict("descendant")
	m.RecordLocksExpired("flat", 3)
	m.SetLocksHeld(7)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"acquire success", testutil.ToFloat64(m.LockOperationsTotal.WithLabelValues("acquire", "success")), 1},
		{"acquire conflict", testutil.ToFloat64(m.LockOperationsTotal.WithLabelValues("acquire", "conflict")), 2},
		{"descendant conflicts", testutil.ToFloat64(m.LockConflictsTotal.WithLabelValues("descendant")), 1},
		{"flat expired", testutil.ToFloat64(m.LockExpiredTotal.WithLabelValues("flat")), 3},
		{"locks held", testutil.ToFloat64(m.LocksHeld), 7},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHTTPAndHealthMetrics(t *testing.T) {
	m := newTestMetrics("test")

	m.HTTPRequestsTotal.WithLabelValues("POST", "/locks", "200").Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/locks", "409").Inc()
	m.HTTPRequestsInFlight.WithLabelValues("POST").Inc()
	m.HealthCheckStatus.WithLabelValues("lock-store", "ok").Set(1)
	m.HealthCheckFailuresTotal.WithLabelValues("lock-store").Inc()

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/locks", "409")); got != 1 {
		t.Errorf("http_requests_total{409} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsInFlight.WithLabelValues("POST")); got != 1 {
		t.Errorf("http_requests_in_flight = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HealthCheckFailuresTotal.WithLabelValues("lock-store")); got != 1 {
		t.Errorf("health_check_failures_total = %v, want 1", got)
	}
}

func TestUpdateRuntimeMetrics(t *testing.T) {
	m := newTestMetrics("test")
	m.UpdateRuntimeMetrics()

	if testutil.ToFloat64(m.AppGoGoroutines) == 0 {
		t.Error("app_go_goroutines is 0")
	}
	if testutil.ToFloat64(m.AppGoThreads) < 1 {
		t.Error("app_go_threads is below 1")
	}
}

func TestMetricsSeparateRegistries(t *testing.T) {
	m1 := newTestMetrics("test1")
	m2 := newTestMetrics("test2")

	if m1.Registry() == m2.Registry() {
		t.Error("Metrics instances share the same registry")
	}
}

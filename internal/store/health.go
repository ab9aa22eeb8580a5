package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/health"
)

// HealthKeyPrefix prefixes the scratch keys written by the storage check so
// they never collide with lock documents.
const HealthKeyPrefix = "health|"

func result(name string, start time.Time, status health.Status, msg string) health.CheckResult {
	return health.CheckResult{
		Name:      name,
		Status:    status,
		Message:   msg,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// ConnectionHealthChecker checks the store answers a ping.
type ConnectionHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewConnectionHealthChecker creates a new connection health checker.
func NewConnectionHealthChecker(logger *zap.Logger, store Store) *ConnectionHealthChecker {
	return &ConnectionHealthChecker{logger: logger, store: store}
}

// Name returns the name of the health check.
func (c *ConnectionHealthChecker) Name() string {
	return "olric-connection"
}

// Check performs the health check.
func (c *ConnectionHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.store.Ping(checkCtx); err != nil {
		c.logger.Warn("Olric connection check failed", zap.Error(err))
		return result(c.Name(), start, health.StatusError, fmt.Sprintf("Olric connection failed: %v", err))
	}
	return result(c.Name(), start, health.StatusOK, "Olric connection healthy")
}

// ClusterHealthChecker checks the cluster has enough members for safe reads
// and writes.
type ClusterHealthChecker struct {
	logger     *zap.Logger
	store      Store
	quorum     int
	singleNode bool
}

// NewClusterHealthChecker creates a new cluster health checker. In single
// node mode the check always passes.
func NewClusterHealthChecker(logger *zap.Logger, store Store, quorum int, singleNode bool) *ClusterHealthChecker {
	return &ClusterHealthChecker{
		logger:     logger,
		store:      store,
		quorum:     quorum,
		singleNode: singleNode,
	}
}

// Name returns the name of the health check.
func (c *ClusterHealthChecker) Name() string {
	return "olric-cluster"
}

// Check performs the health check.
func (c *ClusterHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	if c.singleNode {
		return result(c.Name(), start, health.StatusOK, "Running in single-node mode")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := c.store.Stats(checkCtx)
	if err != nil {
		c.logger.Warn("Cluster health check failed", zap.Error(err))
		return result(c.Name(), start, health.StatusError, fmt.Sprintf("Failed to get cluster stats: %v", err))
	}

	if stats.ClusterMembers < c.quorum {
		c.logger.Warn("Cluster member count below quorum",
			zap.Int("current", stats.ClusterMembers),
			zap.Int("quorum", c.quorum),
		)
		return result(c.Name(), start, health.StatusNotReady,
			fmt.Sprintf("Cluster has %d members, quorum requires %d", stats.ClusterMembers, c.quorum))
	}

	return result(c.Name(), start, health.StatusOK,
		fmt.Sprintf("Cluster healthy with %d members (quorum: %d)", stats.ClusterMembers, c.quorum))
}

// StorageHealthChecker round-trips a scratch key through the store.
type StorageHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewStorageHealthChecker creates a new storage health checker.
func NewStorageHealthChecker(logger *zap.Logger, store Store) *StorageHealthChecker {
	return &StorageHealthChecker{logger: logger, store: store}
}

// Name returns the name of the health check.
func (s *StorageHealthChecker) Name() string {
	return "olric-storage"
}

// Check performs the health check.
func (s *StorageHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s%d", HealthKeyPrefix, time.Now().UnixNano())
	want := "healthy"

	if err := s.store.Put(checkCtx, key, want, 5*time.Second); err != nil {
		s.logger.Warn("Storage write health check failed", zap.Error(err))
		return result(s.Name(), start, health.StatusError, fmt.Sprintf("Failed to write test key: %v", err))
	}
	defer func() {
		if err := s.store.Delete(context.Background(), key); err != nil {
			s.logger.Warn("Failed to clean up test key", zap.Error(err))
		}
	}()

	got, err := s.store.Get(checkCtx, key)
	if err != nil {
		s.logger.Warn("Storage read health check failed", zap.Error(err))
		return result(s.Name(), start, health.StatusError, fmt.Sprintf("Failed to read test key: %v", err))
	}
	if got != want {
		s.logger.Warn("Storage value health check failed",
			zap.String("got", got),
			zap.String("want", want),
		)
		return result(s.Name(), start, health.StatusError, fmt.Sprintf("Test key value mismatch: got %q, want %q", got, want))
	}

	return result(s.Name(), start, health.StatusOK, "Storage read/write operations working")
}

package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/health"
	"github.com/n3tuk/document-node-lock/internal/lockstore"
	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/store"
)

// olricStatsInterval is how often the Olric gauges are refreshed.
const olricStatsInterval = 15 * time.Second

// backend is the selected lock store plus anything it needs to be stopped
// and checked.
type backend struct {
	locks     lockstore.Store
	kv        *store.OlricStore
	collector *store.OlricMetricsCollector
	checkers  []health.Checker
	started   bool
}

// openBackend builds the lock store named by cfg.LockBackend. The sql
// backend shares db with the tree store and user directory.
func (s *Server) openBackend(ctx context.Context, db *database.DB) (*backend, error) {
	retention := lockstore.NewRetention(map[model.ResourceClass]time.Duration{
		model.ClassTree: s.cfg.TreeLockExpiry,
		model.ClassFlat: s.cfg.FlatLockExpiry,
	}, s.cfg.LockRetentionGrace)

	logger := s.logger.With(zap.String("backend", s.cfg.LockBackend))

	switch s.cfg.LockBackend {
	case lockstore.BackendMemory:
		logger.Warn("Using in-memory lock store, locks are lost on restart")
		return &backend{locks: lockstore.NewMemoryStore()}, nil

	case lockstore.BackendSQL:
		return &backend{locks: lockstore.NewSQLStore(db)}, nil

	case lockstore.BackendRedis:
		locks, err := lockstore.OpenRedisStore(ctx, s.cfg.RedisURL, lockstore.RedisOptions{
			Retention: retention,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &backend{locks: locks}, nil

	case lockstore.BackendOlric:
		kv, err := store.NewOlricStore(ctx, s.cfg.Olric, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start olric: %w", err)
		}
		olricMetrics := store.NewOlricMetrics(s.cfg.MetricsNamespace, s.metrics.Registry())
		kv.SetMetrics(olricMetrics)

		b := &backend{
			locks: lockstore.NewKVStore(kv, lockstore.KVOptions{
				Retention: retention,
				Wait:      s.cfg.Olric.RequestTimeout,
			}, logger),
			kv:        kv,
			collector: store.NewOlricMetricsCollector(logger, kv, olricMetrics, olricStatsInterval),
			checkers: []health.Checker{
				store.NewConnectionHealthChecker(logger, kv),
				store.NewClusterHealthChecker(logger, kv, s.cfg.Olric.MemberCountQuorum, s.cfg.Olric.IsSingleNode()),
				store.NewStorageHealthChecker(logger, kv),
			},
		}
		return b, nil
	}

	return nil, fmt.Errorf("unknown lock backend %q", s.cfg.LockBackend)
}

// start launches background work owned by the backend.
func (b *backend) start() {
	if b.collector != nil {
		b.collector.Start()
	}
	b.started = true
}

// close stops background work and releases the store. The KVStore does not
// own the Olric node, so it is closed separately.
func (b *backend) close(ctx context.Context) error {
	if b.collector != nil && b.started {
		b.collector.Stop()
	}
	err := b.locks.Close(ctx)
	if b.kv != nil {
		if kerr := b.kv.Close(ctx); kerr != nil && err == nil {
			err = kerr
		}
	}
	return err
}

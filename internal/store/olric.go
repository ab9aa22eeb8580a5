package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/olric-data/olric"
	"github.com/olric-data/olric/config"
	"go.uber.org/zap"
)

// OlricStore implements Store on an embedded Olric node.
type OlricStore struct {
	config  *OlricConfig
	logger  *zap.Logger
	db      *olric.Olric
	client  *olric.EmbeddedClient
	dmap    olric.DMap
	metrics *OlricMetrics
}

// NewOlricStore starts an embedded Olric node, joins the configured peers
// and opens the lock DMap.
func NewOlricStore(ctx context.Context, cfg *OlricConfig, logger *zap.Logger) (*OlricStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid olric configuration: %w", err)
	}

	s := &OlricStore{
		config: cfg,
		logger: logger,
	}

	logger.Info("Starting Olric embedded server",
		zap.String("bind_addr", net.JoinHostPort(cfg.BindAddr, strconv.Itoa(cfg.BindPort))),
		zap.Bool("single_node", cfg.IsSingleNode()),
		zap.Strings("join_addrs", cfg.JoinAddrs),
		zap.Int("replication_factor", cfg.ReplicationFactor),
		zap.Uint64("partition_count", cfg.PartitionCount),
	)

	started := make(chan struct{})
	olricCfg := s.olricConfig()
	olricCfg.Started = func() { close(started) }

	db, err := olric.New(olricCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create olric instance: %w", err)
	}
	s.db = db

	// Start blocks until the node shuts down.
	errCh := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-started:
	case err := <-errCh:
		return nil, fmt.Errorf("failed to start olric: %w", err)
	case <-ctx.Done():
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("olric did not start: %w", ctx.Err())
	}

	s.client = db.NewEmbeddedClient()

	if err := s.waitForCluster(ctx); err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("cluster not ready: %w", err)
	}

	dmap, err := s.client.NewDMap(cfg.DMapName)
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create dmap: %w", err)
	}
	s.dmap = dmap

	members, err := s.client.Members(ctx)
	if err != nil {
		logger.Warn("Failed to get members", zap.Error(err))
	}
	logger.Info("Olric store initialized",
		zap.Int("cluster_members", len(members)),
		zap.String("dmap", cfg.DMapName),
	)

	return s, nil
}

// SetMetrics enables per-operation metrics.
func (s *OlricStore) SetMetrics(m *OlricMetrics) {
	s.metrics = m
}

// olricConfig maps OlricConfig onto Olric's own configuration.
func (s *OlricStore) olricConfig() *config.Config {
	// Olric logs through the std logger, filtered by level.
	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(s.config.LogLevel),
		Writer:   os.Stderr,
	}
	if s.config.LogLevel == "DEBUG" || s.config.LogLevel == "INFO" {
		filter.Writer = os.Stdout
	}

	c := config.New("lan")
	c.BindAddr = s.config.BindAddr
	c.BindPort = s.config.BindPort
	c.KeepAlivePeriod = s.config.KeepAlivePeriod
	c.PartitionCount = s.config.PartitionCount
	c.ReplicaCount = s.config.ReplicationFactor
	c.ReadQuorum = 1
	c.WriteQuorum = 1
	c.MemberCountQuorum = int32(s.config.MemberCountQuorum)
	c.LogLevel = s.config.LogLevel
	c.LogOutput = filter
	c.Logger = log.New(filter, "", log.LstdFlags)
	c.JoinRetryInterval = s.config.JoinRetryInterval
	c.MaxJoinAttempts = s.config.MaxJoinAttempts

	if s.config.ReplicationMode == "sync" {
		c.ReplicationMode = config.SyncReplicationMode
	} else {
		c.ReplicationMode = config.AsyncReplicationMode
	}

	if c.MemberlistConfig != nil {
		c.MemberlistConfig.BindAddr = s.config.BindAddr
		if s.config.MemberlistBindPort != 0 {
			c.MemberlistConfig.BindPort = s.config.MemberlistBindPort
			c.MemberlistConfig.AdvertisePort = s.config.MemberlistBindPort
		}
		if s.config.AdvertiseAddr != "" {
			c.MemberlistConfig.AdvertiseAddr = s.config.AdvertiseAddr
		}
	}

	if len(s.config.JoinAddrs) > 0 {
		c.Peers = s.config.JoinAddrs
	}

	return c
}

// waitForCluster blocks until MemberCountQuorum members are present.
func (s *OlricStore) waitForCluster(ctx context.Context) error {
	if s.config.IsSingleNode() {
		s.logger.Info("Running in single-node mode, cluster ready")
		return nil
	}

	ticker := time.NewTicker(s.config.JoinRetryInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempts++

			members, err := s.client.Members(ctx)
			if err != nil {
				s.logger.Warn("Failed to get members", zap.Error(err))
			}

			s.logger.Debug("Waiting for cluster members",
				zap.Int("current_members", len(members)),
				zap.Int("required_members", s.config.MemberCountQuorum),
				zap.Int("attempt", attempts),
			)

			if len(members) >= s.config.MemberCountQuorum {
				s.logger.Info("Cluster member quorum reached",
					zap.Int("member_count", len(members)),
					zap.Int("quorum", s.config.MemberCountQuorum),
				)
				return nil
			}

			if attempts >= s.config.MaxJoinAttempts {
				return fmt.Errorf("max join attempts (%d) reached, only %d/%d members present",
					s.config.MaxJoinAttempts, len(members), s.config.MemberCountQuorum)
			}
		}
	}
}

// observe records an operation outcome when metrics are enabled.
func (s *OlricStore) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.RecordError(op, errorType(err))
	}
	s.metrics.RecordOperation(op, status, time.Since(start))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, olric.ErrKeyNotFound), errors.Is(err, ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, olric.ErrLockNotAcquired), errors.Is(err, ErrLockNotAcquired):
		return "lock_not_acquired"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

// Put implements Store.
func (s *OlricStore) Put(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())

	if ttl > 0 {
		return s.dmap.Put(ctx, key, value, olric.EX(ttl))
	}
	return s.dmap.Put(ctx, key, value)
}

// Get implements Store.
func (s *OlricStore) Get(ctx context.Context, key string) (value string, err error) {
	defer func(start time.Time) {
		if errors.Is(err, ErrKeyNotFound) {
			s.observe("get", start, nil)
			return
		}
		s.observe("get", start, err)
	}(time.Now())

	resp, err := s.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return resp.String()
}

// Delete implements Store.
func (s *OlricStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	_, err = s.dmap.Delete(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Exists implements Store.
func (s *OlricStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Lock implements Store with Olric's distributed key lock.
func (s *OlricStore) Lock(ctx context.Context, key string, ttl, wait time.Duration) (u Unlocker, err error) {
	defer func(start time.Time) { s.observe("lock", start, err) }(time.Now())

	if wait <= 0 {
		wait = s.config.RequestTimeout
	}
	lc, err := s.dmap.LockWithTimeout(ctx, key, ttl, wait)
	if errors.Is(err, olric.ErrLockNotAcquired) {
		return nil, ErrLockNotAcquired
	}
	if err != nil {
		return nil, err
	}
	return olricUnlocker{lc}, nil
}

type olricUnlocker struct {
	lc olric.LockContext
}

func (u olricUnlocker) Unlock(ctx context.Context) error {
	err := u.lc.Unlock(ctx)
	if errors.Is(err, olric.ErrNoSuchLock) {
		return ErrNoSuchLock
	}
	return err
}

// Keys implements Store by scanning the DMap.
func (s *OlricStore) Keys(ctx context.Context, prefix string) (keys []string, err error) {
	defer func(start time.Time) { s.observe("scan", start, err) }(time.Now())

	var opts []olric.ScanOption
	if prefix != "" {
		opts = append(opts, olric.Match("^"+regexp.QuoteMeta(prefix)))
	}

	it, err := s.dmap.Scan(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, nil
}

// Ping implements Store.
func (s *OlricStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("olric db is nil")
	}

	addr := net.JoinHostPort(s.config.BindAddr, strconv.Itoa(s.config.BindPort))
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to olric: %w", err)
	}
	return conn.Close()
}

// Stats implements Store.
func (s *OlricStore) Stats(ctx context.Context) (*StoreStats, error) {
	members, err := s.client.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	keys, err := s.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to count keys: %w", err)
	}

	return &StoreStats{
		ClusterMembers:    len(members),
		PartitionCount:    int(s.config.PartitionCount),
		ReplicationFactor: s.config.ReplicationFactor,
		TotalKeys:         int64(len(keys)),
	}, nil
}

// IsCoordinator reports whether any member currently acts as coordinator.
func (s *OlricStore) IsCoordinator(ctx context.Context) (bool, error) {
	members, err := s.client.Members(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Coordinator {
			return true, nil
		}
	}
	return false, nil
}

// Close implements Store.
func (s *OlricStore) Close(ctx context.Context) error {
	s.logger.Info("Shutting down Olric store")

	if s.db == nil {
		return nil
	}
	if err := s.db.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down Olric", zap.Error(err))
		return err
	}

	s.logger.Info("Olric store shut down")
	return nil
}

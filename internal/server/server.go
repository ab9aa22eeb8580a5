package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n3tuk/document-node-lock/internal/config"
	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/handlers"
	"github.com/n3tuk/document-node-lock/internal/health"
	"github.com/n3tuk/document-node-lock/internal/identity"
	"github.com/n3tuk/document-node-lock/internal/locking"
	"github.com/n3tuk/document-node-lock/internal/metrics"
	"github.com/n3tuk/document-node-lock/internal/middleware"
	"github.com/n3tuk/document-node-lock/internal/model"
	"github.com/n3tuk/document-node-lock/internal/tree"
)

// runtimeMetricsEvery is how many uptime ticks pass between runtime metric
// refreshes.
const runtimeMetricsEvery = 15

// Server manages the three HTTP servers (API, Probe, Metrics) and the lock
// stack behind them.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	health  *health.Manager

	db      *database.DB
	backend *backend
	manager *locking.Manager
	sweeper *locking.Sweeper

	apiServer     *http.Server
	probeServer   *http.Server
	metricsServer *http.Server
	listeners     []net.Listener

	startTime    time.Time
	shutdownChan chan struct{}
	serveErr     chan error
	shutdownOnce sync.Once
}

// New opens the catalog database and lock store and builds the servers.
// Nothing listens until Start is called.
func New(cfg *config.Config, logger *zap.Logger, buildInfo map[string]string) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics.NewMetrics(cfg.MetricsNamespace, buildInfo),
		health:       health.NewManager(logger, cfg.HealthCheckCacheDuration, cfg.HealthCheckTimeout),
		startTime:    time.Now(),
		shutdownChan: make(chan struct{}),
		serveErr:     make(chan error, 1),
	}

	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Driver: cfg.DatabaseDriver,
		DSN:    cfg.DatabaseDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	b, err := s.openBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open lock store: %w", err)
	}
	s.backend = b

	policy := locking.Policy{Windows: map[model.ResourceClass]time.Duration{
		model.ClassTree: cfg.TreeLockExpiry,
		model.ClassFlat: cfg.FlatLockExpiry,
	}}
	s.manager = locking.NewManager(b.locks, tree.NewSQLStore(db), identity.NewSQLDirectory(db), logger,
		locking.WithPolicy(policy),
		locking.WithMetrics(s.metrics),
	)
	s.sweeper = locking.NewSweeper(b.locks, policy, cfg.LockSweepInterval, logger, s.metrics)

	s.registerHealthChecks()
	s.setupServers()

	logger.Info("Lock service configured",
		zap.String("backend", cfg.LockBackend),
		zap.String("database", cfg.DatabaseDriver),
		zap.String("auth", cfg.AuthMode),
		zap.Duration("tree_expiry", cfg.TreeLockExpiry),
		zap.Duration("flat_expiry", cfg.FlatLockExpiry),
	)

	return s, nil
}

// Manager returns the lock manager served by the API.
func (s *Server) Manager() locking.LockManager {
	return s.manager
}

// registerHealthChecks wires the probe checks. The lock store and the
// catalog database gate readiness.
func (s *Server) registerHealthChecks() {
	s.health.RegisterChecker(health.NewServerChecker(s.logger))
	s.health.RegisterChecker(health.NewReadinessChecker(s.logger))
	s.health.RegisterDependency(health.NewDependencyChecker("lock-store", s.backend.locks.Ping, s.logger))
	s.health.RegisterDependency(health.NewDependencyChecker("database", s.db.PingContext, s.logger))
	for _, c := range s.backend.checkers {
		s.health.RegisterChecker(c)
	}
}

// setupServers configures the three HTTP servers.
func (s *Server) setupServers() {
	s.apiServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler:      s.setupAPIRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSEnabled {
		s.apiServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	s.probeServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.ProbeHost, s.cfg.ProbePort),
		Handler:      s.setupProbeRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.MetricsHost, s.cfg.MetricsPort),
		Handler:      s.setupMetricsRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

// setupAPIRouter creates the API server router with middleware.
func (s *Server) setupAPIRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.LoggingMiddleware(s.logger, "api"))
	r.Use(middleware.RecovererMiddleware(s.logger))
	r.Use(middleware.MetricsMiddleware(s.metrics, s.logger))

	h := handlers.NewLockHandlers(s.manager, s.logger, s.metrics)
	setupAPIRoutes(r, h, s.authMiddleware(), s.logger)

	return r
}

// authMiddleware resolves the caller according to the configured mode.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	if s.cfg.AuthMode == config.AuthModeJWT {
		return middleware.BearerAuth([]byte(s.cfg.AuthSecret), s.logger)
	}
	return middleware.TrustedUserHeader(s.cfg.AuthHeader)
}

// setupProbeRouter creates the probe server router.
func (s *Server) setupProbeRouter() *chi.Mux {
	r := chi.NewRouter()
	setupProbeRoutes(r, s.health, s.metrics, s.logger)
	return r
}

// setupMetricsRouter creates the metrics server router.
func (s *Server) setupMetricsRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return r
}

// Start binds all three listeners and serves them in the background. A bind
// failure is returned before anything is served.
func (s *Server) Start() error {
	servers := []*http.Server{s.apiServer, s.probeServer, s.metricsServer}

	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range s.listeners {
				_ = l.Close()
			}
			s.listeners = nil
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		// Resolves port 0 to the port actually bound.
		srv.Addr = ln.Addr().String()
		s.listeners = append(s.listeners, ln)
	}

	var g errgroup.Group
	for i, srv := range servers {
		ln := s.listeners[i]
		tlsEnabled := srv == s.apiServer && s.cfg.TLSEnabled
		g.Go(func() error {
			s.logger.Info("Starting server", zap.String("addr", srv.Addr), zap.Bool("tls", tlsEnabled))

			var err error
			if tlsEnabled {
				err = srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
			} else {
				err = srv.Serve(ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	go func() { s.serveErr <- g.Wait() }()

	s.backend.start()
	s.sweeper.Start()
	go s.updateUptime()

	s.health.SetServersRunning(true)
	return nil
}

// Errors delivers the first serve error, or nil once every server has
// stopped.
func (s *Server) Errors() <-chan error {
	return s.serveErr
}

// updateUptime updates the uptime and runtime metrics periodically.
func (s *Server) updateUptime() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	s.metrics.UpdateRuntimeMetrics()
	for ticks := 1; ; ticks++ {
		select {
		case <-ticker.C:
			s.metrics.AppUptimeSeconds.Add(1)
			if ticks%runtimeMetricsEvery == 0 {
				s.metrics.UpdateRuntimeMetrics()
			}
		case <-s.shutdownChan:
			return
		}
	}
}

// Shutdown gracefully stops the servers, then the sweeper, the lock store
// and the database. Readiness turns false first so load balancers drain.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.shutdown(ctx)
	})
	return err
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down servers gracefully")
	s.health.SetShuttingDown(true)
	close(s.shutdownChan)

	var g errgroup.Group
	for _, srv := range []*http.Server{s.apiServer, s.metricsServer, s.probeServer} {
		g.Go(func() error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server %s shutdown error: %w", srv.Addr, err)
			}
			return nil
		})
	}
	err := g.Wait()

	if s.listeners != nil {
		s.sweeper.Stop()
	}
	if cerr := s.backend.close(ctx); cerr != nil {
		s.logger.Error("Failed to close lock store", zap.Error(cerr))
		if err == nil {
			err = cerr
		}
	}
	if cerr := s.db.Close(); cerr != nil {
		s.logger.Error("Failed to close database", zap.Error(cerr))
		if err == nil {
			err = cerr
		}
	}

	if err != nil {
		return err
	}
	s.logger.Info("All servers shut down successfully", zap.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// WaitForServers waits for all servers to accept connections.
func (s *Server) WaitForServers(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if s.checkServer(s.apiServer.Addr) &&
			s.checkServer(s.probeServer.Addr) &&
			s.checkServer(s.metricsServer.Addr) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("servers did not become ready within %s", timeout)
}

// checkServer checks if a server is listening on the given address.
func (s *Server) checkServer(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

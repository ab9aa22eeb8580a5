package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/config"
	"github.com/n3tuk/document-node-lock/internal/identity"
	"github.com/n3tuk/document-node-lock/internal/logger"
	"github.com/n3tuk/document-node-lock/internal/server"
	"github.com/n3tuk/document-node-lock/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "service",
	Short: "Document lock service",
	Long: `A locking service for a collaborative document editor. Locks cover
whole documents, single nodes and their subtrees, or agent chat threads.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	Long: `Issue an HS256 bearer token signed with the configured auth secret.
Intended for development and testing against a service running in jwt mode.`,
	RunE: runToken,
}

// flagBinding ties a command-line flag to its viper key.
type flagBinding struct {
	flag string
	key  string
}

var serverFlags = []flagBinding{
	{"api-port", "api.port"},
	{"api-host", "api.host"},
	{"probe-port", "probe.port"},
	{"probe-host", "probe.host"},
	{"metrics-port", "metrics.port"},
	{"metrics-host", "metrics.host"},
	{"tls-enabled", "tls.enabled"},
	{"tls-cert", "tls.cert"},
	{"tls-key", "tls.key"},
	{"log-level", "log.level"},
	{"log-format", "log.format"},
	{"shutdown-timeout", "shutdown.timeout"},
	{"health-check-timeout", "health.check_timeout"},
	{"health-cache-duration", "health.cache_duration"},
	{"lock-backend", "lock.backend"},
	{"lock-tree-expiry", "lock.tree_expiry"},
	{"lock-flat-expiry", "lock.flat_expiry"},
	{"lock-sweep-interval", "lock.sweep_interval"},
	{"lock-retention-grace", "lock.retention_grace"},
	{"database-driver", "database.driver"},
	{"database-dsn", "database.dsn"},
	{"redis-url", "redis.url"},
	{"auth-mode", "auth.mode"},
	{"auth-header", "auth.header"},
	{"olric-host", "olric.host"},
	{"olric-port", "olric.port"},
	{"olric-advertise-addr", "olric.advertise_addr"},
	{"olric-memberlist-port", "olric.memberlist_port"},
	{"olric-join-addrs", "olric.join_addrs"},
	{"olric-replication-mode", "olric.replication_mode"},
	{"olric-replication-factor", "olric.replication_factor"},
	{"olric-partition-count", "olric.partition_count"},
	{"olric-member-count-quorum", "olric.member_count_quorum"},
	{"olric-join-retry-interval", "olric.join_retry_interval"},
	{"olric-max-join-attempts", "olric.max_join_attempts"},
	{"olric-log-level", "olric.log_level"},
	{"olric-keep-alive-period", "olric.keep_alive_period"},
	{"olric-request-timeout", "olric.request_timeout"},
	{"olric-dmap-name", "olric.dmap_name"},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tokenCmd)

	f := rootCmd.Flags()

	// Server flags
	f.Int("api-port", 8080, "API server port")
	f.String("api-host", "0.0.0.0", "API server host")
	f.Int("probe-port", 8081, "Probe server port")
	f.String("probe-host", "0.0.0.0", "Probe server host")
	f.Int("metrics-port", 9090, "Metrics server port")
	f.String("metrics-host", "0.0.0.0", "Metrics server host")
	f.Bool("tls-enabled", false, "Enable TLS for API server")
	f.String("tls-cert", "", "Path to TLS certificate")
	f.String("tls-key", "", "Path to TLS key")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "json", "Log format (json, console)")
	f.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout (e.g., 30s)")
	f.Duration("health-check-timeout", 5*time.Second, "Health check timeout (e.g., 5s)")
	f.Duration("health-cache-duration", 10*time.Second, "Health check cache duration (e.g., 10s)")

	// Lock flags
	f.String("lock-backend", "sql", "Lock store backend (memory, sql, olric, redis)")
	f.Duration("lock-tree-expiry", 30*time.Minute, "Expiry window for document and node locks")
	f.Duration("lock-flat-expiry", 2*time.Hour, "Expiry window for thread locks")
	f.Duration("lock-sweep-interval", time.Minute, "Interval between expired lock sweeps")
	f.Duration("lock-retention-grace", 5*time.Minute, "Grace added to the expiry window for olric and redis key TTLs")

	// Catalog and backend flags
	f.String("database-driver", "sqlite3", "Catalog database driver (sqlite3, pgx)")
	f.String("database-dsn", "document-locks.db", "Catalog database path or PostgreSQL URL")
	f.String("redis-url", "redis://localhost:6379/0", "Redis URL for the redis backend")

	// Auth flags. The jwt secret is only read from config or LOCK_AUTH_SECRET.
	f.String("auth-mode", "header", "Caller identity source (header, jwt)")
	f.String("auth-header", "X-User-ID", "Header carrying the user id in header mode")

	// Olric configuration flags
	f.String("olric-host", store.DefaultBindAddr, "Olric bind host")
	f.Int("olric-port", store.DefaultBindPort, "Olric bind port")
	f.String("olric-advertise-addr", "", "Olric address announced to peers")
	f.Int("olric-memberlist-port", store.DefaultMemberlistBindPort, "Olric memberlist port (0 keeps the default)")
	f.StringSlice("olric-join-addrs", []string{}, "Olric cluster join addresses")
	f.String("olric-replication-mode", store.DefaultReplicationMode, "Olric replication mode (sync/async)")
	f.Int("olric-replication-factor", store.DefaultReplicationFactor, "Olric replication factor")
	f.Int("olric-partition-count", store.DefaultPartitionCount, "Olric partition count")
	f.Int("olric-member-count-quorum", store.DefaultMemberCountQuorum, "Olric member count quorum")
	f.Duration("olric-join-retry-interval", store.DefaultJoinRetryInterval, "Olric join retry interval")
	f.Int("olric-max-join-attempts", store.DefaultMaxJoinAttempts, "Olric max join attempts")
	f.String("olric-log-level", store.DefaultLogLevel, "Olric log level (DEBUG/INFO/WARN/ERROR)")
	f.Duration("olric-keep-alive-period", store.DefaultKeepAlivePeriod, "Olric keep alive period")
	f.Duration("olric-request-timeout", store.DefaultRequestTimeout, "Olric request timeout")
	f.String("olric-dmap-name", store.DefaultDMapName, "Olric DMap name")

	// Bind flags to viper
	for _, b := range serverFlags {
		_ = viper.BindPFlag(b.key, f.Lookup(b.flag))
	}

	tokenCmd.Flags().String("user", "", "User id to issue the token for")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting document lock service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	buildInfo := map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
	srv, err := server.New(cfg, log, buildInfo)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info("Service started successfully")

	// Wait for an interrupt signal or a server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case serveErr = <-srv.Errors():
		log.Error("Server stopped unexpectedly", zap.Error(serveErr))
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return errors.Join(serveErr, err)
	}
	if serveErr != nil {
		return serveErr
	}

	log.Info("Service stopped gracefully")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	user = strings.TrimSpace(user)
	if user == "" {
		return fmt.Errorf("--user cannot be empty")
	}

	// Force jwt mode so Load insists on a secret.
	viper.Set("auth.mode", config.AuthModeJWT)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	token, err := identity.IssueToken([]byte(cfg.AuthSecret), user, ttl, time.Now())
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/n3tuk/document-node-lock/internal/database"
	"github.com/n3tuk/document-node-lock/internal/lockstore"
	"github.com/n3tuk/document-node-lock/internal/store"
)

const (
	// AuthModeJWT verifies HS256 bearer tokens.
	AuthModeJWT = "jwt"
	// AuthModeHeader trusts a user id header set by an authenticating proxy.
	AuthModeHeader = "header"
)

// Config holds all configuration for the service.
type Config struct {
	// API server settings
	APIPort int
	APIHost string

	// Probe server settings
	ProbePort int
	ProbeHost string

	// Metrics server settings
	MetricsPort int
	MetricsHost string

	// TLS settings
	TLSEnabled bool
	TLSCert    string
	TLSKey     string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Health check settings
	HealthCheckTimeout       time.Duration
	HealthCheckCacheDuration time.Duration

	// Metrics settings
	MetricsNamespace string

	// Lock settings
	LockBackend       string
	TreeLockExpiry    time.Duration
	FlatLockExpiry    time.Duration
	LockSweepInterval time.Duration
	// LockRetentionGrace is added to the expiry window to form the storage
	// TTL of the olric and redis backends.
	LockRetentionGrace time.Duration

	// Catalog database holding the node tree and user directory, and the
	// lock table when LockBackend is sql.
	DatabaseDriver string
	DatabaseDSN    string

	// Redis settings, used by the redis backend
	RedisURL string

	// Authentication settings
	AuthMode   string
	AuthHeader string
	AuthSecret string

	// Olric settings, used by the olric backend
	Olric *store.OlricConfig
}

func setDefaults() {
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("probe.port", 8081)
	viper.SetDefault("probe.host", "0.0.0.0")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.host", "0.0.0.0")
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cert", "")
	viper.SetDefault("tls.key", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("shutdown.timeout", "30s")
	viper.SetDefault("health.check_timeout", "5s")
	viper.SetDefault("health.cache_duration", "10s")

	viper.SetDefault("lock.backend", lockstore.BackendSQL)
	viper.SetDefault("lock.tree_expiry", "30m")
	viper.SetDefault("lock.flat_expiry", "2h")
	viper.SetDefault("lock.sweep_interval", "1m")
	viper.SetDefault("lock.retention_grace", "5m")

	viper.SetDefault("database.driver", database.DriverSQLite)
	viper.SetDefault("database.dsn", "document-locks.db")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("auth.mode", AuthModeHeader)
	viper.SetDefault("auth.header", "X-User-ID")
	viper.SetDefault("auth.secret", "")

	viper.SetDefault("olric.host", store.DefaultBindAddr)
	viper.SetDefault("olric.port", store.DefaultBindPort)
	viper.SetDefault("olric.advertise_addr", "")
	viper.SetDefault("olric.memberlist_port", store.DefaultMemberlistBindPort)
	viper.SetDefault("olric.join_addrs", []string{})
	viper.SetDefault("olric.replication_mode", store.DefaultReplicationMode)
	viper.SetDefault("olric.replication_factor", store.DefaultReplicationFactor)
	viper.SetDefault("olric.partition_count", store.DefaultPartitionCount)
	viper.SetDefault("olric.member_count_quorum", store.DefaultMemberCountQuorum)
	viper.SetDefault("olric.join_retry_interval", store.DefaultJoinRetryInterval.String())
	viper.SetDefault("olric.max_join_attempts", store.DefaultMaxJoinAttempts)
	viper.SetDefault("olric.log_level", store.DefaultLogLevel)
	viper.SetDefault("olric.keep_alive_period", store.DefaultKeepAlivePeriod.String())
	viper.SetDefault("olric.request_timeout", store.DefaultRequestTimeout.String())
	viper.SetDefault("olric.dmap_name", store.DefaultDMapName)
}

// Load reads configuration from environment variables, config file, and flags.
func Load() (*Config, error) {
	setDefaults()

	// Environment variables use the LOCK_ prefix (e.g., lock.backend -> LOCK_LOCK_BACKEND)
	viper.SetEnvPrefix("LOCK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/document-node-lock/")

	// Reading config file is optional
	_ = viper.ReadInConfig()

	cfg := &Config{
		APIPort:          viper.GetInt("api.port"),
		APIHost:          viper.GetString("api.host"),
		ProbePort:        viper.GetInt("probe.port"),
		ProbeHost:        viper.GetString("probe.host"),
		MetricsPort:      viper.GetInt("metrics.port"),
		MetricsHost:      viper.GetString("metrics.host"),
		TLSEnabled:       viper.GetBool("tls.enabled"),
		TLSCert:          viper.GetString("tls.cert"),
		TLSKey:           viper.GetString("tls.key"),
		LogLevel:         viper.GetString("log.level"),
		LogFormat:        viper.GetString("log.format"),
		MetricsNamespace: "document_lock", // Fixed value, not configurable
		LockBackend:      viper.GetString("lock.backend"),
		DatabaseDriver:   viper.GetString("database.driver"),
		DatabaseDSN:      viper.GetString("database.dsn"),
		RedisURL:         viper.GetString("redis.url"),
		AuthMode:         viper.GetString("auth.mode"),
		AuthHeader:       viper.GetString("auth.header"),
		AuthSecret:       viper.GetString("auth.secret"),
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"shutdown.timeout", &cfg.ShutdownTimeout},
		{"health.check_timeout", &cfg.HealthCheckTimeout},
		{"health.cache_duration", &cfg.HealthCheckCacheDuration},
		{"lock.tree_expiry", &cfg.TreeLockExpiry},
		{"lock.flat_expiry", &cfg.FlatLockExpiry},
		{"lock.sweep_interval", &cfg.LockSweepInterval},
		{"lock.retention_grace", &cfg.LockRetentionGrace},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(viper.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = v
	}

	olric, err := loadOlric()
	if err != nil {
		return nil, err
	}
	cfg.Olric = olric

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadOlric() (*store.OlricConfig, error) {
	c := store.NewDefaultOlricConfig()
	c.BindAddr = viper.GetString("olric.host")
	c.BindPort = viper.GetInt("olric.port")
	c.AdvertiseAddr = viper.GetString("olric.advertise_addr")
	c.MemberlistBindPort = viper.GetInt("olric.memberlist_port")
	c.JoinAddrs = viper.GetStringSlice("olric.join_addrs")
	c.ReplicationMode = viper.GetString("olric.replication_mode")
	c.ReplicationFactor = viper.GetInt("olric.replication_factor")
	c.PartitionCount = viper.GetUint64("olric.partition_count")
	c.MemberCountQuorum = viper.GetInt("olric.member_count_quorum")
	c.MaxJoinAttempts = viper.GetInt("olric.max_join_attempts")
	c.LogLevel = strings.ToUpper(viper.GetString("olric.log_level"))
	c.DMapName = viper.GetString("olric.dmap_name")

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"olric.join_retry_interval", &c.JoinRetryInterval},
		{"olric.keep_alive_period", &c.KeepAlivePeriod},
		{"olric.request_timeout", &c.RequestTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(viper.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = v
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", c.APIPort)
	}
	if c.ProbePort < 1 || c.ProbePort > 65535 {
		return fmt.Errorf("invalid probe port: %d", c.ProbePort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	if c.TLSEnabled {
		if c.TLSCert == "" {
			return fmt.Errorf("TLS enabled but no certificate path provided")
		}
		if c.TLSKey == "" {
			return fmt.Errorf("TLS enabled but no key path provided")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s (must be positive)", c.ShutdownTimeout)
	}

	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("invalid health check timeout: %s (must be positive)", c.HealthCheckTimeout)
	}

	if c.HealthCheckCacheDuration < 0 {
		return fmt.Errorf("invalid health check cache duration: %s (must be non-negative, zero disables caching)", c.HealthCheckCacheDuration)
	}

	if c.MetricsNamespace == "" {
		return fmt.Errorf("metrics namespace cannot be empty")
	}

	if err := c.validateLocks(); err != nil {
		return err
	}
	return c.validateAuth()
}

func (c *Config) validateLocks() error {
	switch c.LockBackend {
	case lockstore.BackendMemory, lockstore.BackendSQL, lockstore.BackendRedis:
	case lockstore.BackendOlric:
		if c.Olric == nil {
			return fmt.Errorf("olric backend selected but olric is not configured")
		}
		if err := c.Olric.Validate(); err != nil {
			return fmt.Errorf("invalid olric configuration: %w", err)
		}
	default:
		return fmt.Errorf("invalid lock backend: %s (must be memory, sql, olric, or redis)", c.LockBackend)
	}

	if c.TreeLockExpiry <= 0 {
		return fmt.Errorf("invalid tree lock expiry: %s (must be positive)", c.TreeLockExpiry)
	}
	if c.FlatLockExpiry <= 0 {
		return fmt.Errorf("invalid flat lock expiry: %s (must be positive)", c.FlatLockExpiry)
	}
	if c.LockSweepInterval <= 0 {
		return fmt.Errorf("invalid lock sweep interval: %s (must be positive)", c.LockSweepInterval)
	}
	if c.LockRetentionGrace < 0 {
		return fmt.Errorf("invalid lock retention grace: %s (must be non-negative)", c.LockRetentionGrace)
	}

	if c.DatabaseDriver != database.DriverSQLite && c.DatabaseDriver != database.DriverPostgres {
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or pgx)", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database dsn cannot be empty")
	}

	if c.LockBackend == lockstore.BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("redis backend selected but no redis url provided")
	}
	return nil
}

func (c *Config) validateAuth() error {
	switch c.AuthMode {
	case AuthModeJWT:
		if c.AuthSecret == "" {
			return fmt.Errorf("jwt auth enabled but no secret provided")
		}
	case AuthModeHeader:
		if c.AuthHeader == "" {
			return fmt.Errorf("header auth enabled but no header name provided")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be jwt or header)", c.AuthMode)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverSQLite selects mattn/go-sqlite3.
	DriverSQLite = "sqlite3"
	// DriverPostgres selects the pgx stdlib driver.
	DriverPostgres = "pgx"
)

// Config holds the SQL connection settings.
type Config struct {
	// Driver is either "sqlite3" or "pgx".
	Driver string
	// DSN is a file path (sqlite3) or a PostgreSQL connection URL (pgx).
	DSN string

	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps *sql.DB with the dialect it was opened with.
type DB struct {
	*sql.DB
	driver string
}

// Open connects, verifies the connection and applies migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}

	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		dsn = sqliteDSN(cfg.DSN, cfg.BusyTimeout)
	case DriverPostgres:
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{DB: db, driver: cfg.Driver}
	if err := d.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// sqliteDSN builds a go-sqlite3 DSN from a plain path. Write transactions
// start IMMEDIATE so that two writers never both pass a read before either
// inserts.
func sqliteDSN(path string, busy time.Duration) string {
	if strings.Contains(path, "?") {
		return path
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate",
		path, busy.Milliseconds())
}

// Driver returns the driver name the DB was opened with.
func (d *DB) Driver() string {
	return d.driver
}

// IsPostgres reports whether the DB speaks the PostgreSQL dialect.
func (d *DB) IsPostgres() bool {
	return d.driver == DriverPostgres
}

// Rebind rewrites '?' placeholders to the driver's native form.
func (d *DB) Rebind(query string) string {
	if !d.IsPostgres() {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

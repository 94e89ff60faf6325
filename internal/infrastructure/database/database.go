package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
)

const (
	// The log records when and by what the door was opened; keep the
	// file and its directory owner-only.
	dirMode  = 0750
	fileMode = 0600

	// openPingTimeout bounds the connectivity check in Open.
	openPingTimeout = 5 * time.Second

	secondsToMillis = 1000
)

// DB holds the door event log connection. It embeds *sql.DB so callers
// use the standard query API directly; the wrapper adds lifecycle,
// schema migration, and health checking.
type DB struct {
	*sql.DB
	path string
}

// Open opens the event log database, creating the file and its parent
// directory on first run, and verifies it answers a ping.
//
// The pool is pinned to one connection. SQLite serialises writers
// anyway, and within one daemon the log has a single writer plus an
// occasional API reader; a second connection only invites SQLITE_BUSY.
//
// Parameters:
//   - cfg: Database section of config.yaml
//
// Returns:
//   - *DB: Open connection
//   - error: If the file cannot be created, opened, or pinged
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), openPingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The ping above creates the file on first run; tighten it to
	// owner-only. Chmod failure is not fatal.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // See above

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string. See
// https://github.com/mattn/go-sqlite3#connection-string for the pragma
// parameter names.
func dsn(cfg config.DatabaseConfig) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*secondsToMillis)
	if cfg.WALMode {
		// WAL lets sesamid and nukibridged share the file without
		// blocking each other; NORMAL sync is durable enough for an
		// event log.
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close closes the connection. Safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout bounds the initial ping when the caller's context has no deadline.
	connectionTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute

	// memoryPath selects a private in-memory database (tests, dry runs).
	memoryPath = ":memory:"
)

// DB wraps a sql.DB connection with migration support, health checks
// and transaction helpers.
type DB struct {
	*sql.DB
	path string
}

// Config contains database configuration options.
// These map to the database section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file, or ":memory:".
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging so API reads proceed during registry writes.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// Open creates a new database connection with the specified configuration.
//
// It performs the following setup:
//  1. Creates the database directory if it doesn't exist
//  2. Opens the database file with busy timeout, foreign keys and optional WAL
//  3. Pins the pool to one connection (SQLite single writer)
//  4. Verifies the connection with a ping bounded by ctx
//
// Parameters:
//   - ctx: Context for the connectivity check
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If connection or configuration fails
func Open(ctx context.Context, cfg Config) (*DB, error) {
	connStr := dsn(cfg)

	if cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per-connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != memoryPath {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may appear on first write
	}

	return db, nil
}

// dsn builds the go-sqlite3 connection string.
// See: https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) string {
	busy := cfg.BusyTimeout * msPerSecond
	if cfg.Path == memoryPath {
		return fmt.Sprintf("file::memory:?_busy_timeout=%d&_foreign_keys=on", busy)
	}
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, busy)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// OpenMemory opens a private in-memory database. Used by tests and the
// CLI's offline commands.
func OpenMemory(ctx context.Context) (*DB, error) {
	return Open(ctx, Config{Path: memoryPath, BusyTimeout: 5})
}

// Close closes the database connection gracefully.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database is accessible and functioning.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// ExecContext executes a query that doesn't return rows, wrapping failures.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// BeginTx starts a new transaction with the given options.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}

// InTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
//
// Example:
//
//	err := db.InTx(ctx, func(tx *sql.Tx) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE topics SET state = ? WHERE id = ?", s, id)
//	    return err
//	})
func (db *DB) InTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Database configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// connectionTimeout bounds the connectivity check in Open.
	connectionTimeout = 5 * time.Second
)

// ErrNotFound is returned by Open when Create is false and the file is absent.
var ErrNotFound = errors.New("database: file does not exist")

// DB wraps a sql.DB connection to a single SQLite file.
// It provides schema application, health checks, and proper lifecycle management.
type DB struct {
	*sql.DB
	path string
}

// Config contains options for opening one SQLite file.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// Create allows Open to create the file and its parent directories.
	// When false a missing file yields ErrNotFound.
	Create bool

	// ExclusiveTx makes every BeginTx issue BEGIN EXCLUSIVE, so a writer owns
	// the whole file until it commits or rolls back.
	ExclusiveTx bool

	// BusyTimeout is the maximum time to wait for a database lock.
	BusyTimeout time.Duration
}

// Open creates a new database connection with the specified configuration.
//
// It performs the following setup:
//  1. Checks the file exists, or creates its directory when Create is set
//  2. Opens the database file with the busy timeout and locking mode as DSN pragmas
//  3. Verifies the connection with a ping
//  4. Sets file permissions (0600) on newly created files
//
// Parameters:
//   - ctx: Context bounding the connectivity check
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: ErrNotFound, or a wrapped failure from the driver
func Open(ctx context.Context, cfg Config) (*DB, error) {
	_, statErr := os.Stat(cfg.Path)
	existed := statErr == nil

	mode := "rw"
	switch {
	case existed:
	case !errors.Is(statErr, os.ErrNotExist):
		return nil, fmt.Errorf("checking database file: %w", statErr)
	case !cfg.Create:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cfg.Path)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		mode = "rwc"
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?mode=%s&_busy_timeout=%d",
		cfg.Path,
		mode,
		cfg.BusyTimeout.Milliseconds(),
	)
	if cfg.ExclusiveTx {
		connStr += "&_txlock=exclusive"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection per file keeps the exclusive lock and the writes on the
	// same handle.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{
		DB:   sqlDB,
		path: cfg.Path,
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if !existed {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may only appear on first write
	}

	return db, nil
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

// ApplySchema executes idempotent DDL (CREATE ... IF NOT EXISTS statements).
func (db *DB) ApplySchema(ctx context.Context, ddl string) error {
	if _, err := db.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the database is accessible and functioning.
// It performs a simple query to ensure the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// BeginTx starts a new transaction with the given options.
// With ExclusiveTx set this blocks for up to BusyTimeout waiting for the
// file lock; use IsLockError on the result to tell contention apart.
//
// Example:
//
//	tx, err := db.BeginTx(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback() // No-op if committed
//
//	// ... execute queries on tx ...
//
//	return tx.Commit()
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}

// IsLockError reports whether err comes from SQLite lock contention
// (SQLITE_BUSY or SQLITE_LOCKED).
func IsLockError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

const (
	// dirPermissions is the permission mode for the store directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the store file.
	// The device record holds the link passphrase.
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout bounds the initial ping.
	connectionTimeout = 5 * time.Second
)

// DB wraps a sql.DB connection to the node's SQLite store.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the SQLite store described by cfg.
//
// It performs the following setup:
//  1. Creates the parent directory if it doesn't exist
//  2. Opens the file with busy timeout and, optionally, WAL journaling
//  3. Restricts the file to owner read/write
//  4. Verifies the connection with a ping
//
// Parameters:
//   - cfg: Store section of the bootstrap configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If the directory, file, or connection cannot be set up
func Open(cfg config.StoreConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, cfg.BusyTimeout*msPerSecond)

	// FULL sync under WAL keeps a committed record across power loss
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=FULL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// One writer, one record: a single connection is enough
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying store connection: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may be created lazily on first write

	return db, nil
}

// Close closes the database connection. Safe to call on a nil connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the store file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the store is accessible.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}

// pkg/connector/sqlite.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteConnector implements the DatabaseConnector interface for a local SQLite file
type SQLiteConnector struct {
	db     *sql.DB
	logger *zap.Logger
	path   string
}

// NewSQLiteConnector opens (creating if needed) the SQLite database at path
func NewSQLiteConnector(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteConnector, error) {
	logger := zap.L().Named("sqlite-connector")

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
	}

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	logger.Info("Opening SQLite database", zap.String("path", path))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite connection: %w", err)
	}

	// SQLite allows one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	if err := PingWithTimeout(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	return &SQLiteConnector{
		db:     db,
		logger: logger,
		path:   path,
	}, nil
}

// DB returns the underlying database connection
func (c *SQLiteConnector) DB() *sql.DB {
	return c.db
}

// DriverName returns "sqlite"
func (c *SQLiteConnector) DriverName() string {
	return "sqlite"
}

// Validate runs SQLite's quick integrity check
func (c *SQLiteConnector) Validate(ctx context.Context) error {
	var result string
	if err := c.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", c.path, result)
	}
	return nil
}

// Close closes the database connection
func (c *SQLiteConnector) Close() error {
	c.logger.Info("Closing SQLite database", zap.String("path", c.path))
	LogConnectionStats(c.logger, c.path, c.db)
	return c.db.Close()
}

// ExecWithTimeout executes a statement with a timeout
func (c *SQLiteConnector) ExecWithTimeout(
	ctx context.Context,
	query string,
	timeout time.Duration,
	args ...interface{},
) (sql.Result, error) {
	return execWithTimeout(ctx, c.db, query, timeout, args...)
}

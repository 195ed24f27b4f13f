// Package state provides SQLite-based persistence for orchestra.
// It stores execution plans and the registered agent pool in a single
// database file (~/.local/share/orchestra/orchestra.db by default).
package state

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with orchestra-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the default orchestra database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "orchestra", "orchestra.db")
}

// connPragmas are applied by the driver to every pooled connection;
// foreign_keys in particular is per-connection in SQLite.
var connPragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
}

// dsn builds a modernc.org/sqlite data source name for path.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenAndMigrate opens the database at path and applies pending migrations.
func OpenAndMigrate(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "plans", migrationV1Plans},
	{2, "plan results", migrationV2Results},
	{3, "agents", migrationV3Agents},
}

// Migrate applies all pending schema migrations, each in its own transaction.
func (db *DB) Migrate() error {
	ctx := context.Background()
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("apply migration v%d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration, or 0 for a new file.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.schemaVersion(ctx)
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// Migration SQL statements
const migrationV1Plans = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	strategy TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	subtasks TEXT NOT NULL,
	dependencies TEXT NOT NULL,
	metadata TEXT,
	passes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	created_ns INTEGER NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
CREATE INDEX IF NOT EXISTS idx_plans_created_ns ON plans(created_ns);
`

const migrationV2Results = `
CREATE TABLE IF NOT EXISTS plan_results (
	plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	subtask_id TEXT NOT NULL,
	agent_id TEXT,
	status TEXT NOT NULL,
	output TEXT,
	error TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME,
	PRIMARY KEY (plan_id, subtask_id)
);
`

const migrationV3Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	skills TEXT,
	updated_at DATETIME NOT NULL
);
`

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// PurgeOldPlans deletes terminal plans that completed before now minus olderThan.
// Returns the number of plans deleted.
func (db *DB) PurgeOldPlans(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	db.mu.Lock()
	defer db.mu.Unlock()

	result, err := db.conn.ExecContext(ctx, `
		DELETE FROM plans WHERE completed_at IS NOT NULL AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old plans: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite event-log connection. Logging is best-effort: the
// loop never fails because an event could not be recorded.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at the given path, creating parent
// directories if needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	d := &DB{conn: conn, path: path}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

const schema = `
CREATE TABLE IF NOT EXISTS loop_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    iteration   INTEGER NOT NULL,
    event       TEXT NOT NULL,
    detail      TEXT,
    timestamp   TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_loop_events_iter ON loop_events(iteration);

CREATE TABLE IF NOT EXISTS fix_attempts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    iteration   INTEGER NOT NULL,
    issue_key   TEXT NOT NULL,
    component   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    outcome     TEXT NOT NULL CHECK(outcome IN ('fixed','failed','skipped')),
    reason      TEXT,
    applied     INTEGER NOT NULL DEFAULT 0,
    score       REAL,
    duration_ms INTEGER,
    timestamp   TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_fix_attempts_key ON fix_attempts(issue_key);
CREATE INDEX IF NOT EXISTS idx_fix_attempts_component ON fix_attempts(component);
`

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Package sqlite provides the SQLite-backed transition journal.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// FileName is the journal database file inside the data directory.
const FileName = "journal.db"

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the journal at dir/journal.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dir, FileName) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			at         INTEGER NOT NULL,
			op         TEXT NOT NULL,
			resource   TEXT NOT NULL,
			client     TEXT NOT NULL DEFAULT '',
			requested  INTEGER NOT NULL,
			from_level INTEGER NOT NULL,
			to_level   INTEGER NOT NULL,
			outcome    TEXT NOT NULL,
			error      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_resource ON transitions(resource)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at)`,

		// Compensating voltage changes after a failed interconnect clock change.
		`CREATE TABLE IF NOT EXISTS rollbacks (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			at    INTEGER NOT NULL,
			vdd   TEXT NOT NULL,
			level INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS lock_events (
			id    INTEGER PRIMARY KEY AUTOINCREMENT,
			at    INTEGER NOT NULL,
			vdd   TEXT NOT NULL,
			count INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS board_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Board Info ─────────────────────────────────────────────────────────────

// SetInfo stores a key-value pair in board_info.
func (d *DB) SetInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO board_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// Info retrieves a value from board_info, "" when unset.
func (d *DB) Info(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM board_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Package notestore provides the SQLite-backed local note store.
package notestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	content        TEXT NOT NULL DEFAULT '{"type":"doc","content":[]}',
	cursor         INTEGER NOT NULL DEFAULT 0,
	last_modified  INTEGER NOT NULL DEFAULT 0,
	last_opened    INTEGER NOT NULL DEFAULT 0,
	remote_id      TEXT NOT NULL DEFAULT '',
	sync_status    TEXT NOT NULL DEFAULT 'pending',
	last_synced_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_notes_sync_status ON notes(sync_status);
CREATE INDEX IF NOT EXISTS idx_notes_remote_id ON notes(remote_id);
CREATE INDEX IF NOT EXISTS idx_notes_last_opened ON notes(last_opened);
`

// DB wraps a sql.DB with note-store operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock sets the time source used to stamp last_modified.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("notestore: open db: %w", err)
	}
	// Settlement writes compare-and-set on last_modified against a single connection.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notestore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notestore: apply schema: %w", err)
	}
	db := &DB{conn: conn, now: time.Now}
	for _, o := range opts {
		o(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

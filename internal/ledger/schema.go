// Package ledger provides the SQLite-backed version ledger: an append-mostly
// store of full-content script snapshots partitioned by (owner, script).
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS versions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	owner    TEXT NOT NULL,
	script   TEXT NOT NULL,
	content  TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	ts       INTEGER NOT NULL,
	origin   TEXT NOT NULL,
	note     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_versions_identity ON versions(owner, script, ts);
CREATE INDEX IF NOT EXISTS idx_versions_origin   ON versions(owner, script, origin);
`

// DB wraps a sql.DB with ledger-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Package graph owns the persisted knowledge graph: projects, entities,
// observations, relations, and the derived search index. It is a pure
// data-access layer; sync policy lives in internal/sync and link resolution
// policy in internal/resolver.
//
// All mutations for one document happen inside a single transaction (see
// WithTx), so entity, observations, relations, and search-index rows become
// visible atomically or not at all.
package graph

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	root       TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT 'note',
	permalink   TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	checksum    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	UNIQUE(project_id, permalink),
	UNIQUE(project_id, file_path)
);

CREATE INDEX IF NOT EXISTS idx_entities_title ON entities(project_id, title);

CREATE TABLE IF NOT EXISTS observations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id  INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	category   TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '[]',
	context    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id);

CREATE TABLE IF NOT EXISTS relations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id       INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	to_id         INTEGER REFERENCES entities(id) ON DELETE SET NULL,
	to_name       TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	context       TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	UNIQUE(from_id, to_name, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);
CREATE INDEX IF NOT EXISTS idx_relations_unresolved ON relations(to_name) WHERE to_id IS NULL;

CREATE TABLE IF NOT EXISTS search_index (
	entity_id  INTEGER PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
	project_id INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	permalink  TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_search_project ON search_index(project_id);
`

// DB wraps a sql.DB with graph-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema. The
// WAL, busy-timeout, and foreign-key pragmas are appended to the DSN,
// joining any query parameters already present.
func Open(dsn string) (*DB, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", dsn+sep+"_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("graph: open db: %w", err)
	}
	// One writer at a time keeps document transactions serialized; SQLite
	// has no concurrent writers anyway and this avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Tx is one graph transaction. All per-document mutations go through it.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. The error from fn is returned unchanged so callers can match
// sentinel errors through it.
func (db *DB) WithTx(fn func(*Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: commit: %w", err)
	}
	return nil
}

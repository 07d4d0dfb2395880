package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite scan ledger: one row per database directory with its
// latest freshness result, the modules it was missing, and a scan history.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS databases (
  id               INTEGER PRIMARY KEY,
  path             TEXT NOT NULL UNIQUE,
  interpreter_id   TEXT NOT NULL DEFAULT '',
  language_version TEXT NOT NULL DEFAULT '',
  is_valid         BOOLEAN NOT NULL DEFAULT FALSE,
  is_generating    BOOLEAN NOT NULL DEFAULT FALSE,
  missing_count    INTEGER,
  last_error       TEXT NOT NULL DEFAULT '',
  checked_at       TIMESTAMP
);

CREATE TABLE IF NOT EXISTS missing_modules (
  database_id      INTEGER NOT NULL REFERENCES databases(id),
  module           TEXT NOT NULL,
  PRIMARY KEY (database_id, module)
);

CREATE TABLE IF NOT EXISTS scans (
  id               INTEGER PRIMARY KEY,
  database_id      INTEGER NOT NULL REFERENCES databases(id),
  result           TEXT NOT NULL,
  duration_ms      INTEGER NOT NULL DEFAULT 0,
  checked_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key              TEXT PRIMARY KEY,
  value            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_databases_interpreter ON databases(interpreter_id);
CREATE INDEX IF NOT EXISTS idx_scans_database ON scans(database_id);
CREATE INDEX IF NOT EXISTS idx_scans_checked_at ON scans(checked_at);
`

// DeleteDatabase transactionally removes a database directory's ledger rows.
// Deletes in reverse-dependency order to respect FK constraints.
func (s *Store) DeleteDatabase(path string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow("SELECT id FROM databases WHERE path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query database: %w", err)
	}

	for _, q := range []string{
		"DELETE FROM missing_modules WHERE database_id = ?",
		"DELETE FROM scans WHERE database_id = ?",
		"DELETE FROM databases WHERE id = ?",
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete ledger data: %w", err)
		}
	}
	return tx.Commit()
}

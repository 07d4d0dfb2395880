package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// --- Database records ---

// RecordState upserts rec, replaces its missing-module set and appends a
// scan entry, all in one transaction. missing is ignored when
// rec.MissingCount is nil.
func (s *Store) RecordState(rec *DatabaseRecord, missing []string, result string, dur time.Duration) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now()
	}
	// Timestamps are stored in UTC so text comparison orders them.
	rec.CheckedAt = rec.CheckedAt.UTC()
	var missingCount sql.NullInt64
	if rec.MissingCount != nil {
		missingCount = sql.NullInt64{Int64: int64(*rec.MissingCount), Valid: true}
	}

	_, err = tx.Exec(`
INSERT INTO databases (path, interpreter_id, language_version, is_valid, is_generating, missing_count, last_error, checked_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  interpreter_id = excluded.interpreter_id,
  language_version = excluded.language_version,
  is_valid = excluded.is_valid,
  is_generating = excluded.is_generating,
  missing_count = excluded.missing_count,
  last_error = excluded.last_error,
  checked_at = excluded.checked_at`,
		rec.Path, rec.InterpreterID, rec.LanguageVersion, rec.IsValid, rec.IsGenerating,
		missingCount, rec.LastError, rec.CheckedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert database: %w", err)
	}
	var id int64
	if err := tx.QueryRow("SELECT id FROM databases WHERE path = ?", rec.Path).Scan(&id); err != nil {
		return 0, fmt.Errorf("database id: %w", err)
	}
	rec.ID = id

	if _, err := tx.Exec("DELETE FROM missing_modules WHERE database_id = ?", id); err != nil {
		return 0, fmt.Errorf("clear missing modules: %w", err)
	}
	if rec.MissingCount != nil {
		stmt, err := tx.Prepare("INSERT OR IGNORE INTO missing_modules (database_id, module) VALUES (?, ?)")
		if err != nil {
			return 0, fmt.Errorf("prepare missing modules: %w", err)
		}
		defer stmt.Close()
		for _, m := range missing {
			if _, err := stmt.Exec(id, m); err != nil {
				return 0, fmt.Errorf("insert missing module: %w", err)
			}
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO scans (database_id, result, duration_ms, checked_at) VALUES (?, ?, ?, ?)",
		id, result, dur.Milliseconds(), rec.CheckedAt,
	); err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

const databaseColumns = "id, path, interpreter_id, language_version, is_valid, is_generating, missing_count, last_error, checked_at"

func scanDatabase(scanner interface{ Scan(...any) error }) (*DatabaseRecord, error) {
	rec := &DatabaseRecord{}
	var missing sql.NullInt64
	var checked sql.NullTime
	if err := scanner.Scan(&rec.ID, &rec.Path, &rec.InterpreterID, &rec.LanguageVersion,
		&rec.IsValid, &rec.IsGenerating, &missing, &rec.LastError, &checked); err != nil {
		return nil, err
	}
	if missing.Valid {
		n := int(missing.Int64)
		rec.MissingCount = &n
	}
	if checked.Valid {
		rec.CheckedAt = checked.Time
	}
	return rec, nil
}

// DatabaseByPath returns the record for path, or nil when none exists.
func (s *Store) DatabaseByPath(path string) (*DatabaseRecord, error) {
	rec, err := scanDatabase(s.db.QueryRow(
		"SELECT "+databaseColumns+" FROM databases WHERE path = ?", path,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database by path: %w", err)
	}
	return rec, nil
}

// Databases returns every record, ordered by path. An empty interpreterID
// matches all interpreters.
func (s *Store) Databases(interpreterID string) ([]*DatabaseRecord, error) {
	query := "SELECT " + databaseColumns + " FROM databases"
	var args []any
	if interpreterID != "" {
		query += " WHERE interpreter_id = ?"
		args = append(args, interpreterID)
	}
	query += " ORDER BY path"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("databases: %w", err)
	}
	defer rows.Close()
	var out []*DatabaseRecord
	for rows.Next() {
		rec, err := scanDatabase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan database: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MissingModules returns the modules recorded as missing for path, sorted.
func (s *Store) MissingModules(path string) ([]string, error) {
	rows, err := s.db.Query(`
SELECT m.module FROM missing_modules m
JOIN databases d ON d.id = m.database_id
WHERE d.path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("missing modules: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan missing module: %w", err)
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, rows.Err()
}

// --- Scan history ---

// Scans returns the most recent scans for path, newest first. limit <= 0
// returns all of them.
func (s *Store) Scans(path string, limit int) ([]*Scan, error) {
	query := `
SELECT s.id, s.database_id, s.result, s.duration_ms, s.checked_at FROM scans s
JOIN databases d ON d.id = s.database_id
WHERE d.path = ?
ORDER BY s.checked_at DESC, s.id DESC`
	args := []any{path}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("scans: %w", err)
	}
	defer rows.Close()
	var out []*Scan
	for rows.Next() {
		sc := &Scan{}
		var ms int64
		if err := rows.Scan(&sc.ID, &sc.DatabaseID, &sc.Result, &ms, &sc.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		sc.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, sc)
	}
	return out, rows.Err()
}

// PruneScans deletes scan history older than before and returns how many
// rows were removed.
func (s *Store) PruneScans(before time.Time) (int64, error) {
	rows, err := s.db.Query("SELECT id FROM scans WHERE checked_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("query old scans: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.Exec("DELETE FROM scans WHERE id IN ("+placeholderList(len(ids))+")", int64sToArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete scans: %w", err)
	}
	return res.RowsAffected()
}

// --- Metadata ---

// SetMetadata stores a key/value pair, replacing any previous value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the value for key and whether it exists.
func (s *Store) GetMetadata(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get metadata: %w", err)
	}
	return value, true, nil
}

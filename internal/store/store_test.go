package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// recordTestState records a stale result with the given missing modules.
func recordTestState(t *testing.T, s *Store, path string, missing ...string) *DatabaseRecord {
	t.Helper()
	rec := &DatabaseRecord{
		Path:            path,
		InterpreterID:   "cpython-3.7",
		LanguageVersion: "3.7",
		IsValid:         len(missing) == 0,
		MissingCount:    ptr(len(missing)),
		CheckedAt:       time.Now().Truncate(time.Second),
	}
	result := "valid"
	if len(missing) > 0 {
		result = "stale"
	}
	id, err := s.RecordState(rec, missing, result, 15*time.Millisecond)
	require.NoError(t, err)
	require.Positive(t, id)
	return rec
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"databases", "missing_modules", "scans", "metadata"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestStore_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Database records
// =============================================================================

func TestRecordState_InsertAndRead(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	rec := recordTestState(t, s, "/db/3.7", "os", "sys")

	got, err := s.DatabaseByPath("/db/3.7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "cpython-3.7", got.InterpreterID)
	assert.Equal(t, "3.7", got.LanguageVersion)
	assert.False(t, got.IsValid)
	require.NotNil(t, got.MissingCount)
	assert.Equal(t, 2, *got.MissingCount)
	assert.True(t, rec.CheckedAt.Equal(got.CheckedAt))

	missing, err := s.MissingModules("/db/3.7")
	require.NoError(t, err)
	assert.Equal(t, []string{"os", "sys"}, missing)
}

func TestRecordState_UpsertReplacesMissingSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	first := recordTestState(t, s, "/db/3.7", "os", "sys")
	second := recordTestState(t, s, "/db/3.7")
	assert.Equal(t, first.ID, second.ID)

	got, err := s.DatabaseByPath("/db/3.7")
	require.NoError(t, err)
	assert.True(t, got.IsValid)
	assert.Equal(t, 0, *got.MissingCount)

	missing, err := s.MissingModules("/db/3.7")
	require.NoError(t, err)
	assert.Empty(t, missing)

	scans, err := s.Scans("/db/3.7", 0)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, "valid", scans[0].Result)
	assert.Equal(t, "stale", scans[1].Result)
	assert.Equal(t, 15*time.Millisecond, scans[0].Duration)
}

func TestRecordState_UnknownMissingSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	rec := &DatabaseRecord{Path: "/db/gen", IsGenerating: true, LastError: ""}
	_, err := s.RecordState(rec, []string{"ignored"}, "generating", 0)
	require.NoError(t, err)

	got, err := s.DatabaseByPath("/db/gen")
	require.NoError(t, err)
	assert.Nil(t, got.MissingCount)
	assert.True(t, got.IsGenerating)
	assert.False(t, got.CheckedAt.IsZero())

	missing, err := s.MissingModules("/db/gen")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDatabaseByPath_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.DatabaseByPath("/nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDatabases_FilterByInterpreter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	recordTestState(t, s, "/db/b")
	recordTestState(t, s, "/db/a", "os")
	_, err := s.RecordState(&DatabaseRecord{Path: "/db/c", InterpreterID: "pypy"}, nil, "error", 0)
	require.NoError(t, err)

	all, err := s.Databases("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/db/a", all[0].Path)
	assert.Equal(t, "/db/b", all[1].Path)

	cpython, err := s.Databases("cpython-3.7")
	require.NoError(t, err)
	assert.Len(t, cpython, 2)
}

func TestDeleteDatabase(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	recordTestState(t, s, "/db/3.7", "os")
	recordTestState(t, s, "/db/keep", "sys")

	require.NoError(t, s.DeleteDatabase("/db/3.7"))
	require.NoError(t, s.DeleteDatabase("/db/never-recorded"))

	got, err := s.DatabaseByPath("/db/3.7")
	require.NoError(t, err)
	assert.Nil(t, got)
	scans, err := s.Scans("/db/3.7", 0)
	require.NoError(t, err)
	assert.Empty(t, scans)

	missing, err := s.MissingModules("/db/keep")
	require.NoError(t, err)
	assert.Equal(t, []string{"sys"}, missing)
}

// =============================================================================
// Scan history & metadata
// =============================================================================

func TestScans_LimitAndPrune(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	for i := range 3 {
		_, err := s.RecordState(&DatabaseRecord{Path: "/db", CheckedAt: old.Add(time.Duration(i) * time.Minute)}, nil, "error", 0)
		require.NoError(t, err)
	}
	recordTestState(t, s, "/db")

	latest, err := s.Scans("/db", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "valid", latest[0].Result)

	removed, err := s.PruneScans(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	remaining, err := s.Scans("/db", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	removed, err = s.PruneScans(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMetadata(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, ok, err := s.GetMetadata("schema")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMetadata("schema", "1"))
	require.NoError(t, s.SetMetadata("schema", "2"))
	v, ok, err := s.GetMetadata("schema")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestPlaceholderList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", placeholderList(0))
	assert.Equal(t, "?", placeholderList(1))
	assert.Equal(t, "?,?,?", placeholderList(3))
	assert.Equal(t, []any{int64(1), int64(2)}, int64sToArgs([]int64{1, 2}))
}

package typedb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/jward/typedb/internal/store"
)

const emptyModule = "members: {}\n"

// newDatabaseDir writes a database directory with the given version marker,
// a builtin module and one empty cache file per module.
func newDatabaseDir(t *testing.T, version int, modules ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	writeDatabase(t, dir, version, modules...)
	return dir
}

func writeDatabase(t *testing.T, dir string, version int, modules ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, VersionFileName), []byte(strconv.Itoa(version)+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "builtins.idb"), []byte(builtins3x), 0o644))
	for _, m := range modules {
		require.NoError(t, os.WriteFile(filepath.Join(dir, m+".idb"), []byte(emptyModule), 0o644))
	}
}

func newTestFactory(t *testing.T, cfg Config, opts ...Option) *Factory {
	t.Helper()
	if cfg.LanguageVersion == "" {
		cfg.LanguageVersion = "3.7"
	}
	if cfg.InterpreterID == "" {
		cfg.InterpreterID = "cpython-" + cfg.LanguageVersion
	}
	opts = append([]Option{WithScanThrottle(semaphore.NewWeighted(maxConcurrentScans))}, opts...)
	f, err := NewFactory(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func staticModules(names ...string) (ModuleEnumerator, *atomic.Int32) {
	var calls atomic.Int32
	return EnumeratorFunc(func(context.Context) ([]string, error) {
		calls.Add(1)
		return names, nil
	}), &calls
}

// =============================================================================
// Reasons
// =============================================================================

func TestFreshnessState_Reason(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		state FreshnessState
		want  string
	}{
		"unknown":             {FreshnessState{}, "Database has not been checked"},
		"checking":            {FreshnessState{Status: StatusChecking}, "Checking database"},
		"valid":               {FreshnessState{Status: StatusValid, MissingModules: []string{}}, "Up to date"},
		"generating":          {FreshnessState{Status: StatusValid, IsGenerating: true}, "Currently regenerating"},
		"error":               {FreshnessState{Status: StatusError, LastError: "disk on fire"}, "An error occurred: disk on fire"},
		"one missing":         {FreshnessState{Status: StatusStale, MissingModules: []string{"os"}}, "1 module has not been analyzed"},
		"three missing":       {FreshnessState{Status: StatusStale, MissingModules: []string{"a", "b", "c"}}, "3 modules have not been analyzed"},
		"unknown missing set": {FreshnessState{Status: StatusStale}, "Database is corrupt or an old version"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Reason())
		})
	}
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "valid", StatusValid.String())
	assert.Equal(t, "stale", StatusStale.String())
	assert.Equal(t, "Status(42)", Status(42).String())
}

// =============================================================================
// Refresh
// =============================================================================

func TestRefresh_Valid(t *testing.T) {
	t.Parallel()

	enum, calls := staticModules("os", "sys")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os", "sys")},
		WithEnumerator(enum))

	assert.Equal(t, StatusUnknown, f.State().Status)
	st := f.RefreshIsCurrent()
	assert.True(t, st.IsValid())
	assert.False(t, st.IsGenerating)
	assert.NotNil(t, st.MissingModules)
	assert.Empty(t, st.MissingModules)
	assert.Equal(t, "Up to date", f.Reason())
	assert.True(t, f.IsCurrent())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefresh_IdempotentAndNotifiesEveryTime(t *testing.T) {
	t.Parallel()

	enum, _ := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum))

	var notified atomic.Int32
	f.OnIsCurrentChanged(func() { notified.Add(1) })

	first := f.RefreshIsCurrent()
	second := f.RefreshIsCurrent()
	assert.Equal(t, first.IsValid(), second.IsValid())
	assert.Equal(t, first.MissingModules, second.MissingModules)
	assert.Equal(t, int32(2), notified.Load())
}

func TestRefresh_OldVersionSkipsEnumeration(t *testing.T) {
	t.Parallel()

	enum, calls := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, 23, "os")}, WithEnumerator(enum))

	st := f.RefreshIsCurrent()
	assert.False(t, st.IsValid())
	assert.Equal(t, StatusStale, st.Status)
	assert.Nil(t, st.MissingModules)
	assert.Contains(t, st.Reason(), "old version")
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefresh_MissingOrMalformedVersion(t *testing.T) {
	t.Parallel()

	noVersion := filepath.Join(t.TempDir(), "db")
	require.NoError(t, os.MkdirAll(noVersion, 0o755))
	malformed := newDatabaseDir(t, CurrentDatabaseVersion)
	require.NoError(t, os.WriteFile(filepath.Join(malformed, VersionFileName), []byte("twenty-four"), 0o644))

	for name, dir := range map[string]string{
		"no directory":  filepath.Join(t.TempDir(), "absent"),
		"no version":    noVersion,
		"malformed ver": malformed,
	} {
		t.Run(name, func(t *testing.T) {
			f := newTestFactory(t, Config{DatabasePath: dir})
			st := f.RefreshIsCurrent()
			assert.Equal(t, StatusStale, st.Status)
			assert.Empty(t, st.LastError)
			assert.Equal(t, "Database is corrupt or an old version", st.Reason())
		})
	}
}

func TestRefresh_EmptyDirectoryMissesOnlyBuiltins(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		version string
		want    string
	}{
		{"3.7", "builtins"},
		{"2.7", "__builtin__"},
	} {
		t.Run(tt.version, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "db")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, VersionFileName), []byte("24"), 0o644))

			f := newTestFactory(t, Config{DatabasePath: dir, LanguageVersion: tt.version})
			st := f.RefreshIsCurrent()
			assert.Equal(t, StatusStale, st.Status)
			assert.Equal(t, []string{tt.want}, st.MissingModules)
			assert.Equal(t, "1 module has not been analyzed", st.Reason())
		})
	}
}

func TestRefresh_ReportsMissingModules(t *testing.T) {
	t.Parallel()

	enum, _ := staticModules("os", "sys", "json", "os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum))

	st := f.RefreshIsCurrent()
	assert.Equal(t, []string{"json", "sys"}, st.MissingModules)
	assert.Equal(t, "2 modules have not been analyzed", st.Reason())
}

func TestRefresh_LibraryEnumeratorFromConfig(t *testing.T) {
	t.Parallel()

	lib := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(lib, "os.py"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lib, "abc.py"), nil, 0o644))

	f := newTestFactory(t, Config{
		DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os"),
		LibraryPath:  lib,
	})
	st := f.RefreshIsCurrent()
	assert.Equal(t, []string{"abc"}, st.MissingModules)
}

func TestRefresh_ScriptEnumeratorFromConfig(t *testing.T) {
	t.Parallel()

	scripts := t.TempDir()
	script := filepath.Join(scripts, "expected.risor")
	require.NoError(t, os.WriteFile(script, []byte(`["os", "zipfile"]`), 0o644))

	f := newTestFactory(t, Config{
		DatabasePath:      newDatabaseDir(t, CurrentDatabaseVersion, "os"),
		EnumerationScript: script,
	})
	st := f.RefreshIsCurrent()
	assert.Equal(t, []string{"zipfile"}, st.MissingModules)
}

func TestRefresh_EnumeratorErrorIsReported(t *testing.T) {
	t.Parallel()

	enum := EnumeratorFunc(func(context.Context) ([]string, error) {
		return nil, errors.New("library unreadable")
	})
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion)}, WithEnumerator(enum))

	st := f.RefreshIsCurrent()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "An error occurred: library unreadable", st.Reason())
}

func TestRefresh_HeldPIDMeansGenerating(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pid liveness check")
	}
	t.Parallel()

	dir := newDatabaseDir(t, CurrentDatabaseVersion, "os")
	require.NoError(t, os.WriteFile(filepath.Join(dir, PIDFileName), []byte(strconv.Itoa(os.Getppid())), 0o644))
	enum, calls := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: dir}, WithEnumerator(enum))

	st := f.RefreshIsCurrent()
	assert.True(t, st.IsGenerating)
	assert.False(t, st.IsValid())
	assert.Equal(t, "Currently regenerating", st.Reason())
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefresh_StalePIDIsIgnored(t *testing.T) {
	t.Parallel()

	dir := newDatabaseDir(t, CurrentDatabaseVersion, "os")
	require.NoError(t, os.WriteFile(filepath.Join(dir, PIDFileName), []byte("not a pid"), 0o644))
	enum, _ := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: dir}, WithEnumerator(enum))

	assert.True(t, f.RefreshIsCurrent().IsValid())
}

func TestRefresh_ConcurrentCallersShareOneScan(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	enum := EnumeratorFunc(func(context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []string{"os"}, nil
	})
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum))

	var notified atomic.Int32
	f.OnIsCurrentChanged(func() { notified.Add(1) })

	const n = 8
	results := make(chan FreshnessState, n)
	go func() { results <- f.RefreshIsCurrent() }()
	<-started
	for range n - 1 {
		go func() { results <- f.RefreshIsCurrent() }()
	}
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.waiters == n-1
	}, 5*time.Second, time.Millisecond)
	close(release)

	for range n {
		select {
		case st := <-results:
			assert.True(t, st.IsValid())
		case <-time.After(5 * time.Second):
			t.Fatal("refresh did not return")
		}
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), notified.Load())
}

func TestRefresh_WaitsForScanThrottle(t *testing.T) {
	t.Parallel()

	sem := semaphore.NewWeighted(1)
	require.NoError(t, sem.Acquire(context.Background(), 1))

	enum, _ := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum), WithScanThrottle(sem))

	done := make(chan FreshnessState, 1)
	go func() { done <- f.RefreshIsCurrent() }()

	select {
	case <-done:
		t.Fatal("refresh ran without a throttle slot")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, f.State().IsCheckingDatabase())
	assert.Equal(t, "Checking database", f.Reason())

	sem.Release(1)
	select {
	case st := <-done:
		assert.True(t, st.IsValid())
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}
	assert.True(t, sem.TryAcquire(1), "throttle slot was not released")
}

func TestRefresh_CountsDiskScans(t *testing.T) {
	enum, _ := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum))
	stale := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, 23)})

	before := testutil.ToFloat64(diskScansTotal)
	validBefore := testutil.ToFloat64(refreshesTotal.WithLabelValues("valid"))

	f.RefreshIsCurrent()
	stale.RefreshIsCurrent()

	assert.Equal(t, before+1, testutil.ToFloat64(diskScansTotal))
	assert.Equal(t, validBefore+1, testutil.ToFloat64(refreshesTotal.WithLabelValues("valid")))
}

func TestRefresh_RecordsLedger(t *testing.T) {
	t.Parallel()

	s, err := store.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())

	dir := newDatabaseDir(t, CurrentDatabaseVersion, "os")
	enum, _ := staticModules("os", "sys")
	f := newTestFactory(t, Config{DatabasePath: dir, InterpreterID: "cpython"},
		WithEnumerator(enum), WithLedger(s))
	f.RefreshIsCurrent()

	rec, err := s.DatabaseByPath(dir)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "cpython", rec.InterpreterID)
	assert.Equal(t, "3.7", rec.LanguageVersion)
	assert.False(t, rec.IsValid)
	require.NotNil(t, rec.MissingCount)
	assert.Equal(t, 1, *rec.MissingCount)

	missing, err := s.MissingModules(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"sys"}, missing)

	scans, err := s.Scans(dir, 0)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "stale", scans[0].Result)
}

// =============================================================================
// Databases
// =============================================================================

func TestGetCurrentDatabase_FollowsValidity(t *testing.T) {
	t.Parallel()

	baseline := newTestDB(t, "3.7", map[string]string{"builtins": builtins3x, "abc": emptyModule})
	enum, _ := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum), WithDefaultDatabase(baseline))

	var newDB atomic.Int32
	f.OnNewDatabaseAvailable(func() { newDB.Add(1) })

	db, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.Same(t, baseline, db)

	require.True(t, f.RefreshIsCurrent().IsValid())
	assert.Equal(t, int32(1), newDB.Load())

	db, err = f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.NotSame(t, baseline, db)
	assert.NotNil(t, db.GetModule("os"))
	assert.Nil(t, db.GetModule("abc"))

	again, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.Same(t, db, again)

	f.RefreshIsCurrent()
	assert.Equal(t, int32(1), newDB.Load(), "validity did not change")
}

func TestGetCurrentDatabase_BaselinePaths(t *testing.T) {
	t.Parallel()

	baseDir := newTestDir(t, map[string]string{"builtins": builtins3x, "cPickle": emptyModule})
	f := newTestFactory(t, Config{
		DatabasePath:  filepath.Join(t.TempDir(), "absent"),
		BaselinePaths: []string{baseDir},
	})

	db, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.True(t, db.IsDefault())
	assert.Same(t, db.GetModule("cPickle"), db.GetModule("_pickle"))
}

func TestGetCurrentDatabase_NoneAvailable(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, Config{DatabasePath: filepath.Join(t.TempDir(), "absent")})
	db, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestNotifyCorruptDatabase(t *testing.T) {
	t.Parallel()

	enum, _ := staticModules("os")
	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion, "os")},
		WithEnumerator(enum))
	require.True(t, f.RefreshIsCurrent().IsValid())
	first, err := f.GetCurrentDatabase()
	require.NoError(t, err)

	var changed, newDB atomic.Int32
	f.OnIsCurrentChanged(func() { changed.Add(1) })
	f.OnNewDatabaseAvailable(func() { newDB.Add(1) })

	f.NotifyCorruptDatabase()
	assert.False(t, f.IsCurrent())
	assert.Equal(t, "Database is corrupt or an old version", f.Reason())
	assert.Equal(t, int32(1), changed.Load())
	assert.Equal(t, int32(1), newDB.Load())

	db, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.Nil(t, db)

	require.True(t, f.RefreshIsCurrent().IsValid())
	second, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestCorruptModuleInvalidatesFactory(t *testing.T) {
	t.Parallel()

	dir := newDatabaseDir(t, CurrentDatabaseVersion, "os")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.idb"), []byte("doc: no members here\n"), 0o644))
	enum, _ := staticModules("os", "broken")
	f := newTestFactory(t, Config{DatabasePath: dir}, WithEnumerator(enum))
	require.True(t, f.RefreshIsCurrent().IsValid())

	db, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	db.GetModule("broken")

	require.Eventually(t, func() bool { return !f.IsCurrent() }, 5*time.Second, time.Millisecond)
}

func TestUnparsableModuleInvalidatesFactory(t *testing.T) {
	t.Parallel()

	dir := newDatabaseDir(t, CurrentDatabaseVersion, "os")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.idb"), []byte("members: {a: [unclosed\n"), 0o644))
	enum, _ := staticModules("os", "broken")
	f := newTestFactory(t, Config{DatabasePath: dir}, WithEnumerator(enum))
	require.True(t, f.RefreshIsCurrent().IsValid())

	db, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.True(t, db.IsCorrupt())

	require.Eventually(t, func() bool { return !f.IsCurrent() }, 5*time.Second, time.Millisecond)
	assert.Equal(t, StatusStale, f.State().Status)
}

// =============================================================================
// Analysis log
// =============================================================================

func TestAnalysisLog(t *testing.T) {
	t.Parallel()

	dir := newDatabaseDir(t, CurrentDatabaseVersion)
	f := newTestFactory(t, Config{DatabasePath: dir})
	assert.Contains(t, f.AnalysisLog(), "Error reading analysis log")

	require.NoError(t, os.WriteFile(filepath.Join(dir, AnalysisLogFileName), []byte("analyzed 12 modules\n"), 0o644))
	assert.Equal(t, "analyzed 12 modules\n", f.AnalysisLog())
}

// =============================================================================
// Watchers
// =============================================================================

func TestWatch_RefreshesOnMarkerChanges(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	dir := filepath.Join(parent, "db")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	f := newTestFactory(t, Config{DatabasePath: dir, WatchDebounce: 20 * time.Millisecond})
	require.NoError(t, f.Watch())
	require.NoError(t, f.Watch())

	writeDatabase(t, dir, CurrentDatabaseVersion)
	require.Eventually(t, func() bool { return f.IsCurrent() }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, os.RemoveAll(dir))
	require.Eventually(t, func() bool { return f.State().Status == StatusStale }, 5*time.Second, 5*time.Millisecond)

	staging := filepath.Join(parent, "staging")
	writeDatabase(t, staging, CurrentDatabaseVersion)
	require.NoError(t, os.Rename(staging, dir))
	require.Eventually(t, func() bool { return f.IsCurrent() }, 5*time.Second, 5*time.Millisecond)

	f.StopWatching()
	f.StopWatching()
}

func TestWatch_MissingParent(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, Config{DatabasePath: filepath.Join(t.TempDir(), "a", "b", "db")})
	assert.Error(t, f.Watch())
}

// =============================================================================
// Config
// =============================================================================

func TestNewFactory_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(Config{LanguageVersion: "3.7"})
	assert.Error(t, err)
	_, err = NewFactory(Config{DatabasePath: "/db", LanguageVersion: "three"})
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, CurrentDatabaseVersion, cfg.ExpectedVersion)
	assert.Equal(t, defaultWatchDebounce, cfg.WatchDebounce)

	filled := Config{DatabasePath: filepath.Join("data", "3.7", "db")}.withDefaults()
	assert.Equal(t, CurrentDatabaseVersion, filled.ExpectedVersion)
	assert.Equal(t, filepath.Join("data", "3.7", AnalysisLogFileName), filled.GlobalLogPath)
}

package typedb

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jward/typedb/internal/extcache"
	"github.com/jward/typedb/internal/runtime"
	"github.com/jward/typedb/internal/store"
)

// maxConcurrentScans bounds disk-scanning refreshes across every Factory
// sharing the default throttle.
const maxConcurrentScans = 4

var defaultScanThrottle = semaphore.NewWeighted(maxConcurrentScans)

// Factory tracks the freshness of one interpreter's database directory and
// hands out the database to use for it.
type Factory struct {
	cfg      Config
	version  LanguageVersion
	logger   *slog.Logger
	ledger   *store.Store
	enum     ModuleEnumerator
	throttle *semaphore.Weighted
	scraper  extcache.ScrapeFunc

	// mu guards the refresh phase and the state. A refresh runs with
	// refreshing set; waiters sleep on cond until gen advances.
	mu         sync.Mutex
	cond       *sync.Cond
	refreshing bool
	gen        uint64
	waiters    int
	state      FreshnessState
	generating bool

	dbMu         sync.Mutex
	current      *Database
	unsubCorrupt func()
	defaultDB    *Database

	changed listenerSet
	newDB   listenerSet

	watchMu sync.Mutex
	watcher *dirWatcher

	extMu sync.Mutex
	ext   *extcache.Manager
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger used by the factory and the databases it loads.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = l
	}
}

// WithLedger records every refresh result in s.
func WithLedger(s *store.Store) Option {
	return func(f *Factory) {
		f.ledger = s
	}
}

// WithEnumerator overrides how the expected module list is computed.
func WithEnumerator(e ModuleEnumerator) Option {
	return func(f *Factory) {
		f.enum = e
	}
}

// WithScanThrottle replaces the process-wide disk-scan throttle.
func WithScanThrottle(sem *semaphore.Weighted) Option {
	return func(f *Factory) {
		f.throttle = sem
	}
}

// WithDefaultDatabase sets the database served while the analyzed one is not
// current, instead of reading Config.BaselinePaths.
func WithDefaultDatabase(db *Database) Option {
	return func(f *Factory) {
		f.defaultDB = db
	}
}

// WithScraper overrides how extension modules are scraped.
func WithScraper(fn extcache.ScrapeFunc) Option {
	return func(f *Factory) {
		f.scraper = fn
	}
}

// NewFactory creates a Factory for cfg. The state is Unknown until the first
// RefreshIsCurrent.
func NewFactory(cfg Config, opts ...Option) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	v, err := ParseLanguageVersion(cfg.LanguageVersion)
	if err != nil {
		return nil, fmt.Errorf("typedb: config: %w", err)
	}

	f := &Factory{
		cfg:      cfg,
		version:  v,
		logger:   discardLogger,
		throttle: defaultScanThrottle,
	}
	f.cond = sync.NewCond(&f.mu)
	for _, opt := range opts {
		opt(f)
	}

	if f.enum == nil {
		switch {
		case cfg.EnumerationScript != "":
			rt := runtime.NewRuntime(filepath.Dir(cfg.EnumerationScript),
				runtime.WithModuleLister(ListLibraryModules),
				runtime.WithLogger(f.logger))
			f.enum = ScriptEnumerator{
				Runtime: rt,
				Script:  filepath.Base(cfg.EnumerationScript),
				Env: runtime.Env{
					LibraryPath:     cfg.LibraryPath,
					LanguageVersion: v.String(),
				},
			}
		case cfg.LibraryPath != "":
			f.enum = LibraryEnumerator{Path: cfg.LibraryPath}
		}
	}
	return f, nil
}

// Config returns the factory's configuration with defaults applied.
func (f *Factory) Config() Config { return f.cfg }

// Version returns the language version the factory serves.
func (f *Factory) Version() LanguageVersion { return f.version }

// State returns a copy of the latest freshness state.
func (f *Factory) State() FreshnessState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

// IsCurrent reports whether the analyzed database is valid.
func (f *Factory) IsCurrent() bool { return f.State().IsValid() }

// Reason summarizes the latest state.
func (f *Factory) Reason() string { return f.State().Reason() }

// OnIsCurrentChanged registers fn to run after every completed refresh and
// every forced invalidation. The value may not have changed.
func (f *Factory) OnIsCurrentChanged(fn func()) (unsubscribe func()) {
	return f.changed.add(fn)
}

// OnNewDatabaseAvailable registers fn to run when the database returned by
// GetCurrentDatabase changes.
func (f *Factory) OnNewDatabaseAvailable(fn func()) (unsubscribe func()) {
	return f.newDB.add(fn)
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

// RefreshIsCurrent re-evaluates the database directory and returns the new
// state. A call that finds another refresh of this factory running waits for
// it and returns its result without scanning.
func (f *Factory) RefreshIsCurrent() FreshnessState {
	f.mu.Lock()
	if f.refreshing {
		gen := f.gen
		f.waiters++
		for f.gen == gen {
			f.cond.Wait()
		}
		f.waiters--
		st := f.state.clone()
		f.mu.Unlock()
		return st
	}
	f.refreshing = true
	prev := f.state
	f.state.Status = StatusChecking
	f.mu.Unlock()

	done := false
	defer func() {
		if !done {
			f.endRefresh(prev)
		}
	}()

	start := time.Now()
	st := f.scan()
	dur := time.Since(start)

	f.mu.Lock()
	st.IsGenerating = st.IsGenerating || f.generating
	f.state = st
	f.mu.Unlock()
	f.endRefresh(st)
	done = true

	refreshesTotal.WithLabelValues(st.result()).Inc()
	refreshDuration.Observe(dur.Seconds())
	f.logger.Debug("database refreshed",
		"path", f.cfg.DatabasePath, "status", st.Status, "reason", st.Reason(), "duration", dur)
	f.record(st, dur)

	if prev.IsValid() != st.IsValid() {
		f.dropCurrent()
		f.newDB.fire()
	}
	f.changed.fire()
	return st.clone()
}

// scan runs the disk checks under the shared throttle.
func (f *Factory) scan() FreshnessState {
	ctx := context.Background()
	if err := f.throttle.Acquire(ctx, 1); err != nil {
		return FreshnessState{Status: StatusError, LastError: err.Error(), CheckedAt: time.Now()}
	}
	defer f.throttle.Release(1)
	return checkDatabase(ctx, f.cfg.DatabasePath, f.cfg.ExpectedVersion, f.version, f.enum)
}

// endRefresh leaves the running phase with st as the state and wakes every
// waiter.
func (f *Factory) endRefresh(st FreshnessState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
	f.refreshing = false
	f.gen++
	f.cond.Broadcast()
}

func (f *Factory) record(st FreshnessState, dur time.Duration) {
	if f.ledger == nil {
		return
	}
	rec := &store.DatabaseRecord{
		Path:            f.cfg.DatabasePath,
		InterpreterID:   f.cfg.InterpreterID,
		LanguageVersion: f.version.String(),
		IsValid:         st.IsValid(),
		IsGenerating:    st.IsGenerating,
		LastError:       st.LastError,
		CheckedAt:       st.CheckedAt,
	}
	if st.MissingModules != nil {
		n := len(st.MissingModules)
		rec.MissingCount = &n
	}
	if _, err := f.ledger.RecordState(rec, st.MissingModules, st.result(), dur); err != nil {
		f.logger.Warn("failed to record refresh", "path", f.cfg.DatabasePath, "error", err)
	}
}

// setGenerating updates the generating flag and notifies listeners.
func (f *Factory) setGenerating(on bool) {
	f.mu.Lock()
	f.generating = on
	f.state.IsGenerating = on
	f.mu.Unlock()
	f.changed.fire()
}

// NotifyCorruptDatabase marks the analyzed database invalid and drops the
// loaded instance so the next GetCurrentDatabase reads from disk again.
func (f *Factory) NotifyCorruptDatabase() {
	f.mu.Lock()
	f.state.Status = StatusStale
	f.state.MissingModules = nil
	f.state.CheckedAt = time.Now()
	f.mu.Unlock()

	f.logger.Warn("database reported corrupt", "path", f.cfg.DatabasePath)
	f.dropCurrent()
	f.changed.fire()
	f.newDB.fire()
}

// ---------------------------------------------------------------------------
// Databases
// ---------------------------------------------------------------------------

// GetCurrentDatabase returns the analyzed database when it is valid and the
// default database otherwise. It returns nil when neither is available.
func (f *Factory) GetCurrentDatabase() (*Database, error) {
	if !f.IsCurrent() {
		return f.defaultDatabase()
	}

	f.dbMu.Lock()
	defer f.dbMu.Unlock()
	if f.current != nil {
		return f.current, nil
	}
	db, err := NewDatabase(f.databaseConfig(false), f.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("typedb: load database: %w", err)
	}
	f.current = db
	f.unsubCorrupt = db.OnCorrupt(f.NotifyCorruptDatabase)
	return db, nil
}

func (f *Factory) defaultDatabase() (*Database, error) {
	f.dbMu.Lock()
	defer f.dbMu.Unlock()
	if f.defaultDB != nil || len(f.cfg.BaselinePaths) == 0 {
		return f.defaultDB, nil
	}
	db, err := NewDatabase(f.databaseConfig(true), f.cfg.BaselinePaths...)
	if err != nil {
		return nil, fmt.Errorf("typedb: load default database: %w", err)
	}
	f.defaultDB = db
	return db, nil
}

func (f *Factory) databaseConfig(isDefault bool) DatabaseConfig {
	return DatabaseConfig{
		Version:   f.version,
		IsDefault: isDefault,
		Workers:   f.cfg.Workers,
		Logger:    f.logger,
	}
}

func (f *Factory) dropCurrent() {
	f.dbMu.Lock()
	defer f.dbMu.Unlock()
	if f.unsubCorrupt != nil {
		f.unsubCorrupt()
		f.unsubCorrupt = nil
	}
	f.current = nil
}

// Close stops the watchers and drops the loaded database.
func (f *Factory) Close() error {
	f.StopWatching()
	f.dropCurrent()
	return nil
}

package typedb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts filesystem watchers on the database directory and its parent.
// Changes to the version or pid marker, and the directory appearing or
// disappearing, trigger a debounced background refresh. Calling Watch while
// already watching is a no-op.
func (f *Factory) Watch() error {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()
	if f.watcher != nil {
		return nil
	}
	w, err := newDirWatcher(f.cfg.DatabasePath, f.cfg.WatchDebounce, f.logger, func() {
		f.RefreshIsCurrent()
	})
	if err != nil {
		return err
	}
	f.watcher = w
	go w.run()
	return nil
}

// StopWatching stops the watchers started by Watch.
func (f *Factory) StopWatching() {
	f.watchMu.Lock()
	w := f.watcher
	f.watcher = nil
	f.watchMu.Unlock()
	if w != nil {
		w.close()
	}
}

// dirWatcher watches one database directory. The parent is watched so the
// directory can be deleted and re-created.
type dirWatcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	debounce time.Duration
	refresh  func()
	logger   *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
	exited chan struct{}
}

func newDirWatcher(dir string, debounce time.Duration, logger *slog.Logger, refresh func()) (*dirWatcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("typedb: watch: resolve %s: %w", dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("typedb: watch: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("typedb: watch: add %s: %w", filepath.Dir(abs), err)
	}
	w := &dirWatcher{
		fsw:      fsw,
		dir:      abs,
		debounce: debounce,
		refresh:  refresh,
		logger:   logger,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	w.rewatch()
	return w, nil
}

// rewatch re-creates the watch on the database directory. The directory may
// have vanished since the event fired; a failed add is logged and the parent
// watch picks it up when it reappears.
func (w *dirWatcher) rewatch() {
	_ = w.fsw.Remove(w.dir)
	info, err := os.Stat(w.dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(w.dir); err != nil {
		w.logger.Debug("database directory watch not re-created", "dir", w.dir, "error", err)
	}
}

func (w *dirWatcher) run() {
	defer close(w.exited)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("database watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *dirWatcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	switch {
	case name == w.dir:
		if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			w.rewatch()
			w.schedule()
		}
	case filepath.Dir(name) == w.dir:
		if base := filepath.Base(name); base == VersionFileName || base == PIDFileName {
			w.schedule()
		}
	}
}

// schedule (re)starts the debounce timer.
func (w *dirWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.fire)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *dirWatcher) fire() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.refresh()
	}
}

func (w *dirWatcher) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	<-w.exited
	if err := w.fsw.Close(); err != nil {
		w.logger.Debug("close fsnotify watcher", "error", err)
	}
}

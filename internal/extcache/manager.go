// Package extcache maintains the cross-process registry of scraped extension
// module caches.
//
// The registry is a single line-oriented file shared by every process that
// uses the same cache directory. Every read-modify-write cycle holds an
// exclusive lock on the whole file.
package extcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jward/typedb/internal/filelock"
)

// RegistryName is the registry file name inside the cache directory.
const RegistryName = "extensions.registry"

const (
	defaultAttempts = 50
	defaultBackoff  = 10 * time.Millisecond
)

// ErrRegistryLocked is returned when the registry lock could not be taken
// within the configured number of attempts.
var ErrRegistryLocked = errors.New("extcache: registry is locked by another process")

// ScrapeFunc produces a cache file for the extension at extensionPath,
// writing it to outputPath.
type ScrapeFunc func(ctx context.Context, extensionPath, outputPath string) error

// Config configures a Manager.
type Config struct {
	// Dir holds the registry and the generated cache files.
	Dir    string
	Scrape ScrapeFunc
	Logger *slog.Logger
	// Attempts bounds lock acquisition. Zero means 50.
	Attempts int
	// Backoff is the base delay between lock attempts; attempt n waits n
	// times this long. Zero means 10ms.
	Backoff time.Duration
}

// Result is the outcome of GetOrCreate.
type Result struct {
	// Path is the cache file for the extension.
	Path string
	// Hit is true when the registry already had a fresh entry.
	Hit bool
}

// Manager looks up and creates extension cache files.
type Manager struct {
	cfg    Config
	locker filelock.Locker
}

// NewManager validates cfg and creates the cache directory.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("extcache: cache directory is required")
	}
	if cfg.Scrape == nil {
		return nil, errors.New("extcache: scrape function is required")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("extcache: create %s: %w", cfg.Dir, err)
	}
	return &Manager{cfg: cfg, locker: filelock.New()}, nil
}

// RegistryPath returns the registry file path.
func (m *Manager) RegistryPath() string {
	return filepath.Join(m.cfg.Dir, RegistryName)
}

// GetOrCreate returns the cache file for extensionPath under the given
// interpreter, scraping a new one when the registry has no fresh entry.
// ctx is honored before the registry is opened and while waiting for the
// scraper.
func (m *Manager) GetOrCreate(ctx context.Context, extensionPath, interpreterID, interpreterVersion string) (Result, error) {
	abs, err := filepath.Abs(extensionPath)
	if err != nil {
		return Result{}, fmt.Errorf("extcache: resolve %s: %w", extensionPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Result{}, fmt.Errorf("extcache: stat extension: %w", err)
	}
	want := Entry{
		Filename:           abs,
		InterpreterID:      interpreterID,
		InterpreterVersion: interpreterVersion,
		ModTime:            info.ModTime().UTC(),
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	f, err := m.openLocked()
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	defer m.locker.Unlock(f)

	data, err := io.ReadAll(f)
	if err != nil {
		return Result{}, fmt.Errorf("extcache: read registry: %w", err)
	}
	entries, malformed := parseRegistry(string(data))
	if len(malformed) > 0 {
		m.cfg.Logger.Warn("dropping malformed registry lines", "count", len(malformed))
	}

	var kept []Entry
	for _, e := range entries {
		if !e.sameKey(want) {
			kept = append(kept, e)
			continue
		}
		if e.ModTime.Equal(want.ModTime) && fileExists(e.DBFile) {
			return Result{Path: e.DBFile, Hit: true}, nil
		}
		m.cfg.Logger.Debug("dropping stale extension entry", "extension", e.Filename, "db", e.DBFile)
		if e.DBFile != "" {
			os.Remove(e.DBFile)
		}
	}

	want.DBFile = filepath.Join(m.cfg.Dir, outputName(abs))
	if err := m.cfg.Scrape(ctx, abs, want.DBFile); err != nil {
		return Result{}, fmt.Errorf("extcache: scrape %s: %w", abs, err)
	}
	if !fileExists(want.DBFile) {
		return Result{}, fmt.Errorf("extcache: scrape %s produced no cache file", abs)
	}
	kept = append(kept, want)

	if err := rewrite(f, formatRegistry(kept)); err != nil {
		return Result{}, err
	}
	return Result{Path: want.DBFile}, nil
}

// Entries returns the registry's well-formed lines.
func (m *Manager) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := m.openLocked()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer m.locker.Unlock(f)

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("extcache: read registry: %w", err)
	}
	entries, _ := parseRegistry(string(data))
	return entries, nil
}

// openLocked opens the registry and takes its exclusive lock, retrying with
// linear backoff while another holder has it.
func (m *Manager) openLocked() (*os.File, error) {
	path := m.RegistryPath()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("extcache: open registry: %w", err)
	}
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		err = m.locker.Lock(f)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, filelock.ErrFileLocked) {
			f.Close()
			return nil, fmt.Errorf("extcache: lock registry: %w", err)
		}
		if attempt < m.cfg.Attempts {
			time.Sleep(time.Duration(attempt) * m.cfg.Backoff)
		}
	}
	f.Close()
	return nil, ErrRegistryLocked
}

func rewrite(f *os.File, content string) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("extcache: truncate registry: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("extcache: seek registry: %w", err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		return fmt.Errorf("extcache: write registry: %w", err)
	}
	return f.Sync()
}

func outputName(extensionPath string) string {
	base := filepath.Base(extensionPath)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base + "_" + uuid.NewString()[:8] + ".idb"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// CommandScraper returns a ScrapeFunc that runs analyzer with args followed
// by --extension and --output flags. Cancelling ctx stops the wait but leaves
// the process running.
func CommandScraper(analyzer string, args ...string) ScrapeFunc {
	return func(ctx context.Context, extensionPath, outputPath string) error {
		argv := append(append([]string(nil), args...),
			"--extension", extensionPath,
			"--output", outputPath)
		cmd := exec.Command(analyzer, argv...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", analyzer, err)
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err != nil {
				if msg := strings.TrimSpace(stderr.String()); msg != "" {
					return fmt.Errorf("%w: %s", err, msg)
				}
				return err
			}
			return nil
		}
	}
}

package typedb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/typedb/internal/extcache"
)

// ErrExtensionsDisabled is returned when no extension cache directory or
// scraper is configured.
var ErrExtensionsDisabled = errors.New("typedb: extension modules are not configured")

// ErrNoDatabase is returned when neither the analyzed nor a default database
// is available.
var ErrNoDatabase = errors.New("typedb: no database available")

// LoadExtensionModule returns a clone of the current database with the
// extension at extensionPath available as moduleName. The extension is
// scraped on first use and cached across processes.
func (f *Factory) LoadExtensionModule(ctx context.Context, moduleName, extensionPath string) (*Database, error) {
	m, err := f.extensionManager()
	if err != nil {
		return nil, err
	}
	res, err := m.GetOrCreate(ctx, extensionPath, f.cfg.InterpreterID, f.version.String())
	if err != nil {
		return nil, fmt.Errorf("typedb: extension %s: %w", moduleName, err)
	}
	if res.Hit {
		extensionLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		extensionLookupsTotal.WithLabelValues("miss").Inc()
	}

	db, err := f.GetCurrentDatabase()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, ErrNoDatabase
	}
	return db.WithExtensionModule(moduleName, res.Path)
}

// ExtensionEntries lists the extension registry.
func (f *Factory) ExtensionEntries(ctx context.Context) ([]extcache.Entry, error) {
	m, err := f.extensionManager()
	if err != nil {
		return nil, err
	}
	return m.Entries(ctx)
}

func (f *Factory) extensionManager() (*extcache.Manager, error) {
	f.extMu.Lock()
	defer f.extMu.Unlock()
	if f.ext != nil {
		return f.ext, nil
	}
	scrape := f.scraper
	if scrape == nil && f.cfg.AnalyzerPath != "" {
		scrape = extcache.CommandScraper(f.cfg.AnalyzerPath,
			"--scrape",
			"--interpreter", f.cfg.InterpreterPath,
			"--version", f.version.String())
	}
	if f.cfg.ExtensionCacheDir == "" || scrape == nil {
		return nil, ErrExtensionsDisabled
	}
	m, err := extcache.NewManager(extcache.Config{
		Dir:    f.cfg.ExtensionCacheDir,
		Scrape: scrape,
		Logger: f.logger,
	})
	if err != nil {
		return nil, err
	}
	f.ext = m
	return m, nil
}

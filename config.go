package typedb

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// CurrentDatabaseVersion is the database.ver value this engine can load.
const CurrentDatabaseVersion = 24

// File names inside a database directory.
const (
	VersionFileName     = "database.ver"
	PIDFileName         = "database.pid"
	AnalysisLogFileName = "AnalysisLog.txt"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Config describes one interpreter and where its type database lives.
type Config struct {
	// InterpreterID identifies the interpreter in logs, the ledger and the
	// extension registry.
	InterpreterID string `mapstructure:"interpreter_id"`
	// LanguageVersion is the MAJOR.MINOR version the database models.
	LanguageVersion string `mapstructure:"language_version"`
	// InterpreterPath is the interpreter executable handed to the analyzer.
	InterpreterPath string `mapstructure:"interpreter_path"`
	// LibraryPath is the standard library directory whose modules the
	// database is expected to cover.
	LibraryPath string `mapstructure:"library_path"`
	// DatabasePath is the analyzed database directory.
	DatabasePath string `mapstructure:"database_path"`
	// BaselinePaths are the directories of the default database served
	// while the analyzed one is not current.
	BaselinePaths []string `mapstructure:"baseline_paths"`
	// ExpectedVersion is the database.ver value that marks a loadable
	// database. Zero means CurrentDatabaseVersion.
	ExpectedVersion int `mapstructure:"expected_version"`
	// WatchDebounce delays watcher-driven refreshes.
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
	// AnalyzerPath is the external analyzer executable. Empty disables
	// regeneration and extension scraping.
	AnalyzerPath string `mapstructure:"analyzer_path"`
	// GlobalLogPath receives one line per failed regeneration.
	GlobalLogPath string `mapstructure:"global_log_path"`
	// ExtensionCacheDir holds the extension registry and scraped modules.
	ExtensionCacheDir string `mapstructure:"extension_cache_dir"`
	// EnumerationScript is a Risor script computing the expected module
	// list. Empty means walk LibraryPath.
	EnumerationScript string `mapstructure:"enumeration_script"`
	// Workers bounds parallel cache file parsing. Zero means NumCPU.
	Workers int `mapstructure:"workers"`
}

// DefaultConfig returns a Config with every optional field at its default.
func DefaultConfig() Config {
	return Config{
		LanguageVersion: "3.7",
		ExpectedVersion: CurrentDatabaseVersion,
		WatchDebounce:   defaultWatchDebounce,
	}
}

// Validate checks the fields a Factory cannot work without.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("typedb: config: database_path is required")
	}
	if _, err := ParseLanguageVersion(c.LanguageVersion); err != nil {
		return fmt.Errorf("typedb: config: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ExpectedVersion == 0 {
		c.ExpectedVersion = CurrentDatabaseVersion
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = defaultWatchDebounce
	}
	if c.GlobalLogPath == "" && c.DatabasePath != "" {
		c.GlobalLogPath = filepath.Join(filepath.Dir(filepath.Clean(c.DatabasePath)), AnalysisLogFileName)
	}
	return c
}

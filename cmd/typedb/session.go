package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/typedb"
	"github.com/jward/typedb/internal/runtime"
	"github.com/jward/typedb/internal/store"
	"github.com/jward/typedb/scripts"
)

// session holds what one command invocation opened.
type session struct {
	cfg     cliConfig
	factory *typedb.Factory
	ledger  *store.Store
}

// openSession loads the configuration and creates the factory. The ledger
// is opened only when withLedger is set.
func openSession(cmd *cobra.Command, withLedger bool) (*session, error) {
	cfg, err := loadConfig(flagConfig, cmd.Root().PersistentFlags())
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}

	opts := []typedb.Option{typedb.WithLogger(logger)}
	// Without a configured script, enumerate with the embedded one.
	if cfg.EnumerationScript == "" && cfg.LibraryPath != "" {
		opts = append(opts, typedb.WithEnumerator(embeddedEnumerator(cfg.Config)))
	}
	if withLedger && cfg.LedgerPath != "" {
		if s.ledger, err = openLedger(cfg.LedgerPath); err != nil {
			return nil, err
		}
		opts = append(opts, typedb.WithLedger(s.ledger))
	}

	s.factory, err = typedb.NewFactory(cfg.Config, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func embeddedEnumerator(cfg typedb.Config) typedb.ScriptEnumerator {
	return typedb.ScriptEnumerator{
		Runtime: runtime.NewRuntime("",
			runtime.WithRuntimeFS(scripts.FS),
			runtime.WithModuleLister(typedb.ListLibraryModules),
			runtime.WithLogger(logger)),
		Script: scripts.StdlibEnumeration,
		Env: runtime.Env{
			LibraryPath:     cfg.LibraryPath,
			LanguageVersion: cfg.LanguageVersion,
		},
	}
}

// openLedger opens and migrates the scan ledger at path.
func openLedger(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	s, err := store.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	return s, nil
}

func (s *session) Close() {
	if s.factory != nil {
		s.factory.Close()
	}
	if s.ledger != nil {
		s.ledger.Close()
	}
}

// currentDatabase refreshes the factory and returns the database it serves.
func (s *session) currentDatabase() (*typedb.Database, error) {
	s.factory.RefreshIsCurrent()
	db, err := s.factory.GetCurrentDatabase()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("no database available: %s", s.factory.Reason())
	}
	return db, nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig      string
	flagFormat      string
	flagVerbose     bool
	flagDB          string
	flagVersion     string
	flagInterpreter string
	flagLibrary     string
	flagAnalyzer    string
	flagLedger      string
	flagExtCache    string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// logger is installed by the root command before any subcommand runs.
var logger = slog.New(slog.DiscardHandler)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "typedb",
	Short:         "Inspect and maintain analyzed type databases",
	Long:          "typedb checks whether an interpreter's analyzed type database is up to date, regenerates it, and looks up the types it describes.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		logger = newLogger(flagVerbose)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default: ./typedb.yaml when present)")
	pf.StringVar(&flagFormat, "format", "json", "output format: json|text")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log debug output to stderr")
	pf.StringVar(&flagDB, "db", "", "analyzed database directory")
	pf.StringVar(&flagVersion, "language-version", "", "language version the database models (e.g. 3.7)")
	pf.StringVar(&flagInterpreter, "interpreter", "", "interpreter executable")
	pf.StringVar(&flagLibrary, "library", "", "standard library directory")
	pf.StringVar(&flagAnalyzer, "analyzer", "", "analyzer executable")
	pf.StringVar(&flagExtCache, "ext-cache", "", "extension cache directory")
	pf.StringVar(&flagLedger, "ledger", "", "scan ledger SQLite file (default: typedb.ledger next to the database)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(extCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(logCmd)
}

// newLogger returns a slog logger writing through charmbracelet/log to
// stderr. Warnings and errors are always shown; --verbose adds debug output.
func newLogger(verbose bool) *slog.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "typedb",
		ReportTimestamp: verbose,
		Level:           log.WarnLevel,
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	return slog.New(l)
}

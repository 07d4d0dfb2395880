package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/typedb/internal/store"
)

var (
	flagAll   bool
	flagScans int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show recorded freshness results",
	Long:  "Lists the scan ledger entries for the configured interpreter, or for every interpreter with --all, with their recent scan history.",
	Args:  cobra.NoArgs,
	RunE:  runLedger,
}

func init() {
	ledgerCmd.Flags().BoolVar(&flagAll, "all", false, "include every interpreter")
	ledgerCmd.Flags().IntVar(&flagScans, "scans", 5, "recent scans to show per database (0 for none)")
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig, cmd.Root().PersistentFlags())
	if err != nil {
		return outputError("ledger", err)
	}
	if cfg.LedgerPath == "" {
		return outputError("ledger", fmt.Errorf("no ledger configured: set --ledger or --db"))
	}
	s, err := openLedger(cfg.LedgerPath)
	if err != nil {
		return outputError("ledger", err)
	}
	defer s.Close()

	interp := cfg.InterpreterID
	if flagAll {
		interp = ""
	}
	entries, err := ledgerEntries(s, interp, flagScans)
	if err != nil {
		return outputError("ledger", err)
	}
	return outputResult(cmd, CLIResult{Command: "ledger", Results: entries})
}

func ledgerEntries(s *store.Store, interpreterID string, scans int) ([]CLILedgerEntry, error) {
	recs, err := s.Databases(interpreterID)
	if err != nil {
		return nil, err
	}
	out := make([]CLILedgerEntry, 0, len(recs))
	for _, rec := range recs {
		e := CLILedgerEntry{
			Path:          rec.Path,
			InterpreterID: rec.InterpreterID,
			Version:       rec.LanguageVersion,
			IsValid:       rec.IsValid,
			IsGenerating:  rec.IsGenerating,
			MissingCount:  rec.MissingCount,
			LastError:     rec.LastError,
			CheckedAt:     rec.CheckedAt,
		}
		if e.MissingModules, err = s.MissingModules(rec.Path); err != nil {
			return nil, err
		}
		if scans > 0 {
			history, err := s.Scans(rec.Path, scans)
			if err != nil {
				return nil, err
			}
			for _, sc := range history {
				e.Scans = append(e.Scans, CLIScan{
					Result:     sc.Result,
					DurationMS: sc.Duration.Milliseconds(),
					CheckedAt:  sc.CheckedAt,
				})
			}
		}
		out = append(out, e)
	}
	return out, nil
}

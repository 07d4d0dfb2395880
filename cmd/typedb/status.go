package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jward/typedb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the analyzed database is up to date",
	Long:  "Scans the database directory once and reports its freshness. The result is recorded in the scan ledger.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, true)
		if err != nil {
			return outputError("status", err)
		}
		defer s.Close()

		st := s.factory.RefreshIsCurrent()
		return outputResult(cmd, CLIResult{Command: "status", Results: statusToCLI(s.factory, st)})
	},
}

var flagWatch bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the freshness state, optionally watching for changes",
	Long:  "Refreshes once. With --watch, keeps watching the database directory and prints every new state until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&flagWatch, "watch", false, "watch the database directory until interrupted")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return outputError("refresh", err)
	}
	defer s.Close()

	if !flagWatch {
		st := s.factory.RefreshIsCurrent()
		return outputResult(cmd, CLIResult{Command: "refresh", Results: statusToCLI(s.factory, st)})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed := make(chan struct{}, 1)
	unsubscribe := s.factory.OnIsCurrentChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if err := s.factory.Watch(); err != nil {
		return outputError("refresh", err)
	}
	s.factory.RefreshIsCurrent()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			st := s.factory.State()
			if st.IsCheckingDatabase() {
				continue
			}
			if err := outputResult(cmd, CLIResult{Command: "refresh", Results: statusToCLI(s.factory, st)}); err != nil {
				return err
			}
		}
	}
}

func statusToCLI(f *typedb.Factory, st typedb.FreshnessState) CLIStatus {
	cfg := f.Config()
	return CLIStatus{
		Path:           cfg.DatabasePath,
		InterpreterID:  cfg.InterpreterID,
		Version:        f.Version().String(),
		Status:         st.Status.String(),
		IsCurrent:      st.IsValid(),
		IsGenerating:   st.IsGenerating,
		Reason:         st.Reason(),
		MissingModules: st.MissingModules,
		LastError:      st.LastError,
		CheckedAt:      st.CheckedAt,
	}
}

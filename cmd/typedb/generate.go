package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jward/typedb"
)

var (
	flagSkipUnchanged bool
	flagInputs        []string
	flagToken         string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Regenerate the analyzed database with the analyzer",
	Long:  "Runs the analyzer to rebuild the database directory, waits for it to exit, and reports the exit code and the refreshed state.",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&flagSkipUnchanged, "skip-unchanged", false, "keep modules whose sources are unchanged")
	generateCmd.Flags().StringSliceVar(&flagInputs, "input", nil, "additional database directory the analyzer may read (repeatable)")
	generateCmd.Flags().StringVar(&flagToken, "token", "", "wait token passed to the analyzer (default: random)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return outputError("generate", err)
	}
	defer s.Close()

	exited := make(chan int, 1)
	token := s.factory.GenerateDatabase(typedb.GenerateRequest{
		SkipUnchanged: flagSkipUnchanged,
		ExtraInputs:   flagInputs,
		WaitToken:     flagToken,
	}, func(code int) { exited <- code })

	var code int
	select {
	case code = <-exited:
	case <-cmd.Context().Done():
		return outputError("generate", cmd.Context().Err())
	}

	result := CLIGenerate{
		Token:    token,
		ExitCode: code,
		Status:   statusToCLI(s.factory, s.factory.State()),
	}
	if code != 0 {
		errorHandled = true
		_ = outputResult(cmd, CLIResult{Command: "generate", Results: result, Error: exitMessage(code)})
		return errors.New(exitMessage(code))
	}
	return outputResult(cmd, CLIResult{Command: "generate", Results: result})
}

func exitMessage(code int) string {
	switch code {
	case typedb.ExitInvalidArgument:
		return "analyzer rejected the arguments (interpreter and library paths are required)"
	case typedb.ExitInvalidOperation:
		return "analyzer could not run"
	case typedb.ExitAlreadyGenerating:
		return "database is already being regenerated"
	case typedb.ExitNotSupported:
		return "no analyzer configured"
	}
	return fmt.Sprintf("analyzer exited with code %d", code)
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the analyzer's log for the database directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, false)
		if err != nil {
			return outputError("log", err)
		}
		defer s.Close()

		text := s.factory.AnalysisLog()
		if flagFormat == "text" {
			_, err := io.WriteString(cmd.OutOrStdout(), text)
			return err
		}
		return outputResult(cmd, CLIResult{Command: "log", Results: text})
	},
}

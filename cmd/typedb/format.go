package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// outputResult writes a CLIResult to the command's output in the selected
// format.
func outputResult(cmd *cobra.Command, result CLIResult) error {
	w := cmd.OutOrStdout()
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIStatus:
		formatStatusText(w, v)
	case []CLIModule:
		formatModulesText(w, v)
	case CLIMember:
		formatMemberText(w, v)
	case []CLILedgerEntry:
		formatLedgerText(w, v)
	case []CLIExtension:
		formatExtensionsText(w, v)
	case CLIGenerate:
		fmt.Fprintf(w, "Token: %s\nExit code: %d\n", v.Token, v.ExitCode)
		formatStatusText(w, v.Status)
	case string:
		fmt.Fprint(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", result.Error)
	}
	return nil
}

func formatStatusText(w io.Writer, st CLIStatus) {
	fmt.Fprintf(w, "Database: %s\n", st.Path)
	fmt.Fprintf(w, "Interpreter: %s (%s)\n", st.InterpreterID, st.Version)
	fmt.Fprintf(w, "Status: %s\n", st.Status)
	fmt.Fprintf(w, "Reason: %s\n", st.Reason)
	if len(st.MissingModules) > 0 {
		fmt.Fprintln(w, "Missing modules:")
		for _, m := range st.MissingModules {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
}

func formatModulesText(w io.Writer, mods []CLIModule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tMEMBERS")
	for _, m := range mods {
		count := "-"
		if m.MemberCount != nil {
			count = fmt.Sprint(*m.MemberCount)
		}
		fmt.Fprintf(tw, "%s\t%s\n", m.Name, count)
	}
	tw.Flush()
}

func formatMemberText(w io.Writer, m CLIMember) {
	fmt.Fprintf(w, "%s (%s)\n", m.Path, m.Kind)
	if m.Type != "" {
		fmt.Fprintf(w, "Type: %s\n", m.Type)
	}
	if len(m.Bases) > 0 {
		fmt.Fprintf(w, "Bases: %s\n", strings.Join(m.Bases, ", "))
	}
	for _, sig := range m.Signatures {
		fmt.Fprintf(w, "  %s\n", sig)
	}
	if m.Doc != "" {
		fmt.Fprintf(w, "\n%s\n", m.Doc)
	}
	if len(m.Members) > 0 {
		fmt.Fprintln(w, "\nMembers:")
		for _, name := range m.Members {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}

func formatLedgerText(w io.Writer, entries []CLILedgerEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tINTERPRETER\tVALID\tMISSING\tCHECKED")
	for _, e := range entries {
		missing := "?"
		if e.MissingCount != nil {
			missing = fmt.Sprint(*e.MissingCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			e.Path, e.InterpreterID, e.IsValid, missing, e.CheckedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func formatExtensionsText(w io.Writer, exts []CLIExtension) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXTENSION\tINTERPRETER\tVERSION\tCACHE")
	for _, e := range exts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Filename, e.InterpreterID, e.InterpreterVersion, e.DBFile)
	}
	tw.Flush()
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}

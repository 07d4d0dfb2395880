package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
)

var extCmd = &cobra.Command{
	Use:   "ext",
	Short: "Work with the extension module cache",
}

func init() {
	extCmd.AddCommand(extLoadCmd)
	extCmd.AddCommand(extListCmd)
}

var extLoadCmd = &cobra.Command{
	Use:   "load <module> <extension-file>",
	Short: "Scrape an extension module, or reuse the cached scrape, and describe it",
	Args:  cobra.ExactArgs(2),
	RunE:  runExtLoad,
}

var extListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the extension registry",
	Args:  cobra.NoArgs,
	RunE:  runExtList,
}

func runExtLoad(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return outputError("ext load", err)
	}
	defer s.Close()

	ext, err := filepath.Abs(args[1])
	if err != nil {
		return outputError("ext load", err)
	}
	s.factory.RefreshIsCurrent()
	db, err := s.factory.LoadExtensionModule(cmd.Context(), args[0], ext)
	if err != nil {
		return outputError("ext load", err)
	}
	defer db.Close()
	mod, err := db.RequireModule(args[0])
	if err != nil {
		return outputError("ext load", err)
	}
	return outputResult(cmd, CLIResult{Command: "ext load", Results: describeMember(args[0], mod)})
}

func runExtList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return outputError("ext list", err)
	}
	defer s.Close()

	entries, err := s.factory.ExtensionEntries(cmd.Context())
	if err != nil {
		return outputError("ext list", err)
	}
	out := make([]CLIExtension, len(entries))
	for i, e := range entries {
		out[i] = CLIExtension{
			Filename:           e.Filename,
			InterpreterID:      e.InterpreterID,
			InterpreterVersion: e.InterpreterVersion,
			ModTime:            e.ModTime,
			DBFile:             e.DBFile,
		}
	}
	return outputResult(cmd, CLIResult{Command: "ext list", Results: out})
}

package main

import "time"

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIStatus is a JSON-friendly freshness state.
type CLIStatus struct {
	Path           string    `json:"path"`
	InterpreterID  string    `json:"interpreter_id"`
	Version        string    `json:"language_version"`
	Status         string    `json:"status"`
	IsCurrent      bool      `json:"is_current"`
	IsGenerating   bool      `json:"is_generating"`
	Reason         string    `json:"reason"`
	MissingModules []string  `json:"missing_modules,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// CLIModule is a module of the served database.
type CLIModule struct {
	Name        string `json:"name"`
	Builtin     bool   `json:"builtin,omitempty"`
	MemberCount *int   `json:"member_count,omitempty"`
}

// CLIMember describes one resolved member.
type CLIMember struct {
	Path    string   `json:"path"`
	Kind    string   `json:"kind"`
	Doc     string   `json:"doc,omitempty"`
	Type    string   `json:"type,omitempty"`
	Bases   []string `json:"bases,omitempty"`
	// Signatures lists a function's overloads.
	Signatures []string `json:"signatures,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// CLILedgerEntry is one database row of the scan ledger.
type CLILedgerEntry struct {
	Path           string    `json:"path"`
	InterpreterID  string    `json:"interpreter_id"`
	Version        string    `json:"language_version"`
	IsValid        bool      `json:"is_valid"`
	IsGenerating   bool      `json:"is_generating"`
	MissingCount   *int      `json:"missing_count,omitempty"`
	MissingModules []string  `json:"missing_modules,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
	Scans          []CLIScan `json:"scans,omitempty"`
}

// CLIScan is one refresh in the ledger history.
type CLIScan struct {
	Result     string    `json:"result"`
	DurationMS int64     `json:"duration_ms"`
	CheckedAt  time.Time `json:"checked_at"`
}

// CLIExtension is one extension registry entry.
type CLIExtension struct {
	Filename           string    `json:"filename"`
	InterpreterID      string    `json:"interpreter_id"`
	InterpreterVersion string    `json:"interpreter_version"`
	ModTime            time.Time `json:"mod_time"`
	DBFile             string    `json:"db_file"`
}

// CLIGenerate is the outcome of a regeneration.
type CLIGenerate struct {
	Token    string    `json:"token"`
	ExitCode int       `json:"exit_code"`
	Status   CLIStatus `json:"status"`
}

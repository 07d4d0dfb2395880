package store

import "time"

// DatabaseRecord is the latest freshness result for one database directory.
type DatabaseRecord struct {
	ID              int64
	Path            string
	InterpreterID   string
	LanguageVersion string
	IsValid         bool
	IsGenerating    bool
	// MissingCount is nil when the missing set is unknown.
	MissingCount *int
	LastError    string
	CheckedAt    time.Time
}

// Scan is one entry of a database directory's refresh history.
type Scan struct {
	ID         int64
	DatabaseID int64
	// Result is one of valid, stale, generating or error.
	Result    string
	Duration  time.Duration
	CheckedAt time.Time
}

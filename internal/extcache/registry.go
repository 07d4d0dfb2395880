package extcache

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one registry line:
//
//	filename|interpreterId|interpreterVersion|ISO8601|dbFile
type Entry struct {
	Filename           string
	InterpreterID      string
	InterpreterVersion string
	// ModTime is the extension file's last write time when it was scraped.
	ModTime time.Time
	DBFile  string
}

const fieldSep = "|"

// ParseEntry parses one registry line.
func ParseEntry(line string) (Entry, error) {
	fields := strings.Split(strings.TrimRight(line, "\r"), fieldSep)
	if len(fields) != 5 {
		return Entry{}, fmt.Errorf("extcache: malformed registry line %q", line)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[3])
	if err != nil {
		return Entry{}, fmt.Errorf("extcache: registry line timestamp: %w", err)
	}
	return Entry{
		Filename:           fields[0],
		InterpreterID:      fields[1],
		InterpreterVersion: fields[2],
		ModTime:            ts,
		DBFile:             fields[4],
	}, nil
}

// String formats e as a registry line without the trailing newline.
func (e Entry) String() string {
	return strings.Join([]string{
		e.Filename,
		e.InterpreterID,
		e.InterpreterVersion,
		e.ModTime.UTC().Format(time.RFC3339Nano),
		e.DBFile,
	}, fieldSep)
}

// sameKey reports whether e describes the same extension for the same
// interpreter as o, regardless of freshness.
func (e Entry) sameKey(o Entry) bool {
	return e.Filename == o.Filename &&
		e.InterpreterID == o.InterpreterID &&
		e.InterpreterVersion == o.InterpreterVersion
}

// parseRegistry splits registry content into entries. Malformed lines are
// returned separately so the caller can drop them on rewrite.
func parseRegistry(data string) (entries []Entry, malformed []string) {
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := ParseEntry(line)
		if err != nil {
			malformed = append(malformed, line)
			continue
		}
		entries = append(entries, e)
	}
	return entries, malformed
}

func formatRegistry(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

package typedb

import "github.com/jward/typedb/internal/langver"

// LanguageVersion is the MAJOR.MINOR version of the language a database
// models.
type LanguageVersion = langver.Version

// ParseLanguageVersion parses "3.7" style versions.
func ParseLanguageVersion(s string) (LanguageVersion, error) {
	return langver.Parse(s)
}

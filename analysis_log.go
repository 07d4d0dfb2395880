package typedb

import (
	"fmt"
	"os"
	"path/filepath"
)

// AnalysisLog returns the analyzer's log for the database directory. A read
// failure is returned as a formatted message instead of an error.
func (f *Factory) AnalysisLog() string {
	path := filepath.Join(f.cfg.DatabasePath, AnalysisLogFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error reading analysis log %s: %v", path, err)
	}
	return string(data)
}

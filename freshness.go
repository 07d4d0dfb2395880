package typedb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jward/typedb/internal/cachefile"
	"github.com/jward/typedb/internal/filelock"
)

// Status is the validity of a database directory.
type Status int

const (
	StatusUnknown Status = iota
	StatusChecking
	StatusValid
	StatusStale
	StatusError
)

var statusNames = [...]string{"unknown", "checking", "valid", "stale", "error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
	return statusNames[s]
}

// FreshnessState is the outcome of the latest freshness check.
type FreshnessState struct {
	Status Status
	// IsGenerating is set while a regeneration is running. It is
	// independent of Status.
	IsGenerating bool
	// MissingModules lists expected modules without a cache file. nil
	// means the set is unknown.
	MissingModules []string
	LastError      string
	CheckedAt      time.Time
}

// IsValid reports whether the database is current.
func (s FreshnessState) IsValid() bool { return s.Status == StatusValid }

// IsCheckingDatabase reports whether a refresh is in progress.
func (s FreshnessState) IsCheckingDatabase() bool { return s.Status == StatusChecking }

// Reason is a human-readable summary of the state.
func (s FreshnessState) Reason() string {
	switch {
	case s.IsGenerating:
		return "Currently regenerating"
	case s.LastError != "":
		return "An error occurred: " + s.LastError
	case s.Status == StatusChecking:
		return "Checking database"
	case s.Status == StatusUnknown:
		return "Database has not been checked"
	case s.Status == StatusValid:
		return "Up to date"
	case len(s.MissingModules) == 1:
		return "1 module has not been analyzed"
	case len(s.MissingModules) > 1:
		return fmt.Sprintf("%d modules have not been analyzed", len(s.MissingModules))
	default:
		return "Database is corrupt or an old version"
	}
}

// result is the ledger and metrics label for s.
func (s FreshnessState) result() string {
	switch {
	case s.IsGenerating:
		return "generating"
	case s.Status == StatusError:
		return "error"
	case s.Status == StatusValid:
		return "valid"
	default:
		return "stale"
	}
}

func (s FreshnessState) clone() FreshnessState {
	if s.MissingModules != nil {
		s.MissingModules = slices.Clone(s.MissingModules)
	}
	return s
}

// ---------------------------------------------------------------------------
// Disk checks
// ---------------------------------------------------------------------------

const (
	ioRetries    = 3
	ioRetryDelay = 10 * time.Millisecond
)

var errBadVersion = errors.New("malformed version file")

// checkDatabase computes the validity of dir:
//
//  1. a held database.pid means a regeneration is writing: stale, generating
//  2. a database.ver other than expected: stale, modules not enumerated
//  3. otherwise: stale when any expected module has no cache file
func checkDatabase(ctx context.Context, dir string, expected int, v LanguageVersion, enum ModuleEnumerator) FreshnessState {
	st := FreshnessState{CheckedAt: time.Now()}
	fail := func(err error) FreshnessState {
		st.Status = StatusError
		st.LastError = err.Error()
		return st
	}

	held, err := retryIO(func() (bool, error) {
		return filelock.IsHeld(filepath.Join(dir, PIDFileName))
	})
	if err != nil {
		return fail(err)
	}
	if held {
		st.Status = StatusStale
		st.IsGenerating = true
		return st
	}

	ver, err := retryIO(func() (int, error) { return readVersion(dir) })
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errBadVersion):
		st.Status = StatusStale
		return st
	case err != nil:
		return fail(err)
	case ver != expected:
		st.Status = StatusStale
		return st
	}

	diskScansTotal.Inc()
	present, err := retryIO(func() ([]string, error) { return presentModules(dir, v) })
	if err != nil {
		return fail(err)
	}
	want, err := expectedModules(ctx, enum, v)
	if err != nil {
		return fail(err)
	}

	have := make(map[string]bool, len(present))
	for _, name := range present {
		have[name] = true
	}
	missing := []string{}
	for _, name := range want {
		if !have[name] {
			missing = append(missing, name)
			have[name] = true
		}
	}
	slices.Sort(missing)
	st.MissingModules = missing
	if len(missing) == 0 {
		st.Status = StatusValid
	} else {
		st.Status = StatusStale
	}
	return st
}

// readVersion parses the integer in dir's version file.
func readVersion(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, VersionFileName))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadVersion, err)
	}
	return n, nil
}

// presentModules lists the module cache files in dir, including the builtin
// module when its file exists.
func presentModules(dir string, v LanguageVersion) ([]string, error) {
	names, err := cachefile.ListModules(dir)
	if err != nil {
		return nil, err
	}
	builtin := cachefile.BuiltinName(v)
	if _, err := os.Stat(filepath.Join(dir, builtin+cachefile.Extension)); err == nil {
		names = append(names, builtin)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return names, nil
}

// retryIO runs fn, retrying transient I/O failures ioRetries times.
func retryIO[T any](fn func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil || attempt == ioRetries || !isTransient(err) {
			return v, err
		}
		time.Sleep(ioRetryDelay)
	}
}

func isTransient(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, filelock.ErrFileLocked)
}

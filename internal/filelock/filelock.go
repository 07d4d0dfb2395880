// Package filelock provides non-blocking exclusive locks on open files and
// process liveness checks for marker files.
package filelock

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// ErrFileLocked is returned by Lock when another process holds the lock.
var ErrFileLocked = errors.New("filelock: file is locked by another process")

// Locker acquires and releases exclusive advisory locks on open files.
// Lock never blocks.
type Locker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// New returns the platform's Locker.
func New() Locker {
	return newPlatformLocker()
}

// IsProcessAlive reports whether a process with the given PID exists.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}

// IsHeld reports whether the marker file at path belongs to a running
// writer: either its lock is held by another process, or it names the PID
// of a live process other than the caller. A missing file is not held.
//
// The check takes a shared lock and releases it before reading the PID.
func IsHeld(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	defer f.Close()

	if err := tryLockShared(f); err != nil {
		if errors.Is(err, ErrFileLocked) {
			return true, nil
		}
		return false, fmt.Errorf("filelock: lock %s: %w", path, err)
	}
	if err := New().Unlock(f); err != nil {
		return false, fmt.Errorf("filelock: unlock %s: %w", path, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return false, fmt.Errorf("filelock: read %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// An empty or foreign marker without a holder is stale.
		return false, nil
	}
	return pid != os.Getpid() && IsProcessAlive(pid), nil
}

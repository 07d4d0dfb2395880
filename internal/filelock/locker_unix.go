//go:build unix

package filelock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// unixLocker implements Locker with flock(2). Locks belong to the open file
// description and are released when it is closed.
type unixLocker struct{}

func (unixLocker) Lock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrFileLocked
	}
	return err
}

func (unixLocker) Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// tryLockShared takes a non-blocking shared lock, which only conflicts with
// an exclusive holder.
func tryLockShared(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrFileLocked
	}
	return err
}

// isProcessAlive sends signal 0, which checks existence without affecting
// the process. EPERM means the process exists under another user.
func isProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func newPlatformLocker() Locker {
	return unixLocker{}
}

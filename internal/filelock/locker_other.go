//go:build !unix && !windows

package filelock

import "os"

// noopLocker is used where the platform offers no advisory file locks.
type noopLocker struct{}

func (noopLocker) Lock(*os.File) error   { return nil }
func (noopLocker) Unlock(*os.File) error { return nil }

func tryLockShared(*os.File) error { return nil }

func isProcessAlive(int) bool { return false }

func newPlatformLocker() Locker {
	return noopLocker{}
}

//go:build unix

package filelock

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestLock_SecondHolderIsRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry")
	a := openTemp(t, path)
	b := openTemp(t, path)

	l := New()
	require.NoError(t, l.Lock(a))
	assert.ErrorIs(t, l.Lock(b), ErrFileLocked)

	require.NoError(t, l.Unlock(a))
	require.NoError(t, l.Lock(b))
	require.NoError(t, l.Unlock(b))
}

func TestIsProcessAlive(t *testing.T) {
	t.Parallel()

	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-1))
}

func TestIsHeld(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("missing file", func(t *testing.T) {
		held, err := IsHeld(filepath.Join(dir, "absent.pid"))
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("garbage content", func(t *testing.T) {
		held, err := IsHeld(write("garbage.pid", "not a pid"))
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("own pid", func(t *testing.T) {
		held, err := IsHeld(write("own.pid", strconv.Itoa(os.Getpid())))
		require.NoError(t, err)
		assert.False(t, held)
	})

	t.Run("live pid", func(t *testing.T) {
		held, err := IsHeld(write("live.pid", strconv.Itoa(os.Getppid())+"\n"))
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("locked by another holder", func(t *testing.T) {
		path := write("locked.pid", "")
		f := openTemp(t, path)
		require.NoError(t, New().Lock(f))
		defer New().Unlock(f)

		held, err := IsHeld(path)
		require.NoError(t, err)
		assert.True(t, held)
	})
	t.Run("shared holder does not count", func(t *testing.T) {
		path := write("shared.pid", "")
		f := openTemp(t, path)
		require.NoError(t, tryLockShared(f))
		defer New().Unlock(f)

		held, err := IsHeld(path)
		require.NoError(t, err)
		assert.False(t, held)
	})
}

func TestIsHeld_LeavesNoLockBehind(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "database.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))

	held, err := IsHeld(path)
	require.NoError(t, err)
	assert.True(t, held)

	writer := openTemp(t, path)
	require.NoError(t, New().Lock(writer), "a writer must get its exclusive lock right after a check")
	require.NoError(t, New().Unlock(writer))
}

func TestTryLockShared(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry")
	a := openTemp(t, path)
	b := openTemp(t, path)
	c := openTemp(t, path)

	l := New()
	require.NoError(t, tryLockShared(a))
	require.NoError(t, tryLockShared(b), "shared locks coexist")
	assert.ErrorIs(t, l.Lock(c), ErrFileLocked)

	require.NoError(t, l.Unlock(a))
	require.NoError(t, l.Unlock(b))
	require.NoError(t, l.Lock(c))
	assert.ErrorIs(t, tryLockShared(a), ErrFileLocked)
	require.NoError(t, l.Unlock(c))
}

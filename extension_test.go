package typedb

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scrapedExtension = `
doc: Scraped extension.
members:
  answer:
    kind: data
    value: {type: [builtins, int]}
`

func TestLoadExtensionModule(t *testing.T) {
	t.Parallel()

	var scrapes atomic.Int32
	scrape := func(_ context.Context, ext, out string) error {
		scrapes.Add(1)
		return os.WriteFile(out, []byte(scrapedExtension), 0o644)
	}

	enum, _ := staticModules("os")
	root := t.TempDir()
	f := newTestFactory(t, Config{
		DatabasePath:      newDatabaseDir(t, CurrentDatabaseVersion, "os"),
		ExtensionCacheDir: filepath.Join(root, "ext"),
	}, WithEnumerator(enum), WithScraper(scrape))
	require.True(t, f.RefreshIsCurrent().IsValid())

	ext := filepath.Join(root, "_speedups.cpython-37m.so")
	require.NoError(t, os.WriteFile(ext, []byte("\x7fELF"), 0o644))

	ctx := context.Background()
	db, err := f.LoadExtensionModule(ctx, "_speedups", ext)
	require.NoError(t, err)
	m := db.GetModule("_speedups")
	require.NotNil(t, m)
	c, ok := m.Member("answer").(*Constant)
	require.True(t, ok)
	assert.Equal(t, "int", c.Type.Name)
	assert.NotNil(t, db.GetModule("os"))

	current, err := f.GetCurrentDatabase()
	require.NoError(t, err)
	assert.Nil(t, current.GetModule("_speedups"), "extension leaked into the shared database")

	_, err = f.LoadExtensionModule(ctx, "_speedups", ext)
	require.NoError(t, err)
	assert.Equal(t, int32(1), scrapes.Load())

	entries, err := f.ExtensionEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cpython-3.7", entries[0].InterpreterID)
	assert.Equal(t, "3.7", entries[0].InterpreterVersion)
}

func TestLoadExtensionModule_Disabled(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, Config{DatabasePath: newDatabaseDir(t, CurrentDatabaseVersion)})
	_, err := f.LoadExtensionModule(context.Background(), "_speedups", "/lib/_speedups.so")
	assert.ErrorIs(t, err, ErrExtensionsDisabled)
}

func TestLoadExtensionModule_NoDatabase(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	f := newTestFactory(t, Config{
		DatabasePath:      filepath.Join(root, "absent"),
		ExtensionCacheDir: filepath.Join(root, "ext"),
	}, WithScraper(func(_ context.Context, _, out string) error {
		return os.WriteFile(out, []byte(scrapedExtension), 0o644)
	}))

	ext := filepath.Join(root, "_speedups.so")
	require.NoError(t, os.WriteFile(ext, nil, 0o644))
	_, err := f.LoadExtensionModule(context.Background(), "_speedups", ext)
	assert.ErrorIs(t, err, ErrNoDatabase)
}

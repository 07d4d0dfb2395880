package typedb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/typedb/internal/cachefile"
	"github.com/jward/typedb/internal/runtime"
)

// ModuleEnumerator computes the modules a complete database must contain.
type ModuleEnumerator interface {
	ExpectedModules(ctx context.Context) ([]string, error)
}

// EnumeratorFunc adapts a function to ModuleEnumerator.
type EnumeratorFunc func(ctx context.Context) ([]string, error)

// ExpectedModules calls fn.
func (fn EnumeratorFunc) ExpectedModules(ctx context.Context) ([]string, error) {
	return fn(ctx)
}

// LibraryEnumerator expects every importable module found under Path.
type LibraryEnumerator struct {
	Path string
}

// ExpectedModules walks the library directory.
func (e LibraryEnumerator) ExpectedModules(ctx context.Context) ([]string, error) {
	return ListLibraryModules(e.Path)
}

// ScriptEnumerator runs a Risor script that evaluates to the expected module
// names.
type ScriptEnumerator struct {
	Runtime *runtime.Runtime
	Script  string
	Env     runtime.Env
}

// ExpectedModules runs the script.
func (e ScriptEnumerator) ExpectedModules(ctx context.Context) ([]string, error) {
	names, err := e.Runtime.Enumerate(ctx, e.Script, e.Env)
	if err != nil {
		return nil, fmt.Errorf("typedb: enumerate modules: %w", err)
	}
	return names, nil
}

// skippedLibraryDirs are never descended into.
var skippedLibraryDirs = map[string]bool{
	"site-packages": true,
	"test":          true,
	"tests":         true,
	"__pycache__":   true,
}

// dynloadDir holds extension modules that import at top level.
const dynloadDir = "lib-dynload"

// ListLibraryModules returns the sorted module names importable from root:
// source and extension modules at the top level and in lib-dynload, plus
// packages (directories with an __init__.py) and their contents.
func ListLibraryModules(root string) ([]string, error) {
	seen := make(map[string]bool)
	if err := listPackage(root, "", seen); err != nil {
		return nil, err
	}
	dyn := filepath.Join(root, dynloadDir)
	if info, err := os.Stat(dyn); err == nil && info.IsDir() {
		if err := listPackage(dyn, "", seen); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func listPackage(dir, prefix string, seen map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("typedb: list library %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if skippedLibraryDirs[name] || !isIdentifier(name) {
				continue
			}
			sub := filepath.Join(dir, name)
			if _, err := os.Stat(filepath.Join(sub, "__init__.py")); err != nil {
				continue
			}
			full := prefix + name
			seen[full] = true
			if err := listPackage(sub, full+".", seen); err != nil {
				return err
			}
			continue
		}
		mod, ok := moduleFileName(name)
		if !ok || mod == "__init__" {
			continue
		}
		seen[prefix+mod] = true
	}
	return nil
}

// moduleFileName maps a file name to its module name. Extension modules
// carry an ABI tag ("_ssl.cpython-37m-x86_64-linux-gnu.so") that is dropped.
func moduleFileName(file string) (string, bool) {
	var stem string
	switch ext := filepath.Ext(file); ext {
	case ".py":
		stem = strings.TrimSuffix(file, ext)
	case ".pyd", ".so":
		stem, _, _ = strings.Cut(file, ".")
	default:
		return "", false
	}
	if !isIdentifier(stem) {
		return "", false
	}
	return stem, true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// expectedModules returns the enumerator's names plus the builtin module,
// which every database must contain.
func expectedModules(ctx context.Context, e ModuleEnumerator, v LanguageVersion) ([]string, error) {
	var names []string
	if e != nil {
		var err error
		if names, err = e.ExpectedModules(ctx); err != nil {
			return nil, err
		}
	}
	return append(names, cachefile.BuiltinName(v)), nil
}

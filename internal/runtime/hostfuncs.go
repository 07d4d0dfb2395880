package runtime

import (
	"context"
	"log/slog"
	"os"
	"sort"

	"github.com/risor-io/risor/object"
)

// makeListDirFn creates the "list_dir" host function.
//
// list_dir(path) → sorted list of entry names
func makeListDirFn() *object.Builtin {
	return object.NewBuiltin("list_dir", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("list_dir", 1, len(args))
		}
		path, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("list_dir: path must be a string, got %s", args[0].Type())
		}
		entries, err := os.ReadDir(path.Value())
		if err != nil {
			return object.Errorf("list_dir: reading %s: %v", path.Value(), err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return stringsToList(names)
	})
}

// makeLibraryModulesFn creates the "library_modules" host function.
//
// library_modules(path) → list of module names found under path
func makeLibraryModulesFn(lister ModuleLister) *object.Builtin {
	return object.NewBuiltin("library_modules", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("library_modules", 1, len(args))
		}
		path, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("library_modules: path must be a string, got %s", args[0].Type())
		}
		if lister == nil {
			return object.Errorf("library_modules: no module lister configured")
		}
		names, err := lister(path.Value())
		if err != nil {
			return object.Errorf("library_modules: %v", err)
		}
		return stringsToList(names)
	})
}

func stringsToList(names []string) *object.List {
	items := make([]object.Object, len(names))
	for i, n := range names {
		items[i] = object.NewString(n)
	}
	return object.NewList(items)
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg, "source", "script")
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg, "source", "script")
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg, "source", "script")
}

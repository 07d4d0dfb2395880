package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// ModuleLister walks a library directory and returns the importable module
// names it finds.
type ModuleLister func(path string) ([]string, error)

// Env is the interpreter context handed to an enumeration script.
type Env struct {
	LibraryPath     string
	LanguageVersion string
}

// Runtime embeds a Risor VM and exposes directory and library host
// functions to module enumeration scripts.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	lister     ModuleLister
	logger     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithModuleLister sets the function behind the library_modules global.
func WithModuleLister(l ModuleLister) RuntimeOption {
	return func(r *Runtime) {
		r.lister = l
	}
}

// WithLogger routes the script log global to l.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime that resolves scripts and imports relative to
// scriptsDir.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	_, err = r.eval(ctx, src, scriptPath, extraGlobals)
	return err
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	_, err := r.eval(ctx, source, "<inline>", extraGlobals)
	return err
}

// Enumerate runs the script at scriptPath and returns the module names it
// evaluates to, deduplicated and sorted. The script's final expression must
// be a list of strings.
func (r *Runtime) Enumerate(ctx context.Context, scriptPath string, env Env) ([]string, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.enumerate(ctx, src, scriptPath, env)
}

// EnumerateSource is Enumerate for inline source.
func (r *Runtime) EnumerateSource(ctx context.Context, source string, env Env) ([]string, error) {
	return r.enumerate(ctx, source, "<inline>", env)
}

func (r *Runtime) enumerate(ctx context.Context, source, label string, env Env) ([]string, error) {
	result, err := r.eval(ctx, source, label, map[string]any{
		"library_path":     env.LibraryPath,
		"language_version": env.LanguageVersion,
	})
	if err != nil {
		return nil, err
	}
	names, err := stringList(result)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return names, nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return result, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"list_dir":        makeListDirFn(),
		"library_modules": makeLibraryModulesFn(r.lister),
		"log":             mustProxy(&logObject{logger: r.logger}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

// stringList converts a script result into a sorted, deduplicated slice.
func stringList(obj object.Object) ([]string, error) {
	list, ok := obj.(*object.List)
	if !ok {
		if obj == nil {
			return nil, fmt.Errorf("expected list result, got nothing")
		}
		return nil, fmt.Errorf("expected list result, got %s", obj.Type())
	}
	seen := make(map[string]bool)
	names := make([]string, 0, len(list.Value()))
	for i, item := range list.Value() {
		s, ok := item.(*object.String)
		if !ok {
			return nil, fmt.Errorf("item %d: expected string, got %s", i, item.Type())
		}
		name := s.Value()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

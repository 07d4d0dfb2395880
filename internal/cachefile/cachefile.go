// Package cachefile reads the per-module cache files that make up a type
// database directory into generic value trees. It knows nothing about type
// semantics; the resolver in the root package interprets the trees.
package cachefile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jward/typedb/internal/langver"
)

const (
	// Extension is the file extension of every module cache file.
	Extension = ".idb"

	// reservedMarker marks auxiliary files that are not modules.
	reservedMarker = "$"

	// BuiltinName2x and BuiltinName3x are the builtin module names of the
	// two language families. Their files are never part of a directory scan.
	BuiltinName2x = "__builtin__"
	BuiltinName3x = "builtins"
)

// LegacyAliases maps legacy 2.x module names to their 3.x equivalents.
var LegacyAliases = map[string]string{
	"cPickle": "_pickle",
	"thread":  "_thread",
}

// Tree is the decoded form of one cache file.
type Tree = map[string]any

// ParseError reports a cache file that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cachefile: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// BuiltinName returns the builtin module name for a language version.
func BuiltinName(v langver.Version) string {
	if v.Is3x() {
		return BuiltinName3x
	}
	return BuiltinName2x
}

// IsBuiltinName reports whether name is either family's builtin module name.
func IsBuiltinName(name string) bool {
	return name == BuiltinName2x || name == BuiltinName3x
}

// ParseFile decodes one cache file. The document root must be a mapping.
func ParseFile(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse decodes cache file content; label is used in errors only.
func Parse(label string, data []byte) (Tree, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Path: label, Err: fmt.Errorf("empty file")}
	}
	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Path: label, Err: err}
	}
	tree, ok := root.(map[string]any)
	if !ok {
		return nil, &ParseError{Path: label, Err: fmt.Errorf("root is %T, want mapping", root)}
	}
	return tree, nil
}

// ModuleName returns the qualified module name for a cache file path, or
// false if the file is not an eligible module file.
func ModuleName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Extension) {
		return "", false
	}
	if strings.Contains(base, reservedMarker) {
		return "", false
	}
	name := strings.TrimSuffix(base, Extension)
	if name == "" {
		return "", false
	}
	return name, true
}

// Reader scans database directories.
type Reader struct {
	// Version is the target language version.
	Version langver.Version
	// IsDefault marks the baseline database, which gets legacy aliasing.
	IsDefault bool
	// Workers bounds parallel parsing. Zero means runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// Result describes one directory scan.
type Result struct {
	// Added lists module names that were not present in the target map.
	Added []string
	// Failed lists module names whose files could not be parsed.
	Failed []string
}

// ListModules returns the eligible module names present in dir, sorted.
// Builtin module files are excluded.
func ListModules(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := ModuleName(e.Name())
		if !ok || IsBuiltinName(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ReadDir parses every eligible module file of dir into into, overriding
// existing entries of the same name. Files that fail to parse are reported
// in Result.Failed and otherwise treated as absent.
//
// Parsing runs in two phases:
//
//	Phase A (parallel): decode files with a worker pool.
//	Phase B (serial):   merge trees into the map in file-name order.
func (r *Reader) ReadDir(dir string, into map[string]Tree) (Result, error) {
	names, err := ListModules(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("cachefile: list %s: %w", dir, err)
	}
	if len(names) == 0 {
		return Result{}, nil
	}

	// ---- Phase A: parallel decode ----
	numWorkers := r.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = min(numWorkers, len(names))

	workCh := make(chan string, len(names))
	for _, n := range names {
		workCh <- n
	}
	close(workCh)
	resultCh := make(chan parseResult, len(names))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range workCh {
				tree, err := ParseFile(filepath.Join(dir, name+Extension))
				resultCh <- parseResult{name: name, tree: tree, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	parsed := make(map[string]parseResult, len(names))
	for res := range resultCh {
		parsed[res.name] = res
	}

	// ---- Phase B: serial merge ----
	var out Result
	for _, name := range names {
		res := parsed[name]
		if res.err != nil {
			r.logger().Warn("skipping unreadable cache file",
				"module", name, "error", res.err)
			out.Failed = append(out.Failed, name)
			continue
		}
		target, shadowed := r.canonicalName(name, parsed)
		if shadowed {
			r.logger().Debug("legacy cache file shadowed by canonical module",
				"module", name, "canonical", target)
			continue
		}
		if _, exists := into[target]; !exists {
			out.Added = append(out.Added, target)
		}
		into[target] = res.tree
	}
	return out, nil
}

type parseResult struct {
	name string
	tree Tree
	err  error
}

// canonicalName applies the legacy alias table for default 3.x databases.
// A legacy file is shadowed when the canonical module's own file in the same
// directory parsed.
func (r *Reader) canonicalName(name string, present map[string]parseResult) (target string, shadowed bool) {
	if !r.IsDefault || !r.Version.Is3x() {
		return name, false
	}
	canonical, ok := LegacyAliases[name]
	if !ok {
		return name, false
	}
	if res, exists := present[canonical]; exists && res.err == nil {
		return canonical, true
	}
	return canonical, false
}

// ReadBuiltins parses the builtin module file for the reader's version from
// dir. It returns (nil, nil) when the file does not exist.
func (r *Reader) ReadBuiltins(dir string) (Tree, error) {
	path := filepath.Join(dir, BuiltinName(r.Version)+Extension)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	return ParseFile(path)
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

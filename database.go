package typedb

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jward/typedb/internal/cachefile"
)

// ErrModuleNotFound is returned by RequireModule when no layer has the module.
var ErrModuleNotFound = errors.New("typedb: module not found")

// DatabaseConfig configures one database layer.
type DatabaseConfig struct {
	Version LanguageVersion
	// IsDefault marks the baseline database used when no analyzed database is
	// available. Legacy module aliasing applies to default 3.x layers only.
	IsDefault bool
	// Workers bounds parallel cache file parsing. Zero means NumCPU.
	Workers int
	Logger  *slog.Logger
}

// Database is one layer of the type model. Modules are loaded lazily from
// the layer's cache trees on first lookup; misses fall through to the inner
// layer. A published layer is never edited: overlays go through Clone.
type Database struct {
	cfg   DatabaseConfig
	inner *Database
	dirs  []string

	// mu serializes module loading on this layer. Lock order is outer layer
	// before inner layer.
	mu          sync.Mutex
	trees       map[string]cachefile.Tree
	builtinTree cachefile.Tree

	pubMu    sync.RWMutex
	modules  map[string]*Module
	builtins *Module

	constMu   sync.Mutex
	constants map[*Type]*Constant

	objectOnce sync.Once
	object     *Type

	corruptOnce sync.Once
	corrupt     atomic.Bool
	listeners   listenerSet
	unsubInner  func()
	closeOnce   sync.Once
}

// NewDatabase builds a database from one or more cache directories. Later
// directories override earlier ones on name collision. The builtin module
// comes from the first directory that has a builtin file.
func NewDatabase(cfg DatabaseConfig, dirs ...string) (*Database, error) {
	d := newLayer(cfg, nil)
	d.dirs = append([]string(nil), dirs...)

	r := &cachefile.Reader{
		Version:   cfg.Version,
		IsDefault: cfg.IsDefault,
		Workers:   cfg.Workers,
		Logger:    cfg.Logger,
	}
	builtinPinned := false
	for _, dir := range dirs {
		if !builtinPinned {
			tree, err := r.ReadBuiltins(dir)
			switch {
			case err != nil:
				builtinPinned = true
				d.logger().Warn("builtin module is unreadable", "dir", dir, "error", err)
				d.signalCorrupt()
			case tree != nil:
				builtinPinned = true
				d.builtinTree = tree
			}
		}
		res, err := r.ReadDir(dir, d.trees)
		if err != nil {
			return nil, fmt.Errorf("typedb: read %s: %w", dir, err)
		}
		if len(res.Failed) > 0 {
			d.logger().Warn("skipped unreadable cache files", "dir", dir, "modules", res.Failed)
			d.signalCorrupt()
		}
	}
	return d, nil
}

func newLayer(cfg DatabaseConfig, inner *Database) *Database {
	return &Database{
		cfg:       cfg,
		inner:     inner,
		trees:     make(map[string]cachefile.Tree),
		modules:   make(map[string]*Module),
		constants: make(map[*Type]*Constant),
	}
}

// Clone returns a new layer with an empty own table over d.
func (d *Database) Clone() *Database {
	c := newLayer(d.cfg, d)
	c.unsubInner = d.OnCorrupt(c.signalCorrupt)
	return c
}

// CloneWithNewBuiltins is Clone with m answering builtin lookups.
func (d *Database) CloneWithNewBuiltins(m *Module) *Database {
	c := d.Clone()
	c.builtins = m
	return c
}

// WithExtensionModule returns a clone of d with one extra module parsed from
// a cache file, shadowing any module of the same name in d.
func (d *Database) WithExtensionModule(name, path string) (*Database, error) {
	tree, err := cachefile.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("typedb: extension module %s: %w", name, err)
	}
	c := d.Clone()
	c.trees[name] = tree
	return c, nil
}

// Close drops the subscription on the inner layer. It does not affect the
// inner layer itself.
func (d *Database) Close() error {
	d.closeOnce.Do(func() {
		if d.unsubInner != nil {
			d.unsubInner()
		}
	})
	return nil
}

// Version returns the layer's target language version.
func (d *Database) Version() LanguageVersion { return d.cfg.Version }

// IsDefault reports whether d is a baseline database.
func (d *Database) IsDefault() bool { return d.cfg.IsDefault }

// Inner returns the layer d falls through to, or nil.
func (d *Database) Inner() *Database { return d.inner }

// Directories returns the cache directories the layer was read from.
func (d *Database) Directories() []string { return d.dirs }

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// GetModule returns the named module or nil. Each layer is checked for its
// own module, then legacy aliases, then builtin name equivalence, before
// falling through to the next inner layer.
func (d *Database) GetModule(name string) *Module {
	for db := d; db != nil; db = db.inner {
		if m := db.ownModule(name); m != nil {
			return m
		}
		if cachefile.IsBuiltinName(name) {
			return db.builtinModule()
		}
	}
	return nil
}

// RequireModule is GetModule returning ErrModuleNotFound on a miss.
func (d *Database) RequireModule(name string) (*Module, error) {
	if m := d.GetModule(name); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

// LookupType resolves ref against d, degrading to object when it cannot be
// resolved.
func (d *Database) LookupType(ref TypeRef) *Type {
	var out *Type
	d.withSession(func(s *loadSession) {
		s.resolveType(memberCtx{}, ref, func(t *Type) { out = t })
	})
	if out == nil {
		return d.ObjectType()
	}
	return out
}

// BuiltinType returns the builtin type for id. Virtual identifiers are
// remapped for the layer's version. Identifiers with no type in the builtin
// module resolve to object.
func (d *Database) BuiltinType(id BuiltinTypeID) *Type {
	id = concreteTypeID(id, d.cfg.Version)
	bm := d.builtinModule()
	if name := GetBuiltinTypeName(id, d.cfg.Version); name != "" {
		if t := asType(bm.Member(name)); t != nil {
			return t
		}
	}
	if t := asType(bm.Member(GetBuiltinTypeName(TypeIDObject, d.cfg.Version))); t != nil {
		return t
	}
	return d.syntheticObject()
}

// BuiltinTypeName returns the name id carries in the layer's version.
func (d *Database) BuiltinTypeName(id BuiltinTypeID) string {
	return GetBuiltinTypeName(concreteTypeID(id, d.cfg.Version), d.cfg.Version)
}

// ObjectType returns the universal base type.
func (d *Database) ObjectType() *Type {
	return d.BuiltinType(TypeIDObject)
}

// Constant returns the layer's Constant for t, creating it on first use.
func (d *Database) Constant(t *Type) *Constant {
	return d.constant(t)
}

func (d *Database) constant(t *Type) *Constant {
	d.constMu.Lock()
	defer d.constMu.Unlock()
	if c, ok := d.constants[t]; ok {
		return c
	}
	c := &Constant{Type: t}
	d.constants[t] = c
	return c
}

// ModuleNames returns every module name visible through d, sorted.
func (d *Database) ModuleNames() []string {
	seen := make(map[string]bool)
	for db := d; db != nil; db = db.inner {
		db.mu.Lock()
		for name := range db.trees {
			seen[name] = true
		}
		db.mu.Unlock()
		db.pubMu.RLock()
		for name := range db.modules {
			seen[name] = true
		}
		db.pubMu.RUnlock()
	}
	seen[cachefile.BuiltinName(d.cfg.Version)] = true
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Corruption
// ---------------------------------------------------------------------------

// OnCorrupt registers fn to run when the layer, or any layer it falls
// through to, is found to be corrupt. fn runs on its own goroutine. If the
// layer is already corrupt fn is scheduled immediately.
func (d *Database) OnCorrupt(fn func()) (unsubscribe func()) {
	unsubscribe = d.listeners.add(fn)
	if d.corrupt.Load() {
		go fn()
	}
	return unsubscribe
}

// IsCorrupt reports whether the corruption signal has been raised.
func (d *Database) IsCorrupt() bool { return d.corrupt.Load() }

// signalCorrupt raises the layer's corruption signal. Only the first call
// has an effect.
func (d *Database) signalCorrupt() {
	d.corruptOnce.Do(func() {
		d.corrupt.Store(true)
		corruptSignalsTotal.Inc()
		d.logger().Warn("database layer is corrupt", "dirs", d.dirs)
		go d.listeners.fire()
	})
}

// ---------------------------------------------------------------------------
// Layer internals
// ---------------------------------------------------------------------------

// withSession runs fn in a load session holding the layer's load mutex.
// Corruption found during the session is signalled after the mutex is
// released.
func (d *Database) withSession(fn func(s *loadSession)) {
	s := newLoadSession(d)
	func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		fn(s)
		s.finish()
	}()
	if s.corrupt != "" {
		d.signalCorrupt()
	}
}

// ownModule loads name from this layer only.
func (d *Database) ownModule(name string) *Module {
	if canon, ok := d.legacyAlias(name); ok {
		name = canon
	}
	if m := d.published(name); m != nil {
		return m
	}
	var m *Module
	d.withSession(func(s *loadSession) {
		m, _ = s.lookupOwn(name)
	})
	return m
}

// builtinModule returns the module answering builtin lookups for d.
func (d *Database) builtinModule() *Module {
	if bm := d.loadedBuiltins(); bm != nil {
		return bm
	}
	var bm *Module
	d.withSession(func(s *loadSession) {
		bm, _ = s.builtinModule()
	})
	return bm
}

func (d *Database) legacyAlias(name string) (string, bool) {
	if !d.cfg.IsDefault || !d.cfg.Version.Is3x() {
		return "", false
	}
	canon, ok := cachefile.LegacyAliases[name]
	return canon, ok
}

func (d *Database) newModule(name string, builtin bool) *Module {
	m := &Module{Name: name, members: memberTable{}}
	if builtin {
		v := d.cfg.Version
		m.builtin = &builtinFallback{
			module:   m,
			lookupID: func(n string) BuiltinTypeID { return fallbackTypeID(n, v) },
			object: func() *Type {
				if t := asType(m.members[GetBuiltinTypeName(TypeIDObject, v)]); t != nil {
					return t
				}
				return d.syntheticObject()
			},
		}
	}
	return m
}

func (d *Database) publish(m *Module) {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	if m.IsBuiltin() {
		if d.builtins == nil {
			d.builtins = m
		}
		return
	}
	d.modules[m.Name] = m
}

func (d *Database) published(name string) *Module {
	d.pubMu.RLock()
	defer d.pubMu.RUnlock()
	return d.modules[name]
}

func (d *Database) loadedBuiltins() *Module {
	d.pubMu.RLock()
	defer d.pubMu.RUnlock()
	return d.builtins
}

// syntheticObject stands in for object when no builtin module defines it.
// Every layer of a chain shares the innermost layer's instance.
func (d *Database) syntheticObject() *Type {
	for d.inner != nil {
		d = d.inner
	}
	d.objectOnce.Do(func() {
		d.object = &Type{
			Name:    GetBuiltinTypeName(TypeIDObject, d.cfg.Version),
			Module:  cachefile.BuiltinName(d.cfg.Version),
			TypeID:  TypeIDObject,
			members: memberTable{},
		}
	})
	return d.object
}

func (d *Database) logger() *slog.Logger {
	if d.cfg.Logger == nil {
		return discardLogger
	}
	return d.cfg.Logger
}

var discardLogger = slog.New(slog.DiscardHandler)

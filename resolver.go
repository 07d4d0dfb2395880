package typedb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/typedb/internal/cachefile"
	"github.com/jward/typedb/internal/langver"
)

// maxFixupLevel is the last level at which a deferred reference is retried.
// Level 0 is the immediate attempt; a miss at maxFixupLevel degrades to
// object.
const maxFixupLevel = 1

// fixup is a deferred reference: resolve ref and hand the result to assign.
// assign receives nil when the reference cannot be resolved at the final
// level.
type fixup struct {
	ctx    memberCtx
	ref    TypeRef
	level  int
	assign func(Member)
}

// memberCtx is where a cache entry is being built.
type memberCtx struct {
	module *Module
	// typ is the enclosing type for class members, nil at module level.
	typ *Type
}

// loadSession is one batch of module loads on a single layer. It exists
// only while the layer's load mutex is held. Modules built in the session are
// published together once every deferred reference has been settled.
type loadSession struct {
	db *Database

	// loading holds modules whose members are still being built.
	loading map[string]bool
	// byName holds every module built in this session, loading or not.
	byName  map[string]*Module
	pending []*Module

	queue    []fixup
	draining bool
	after    []func()

	// corrupt is the first structural corruption seen, reported once the
	// layer lock is released.
	corrupt string
}

func newLoadSession(d *Database) *loadSession {
	return &loadSession{
		db:      d,
		loading: make(map[string]bool),
		byName:  make(map[string]*Module),
	}
}

func (s *loadSession) version() langver.Version { return s.db.cfg.Version }

// ---------------------------------------------------------------------------
// Module lookup
// ---------------------------------------------------------------------------

// lookupModule finds a module for reference resolution. complete is false
// while the module's own members are still being built.
func (s *loadSession) lookupModule(name string) (m *Module, complete bool) {
	if m, complete := s.lookupOwn(name); m != nil {
		return m, complete
	}
	if cachefile.IsBuiltinName(name) {
		return s.builtinModule()
	}
	if s.db.inner != nil {
		m := s.db.inner.GetModule(name)
		return m, m != nil
	}
	return nil, false
}

// lookupOwn searches this layer only, applying the legacy alias table.
func (s *loadSession) lookupOwn(name string) (*Module, bool) {
	if canon, ok := s.db.legacyAlias(name); ok {
		name = canon
	}
	return s.ownModule(name)
}

func (s *loadSession) ownModule(name string) (*Module, bool) {
	if m, ok := s.byName[name]; ok {
		return m, !s.loading[name]
	}
	if m := s.db.published(name); m != nil {
		return m, true
	}
	if tree, ok := s.db.trees[name]; ok {
		m := s.load(name, tree, false)
		return m, !s.loading[name]
	}
	return nil, false
}

// builtinModule returns the module answering builtin lookups for this layer,
// loading it when its tree is still pending.
func (s *loadSession) builtinModule() (*Module, bool) {
	d := s.db
	if bm := d.loadedBuiltins(); bm != nil {
		return bm, true
	}
	name := cachefile.BuiltinName(s.version())
	if m, ok := s.byName[name]; ok && m.IsBuiltin() {
		return m, !s.loading[name]
	}
	if d.builtinTree != nil {
		tree := d.builtinTree
		d.builtinTree = nil
		m := s.load(name, tree, true)
		return m, !s.loading[name]
	}
	if d.inner != nil {
		if bm := d.inner.builtinModule(); bm != nil {
			return bm, true
		}
	}
	// No builtin file anywhere in the chain: publish an empty builtin module
	// so fallback names and object still resolve.
	m := d.newModule(name, true)
	d.publish(m)
	return m, true
}

// objectType returns object for fallback assignment.
func (s *loadSession) objectType() *Type {
	bm, _ := s.builtinModule()
	if t := asType(bm.members[GetBuiltinTypeName(TypeIDObject, s.version())]); t != nil {
		return t
	}
	return s.db.syntheticObject()
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// load builds a module from its tree. References into modules that are still
// loading are deferred; the queue drains when the last loading module of the
// session finishes.
func (s *loadSession) load(name string, tree cachefile.Tree, builtin bool) *Module {
	d := s.db
	m := d.newModule(name, builtin)
	s.loading[name] = true
	s.byName[name] = m
	delete(d.trees, name)

	m.Doc, _ = tree["doc"].(string)
	if children, ok := tree["children"].([]any); ok {
		for _, c := range children {
			if cs, ok := c.(string); ok {
				m.Children = append(m.Children, cs)
			}
		}
	}

	raw, ok := tree["members"].(map[string]any)
	if !ok {
		s.markCorrupt(fmt.Sprintf("module %s has no member table", name))
	}
	ctx := memberCtx{module: m}
	for _, memberName := range sortedKeys(raw) {
		s.addMember(m.members, ctx, memberName, raw[memberName])
	}

	delete(s.loading, name)
	s.pending = append(s.pending, m)
	if len(s.loading) == 0 {
		s.drain()
	}
	return m
}

// drain runs deferred references in registration order. Fixups may queue
// further fixups at a higher level; the loop ends when the queue is empty.
func (s *loadSession) drain() {
	if s.draining {
		return
	}
	s.draining = true
	defer func() { s.draining = false }()

	for len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.resolve(f.ctx, f.ref, f.level, f.assign)
	}
}

// finish settles the session: remaining fixups run, then every module built
// in the session is published.
func (s *loadSession) finish() {
	s.drain()
	for _, fn := range s.after {
		fn()
	}
	for _, m := range s.pending {
		s.db.publish(m)
	}
	if n := len(s.pending); n > 0 {
		modulesLoadedTotal.Add(float64(n))
		s.db.logger().Debug("modules loaded", "count", n)
	}
	s.pending = nil
	s.after = nil
}

func (s *loadSession) markCorrupt(reason string) {
	if s.corrupt == "" {
		s.corrupt = reason
	}
	s.db.logger().Warn("corrupt cache entry", "reason", reason)
}

// ---------------------------------------------------------------------------
// Reference resolution
// ---------------------------------------------------------------------------

func (s *loadSession) enqueue(f fixup) {
	fixupsTotal.WithLabelValues("deferred").Inc()
	s.queue = append(s.queue, f)
}

// resolve looks up ref and calls assign with the member it names. A miss
// defers the reference to the next level; a miss at the final level calls
// assign(nil).
func (s *loadSession) resolve(ctx memberCtx, ref TypeRef, level int, assign func(Member)) {
	if ref.IsBuiltinID() {
		id := concreteTypeID(ref.ID, s.version())
		ref = TypeRef{
			Module: cachefile.BuiltinName(s.version()),
			Name:   GetBuiltinTypeName(id, s.version()),
			Args:   ref.Args,
		}
	}
	modName := ref.Module
	if modName == "" {
		if ctx.module != nil {
			modName = ctx.module.Name
		} else {
			modName = cachefile.BuiltinName(s.version())
		}
	}

	m, complete := s.lookupModule(modName)
	if m != nil && complete {
		if mem := memberPath(m, ref.Name); mem != nil {
			if level > 0 {
				fixupsTotal.WithLabelValues("resolved").Inc()
			}
			assign(mem)
			return
		}
	}
	if level >= maxFixupLevel {
		if m == nil {
			s.db.logger().Debug("reference to missing module", "ref", ref.String())
		}
		fixupsTotal.WithLabelValues("fallback").Inc()
		assign(nil)
		return
	}
	s.enqueue(fixup{ctx: ctx, ref: ref, level: level + 1, assign: assign})
}

// resolveType resolves ref to a Type, degrading to object.
func (s *loadSession) resolveType(ctx memberCtx, ref TypeRef, sink func(*Type)) {
	s.resolve(ctx, ref, 0, func(m Member) {
		t := asType(m)
		if t == nil {
			t = s.objectType()
		}
		sink(t)
	})
}

// resolveTypes resolves a list of references into a slice of the same
// length.
func (s *loadSession) resolveTypes(ctx memberCtx, refs []TypeRef) []*Type {
	if len(refs) == 0 {
		return nil
	}
	out := make([]*Type, len(refs))
	for i, ref := range refs {
		s.resolveType(ctx, ref, func(t *Type) { out[i] = t })
	}
	return out
}

// memberPath follows a dotted name through module and type members.
func memberPath(m *Module, name string) Member {
	parts := strings.Split(name, ".")
	mem := m.Member(parts[0])
	for _, p := range parts[1:] {
		switch v := mem.(type) {
		case *Type:
			mem = v.Member(p)
		case *Module:
			mem = v.Member(p)
		default:
			return nil
		}
		if mem == nil {
			return nil
		}
	}
	return mem
}

// ---------------------------------------------------------------------------
// Member construction
// ---------------------------------------------------------------------------

// addMember builds one cache entry into table. Entries that do not apply to
// the target version are skipped.
func (s *loadSession) addMember(table memberTable, ctx memberCtx, name string, raw any) {
	entry, ok := raw.(map[string]any)
	if !ok {
		s.db.logger().Debug("skipping malformed member", "module", ctx.module.Name, "member", name)
		return
	}
	if expr, ok := entry["version"].(string); ok {
		applies, err := langver.Applies(expr, s.version())
		if err != nil {
			s.db.logger().Debug("skipping member with bad version expression",
				"module", ctx.module.Name, "member", name, "error", err)
			return
		}
		if !applies {
			return
		}
	}
	kind, _ := entry["kind"].(string)
	value, _ := entry["value"].(map[string]any)
	if value == nil {
		value = map[string]any{}
	}
	set := func(m Member) {
		if m != nil {
			table[name] = m
		}
	}
	if mem := s.buildMember(ctx, name, kind, value, entry["value"], set); mem != nil {
		table[name] = mem
	}
}

// buildMember dispatches on kind. Members whose value is only known after a
// reference resolves are delivered through set and nil is returned.
func (s *loadSession) buildMember(ctx memberCtx, name, kind string, value map[string]any, rawValue any, set func(Member)) Member {
	switch kind {
	case "function":
		return s.buildFunction(ctx, name, value)
	case "method":
		return &MethodDescriptor{Function: s.buildFunction(ctx, name, value)}
	case "funcref":
		target, _ := value["func_name"].(string)
		if target == "" {
			s.db.logger().Debug("funcref without target", "member", name)
			return nil
		}
		s.resolve(ctx, Ref(target), 0, set)
		return nil
	case "property":
		p := &Property{}
		p.Doc, _ = value["doc"].(string)
		p.IsStatic, _ = value["static"].(bool)
		refs, err := parseTypeRefList(value["type"])
		if err != nil {
			s.db.logger().Debug("bad property type", "member", name, "error", err)
		}
		ref := BuiltinRef(TypeIDObject)
		if len(refs) > 0 {
			ref = refs[0]
		}
		s.resolveType(ctx, ref, func(t *Type) { p.Type = t })
		return p
	case "data":
		return s.buildData(ctx, name, value, set)
	case "type":
		return s.buildType(ctx, name, value)
	case "multiple":
		return s.buildMultiple(ctx, name, value)
	case "typeref":
		ref, err := parseTypeRef(rawValue)
		if err != nil {
			s.db.logger().Debug("bad typeref", "member", name, "error", err)
			return nil
		}
		s.resolveType(ctx, ref, func(t *Type) { set(t) })
		return nil
	case "moduleref":
		target, _ := value["module_name"].(string)
		m, _ := s.lookupModule(target)
		if m == nil {
			s.db.logger().Debug("moduleref to missing module", "member", name, "module", target)
			return nil
		}
		return m
	}
	unknownMemberKind(ctx.module.Name, name, kind)
	s.db.logger().Debug("skipping unknown member kind",
		"module", ctx.module.Name, "member", name, "kind", kind)
	return nil
}

func (s *loadSession) buildFunction(ctx memberCtx, name string, value map[string]any) *Function {
	f := &Function{Name: name}
	f.Doc, _ = value["doc"].(string)
	f.IsBuiltin, _ = value["builtin"].(bool)
	f.IsStatic, _ = value["static"].(bool)
	f.IsClassMethod, _ = value["classmethod"].(bool)

	overloads, _ := value["overloads"].([]any)
	for _, raw := range overloads {
		ov, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		o := &Overload{}
		o.Doc, _ = ov["doc"].(string)
		args, _ := ov["args"].([]any)
		for _, rawArg := range args {
			arg, ok := rawArg.(map[string]any)
			if !ok {
				continue
			}
			p := &Parameter{}
			p.Name, _ = arg["name"].(string)
			p.Default, _ = arg["default_value"].(string)
			p.Format, _ = arg["arg_format"].(string)
			p.Types = s.resolveTypes(ctx, s.typeRefs(name, arg["type"]))
			o.Params = append(o.Params, p)
		}
		o.Returns = s.resolveTypes(ctx, s.typeRefs(name, ov["ret_type"]))
		f.Overloads = append(f.Overloads, o)
	}
	return f
}

func (s *loadSession) typeRefs(member string, v any) []TypeRef {
	refs, err := parseTypeRefList(v)
	if err != nil {
		s.db.logger().Debug("bad type reference", "member", member, "error", err)
		return nil
	}
	return refs
}

// buildData turns a data entry into a deduplicated Constant, or into a
// SequenceType when its type carries generic arguments.
func (s *loadSession) buildData(ctx memberCtx, name string, value map[string]any, set func(Member)) Member {
	ref := BuiltinRef(TypeIDObject)
	if raw, ok := value["type"]; ok {
		parsed, err := parseTypeRef(raw)
		if err != nil {
			s.db.logger().Debug("bad data type", "member", name, "error", err)
		} else {
			ref = parsed
		}
	}
	if len(ref.Args) > 0 {
		seq := &SequenceType{}
		base := ref
		base.Args = nil
		s.resolveType(ctx, base, func(t *Type) { seq.Type = t })
		seq.Elems = s.resolveTypes(ctx, ref.Args)
		return seq
	}
	s.resolveType(ctx, ref, func(t *Type) { set(s.db.constant(t)) })
	return nil
}

func (s *loadSession) buildType(ctx memberCtx, name string, value map[string]any) *Type {
	t := &Type{Name: name, Module: ctx.module.Name, members: memberTable{}}
	t.Doc, _ = value["doc"].(string)
	if ctx.module.IsBuiltin() && ctx.typ == nil {
		t.TypeID = TypeIDForName(name, s.version())
	}

	if refs := s.typeRefs(name, value["bases"]); len(refs) > 0 {
		t.Bases = s.resolveTypes(ctx, refs)
		s.after = append(s.after, func() { t.Bases = compactBases(t, t.Bases) })
	}

	inner := memberCtx{module: ctx.module, typ: t}
	members, _ := value["members"].(map[string]any)
	for _, memberName := range sortedKeys(members) {
		s.addMember(t.members, inner, memberName, members[memberName])
	}
	return t
}

// compactBases drops self references and unresolved slots.
func compactBases(t *Type, bases []*Type) []*Type {
	out := bases[:0]
	for _, b := range bases {
		if b != nil && b != t {
			out = append(out, b)
		}
	}
	return out
}

func (s *loadSession) buildMultiple(ctx memberCtx, name string, value map[string]any) Member {
	alts, _ := value["members"].([]any)
	mm := &MultipleMembers{Members: make([]Member, len(alts))}
	for i, raw := range alts {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := entry["kind"].(string)
		v, _ := entry["value"].(map[string]any)
		if v == nil {
			v = map[string]any{}
		}
		set := func(m Member) { mm.Members[i] = m }
		if m := s.buildMember(ctx, name, kind, v, entry["value"], set); m != nil {
			mm.Members[i] = m
		}
	}
	s.after = append(s.after, func() {
		out := mm.Members[:0]
		for _, m := range mm.Members {
			if m != nil {
				out = append(out, m)
			}
		}
		mm.Members = out
	})
	return mm
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package typedb

import (
	"sort"
	"sync"
)

// MemberKind discriminates the Member variants.
type MemberKind int

const (
	KindUnknown MemberKind = iota
	KindType
	KindFunction
	KindMethod
	KindProperty
	KindConstant
	KindMultiple
	KindModule
	KindSequence
)

func (k MemberKind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindProperty:
		return "property"
	case KindConstant:
		return "constant"
	case KindMultiple:
		return "multiple"
	case KindModule:
		return "module"
	case KindSequence:
		return "sequence"
	}
	return "unknown"
}

// Member is anything a module or type can hold under a name.
type Member interface {
	MemberKind() MemberKind
	Documentation() string
}

// memberTable is a name → Member map that is filled while its owner loads
// and read-only afterwards.
type memberTable map[string]Member

func (t memberTable) names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Type is a class: builtin or user-defined.
type Type struct {
	Name   string
	Module string
	Doc    string
	// TypeID is TypeIDUnknown for types outside the builtin module.
	TypeID BuiltinTypeID
	// Bases holds the resolved base classes in declaration order.
	Bases []*Type

	members memberTable
}

func (t *Type) MemberKind() MemberKind { return KindType }
func (t *Type) Documentation() string { return t.Doc }
func (t *Type) Member(name string) Member { return t.members[name] }

// MemberNames returns the type's own member names, sorted.
func (t *Type) MemberNames() []string { return t.members.names() }

// QualifiedName returns "module.name".
func (t *Type) QualifiedName() string {
	if t.Module == "" {
		return t.Name
	}
	return t.Module + "." + t.Name
}

// Parameter is one formal parameter of an overload.
type Parameter struct {
	Name    string
	Types   []*Type
	Default string
	// Format is "", "*" or "**".
	Format string
}

// Overload is one signature of a function.
type Overload struct {
	Doc     string
	Params  []*Parameter
	Returns []*Type
}

// Function is a module-level function or a method declared on a type.
type Function struct {
	Name          string
	Doc           string
	IsBuiltin     bool
	IsStatic      bool
	IsClassMethod bool
	Overloads     []*Overload
}

func (f *Function) MemberKind() MemberKind { return KindFunction }
func (f *Function) Documentation() string { return f.Doc }

// MethodDescriptor is an unbound method of a type.
type MethodDescriptor struct {
	Function *Function
}

func (m *MethodDescriptor) MemberKind() MemberKind { return KindMethod }
func (m *MethodDescriptor) Documentation() string { return m.Function.Doc }

// Property is a computed attribute.
type Property struct {
	Doc      string
	Type     *Type
	IsStatic bool
}

func (p *Property) MemberKind() MemberKind { return KindProperty }
func (p *Property) Documentation() string { return p.Doc }

// Constant is a value of a known type. A database layer holds at most one
// Constant per Type.
type Constant struct {
	Type *Type
}

func (c *Constant) MemberKind() MemberKind { return KindConstant }
func (c *Constant) Documentation() string {
	if c.Type == nil {
		return ""
	}
	return c.Type.Doc
}

// MultipleMembers holds alternatives for one name, for example a name that
// is a function on some platforms and a type on others.
type MultipleMembers struct {
	Members []Member
}

func (m *MultipleMembers) MemberKind() MemberKind { return KindMultiple }
func (m *MultipleMembers) Documentation() string {
	for _, mem := range m.Members {
		if doc := mem.Documentation(); doc != "" {
			return doc
		}
	}
	return ""
}

// SequenceType is a parametrized sequence such as list[int].
type SequenceType struct {
	// Type is the sequence type itself, e.g. list.
	Type  *Type
	Elems []*Type
}

func (s *SequenceType) MemberKind() MemberKind { return KindSequence }
func (s *SequenceType) Documentation() string {
	if s.Type == nil {
		return ""
	}
	return s.Type.Doc
}

// Module is one loaded module. Its member table is complete and read-only by
// the time a Database hands it out.
type Module struct {
	Name     string
	Doc      string
	Children []string

	members memberTable

	// builtin modules answer lookups for well-known names with no entry of
	// their own.
	builtin *builtinFallback
}

func (m *Module) MemberKind() MemberKind { return KindModule }
func (m *Module) Documentation() string { return m.Doc }

// IsBuiltin reports whether m is a builtin module.
func (m *Module) IsBuiltin() bool { return m.builtin != nil }

// Member returns the named member or nil.
func (m *Module) Member(name string) Member {
	if mem, ok := m.members[name]; ok {
		return mem
	}
	if m.builtin != nil {
		if t := m.builtin.lookup(name); t != nil {
			return t
		}
	}
	return nil
}

// MemberNames returns the module's own member names, sorted. Fallback
// builtin names are not included.
func (m *Module) MemberNames() []string { return m.members.names() }

// builtinFallback synthesizes builtin types that have no literal cache
// entry. Synthesized types are created once per module.
type builtinFallback struct {
	module   *Module
	lookupID func(name string) BuiltinTypeID
	object   func() *Type

	mu    sync.Mutex
	types map[string]*Type
}

func (b *builtinFallback) lookup(name string) *Type {
	id := b.lookupID(name)
	if id == TypeIDUnknown {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.types[name]; ok {
		return t
	}
	t := &Type{Name: name, Module: b.module.Name, TypeID: id, members: memberTable{}}
	if obj := b.object(); obj != nil {
		t.Bases = []*Type{obj}
	}
	if b.types == nil {
		b.types = make(map[string]*Type)
	}
	b.types[name] = t
	return t
}

// asType returns the Type a member stands for when a single type is
// required. For MultipleMembers the last alternative that is a Type wins.
func asType(m Member) *Type {
	switch v := m.(type) {
	case *Type:
		return v
	case *MultipleMembers:
		var last *Type
		for _, alt := range v.Members {
			if t := asType(alt); t != nil {
				last = t
			}
		}
		return last
	case *SequenceType:
		return v.Type
	}
	return nil
}

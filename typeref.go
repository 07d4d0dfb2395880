package typedb

import (
	"fmt"
	"strings"
)

// TypeRef names a type by module and (possibly dotted) name, or by
// well-known identifier when ID is set. Args carries generic arguments for
// parametrized sequence types.
type TypeRef struct {
	Module string
	Name   string
	Args   []TypeRef
	ID     BuiltinTypeID
}

// Ref builds a TypeRef from a "module.name" string. The last dot separates
// the module from the type name.
func Ref(qualified string) TypeRef {
	i := strings.LastIndexByte(qualified, '.')
	if i < 0 {
		return TypeRef{Name: qualified}
	}
	return TypeRef{Module: qualified[:i], Name: qualified[i+1:]}
}

// BuiltinRef builds a TypeRef for a well-known identifier.
func BuiltinRef(id BuiltinTypeID) TypeRef {
	return TypeRef{ID: id}
}

// IsBuiltinID reports whether r refers to a well-known identifier.
func (r TypeRef) IsBuiltinID() bool { return r.ID != TypeIDUnknown }

func (r TypeRef) String() string {
	if r.IsBuiltinID() {
		return "<" + r.ID.String() + ">"
	}
	s := r.Name
	if r.Module != "" {
		s = r.Module + "." + r.Name
	}
	if len(r.Args) > 0 {
		args := make([]string, len(r.Args))
		for i, a := range r.Args {
			args[i] = a.String()
		}
		s += "[" + strings.Join(args, ", ") + "]"
	}
	return s
}

// parseTypeRef decodes a type reference from a cache tree value. Accepted
// shapes:
//
//	[module, name]              plain reference
//	[module, name, [args...]]   parametrized sequence
//	"module.name"               dotted string
//	42                          well-known identifier
//	{module: m, name: n}        mapping form
func parseTypeRef(v any) (TypeRef, error) {
	switch val := v.(type) {
	case int:
		if val <= int(TypeIDUnknown) || val >= int(numBuiltinTypeIDs) {
			return TypeRef{}, fmt.Errorf("type id %d out of range", val)
		}
		return BuiltinRef(BuiltinTypeID(val)), nil
	case string:
		if val == "" {
			return TypeRef{}, fmt.Errorf("empty type name")
		}
		return Ref(val), nil
	case []any:
		if len(val) < 2 || len(val) > 3 {
			return TypeRef{}, fmt.Errorf("type reference has %d elements", len(val))
		}
		mod, ok1 := val[0].(string)
		name, ok2 := val[1].(string)
		if !ok1 || !ok2 || name == "" {
			return TypeRef{}, fmt.Errorf("type reference elements must be strings")
		}
		ref := TypeRef{Module: mod, Name: name}
		if len(val) == 3 {
			args, err := parseTypeRefList(val[2])
			if err != nil {
				return TypeRef{}, fmt.Errorf("type arguments of %s: %w", ref, err)
			}
			ref.Args = args
		}
		return ref, nil
	case map[string]any:
		mod, _ := val["module"].(string)
		name, _ := val["name"].(string)
		if name == "" {
			return TypeRef{}, fmt.Errorf("type reference mapping without name")
		}
		ref := TypeRef{Module: mod, Name: name}
		if raw, ok := val["args"]; ok {
			args, err := parseTypeRefList(raw)
			if err != nil {
				return TypeRef{}, err
			}
			ref.Args = args
		}
		return ref, nil
	}
	return TypeRef{}, fmt.Errorf("unsupported type reference %T", v)
}

// parseTypeRefList decodes a list of references. A single reference that is
// not itself a list of references is accepted as a one-element list.
func parseTypeRefList(v any) ([]TypeRef, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok || isSingleRefList(list) {
		ref, err := parseTypeRef(v)
		if err != nil {
			return nil, err
		}
		return []TypeRef{ref}, nil
	}
	refs := make([]TypeRef, 0, len(list))
	for _, item := range list {
		ref, err := parseTypeRef(item)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// isSingleRefList distinguishes [module, name] from a list of references.
func isSingleRefList(list []any) bool {
	if len(list) < 2 || len(list) > 3 {
		return false
	}
	_, ok1 := list[0].(string)
	_, ok2 := list[1].(string)
	if !ok1 || !ok2 {
		return false
	}
	if len(list) == 3 {
		_, ok3 := list[2].([]any)
		return ok3
	}
	return true
}

package typedb

import "github.com/jward/typedb/internal/langver"

// BuiltinTypeID identifies a well-known builtin type independently of the
// name it carries in a particular language version.
type BuiltinTypeID int

const (
	TypeIDUnknown BuiltinTypeID = iota
	TypeIDObject
	TypeIDType
	TypeIDNoneType
	TypeIDBool
	TypeIDInt
	// TypeIDLong is the arbitrary precision integer; it is "int" on 3.x.
	TypeIDLong
	TypeIDFloat
	TypeIDComplex
	TypeIDTuple
	TypeIDList
	TypeIDDict
	TypeIDSet
	TypeIDFrozenSet
	TypeIDBytes
	TypeIDUnicode
	TypeIDModule
	TypeIDFunction
	TypeIDBuiltinMethodDescriptor
	TypeIDBuiltinFunction
	TypeIDGenerator
	TypeIDProperty
	TypeIDClassMethod
	TypeIDStaticMethod
	TypeIDEllipsis
	TypeIDSlice
	TypeIDBoundMethod
	TypeIDDictKeys
	TypeIDDictValues
	TypeIDDictItems
	TypeIDListIterator
	TypeIDTupleIterator
	TypeIDSetIterator
	TypeIDBytesIterator
	TypeIDUnicodeIterator
	TypeIDCallableIterator

	// TypeIDStr and TypeIDStrIterator are virtual: they stand for the default
	// string type of the target version and are remapped before any lookup.
	TypeIDStr
	TypeIDStrIterator

	numBuiltinTypeIDs
)

var builtinTypeIDNames = [...]string{
	TypeIDUnknown:                 "Unknown",
	TypeIDObject:                  "Object",
	TypeIDType:                    "Type",
	TypeIDNoneType:                "NoneType",
	TypeIDBool:                    "Bool",
	TypeIDInt:                     "Int",
	TypeIDLong:                    "Long",
	TypeIDFloat:                   "Float",
	TypeIDComplex:                 "Complex",
	TypeIDTuple:                   "Tuple",
	TypeIDList:                    "List",
	TypeIDDict:                    "Dict",
	TypeIDSet:                     "Set",
	TypeIDFrozenSet:               "FrozenSet",
	TypeIDBytes:                   "Bytes",
	TypeIDUnicode:                 "Unicode",
	TypeIDModule:                  "Module",
	TypeIDFunction:                "Function",
	TypeIDBuiltinMethodDescriptor: "BuiltinMethodDescriptor",
	TypeIDBuiltinFunction:         "BuiltinFunction",
	TypeIDGenerator:               "Generator",
	TypeIDProperty:                "Property",
	TypeIDClassMethod:             "ClassMethod",
	TypeIDStaticMethod:            "StaticMethod",
	TypeIDEllipsis:                "Ellipsis",
	TypeIDSlice:                   "Slice",
	TypeIDBoundMethod:             "BoundMethod",
	TypeIDDictKeys:                "DictKeys",
	TypeIDDictValues:              "DictValues",
	TypeIDDictItems:               "DictItems",
	TypeIDListIterator:            "ListIterator",
	TypeIDTupleIterator:           "TupleIterator",
	TypeIDSetIterator:             "SetIterator",
	TypeIDBytesIterator:           "BytesIterator",
	TypeIDUnicodeIterator:         "UnicodeIterator",
	TypeIDCallableIterator:        "CallableIterator",
	TypeIDStr:                     "Str",
	TypeIDStrIterator:             "StrIterator",
}

func (id BuiltinTypeID) String() string {
	if id < 0 || id >= numBuiltinTypeIDs {
		return "BuiltinTypeID(?)"
	}
	return builtinTypeIDNames[id]
}

// IsVirtual reports whether id must be remapped before it names a type.
func (id BuiltinTypeID) IsVirtual() bool {
	return id == TypeIDStr || id == TypeIDStrIterator
}

// GetBuiltinTypeName returns the builtin type name id carries in version v.
// The result depends only on its arguments. TypeIDUnknown and out-of-range
// identifiers return "".
func GetBuiltinTypeName(id BuiltinTypeID, v langver.Version) string {
	is3x := v.Is3x()
	pick := func(py3, py2 string) string {
		if is3x {
			return py3
		}
		return py2
	}

	switch id {
	case TypeIDObject:
		return "object"
	case TypeIDType:
		return "type"
	case TypeIDNoneType:
		return "NoneType"
	case TypeIDBool:
		return "bool"
	case TypeIDInt:
		return "int"
	case TypeIDLong:
		return pick("int", "long")
	case TypeIDFloat:
		return "float"
	case TypeIDComplex:
		return "complex"
	case TypeIDTuple:
		return "tuple"
	case TypeIDList:
		return "list"
	case TypeIDDict:
		return "dict"
	case TypeIDSet:
		return "set"
	case TypeIDFrozenSet:
		return "frozenset"
	case TypeIDBytes:
		return pick("bytes", "str")
	case TypeIDUnicode:
		return pick("str", "unicode")
	case TypeIDStr:
		return "str"
	case TypeIDModule:
		return "module"
	case TypeIDFunction:
		return "function"
	case TypeIDBuiltinMethodDescriptor:
		return "method_descriptor"
	case TypeIDBuiltinFunction:
		return "builtin_function_or_method"
	case TypeIDGenerator:
		return "generator"
	case TypeIDProperty:
		return "property"
	case TypeIDClassMethod:
		return "classmethod"
	case TypeIDStaticMethod:
		return "staticmethod"
	case TypeIDEllipsis:
		return "ellipsis"
	case TypeIDSlice:
		return "slice"
	case TypeIDBoundMethod:
		return pick("method", "instancemethod")
	case TypeIDDictKeys:
		return "dict_keys"
	case TypeIDDictValues:
		return "dict_values"
	case TypeIDDictItems:
		return "dict_items"
	case TypeIDListIterator:
		return pick("list_iterator", "listiterator")
	case TypeIDTupleIterator:
		return pick("tuple_iterator", "tupleiterator")
	case TypeIDSetIterator:
		return pick("set_iterator", "setiterator")
	case TypeIDBytesIterator:
		return pick("bytes_iterator", "iterator")
	case TypeIDUnicodeIterator:
		return pick("str_iterator", "iterator")
	case TypeIDStrIterator:
		return pick("str_iterator", "iterator")
	case TypeIDCallableIterator:
		return "callable_iterator"
	}
	return ""
}

// TypeIDForName is the reverse of GetBuiltinTypeName, used to tag types parsed
// from a builtin module. It never returns a virtual identifier. When two
// identifiers share a name the lower one wins (TypeIDInt over TypeIDLong on
// 3.x).
func TypeIDForName(name string, v langver.Version) BuiltinTypeID {
	if name == "" {
		return TypeIDUnknown
	}
	for id := TypeIDUnknown + 1; id < numBuiltinTypeIDs; id++ {
		if id.IsVirtual() {
			continue
		}
		if GetBuiltinTypeName(id, v) == name {
			return id
		}
	}
	return TypeIDUnknown
}

// concreteTypeID maps virtual identifiers onto the concrete identifier they
// stand for in version v.
func concreteTypeID(id BuiltinTypeID, v langver.Version) BuiltinTypeID {
	switch id {
	case TypeIDStr:
		if v.Is3x() {
			return TypeIDUnicode
		}
		return TypeIDBytes
	case TypeIDStrIterator:
		if v.Is3x() {
			return TypeIDUnicodeIterator
		}
		return TypeIDBytesIterator
	}
	return id
}

// builtinFallbackIDs lists the builtin types that have no literal entry in
// a builtin cache file but must still answer lookups.
var builtinFallbackIDs = []BuiltinTypeID{
	TypeIDNoneType,
	TypeIDEllipsis,
	TypeIDGenerator,
	TypeIDFunction,
	TypeIDBuiltinFunction,
	TypeIDBuiltinMethodDescriptor,
	TypeIDBoundMethod,
	TypeIDDictKeys,
	TypeIDDictValues,
	TypeIDDictItems,
	TypeIDListIterator,
	TypeIDTupleIterator,
	TypeIDSetIterator,
	TypeIDBytesIterator,
	TypeIDUnicodeIterator,
	TypeIDCallableIterator,
}

// fallbackTypeID returns the identifier a builtin module should synthesize
// for name, or TypeIDUnknown when name is not in the fallback table.
func fallbackTypeID(name string, v langver.Version) BuiltinTypeID {
	for _, id := range builtinFallbackIDs {
		if GetBuiltinTypeName(id, v) == name {
			return id
		}
	}
	return TypeIDUnknown
}

// Package params builds the parameterization of one tool invocation.
//
// Values are a tagged variant: every Value carries exactly one Kind, and the
// Builder only accepts a Value whose kind matches the parameter's declared
// type. Loosely typed input (CLI flags, MCP arguments, parameter files) goes
// through Convert, which performs the tag-directed conversion explicitly.
package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindStruct
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindStruct:
		return "struct"
	case KindList:
		return "list"
	}
	return "invalid"
}

// Value is a single assigned parameter value. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	obj  map[string]any
	list []Value
}

// String returns a string-kinded Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an int-kinded Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float-kinded Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a bool-kinded Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Struct returns a struct-kinded Value. The object is kept verbatim and
// encoded back unchanged; a nil map encodes as {}.
func Struct(obj map[string]any) Value {
	if obj == nil {
		obj = map[string]any{}
	}
	return Value{kind: KindStruct, obj: obj}
}

// List returns a list-kinded Value for array parameters.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the int variant.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the numeric value of an int or float variant.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsStruct returns the struct variant.
func (v Value) AsStruct() (map[string]any, bool) { return v.obj, v.kind == KindStruct }

// AsList returns the list variant.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// Interface returns the plain Go value that encodes to the same JSON.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindStruct:
		return v.obj
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON encodes the held variant. An invalid Value encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// String renders v for display.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStruct:
		b, err := json.Marshal(v.obj)
		if err != nil {
			return fmt.Sprintf("%v", v.obj)
		}
		return string(b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "<invalid>"
}

// Parameterization maps parameter names to assigned values. A Builder never
// mutates a Parameterization it has handed out; every edit produces a new map.
type Parameterization map[string]Value

// Has reports whether name has an entry, regardless of its content.
func (p Parameterization) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Map converts the parameterization to plain Go values.
func (p Parameterization) Map() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}

func (p Parameterization) with(name string, v Value) Parameterization {
	next := make(Parameterization, len(p)+1)
	for k, old := range p {
		next[k] = old
	}
	next[name] = v
	return next
}

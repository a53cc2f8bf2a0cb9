package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds. The zero Value is Null.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ErrInvalidNumber is returned when a number literal is not valid JSON or
// a float is NaN or infinite.
var ErrInvalidNumber = errors.New("invalid number")

// Value is an immutable-by-convention structured document node.
// Use Clone before handing a Value to code that might mutate nested lists
// or maps obtained through AsList or AsMap.
type Value struct {
	kind Kind
	b    bool
	s    string // string content, or number literal
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer number value.
func Int(n int64) Value { return Value{kind: KindNumber, s: strconv.FormatInt(n, 10)} }

// Float returns a number value for f. NaN and infinities have no JSON
// representation and are rejected.
func Float(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	return Value{kind: KindNumber, s: strconv.FormatFloat(f, 'g', -1, 64)}, nil
}

// Number returns a number value holding the given JSON literal verbatim.
func Number(literal json.Number) (Value, error) {
	if !validNumber(string(literal)) {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidNumber, string(literal))
	}
	return Value{kind: KindNumber, s: string(literal)}, nil
}

// List returns a list value. The slice is not copied.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Map returns a map value. The map is not copied.
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, m: fields}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsNumber returns the number literal held by v.
func (v Value) AsNumber() (json.Number, bool) { return json.Number(v.s), v.kind == KindNumber }

// AsInt returns the number held by v as an int64 when it is integral.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.s, 10, 64)
	return n, err == nil
}

// AsFloat returns the number held by v as a float64.
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// AsList returns the items of a list value.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the fields of a map value.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Field returns the named field of a map value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[name]
	return f, ok
}

// Keys returns the field names of a map value in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of items or fields for lists and maps, and 0
// otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		fields := make(map[string]Value, len(v.m))
		for k, f := range v.m {
			fields[k] = f.Clone()
		}
		return Value{kind: KindMap, m: fields}
	default:
		return v
	}
}

// Equal reports whether v and o are structurally identical. Numbers are
// compared by literal, so 1 and 1.0 are different documents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber, KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, f := range v.m {
			g, ok := o.m[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

// String returns the canonical JSON encoding of v.
func (v Value) String() string {
	var sb strings.Builder
	v.encode(&sb)
	return sb.String()
}

// FromAny converts a tree of plain Go values into a Value. Supported leaf
// types are nil, bool, string, json.Number, and the built-in integer and
// float types. Containers must be []any or map[string]any (or their Value
// counterparts).
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t)
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Value{kind: KindNumber, s: strconv.FormatUint(uint64(t), 10)}, nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Value{kind: KindNumber, s: strconv.FormatUint(t, 10)}, nil
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return List(items...), nil
	case []Value:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = item.Clone()
		}
		return List(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, f := range t {
			v, err := FromAny(f)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = v
		}
		return Map(fields), nil
	case map[string]Value:
		return Map(t).Clone(), nil
	default:
		return Value{}, fmt.Errorf("unsupported document type %T", x)
	}
}

// MustFromAny is like FromAny but panics on error. Intended for literals in
// tests and fixtures.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Any converts v into plain Go values: nil, bool, string, json.Number,
// []any and map[string]any.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.s)
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.Any()
		}
		return out
	default:
		return nil
	}
}

func validNumber(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	if c := s[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid([]byte(s))
}

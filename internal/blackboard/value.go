package blackboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Fields is an insertion-ordered string-keyed map of values.
type Fields = orderedmap.OrderedMap[string, Value]

// NewFields returns an empty ordered field set.
func NewFields() *Fields {
	return orderedmap.New[string, Value]()
}

// Value is a JSON-shaped datum: null, a scalar (string, number, bool),
// an array of values, or an ordered map of values. Merge dispatch
// switches on Kind rather than on runtime type inspection.
type Value struct {
	kind   Kind
	scalar any
	items  []Value
	fields *orderedmap.OrderedMap[string, Value]
}

// Null is the zero Value.
var Null = Value{}

// Scalar wraps a string, bool or number.
func Scalar(v any) Value {
	if v == nil {
		return Null
	}
	return Value{kind: KindScalar, scalar: v}
}

// Array builds an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Map wraps an ordered field set. A nil set yields an empty map.
func Map(fields *Fields) Value {
	if fields == nil {
		fields = NewFields()
	}
	return Value{kind: KindMap, fields: fields}
}

// MapOf builds a map value from alternating key/value pairs, preserving order.
func MapOf(kv ...any) Value {
	f := NewFields()
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("blackboard: MapOf key %d is %T, want string", i, kv[i]))
		}
		f.Set(k, From(kv[i+1]))
	}
	return Map(f)
}

// From converts a native Go value (as produced by encoding/json) into a
// Value. Keys of plain Go maps are sorted so the result is deterministic.
func From(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case Value:
		return t
	case *Fields:
		return Map(t)
	case []Value:
		return Array(t...)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = From(e)
		}
		return Array(items...)
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = Scalar(e)
		}
		return Array(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		f := NewFields()
		for _, k := range keys {
			f.Set(k, From(t[k]))
		}
		return Map(f)
	case json.RawMessage:
		var out Value
		if err := json.Unmarshal(t, &out); err != nil {
			return Scalar(string(t))
		}
		return out
	default:
		return Scalar(t)
	}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Items returns the elements of an array value, or nil.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Fields returns the fields of a map value, or nil.
func (v Value) Fields() *Fields {
	if v.kind != KindMap {
		return nil
	}
	return v.fields
}

// Get returns the field named key of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null, false
	}
	return v.fields.Get(key)
}

// Interface converts v back to plain Go values.
func (v Value) Interface() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindArray:
		out := make([]any, len(v.items))
		for i, e := range v.items {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.fields.Len())
		for p := v.fields.Oldest(); p != nil; p = p.Next() {
			out[p.Key] = p.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// String returns the scalar as text, or the JSON encoding otherwise.
func (v Value) String() string {
	if s, ok := v.scalar.(string); ok && v.kind == KindScalar {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Clone returns a deep copy; mutating the copy's maps never affects v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.items))
		for i, e := range v.items {
			items[i] = e.Clone()
		}
		return Array(items...)
	case KindMap:
		return Map(CloneFields(v.fields))
	default:
		return v
	}
}

// CloneFields deep-copies an ordered field set.
func CloneFields(f *Fields) *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	for p := f.Oldest(); p != nil; p = p.Next() {
		out.Set(p.Key, p.Value.Clone())
	}
	return out
}

// Equal reports structural equality. Map key order is ignored.
func (v Value) Equal(o Value) bool {
	return v.fingerprint() == o.fingerprint()
}

// fingerprint is a canonical encoding used for equality and de-duplication.
func (v Value) fingerprint() string {
	var sb strings.Builder
	v.writeCanonical(&sb)
	return sb.String()
}

func (v Value) writeCanonical(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindScalar:
		b, _ := json.Marshal(normalizeNumber(v.scalar))
		sb.Write(b)
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			e.writeCanonical(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, v.fields.Len())
		for p := v.fields.Oldest(); p != nil; p = p.Next() {
			keys = append(keys, p.Key)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			fv, _ := v.fields.Get(k)
			fv.writeCanonical(sb)
		}
		sb.WriteByte('}')
	}
}

// normalizeNumber makes 1, int64(1) and 1.0 compare equal.
func normalizeNumber(s any) any {
	switch n := s.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return s
}

// MarshalJSON encodes v, preserving map insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindScalar:
		return json.Marshal(v.scalar)
	case KindArray:
		return json.Marshal(v.items)
	case KindMap:
		return v.fields.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON document, preserving object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("blackboard: empty JSON value")
	}
	switch trimmed[0] {
	case 'n':
		*v = Null
	case '[':
		var items []Value
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*v = Array(items...)
	case '{':
		f := NewFields()
		if err := f.UnmarshalJSON(trimmed); err != nil {
			return err
		}
		*v = Map(f)
	default:
		var s any
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = Scalar(s)
	}
	return nil
}

package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "null"
	}
}

// Value is one JSON-compatible property value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	obj  map[string]Value
	arr  []Value
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) Num() (float64, bool) {
	return v.n, v.kind == KindNumber
}

func (v Value) Boolean() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Obj() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

func (v Value) Arr() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// FromAny converts decoded JSON (or plain Go scalars) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return Number(f), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = v
		}
		return Object(m), nil
	case []any:
		vs := make([]Value, 0, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			vs = append(vs, v)
		}
		return Array(vs...), nil
	default:
		return Value{}, fmt.Errorf("unsupported property type %T", x)
	}
}

// Any returns the plain Go representation used by encoding/json.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.Any()
		}
		return m
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		m := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.Clone()
		}
		return Object(m)
	case KindArray:
		vs := make([]Value, len(v.arr))
		for i, e := range v.arr {
			vs[i] = e.Clone()
		}
		return Array(vs...)
	default:
		return v
	}
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindObject:
		return maps.EqualFunc(v.obj, o.obj, Value.Equal)
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	out, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// Properties is the open key/value bag attached to a feature.
type Properties map[string]Value

// PropertiesFrom converts a decoded JSON object.
func PropertiesFrom(m map[string]any) (Properties, error) {
	out := make(Properties, len(m))
	for k, x := range m {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

// Map returns the plain representation, e.g. for geojson.Properties.
func (p Properties) Map() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Any()
	}
	return out
}

func (p Properties) GetString(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	return v.Str()
}

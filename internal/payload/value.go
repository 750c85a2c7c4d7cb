// Package payload models loosely-typed entity payloads as a tagged value
// tree. Representing values explicitly (instead of raw interface{} maps)
// keeps placeholder substitution and storage encoding type-safe.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is one node in a payload tree.
type Value struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Value
	obj  Map
}

// Map is an object payload keyed by field name.
type Map map[string]Value

// Null returns the null value.
func Null() Value {
	return Value{kind: KindNull}
}

// Bool wraps a boolean scalar.
func Bool(v bool) Value {
	return Value{kind: KindBool, b: v}
}

// Int wraps an integer scalar.
func Int(v int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(v, 10))}
}

// Float wraps a floating-point scalar.
func Float(v float64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(v, 'g', -1, 64))}
}

// String wraps a string scalar.
func String(v string) Value {
	return Value{kind: KindString, str: v}
}

// Array wraps a sequence of values.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: items}
}

// Object wraps a payload map.
func Object(m Map) Value {
	return Value{kind: KindObject, obj: m}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind {
	return v.kind
}

// BoolValue returns the boolean scalar when the value holds one.
func (v Value) BoolValue() (bool, bool) {
	return v.b, v.kind == KindBool
}

// StringValue returns the string scalar when the value holds one.
func (v Value) StringValue() (string, bool) {
	return v.str, v.kind == KindString
}

// Int64 returns the numeric scalar as an integer when it holds one exactly.
func (v Value) Int64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := v.num.Int64()
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float64 returns the numeric scalar as a float when the value holds one.
func (v Value) Float64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// Items returns the array elements when the value holds a sequence.
func (v Value) Items() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// Fields returns the object map when the value holds one.
func (v Value) Fields() (Map, bool) {
	return v.obj, v.kind == KindObject
}

// MarshalJSON encodes the value as its JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num), nil
	case KindString:
		return json.Marshal(v.str)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("unknown payload kind %d", v.kind)
	}
}

// UnmarshalJSON decodes arbitrary JSON into the tagged tree. Numbers keep
// their literal representation so integer identifiers survive round-trips.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// UnmarshalJSON decodes a JSON object into the payload map.
func (m *Map) UnmarshalJSON(data []byte) error {
	var value Value
	if err := value.UnmarshalJSON(data); err != nil {
		return err
	}
	obj, ok := value.Fields()
	if !ok {
		return fmt.Errorf("payload must be a JSON object")
	}
	*m = obj
	return nil
}

// ParseMap decodes raw JSON bytes into a payload map.
func ParseMap(data []byte) (Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode renders the payload map as canonical JSON bytes.
func (m Map) Encode() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Clone returns a deep copy of the payload map.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for key, value := range m {
		out[key] = value.clone()
	}
	return out
}

func (v Value) clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.clone()
		}
		return Value{kind: KindArray, arr: items}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

func fromAny(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		return Value{kind: KindNumber, num: typed}, nil
	case string:
		return String(typed), nil
	case []any:
		items := make([]Value, len(typed))
		for i, item := range typed {
			value, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = value
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		obj := make(Map, len(typed))
		for key, item := range typed {
			value, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[key] = value
		}
		return Object(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported payload value %T", raw)
	}
}

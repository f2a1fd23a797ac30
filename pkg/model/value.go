package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a JSON-like value as it appears inside an IaC artifact:
// resource properties, output values, intrinsic-function arguments.
// The variant set is closed; Null, Bool, Number, String, Array and
// Object are the only implementations.
type Value interface {
	isValue()
	// GoValue returns the plain Go form: nil, bool, json.Number,
	// string, []any or map[string]any.
	GoValue() any
}

// Null is the JSON null.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number kept as its source literal. Keeping the
// literal means 300 never re-encodes as 3e2 and float precision never
// drifts through a decode/encode cycle.
type Number string

// String is a JSON string.
type String string

// Array is a JSON array.
type Array []Value

// Object is a JSON object.
type Object map[string]Value

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Object) isValue() {}

func (Null) GoValue() any     { return nil }
func (b Bool) GoValue() any   { return bool(b) }
func (n Number) GoValue() any { return json.Number(n) }
func (s String) GoValue() any { return string(s) }

func (a Array) GoValue() any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = v.GoValue()
	}
	return out
}

func (o Object) GoValue() any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = v.GoValue()
	}
	return out
}

// MarshalJSON emits null rather than the empty object a struct{}
// would produce.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// MarshalJSON re-emits the stored literal verbatim. A zero-value
// Number encodes as 0.
func (n Number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

// FromJSON decodes one JSON document into a Value. Numbers keep their
// source literal via json.Number.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return FromAny(raw), nil
}

// FromAny converts a decoded JSON or YAML tree into a Value. It covers
// everything encoding/json (with UseNumber) and yaml.v3 produce for an
// untyped destination; anything else is stringified.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(t)
	case json.Number:
		return Number(t)
	case string:
		return String(t)
	case int:
		return Number(strconv.Itoa(t))
	case int64:
		return Number(strconv.FormatInt(t, 10))
	case uint64:
		return Number(strconv.FormatUint(t, 10))
	case float64:
		return Number(strconv.FormatFloat(t, 'g', -1, 64))
	case []any:
		out := make(Array, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return out
	case map[string]any:
		out := make(Object, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return out
	case map[any]any:
		// yaml.v3 falls back to any-keyed maps for non-string keys.
		out := make(Object, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = FromAny(e)
		}
		return out
	default:
		return String(fmt.Sprint(t))
	}
}

// Package jsonvalue provides a read-only tagged JSON value with accessors
// that report absence instead of panicking. Decoded frames are handed to
// inspectors in this form.
package jsonvalue

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// Undefined is the kind of a missing value, e.g. an absent key.
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "undefined"
	}
}

// Value is an immutable JSON value. The zero Value is Undefined.
type Value struct {
	kind Kind
	b    bool
	// num keeps the literal so integers beyond 2^53 survive.
	num string
	str string
	arr []Value
	obj map[string]Value
}

// ErrTrailingData is returned when a document has content after the
// first value.
var ErrTrailingData = errors.New("jsonvalue: trailing data after value")

// Parse decodes one JSON document.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("jsonvalue: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Value{}, ErrTrailingData
	}
	return FromAny(raw), nil
}

// FromAny converts the output of a JSON decoder (nil, bool, float64,
// json.Number, string, []any, map[string]any).
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{kind: Null}
	case bool:
		return Value{kind: Bool, b: x}
	case json.Number:
		return Value{kind: Number, num: x.String()}
	case float64:
		return Value{kind: Number, num: strconv.FormatFloat(x, 'g', -1, 64)}
	case string:
		return Value{kind: String, str: x}
	case []any:
		arr := make([]Value, len(x))
		for i, e := range x {
			arr[i] = FromAny(e)
		}
		return Value{kind: Array, arr: arr}
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = FromAny(e)
		}
		return Value{kind: Object, obj: obj}
	default:
		return Value{}
	}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Exists() bool   { return v.kind != Undefined }
func (v Value) IsNull() bool   { return v.kind == Null }
func (v Value) IsObject() bool { return v.kind == Object }

// Bool returns the boolean and whether v is a boolean.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == Bool
}

// Float returns the number as float64.
func (v Value) Float() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.num, 64)
	return f, err == nil
}

// Int returns the number when it is an integer that fits in int64.
func (v Value) Int() (int64, bool) {
	if v.kind != Number {
		return 0, false
	}
	n, err := strconv.ParseInt(v.num, 10, 64)
	return n, err == nil
}

// Text returns the string and whether v is a string.
func (v Value) Text() (string, bool) {
	return v.str, v.kind == String
}

// Len returns the element count of an array or object, otherwise 0.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	}
	return 0
}

// Get returns the member key of an object, or Undefined.
func (v Value) Get(key string) Value {
	if v.kind != Object {
		return Value{}
	}
	return v.obj[key]
}

// Index returns element i of an array, or Undefined.
func (v Value) Index(i int) Value {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Path walks nested members. Each step is a string key or an int index;
// any other step type yields Undefined.
func (v Value) Path(steps ...any) Value {
	cur := v
	for _, s := range steps {
		switch k := s.(type) {
		case string:
			cur = cur.Get(k)
		case int:
			cur = cur.Index(k)
		default:
			return Value{}
		}
		if !cur.Exists() {
			return cur
		}
	}
	return cur
}

// Elements returns a copy of the array elements, or nil.
func (v Value) Elements() []Value {
	if v.kind != Array {
		return nil
	}
	return append([]Value(nil), v.arr...)
}

// Keys returns the object member names in sorted order, or nil.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Any converts v back to plain Go values.
func (v Value) Any() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return json.Number(v.num)
	case String:
		return v.str
	case Array:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Any()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Any()
		}
		return out
	}
	return nil
}

// MarshalJSON encodes v. Undefined encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// String renders v as compact JSON.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

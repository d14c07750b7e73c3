package engine

import (
	"reflect"
	"strconv"
)

// Type identifies the dynamic type of a script value.
type Type int

const (
	TypeNil Type = iota
	TypeBoolean
	TypeNumber
	TypeString
	TypeFunction
	TypeGoFunction
	TypeUserData
)

// TypeName returns the script-visible name of the type.
func (t Type) TypeName() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeFunction, TypeGoFunction:
		return "function"
	case TypeUserData:
		return "userdata"
	}
	return "unknown"
}

// GoFunc is a host function callable from script code. Arguments are on the
// state's stack (1..Top); the return value is the number of results pushed.
type GoFunc func(s *State) int

type goClosure struct {
	fn   GoFunc
	name string
}

// Function is a compiled script function or chunk.
type Function struct {
	name   string
	params []string
	body   []stmt
	env    *scope
}

// Value is a script value. The zero Value is nil.
type Value struct {
	t  Type
	b  bool
	n  float64
	s  string
	fn *Function
	gf *goClosure
	ud any
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{t: TypeBoolean, b: b} }

// Number returns a number value.
func Number(n float64) Value { return Value{t: TypeNumber, n: n} }

// String returns a string value.
func String(s string) Value { return Value{t: TypeString, s: s} }

// UserData returns an opaque host value. UserData values compare by
// identity, which is what makes them usable as sentinels.
func UserData(v any) Value { return Value{t: TypeUserData, ud: v} }

func funcValue(f *Function) Value { return Value{t: TypeFunction, fn: f} }
func goFuncValue(g *goClosure) Value { return Value{t: TypeGoFunction, gf: g} }

// Type returns the value's dynamic type.
func (v Value) Type() Type { return v.t }

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool { return v.t == TypeNil }

// Truthy follows the usual scripting convention: nil and false are false,
// everything else is true.
func (v Value) Truthy() bool {
	switch v.t {
	case TypeNil:
		return false
	case TypeBoolean:
		return v.b
	}
	return true
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.t != TypeBoolean {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) {
	if v.t != TypeNumber {
		return 0, false
	}
	return v.n, true
}

// AsString returns the string payload. Unlike String, no coercion happens.
func (v Value) AsString() (string, bool) {
	if v.t != TypeString {
		return "", false
	}
	return v.s, true
}

// AsUserData returns the opaque host payload.
func (v Value) AsUserData() (any, bool) {
	if v.t != TypeUserData {
		return nil, false
	}
	return v.ud, true
}

// Equals compares two values. Numbers and strings compare by content,
// functions and userdata by identity.
func (v Value) Equals(o Value) bool {
	if v.t != o.t {
		return false
	}
	switch v.t {
	case TypeNil:
		return true
	case TypeBoolean:
		return v.b == o.b
	case TypeNumber:
		return v.n == o.n
	case TypeString:
		return v.s == o.s
	case TypeFunction:
		return v.fn == o.fn
	case TypeGoFunction:
		return v.gf == o.gf
	case TypeUserData:
		return userDataEqual(v.ud, o.ud)
	}
	return false
}

// userDataEqual compares host payloads by identity. Payloads whose dynamic
// type the Go runtime cannot compare (slices, maps, funcs) must not trip
// the interface comparison; they compare by reference instead.
func userDataEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func:
		return va.Pointer() == vb.Pointer()
	}
	// non-comparable structs and arrays have no usable identity
	return false
}

// String renders the value the way tostring does.
func (v Value) String() string {
	switch v.t {
	case TypeNil:
		return "nil"
	case TypeBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case TypeNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case TypeString:
		return v.s
	case TypeFunction:
		if v.fn.name != "" {
			return "function: " + v.fn.name
		}
		return "function"
	case TypeGoFunction:
		if v.gf.name != "" {
			return "function: builtin " + v.gf.name
		}
		return "function: builtin"
	case TypeUserData:
		return "userdata"
	}
	return "unknown"
}

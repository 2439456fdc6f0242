// Package lpc implements the LPC value model and its textual wire encoding
// as used by MudMode links to Intermud-3 routers.
//
// LPC values form a small dynamic type system: integers, floats, strings,
// arrays, mappings and raw buffers. The wire form is the historical textual
// one, e.g. ({"tell",5,"MudA",...,}) — see encode.go / decode.go.
package lpc

import "reflect"

// Value is the sum type of everything an LPC tree can hold. A nil Value is
// the LPC null and encodes as the integer 0.
type Value interface {
	isValue()
}

// Int is a 32-bit signed LPC integer.
type Int int32

// Float is an LPC float.
type Float float64

// Str is a UTF-8 LPC string.
type Str string

// Buffer is an opaque byte buffer. It encodes as a string after lossy UTF-8
// replacement and therefore decodes back as Str.
type Buffer []byte

// Array is an ordered sequence of values.
type Array []Value

// Pair is a single mapping entry.
type Pair struct {
	Key Value
	Val Value
}

// Mapping is an ordered sequence of key/value pairs. Order is stable within
// a single encode or decode pass; lookups use deep equality on keys.
type Mapping []Pair

func (Int) isValue()     {}
func (Float) isValue()   {}
func (Str) isValue()     {}
func (Buffer) isValue()  {}
func (Array) isValue()   {}
func (Mapping) isValue() {}

// Bool converts a Go bool to the LPC convention of 1/0. The I3 wire has no
// boolean type, so booleans are always carried as integers.
func Bool(b bool) Int {
	if b {
		return 1
	}
	return 0
}

// Get returns the value stored under key, using deep equality.
func (m Mapping) Get(key Value) (Value, bool) {
	for i := range m {
		if reflect.DeepEqual(m[i].Key, key) {
			return m[i].Val, true
		}
	}
	return nil, false
}

// GetStr returns the value stored under a string key.
func (m Mapping) GetStr(key string) (Value, bool) {
	return m.Get(Str(key))
}

// Set replaces the value under key or appends a new pair.
func (m Mapping) Set(key, val Value) Mapping {
	for i := range m {
		if reflect.DeepEqual(m[i].Key, key) {
			m[i].Val = val
			return m
		}
	}
	return append(m, Pair{Key: key, Val: val})
}

// AsString unwraps a Str value.
func AsString(v Value) (string, bool) {
	s, ok := v.(Str)
	return string(s), ok
}

// AsInt unwraps an Int value.
func AsInt(v Value) (int, bool) {
	n, ok := v.(Int)
	return int(n), ok
}

// StringOr unwraps a Str value or returns def.
func StringOr(v Value, def string) string {
	if s, ok := v.(Str); ok {
		return string(s)
	}
	return def
}

// IntOr unwraps an Int value or returns def.
func IntOr(v Value, def int) int {
	if n, ok := v.(Int); ok {
		return int(n)
	}
	return def
}

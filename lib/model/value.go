package model

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Tagged Metadata Values
// --------------------------------------------------------------------------

// ValueKind identifies the type stored in a metadata Value.
type ValueKind uint8

const (
	KindInt ValueKind = iota + 1
	KindFloat
	KindBool
	KindText
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is a closed tagged metadata value. Metadata maps arbitrary
// string keys to one of a fixed set of primitive types, which keeps the
// container layout self-describing without open-ended dynamic typing.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	b    bool
	s    string
	raw  []byte
}

// Metadata maps string keys to tagged values. Keys are unique; iteration
// order is unspecified (callers sort where determinism matters).
type Metadata map[string]Value

func IntValue(v int64) Value     { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func BoolValue(v bool) Value     { return Value{kind: KindBool, b: v} }
func TextValue(v string) Value   { return Value{kind: KindText, s: v} }

// BytesValue wraps a byte blob. The data is copied.
func BytesValue(v []byte) Value {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Value{kind: KindBytes, raw: cp}
}

// Kind returns the tag of the value. The zero Value has kind 0, which is
// not a valid tag.
func (v Value) Kind() ValueKind { return v.kind }

// Int returns the stored int64. The boolean is false for other kinds.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Float returns the stored float64. The boolean is false for other kinds.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// Bool returns the stored bool. The boolean is false for other kinds.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Text returns the stored string. The boolean is false for other kinds.
func (v Value) Text() (string, bool) { return v.s, v.kind == KindText }

// Bytes returns a copy of the stored blob. The boolean is false for
// other kinds.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	cp := make([]byte, len(v.raw))
	copy(cp, v.raw)
	return cp, true
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindText:
		return v.s == other.s
	case KindBytes:
		if len(v.raw) != len(other.raw) {
			return false
		}
		for i := range v.raw {
			if v.raw[i] != other.raw[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindText:
		return v.s
	case KindBytes:
		return fmt.Sprintf("%x", v.raw)
	default:
		return "<unset>"
	}
}

// Equal reports whether two metadata maps hold the same keys with equal
// values.
func (m Metadata) Equal(other Metadata) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of the metadata map (values are immutable
// so a shallow copy is safe to hand out).
func (m Metadata) Clone() Metadata {
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

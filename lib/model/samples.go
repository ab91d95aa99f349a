package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Sample Element Types
// --------------------------------------------------------------------------

// SampleType identifies the element type of the samples in a trace.
// It is a closed enum: a series fixes one element type with its first
// trace and never changes it.
type SampleType uint8

const (
	SampleFloat32 SampleType = iota + 1
	SampleFloat64
	SampleInt8
	SampleInt16
	SampleInt32
	SampleInt64
)

// Size returns the number of bytes one element of this type occupies.
func (t SampleType) Size() int {
	switch t {
	case SampleFloat32, SampleInt32:
		return 4
	case SampleFloat64, SampleInt64:
		return 8
	case SampleInt8:
		return 1
	case SampleInt16:
		return 2
	default:
		return 0
	}
}

func (t SampleType) String() string {
	switch t {
	case SampleFloat32:
		return "float32"
	case SampleFloat64:
		return "float64"
	case SampleInt8:
		return "int8"
	case SampleInt16:
		return "int16"
	case SampleInt32:
		return "int32"
	case SampleInt64:
		return "int64"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the defined sample types.
func (t SampleType) Valid() bool {
	return t >= SampleFloat32 && t <= SampleInt64
}

// --------------------------------------------------------------------------
// Shape
// --------------------------------------------------------------------------

// Shape is the reference shape of a series: the number of samples per
// trace and their element type. It is fixed by the first trace accepted
// into a series (in memory) or by the stored dataset (on disk).
type Shape struct {
	Length int
	Type   SampleType
}

func (s Shape) String() string {
	return fmt.Sprintf("%d samples of %s", s.Length, s.Type)
}

// --------------------------------------------------------------------------
// Shape Validator
// --------------------------------------------------------------------------

// ShapeMismatchError is returned when a candidate trace does not match
// the reference shape of its series. The series is left unchanged.
type ShapeMismatchError struct {
	Expected Shape
	Actual   Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// CheckShape validates candidate samples against a series reference
// shape. Any difference in length or element type is rejected with a
// *ShapeMismatchError. No coercion (padding, truncation or casting) is
// performed.
func CheckShape(ref Shape, s Samples) error {
	if actual := s.Shape(); actual != ref {
		return &ShapeMismatchError{Expected: ref, Actual: actual}
	}
	return nil
}

// --------------------------------------------------------------------------
// Samples
// --------------------------------------------------------------------------

// Samples is an immutable, typed sample buffer. The raw representation
// is little-endian, which is also the on-disk row encoding, so a buffer
// round-trips through the container without conversion.
//
// The zero value is an empty buffer with no element type and is not a
// valid trace payload.
type Samples struct {
	typ SampleType
	n   int
	raw []byte
}

// Float32Samples wraps a float32 slice. The data is copied.
func Float32Samples(v []float32) Samples {
	raw := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(x))
	}
	return Samples{typ: SampleFloat32, n: len(v), raw: raw}
}

// Float64Samples wraps a float64 slice. The data is copied.
func Float64Samples(v []float64) Samples {
	raw := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(x))
	}
	return Samples{typ: SampleFloat64, n: len(v), raw: raw}
}

// Int8Samples wraps an int8 slice. The data is copied.
func Int8Samples(v []int8) Samples {
	raw := make([]byte, len(v))
	for i, x := range v {
		raw[i] = byte(x)
	}
	return Samples{typ: SampleInt8, n: len(v), raw: raw}
}

// Int16Samples wraps an int16 slice. The data is copied.
func Int16Samples(v []int16) Samples {
	raw := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(x))
	}
	return Samples{typ: SampleInt16, n: len(v), raw: raw}
}

// Int32Samples wraps an int32 slice. The data is copied.
func Int32Samples(v []int32) Samples {
	raw := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(x))
	}
	return Samples{typ: SampleInt32, n: len(v), raw: raw}
}

// Int64Samples wraps an int64 slice. The data is copied.
func Int64Samples(v []int64) Samples {
	raw := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(x))
	}
	return Samples{typ: SampleInt64, n: len(v), raw: raw}
}

// SamplesFromRaw reconstructs a buffer from its raw little-endian
// encoding. The byte length must be a multiple of the element size.
func SamplesFromRaw(typ SampleType, raw []byte) (Samples, error) {
	if !typ.Valid() {
		return Samples{}, fmt.Errorf("invalid sample type %d", typ)
	}
	size := typ.Size()
	if len(raw)%size != 0 {
		return Samples{}, fmt.Errorf("raw sample data of %d bytes is not a multiple of element size %d", len(raw), size)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Samples{typ: typ, n: len(raw) / size, raw: cp}, nil
}

// Len returns the number of samples in the buffer.
func (s Samples) Len() int { return s.n }

// Type returns the element type of the buffer.
func (s Samples) Type() SampleType { return s.typ }

// Shape returns the (length, element type) pair of the buffer.
func (s Samples) Shape() Shape { return Shape{Length: s.n, Type: s.typ} }

// Raw returns a copy of the little-endian encoding of the buffer.
func (s Samples) Raw() []byte {
	cp := make([]byte, len(s.raw))
	copy(cp, s.raw)
	return cp
}

// Equal reports whether two buffers have the same element type and the
// same sample values.
func (s Samples) Equal(other Samples) bool {
	if s.typ != other.typ || s.n != other.n {
		return false
	}
	for i := range s.raw {
		if s.raw[i] != other.raw[i] {
			return false
		}
	}
	return true
}

// Float32 decodes the buffer as float32 values. The boolean is false if
// the buffer holds a different element type.
func (s Samples) Float32() ([]float32, bool) {
	if s.typ != SampleFloat32 {
		return nil, false
	}
	v := make([]float32, s.n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.raw[4*i:]))
	}
	return v, true
}

// Float64 decodes the buffer as float64 values. The boolean is false if
// the buffer holds a different element type.
func (s Samples) Float64() ([]float64, bool) {
	if s.typ != SampleFloat64 {
		return nil, false
	}
	v := make([]float64, s.n)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(s.raw[8*i:]))
	}
	return v, true
}

// Int16 decodes the buffer as int16 values. The boolean is false if the
// buffer holds a different element type.
func (s Samples) Int16() ([]int16, bool) {
	if s.typ != SampleInt16 {
		return nil, false
	}
	v := make([]int16, s.n)
	for i := range v {
		v[i] = int16(binary.LittleEndian.Uint16(s.raw[2*i:]))
	}
	return v, true
}

package decoder

import (
	"math/big"
)

// Value is one decoded value from the value section.
//
// Primitive payloads are held inline; string and byte payloads are slices of
// the underlying buffer and stay valid while that buffer is mapped. Maps and
// arrays carry only their count and the offset of their first child.
type Value struct {
	Kind Kind

	// Offset is where the value's control byte lives. For a value reached
	// through a pointer this is the pointer target.
	Offset uint

	// Next is where the next sibling begins. For a value reached through a
	// pointer it is the byte after the pointer; for a map or array decoded in
	// place it equals Child.
	Next uint

	// Child is the offset of the first child of a map or array.
	Child uint

	// Size is the payload length of strings and bytes, the element count of
	// arrays and the pair count of maps.
	Size uint

	// Indirect is set when the value was reached by following a pointer.
	Indirect bool

	raw []byte
	u64 uint64
	hi  uint64
	f64 float64
	f32 float32
	i32 int32
	b   bool
}

// IsContainer reports whether v is a map or an array.
func (v Value) IsContainer() bool { return v.Kind.IsContainer() }

// Count returns the number of descendant slots a container occupies in
// sibling order: pairs*2 for maps, elements for arrays, zero otherwise.
func (v Value) Count() uint {
	switch v.Kind {
	case KindMap:
		return v.Size * 2
	case KindArray:
		return v.Size
	}
	return 0
}

// Text returns the payload of a utf8_string value.
func (v Value) Text() string {
	if v.Kind != KindString {
		return ""
	}
	return string(v.raw)
}

// Bytes returns the raw payload of a string or bytes value. The slice aliases
// the database buffer and must not be modified.
func (v Value) Bytes() []byte {
	if v.Kind != KindString && v.Kind != KindBytes {
		return nil
	}
	return v.raw
}

// Uint returns the value of uint16, uint32 and uint64 kinds, the low 64 bits
// of a uint128 and the target of a raw pointer.
func (v Value) Uint() uint64 { return v.u64 }

// Uint128 returns the high and low halves of a uint128 value.
func (v Value) Uint128() (hi, lo uint64) { return v.hi, v.u64 }

// BigInt returns a uint128 value as a big.Int.
func (v Value) BigInt() *big.Int {
	n := new(big.Int).SetUint64(v.hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(v.u64))
}

// Int32 returns the value of an int32 kind.
func (v Value) Int32() int32 { return v.i32 }

// Float64 returns the value of a double kind.
func (v Value) Float64() float64 { return v.f64 }

// Float32 returns the value of a float kind.
func (v Value) Float32() float32 { return v.f32 }

// Bool returns the value of a boolean kind.
func (v Value) Bool() bool { return v.b }

// Interface returns the Go value of a primitive. Containers return nil.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return string(v.raw)
	case KindBytes:
		out := make([]byte, len(v.raw))
		copy(out, v.raw)
		return out
	case KindFloat64:
		return v.f64
	case KindFloat32:
		return v.f32
	case KindUint16, KindUint32, KindUint64:
		return v.u64
	case KindUint128:
		return v.BigInt()
	case KindInt32:
		return v.i32
	case KindBool:
		return v.b
	}
	return nil
}

// Package testdb writes small synthetic databases for tests: a value encoder
// covering every kind and size class, a search tree builder for all record
// sizes, and a metadata writer with hooks for producing malformed files.
package testdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Typed values accepted by Encoder.Append in addition to string, bool,
// float64, []byte, Map and Array.
type (
	Uint16  uint16
	Uint32  uint32
	Uint64  uint64
	Int32   int32
	Float32 float32
	Bytes   []byte

	// Uint128 is encoded big-endian with leading zero bytes stripped.
	Uint128 struct{ Hi, Lo uint64 }

	// Pointer encodes a pointer to an offset in the same buffer.
	Pointer uint32

	// Raw is copied to the output verbatim.
	Raw []byte

	// Array is encoded element by element.
	Array []any

	// Map is encoded pair by pair in slice order. Keys are normally strings
	// but any value is accepted so tests can produce bad keys.
	Map []KV

	// KV is one map pair.
	KV struct {
		Key   any
		Value any
	}
)

// type numbers on disk
const (
	typeExtended = 0
	typePointer  = 1
	typeString   = 2
	typeDouble   = 3
	typeBytes    = 4
	typeUint16   = 5
	typeUint32   = 6
	typeMap      = 7
	typeInt32    = 8
	typeUint64   = 9
	typeUint128  = 10
	typeArray    = 11
	typeBool     = 14
	typeFloat    = 15
)

// Encoder appends encoded values to a growing buffer.
type Encoder struct {
	buf []byte
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Append encodes v and returns the offset it was written at.
func (e *Encoder) Append(v any) (uint32, error) {
	off := uint32(len(e.buf))
	if err := e.encode(v); err != nil {
		e.buf = e.buf[:off]
		return 0, err
	}
	return off, nil
}

// MustAppend is Append that panics on unsupported values.
func (e *Encoder) MustAppend(v any) uint32 {
	off, err := e.Append(v)
	if err != nil {
		panic(err)
	}
	return off
}

// Encode returns the standalone encoding of v.
func Encode(v any) ([]byte, error) {
	var e Encoder
	if _, err := e.Append(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// MustEncode is Encode that panics on unsupported values.
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (e *Encoder) encode(v any) error {
	switch x := v.(type) {
	case string:
		e.header(typeString, uint(len(x)))
		e.buf = append(e.buf, x...)
	case Bytes:
		e.header(typeBytes, uint(len(x)))
		e.buf = append(e.buf, x...)
	case []byte:
		e.header(typeBytes, uint(len(x)))
		e.buf = append(e.buf, x...)
	case float64:
		e.header(typeDouble, 8)
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(x))
	case Float32:
		e.header(typeFloat, 4)
		e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(float32(x)))
	case bool:
		size := uint(0)
		if x {
			size = 1
		}
		e.header(typeBool, size)
	case Uint16:
		e.uint(typeUint16, uint64(x))
	case Uint32:
		e.uint(typeUint32, uint64(x))
	case Uint64:
		e.uint(typeUint64, uint64(x))
	case Int32:
		e.uint(typeInt32, uint64(uint32(x)))
	case Uint128:
		var b [16]byte
		binary.BigEndian.PutUint64(b[:8], x.Hi)
		binary.BigEndian.PutUint64(b[8:], x.Lo)
		p := trimLeadingZeros(b[:])
		e.header(typeUint128, uint(len(p)))
		e.buf = append(e.buf, p...)
	case Pointer:
		e.pointer(uint32(x))
	case Raw:
		e.buf = append(e.buf, x...)
	case Array:
		e.header(typeArray, uint(len(x)))
		for _, el := range x {
			if err := e.encode(el); err != nil {
				return err
			}
		}
	case Map:
		e.header(typeMap, uint(len(x)))
		for _, kv := range x {
			if err := e.encode(kv.Key); err != nil {
				return err
			}
			if err := e.encode(kv.Value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("testdb: cannot encode %T", v)
	}
	return nil
}

func (e *Encoder) uint(typ byte, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	p := trimLeadingZeros(b[:])
	e.header(typ, uint(len(p)))
	e.buf = append(e.buf, p...)
}

// header writes the control byte, the extended type byte and size bytes.
func (e *Encoder) header(typ byte, size uint) {
	ctrl := typ << 5
	if typ > 7 {
		ctrl = typeExtended
	}

	var extra []byte
	switch {
	case size < 29:
		ctrl |= byte(size)
	case size < 285:
		ctrl |= 29
		extra = []byte{byte(size - 29)}
	case size < 65821:
		ctrl |= 30
		s := size - 285
		extra = []byte{byte(s >> 8), byte(s)}
	default:
		ctrl |= 31
		s := size - 65821
		extra = []byte{byte(s >> 16), byte(s >> 8), byte(s)}
	}

	e.buf = append(e.buf, ctrl)
	if typ > 7 {
		e.buf = append(e.buf, typ-7)
	}
	e.buf = append(e.buf, extra...)
}

// pointer writes p with the smallest size class that holds it.
func (e *Encoder) pointer(p uint32) {
	const base = typePointer << 5
	switch {
	case p < 2048:
		e.buf = append(e.buf, base|byte(p>>8)&0x7, byte(p))
	case p < 526336:
		q := p - 2048
		e.buf = append(e.buf, base|1<<3|byte(q>>16)&0x7, byte(q>>8), byte(q))
	case p < 134744064:
		q := p - 526336
		e.buf = append(e.buf, base|2<<3|byte(q>>24)&0x7, byte(q>>16), byte(q>>8), byte(q))
	default:
		e.buf = append(e.buf, base|3<<3)
		e.buf = binary.BigEndian.AppendUint32(e.buf, p)
	}
}

func trimLeadingZeros(b []byte) []byte {
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

// Package decoder reads the self-describing value section of a database:
// single values, path lookups into nested maps and arrays, and full subtree
// materialization.
package decoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/CVDpl/go-live-geoip/internal/common"
)

// Limits bounds the work a single call may do on adversarial input.
type Limits struct {
	// MaxPointerChain is the number of pointers one Decode may follow.
	MaxPointerChain int
	// MaxDepth is the deepest container nesting Materialize accepts.
	MaxDepth int
	// MaxNodes caps the values emitted by Materialize and visited by Skip.
	MaxNodes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxPointerChain: common.DefaultMaxPointerChain,
		MaxDepth:        common.DefaultMaxDepth,
		MaxNodes:        common.DefaultMaxNodes,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxPointerChain <= 0 {
		l.MaxPointerChain = d.MaxPointerChain
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = d.MaxNodes
	}
	return l
}

// pointer biases per size class
var pointerBias = [4]uint{0, 2048, 526336, 0}

// Decoder decodes values from an immutable buffer. Offsets, including
// pointer targets, are relative to the start of the buffer. A Decoder holds
// no mutable state and may be shared between goroutines.
type Decoder struct {
	buf    []byte
	limits Limits
}

// New creates a decoder over buf.
func New(buf []byte, limits Limits) *Decoder {
	return &Decoder{buf: buf, limits: limits.withDefaults()}
}

// Len returns the length of the decoded buffer.
func (d *Decoder) Len() uint { return uint(len(d.buf)) }

// Limits returns the effective limits.
func (d *Decoder) Limits() Limits { return d.limits }

// Decode decodes the value at offset, following pointers.
func (d *Decoder) Decode(offset uint) (Value, error) {
	v, err := d.decodeOne(offset)
	if err != nil || v.Kind != KindPointer {
		return v, err
	}

	after := v.Next
	for hops := 1; v.Kind == KindPointer; hops++ {
		if hops > d.limits.MaxPointerChain {
			return Value{}, fmt.Errorf("%w: pointer chain at offset %d exceeds %d hops",
				common.ErrCorruptDatabase, offset, d.limits.MaxPointerChain)
		}
		if v, err = d.decodeOne(uint(v.u64)); err != nil {
			return Value{}, err
		}
	}
	v.Indirect = true
	v.Next = after
	return v, nil
}

// DecodeRaw decodes the value at offset without following pointers. A
// pointer comes back as KindPointer with its target in Uint.
func (d *Decoder) DecodeRaw(offset uint) (Value, error) {
	return d.decodeOne(offset)
}

// Skip returns the offset just past the value at offset, including all of
// its children. Pointers are not followed: a pointer only spans its own
// encoding.
func (d *Decoder) Skip(offset uint) (uint, error) {
	cursor := offset
	remaining := uint(1)
	for steps := 0; remaining > 0; steps++ {
		if steps >= d.limits.MaxNodes {
			return 0, fmt.Errorf("%w: more than %d values while skipping offset %d",
				common.ErrCorruptDatabase, d.limits.MaxNodes, offset)
		}
		v, err := d.decodeOne(cursor)
		if err != nil {
			return 0, err
		}
		remaining--
		remaining += v.Count()
		cursor = v.Next
	}
	return cursor, nil
}

func (d *Decoder) decodeOne(offset uint) (Value, error) {
	size := d.Len()
	if offset >= size {
		return Value{}, fmt.Errorf("%w: offset %d beyond end of data (%d)", common.ErrInvalidData, offset, size)
	}

	ctrl := d.buf[offset]
	cursor := offset + 1
	kind := Kind(ctrl >> 5)

	if kind == KindPointer {
		return d.decodePointer(ctrl, offset, cursor)
	}

	if kind == KindExtended {
		if cursor >= size {
			return Value{}, fmt.Errorf("%w: truncated extended type at offset %d", common.ErrInvalidData, offset)
		}
		kind = Kind(d.buf[cursor]) + 7
		cursor++
		if kind <= KindMap || kind > KindFloat32 {
			return Value{}, fmt.Errorf("%w: invalid extended type %d at offset %d",
				common.ErrInvalidData, d.buf[cursor-1], offset)
		}
	}

	payloadSize, cursor, err := d.sizeFromCtrl(ctrl, cursor)
	if err != nil {
		return Value{}, err
	}

	v := Value{Kind: kind, Offset: offset, Size: payloadSize}
	return d.decodePayload(v, cursor)
}

// sizeFromCtrl reads the size field and any extra size bytes.
func (d *Decoder) sizeFromCtrl(ctrl byte, cursor uint) (uint, uint, error) {
	size := uint(ctrl & 0x1f)
	if size < 29 {
		return size, cursor, nil
	}

	n := size - 28
	if cursor+n > d.Len() {
		return 0, 0, fmt.Errorf("%w: truncated size bytes at offset %d", common.ErrInvalidData, cursor)
	}
	extra := uintFromBytes(d.buf[cursor : cursor+n])
	switch size {
	case 29:
		size = 29 + uint(extra)
	case 30:
		size = 285 + uint(extra)
	default:
		size = 65821 + uint(extra)
	}
	return size, cursor + n, nil
}

func (d *Decoder) decodePointer(ctrl byte, offset, cursor uint) (Value, error) {
	class := uint((ctrl >> 3) & 0x3)
	n := class + 1
	if cursor+n > d.Len() {
		return Value{}, fmt.Errorf("%w: truncated pointer at offset %d", common.ErrInvalidData, offset)
	}

	b := d.buf[cursor : cursor+n]
	var target uint
	if class == 3 {
		target = uint(binary.BigEndian.Uint32(b))
	} else {
		target = uint(ctrl&0x7)<<(8*n) | uint(uintFromBytes(b))
	}
	target += pointerBias[class]

	return Value{
		Kind:   KindPointer,
		Offset: offset,
		Next:   cursor + n,
		u64:    uint64(target),
	}, nil
}

func (d *Decoder) decodePayload(v Value, cursor uint) (Value, error) {
	switch v.Kind {
	case KindMap, KindArray:
		v.Child = cursor
		v.Next = cursor
		return v, nil
	case KindBool:
		if v.Size > 1 {
			return Value{}, fmt.Errorf("%w: boolean size %d at offset %d", common.ErrInvalidData, v.Size, v.Offset)
		}
		v.b = v.Size == 1
		v.Next = cursor
		return v, nil
	case KindContainer, KindEndMarker:
		return Value{}, fmt.Errorf("%w: reserved type %s at offset %d", common.ErrInvalidData, v.Kind, v.Offset)
	}

	end := cursor + v.Size
	if end > d.Len() || end < cursor {
		return Value{}, fmt.Errorf("%w: %s payload of %d bytes at offset %d runs past end of data",
			common.ErrInvalidData, v.Kind, v.Size, v.Offset)
	}
	payload := d.buf[cursor:end]
	v.Next = end

	if width, ok := v.Kind.maxWidth(); ok && v.Size > width {
		return Value{}, fmt.Errorf("%w: %s with %d byte payload at offset %d",
			common.ErrInvalidData, v.Kind, v.Size, v.Offset)
	}

	switch v.Kind {
	case KindString, KindBytes:
		v.raw = payload
	case KindFloat64:
		if v.Size != 8 {
			return Value{}, fmt.Errorf("%w: double of size %d at offset %d", common.ErrInvalidData, v.Size, v.Offset)
		}
		v.f64 = math.Float64frombits(binary.BigEndian.Uint64(payload))
	case KindFloat32:
		if v.Size != 4 {
			return Value{}, fmt.Errorf("%w: float of size %d at offset %d", common.ErrInvalidData, v.Size, v.Offset)
		}
		v.f32 = math.Float32frombits(binary.BigEndian.Uint32(payload))
	case KindUint16, KindUint32, KindUint64:
		v.u64 = uintFromBytes(payload)
	case KindInt32:
		v.i32 = int32(uint32(uintFromBytes(payload)))
	case KindUint128:
		if v.Size > 8 {
			v.hi = uintFromBytes(payload[:v.Size-8])
			v.u64 = uintFromBytes(payload[v.Size-8:])
		} else {
			v.u64 = uintFromBytes(payload)
		}
	}
	return v, nil
}

func uintFromBytes(b []byte) uint64 {
	var val uint64
	for _, c := range b {
		val = val<<8 | uint64(c)
	}
	return val
}

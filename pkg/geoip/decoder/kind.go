package decoder

import "fmt"

// Kind is the type tag stored in a control byte.
type Kind uint8

// Kinds in on-disk numbering.
const (
	KindExtended Kind = iota
	KindPointer
	KindString
	KindFloat64
	KindBytes
	KindUint16
	KindUint32
	KindMap
	KindInt32
	KindUint64
	KindUint128
	KindArray
	KindContainer
	KindEndMarker
	KindBool
	KindFloat32
)

var kindNames = [...]string{
	KindExtended:  "extended",
	KindPointer:   "pointer",
	KindString:    "utf8_string",
	KindFloat64:   "double",
	KindBytes:     "bytes",
	KindUint16:    "uint16",
	KindUint32:    "uint32",
	KindMap:       "map",
	KindInt32:     "int32",
	KindUint64:    "uint64",
	KindUint128:   "uint128",
	KindArray:     "array",
	KindContainer: "container",
	KindEndMarker: "end_marker",
	KindBool:      "boolean",
	KindFloat32:   "float",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsContainer reports whether k is a map or an array.
func (k Kind) IsContainer() bool { return k == KindMap || k == KindArray }

// maxWidth returns the largest payload size allowed for fixed-size numeric kinds.
func (k Kind) maxWidth() (uint, bool) {
	switch k {
	case KindUint16:
		return 2, true
	case KindUint32, KindInt32:
		return 4, true
	case KindUint64:
		return 8, true
	case KindUint128:
		return 16, true
	}
	return 0, false
}

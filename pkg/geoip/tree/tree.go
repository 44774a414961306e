// Package tree walks the binary search tree of a database to find the
// longest prefix matching an address.
package tree

import (
	"encoding/binary"
	"fmt"

	"github.com/CVDpl/go-live-geoip/internal/common"
)

// Result is the outcome of a walk.
type Result struct {
	// Found reports whether the prefix has data.
	Found bool
	// Offset is the value-section offset of the data when Found.
	Offset uint
	// PrefixLen is the number of address bits consumed, counted in the
	// tree's own bit width.
	PrefixLen int
}

// Tree is a read-only view over the search tree region.
type Tree struct {
	buf        []byte
	nodeCount  uint
	recordSize uint16
	nodeBytes  uint
	depth      int
	dataLen    uint
	readNode   func(b []byte) (uint, uint)

	// starting point for IPv4 addresses in an IPv6 tree
	ipv4Start      uint
	ipv4StartDepth int
}

// New creates a tree over buf, which holds nodeCount nodes. dataLen is the
// length of the value section and bounds data offsets.
func New(buf []byte, nodeCount uint32, recordSize uint16, ipVersion uint16, dataLen uint) (*Tree, error) {
	t := &Tree{
		buf:        buf,
		nodeCount:  uint(nodeCount),
		recordSize: recordSize,
		dataLen:    dataLen,
	}

	switch recordSize {
	case 24:
		t.readNode = readNode24
	case 28:
		t.readNode = readNode28
	case 32:
		t.readNode = readNode32
	default:
		return nil, fmt.Errorf("%w: unsupported record size %d", common.ErrInvalidDatabase, recordSize)
	}
	t.nodeBytes = uint(recordSize) * 2 / 8

	switch ipVersion {
	case common.IPv4:
		t.depth = common.IPv4Depth
	case common.IPv6:
		t.depth = common.IPv6Depth
	default:
		return nil, fmt.Errorf("%w: unsupported ip version %d", common.ErrInvalidDatabase, ipVersion)
	}

	if need := t.nodeCount * t.nodeBytes; uint(len(buf)) < need {
		return nil, fmt.Errorf("%w: search tree needs %d bytes, have %d", common.ErrInvalidDatabase, need, len(buf))
	}

	if t.depth == common.IPv6Depth {
		if err := t.findIPv4Start(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NodeCount returns the number of nodes in the tree.
func (t *Tree) NodeCount() uint { return t.nodeCount }

// Depth returns the bit width of the tree.
func (t *Tree) Depth() int { return t.depth }

// IPv4Start returns the node and depth where IPv4 lookups begin.
func (t *Tree) IPv4Start() (node uint, depth int) { return t.ipv4Start, t.ipv4StartDepth }

// findIPv4Start follows left records from the root through the first 96 bits.
func (t *Tree) findIPv4Start() error {
	node := uint(0)
	i := 0
	for ; i < common.IPv4SubtreeDepth && node < t.nodeCount; i++ {
		left, _, err := t.ReadNode(node)
		if err != nil {
			return err
		}
		node = left
	}
	t.ipv4Start = node
	t.ipv4StartDepth = i
	return nil
}

// ReadNode returns the left and right records of node.
func (t *Tree) ReadNode(node uint) (left, right uint, err error) {
	if node >= t.nodeCount {
		return 0, 0, fmt.Errorf("%w: node %d out of range (%d nodes)", common.ErrCorruptDatabase, node, t.nodeCount)
	}
	off := node * t.nodeBytes
	left, right = t.readNode(t.buf[off : off+t.nodeBytes])
	return left, right, nil
}

// Lookup walks the tree for a 4- or 16-byte big-endian address.
func (t *Tree) Lookup(addr []byte) (Result, error) {
	node, depth := uint(0), 0
	switch len(addr) {
	case 4:
		if t.depth == common.IPv6Depth {
			node, depth = t.ipv4Start, t.ipv4StartDepth
		}
	case 16:
		if t.depth == common.IPv4Depth {
			return Result{}, fmt.Errorf("%w: IPv6 address in an IPv4 database", common.ErrAddressFamily)
		}
	default:
		return Result{}, fmt.Errorf("%w: address of %d bytes", common.ErrInvalidAddress, len(addr))
	}

	bitCount := len(addr) * 8
	for i := 0; node < t.nodeCount; i++ {
		if i >= bitCount {
			return Result{}, fmt.Errorf("%w: search tree deeper than %d bits", common.ErrCorruptDatabase, t.depth)
		}
		left, right, err := t.ReadNode(node)
		if err != nil {
			return Result{}, err
		}
		if addr[i>>3]&(0x80>>uint(i&7)) == 0 {
			node = left
		} else {
			node = right
		}
		depth++
	}
	return t.resolve(node, depth)
}

// resolve interprets a terminal record value.
func (t *Tree) resolve(record uint, depth int) (Result, error) {
	if record == t.nodeCount {
		return Result{PrefixLen: depth}, nil
	}
	rel := record - t.nodeCount
	if rel < common.DataSectionSeparator || rel-common.DataSectionSeparator >= t.dataLen {
		return Result{}, fmt.Errorf("%w: record %d points outside the data section", common.ErrCorruptDatabase, record)
	}
	return Result{Found: true, Offset: rel - common.DataSectionSeparator, PrefixLen: depth}, nil
}

func readNode24(b []byte) (uint, uint) {
	left := uint(b[0])<<16 | uint(b[1])<<8 | uint(b[2])
	right := uint(b[3])<<16 | uint(b[4])<<8 | uint(b[5])
	return left, right
}

// readNode28 reads two 28-bit records sharing the middle byte: its high
// nibble extends the left record, its low nibble the right one.
func readNode28(b []byte) (uint, uint) {
	left := uint(b[3]&0xF0)<<20 | uint(b[0])<<16 | uint(b[1])<<8 | uint(b[2])
	right := uint(b[3]&0x0F)<<24 | uint(b[4])<<16 | uint(b[5])<<8 | uint(b[6])
	return left, right
}

func readNode32(b []byte) (uint, uint) {
	return uint(binary.BigEndian.Uint32(b[0:4])), uint(binary.BigEndian.Uint32(b[4:8]))
}

package testdb

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// marker preceding the metadata map
var metadataMarker = []byte("\xAB\xCD\xEFMaxMind.com")

const separatorSize = 16

// Database is a fully assembled database file plus its layout.
type Database struct {
	Bytes         []byte
	NodeCount     uint32
	RecordSize    uint16
	IPVersion     uint16
	TreeSize      int
	DataStart     int
	DataLen       int
	MetadataStart int
}

// Tree returns the search tree region.
func (db *Database) Tree() []byte { return db.Bytes[:db.TreeSize] }

// Data returns the value section.
func (db *Database) Data() []byte { return db.Bytes[db.DataStart : db.DataStart+db.DataLen] }

type node struct {
	children [2]*node
	data     bool
	offset   uint32
	index    uint32
}

// Builder assembles a database from prefixes and values.
type Builder struct {
	IPVersion    uint16
	RecordSize   uint16
	DatabaseType string
	Languages    []string
	Description  Map
	BuildEpoch   uint64
	MajorVersion uint16
	MinorVersion uint16

	// MetadataHook, when set, may rewrite the metadata map before encoding.
	MetadataHook func(Map) Map

	data Encoder
	root *node
}

// New creates a builder for the given IP version and record size.
func New(ipVersion, recordSize uint16) *Builder {
	return &Builder{
		IPVersion:    ipVersion,
		RecordSize:   recordSize,
		DatabaseType: "Test-DB",
		Languages:    []string{"en"},
		BuildEpoch:   1700000000,
		MajorVersion: 2,
		root:         &node{},
	}
}

// Data gives access to the value section encoder, for example to write
// records referenced by pointers.
func (b *Builder) Data() *Encoder { return &b.data }

// Insert encodes value into the value section and maps prefix to it.
func (b *Builder) Insert(prefix netip.Prefix, value any) (uint32, error) {
	off, err := b.data.Append(value)
	if err != nil {
		return 0, err
	}
	return off, b.InsertOffset(prefix, off)
}

// MustInsert is Insert that panics on error.
func (b *Builder) MustInsert(prefix string, value any) uint32 {
	off, err := b.Insert(netip.MustParsePrefix(prefix), value)
	if err != nil {
		panic(err)
	}
	return off
}

// InsertOffset maps prefix to an already written value-section offset.
// Later inserts override earlier ones where they overlap.
func (b *Builder) InsertOffset(prefix netip.Prefix, offset uint32) error {
	bits, n, err := b.prefixBits(prefix)
	if err != nil {
		return err
	}

	cur := b.root
	for i := 0; i < n; i++ {
		bit := (bits[i>>3] >> (7 - uint(i&7))) & 1
		if i == n-1 {
			cur.children[bit] = &node{data: true, offset: offset}
			return nil
		}
		child := cur.children[bit]
		switch {
		case child == nil:
			child = &node{}
		case child.data:
			split := &node{}
			split.children[0] = &node{data: true, offset: child.offset}
			split.children[1] = &node{data: true, offset: child.offset}
			child = split
		}
		cur.children[bit] = child
		cur = child
	}
	return nil
}

func (b *Builder) prefixBits(prefix netip.Prefix) ([]byte, int, error) {
	prefix = prefix.Masked()
	addr := prefix.Addr()
	n := prefix.Bits()
	if n <= 0 {
		return nil, 0, fmt.Errorf("testdb: prefix %s must have at least one bit", prefix)
	}

	if addr.Is4() {
		a := addr.As4()
		if b.IPVersion == 4 {
			return a[:], n, nil
		}
		var v6 [16]byte
		copy(v6[12:], a[:])
		return v6[:], n + 96, nil
	}
	if b.IPVersion == 4 {
		return nil, 0, fmt.Errorf("testdb: IPv6 prefix %s in an IPv4 tree", prefix)
	}
	a := addr.As16()
	return a[:], n, nil
}

// Build assembles the file: tree, separator, value section, marker, metadata.
func (b *Builder) Build() (*Database, error) {
	nodes := b.number()
	nodeCount := uint32(len(nodes))

	recordBytes := int(b.RecordSize) / 4
	if b.RecordSize != 24 && b.RecordSize != 28 && b.RecordSize != 32 {
		recordBytes = 6
	}
	tree := make([]byte, len(nodes)*recordBytes)
	maxRecord := uint64(1)<<b.RecordSize - 1
	for i, n := range nodes {
		var rec [2]uint32
		for side, c := range n.children {
			var v uint64
			switch {
			case c == nil:
				v = uint64(nodeCount)
			case c.data:
				v = uint64(nodeCount) + separatorSize + uint64(c.offset)
			default:
				v = uint64(c.index)
			}
			if v > maxRecord {
				return nil, fmt.Errorf("testdb: record value %d does not fit in %d bits", v, b.RecordSize)
			}
			rec[side] = uint32(v)
		}
		PutNode(tree[i*recordBytes:(i+1)*recordBytes], b.RecordSize, rec[0], rec[1])
	}

	meta := b.metadata(nodeCount)
	if b.MetadataHook != nil {
		meta = b.MetadataHook(meta)
	}
	metaBytes, err := Encode(meta)
	if err != nil {
		return nil, err
	}

	data := b.data.Bytes()
	out := Assemble(tree, data, metaBytes)
	return &Database{
		Bytes:         out,
		NodeCount:     nodeCount,
		RecordSize:    b.RecordSize,
		IPVersion:     b.IPVersion,
		TreeSize:      len(tree),
		DataStart:     len(tree) + separatorSize,
		DataLen:       len(data),
		MetadataStart: len(tree) + separatorSize + len(data) + len(metadataMarker),
	}, nil
}

// MustBuild is Build that panics on error.
func (b *Builder) MustBuild() *Database {
	db, err := b.Build()
	if err != nil {
		panic(err)
	}
	return db
}

func (b *Builder) metadata(nodeCount uint32) Map {
	langs := make(Array, len(b.Languages))
	for i, l := range b.Languages {
		langs[i] = l
	}
	m := Map{
		{"node_count", Uint32(nodeCount)},
		{"record_size", Uint16(b.RecordSize)},
		{"ip_version", Uint16(b.IPVersion)},
		{"database_type", b.DatabaseType},
		{"languages", langs},
		{"binary_format_major_version", Uint16(b.MajorVersion)},
		{"binary_format_minor_version", Uint16(b.MinorVersion)},
		{"build_epoch", Uint64(b.BuildEpoch)},
	}
	if b.Description != nil {
		m = append(m, KV{"description", b.Description})
	}
	return m
}

// number assigns breadth-first indexes to internal nodes.
func (b *Builder) number() []*node {
	queue := []*node{b.root}
	for i := 0; i < len(queue); i++ {
		n := queue[i]
		n.index = uint32(i)
		for _, c := range n.children {
			if c != nil && !c.data {
				queue = append(queue, c)
			}
		}
	}
	return queue
}

// Assemble concatenates the tree, separator, value section, metadata marker
// and encoded metadata map into a database file.
func Assemble(tree, data, metadata []byte) []byte {
	out := make([]byte, 0, len(tree)+separatorSize+len(data)+len(metadataMarker)+len(metadata))
	out = append(out, tree...)
	out = append(out, make([]byte, separatorSize)...)
	out = append(out, data...)
	out = append(out, metadataMarker...)
	return append(out, metadata...)
}

// Marker returns a copy of the metadata marker.
func Marker() []byte { return append([]byte(nil), metadataMarker...) }

// PutNode writes one node's left and right records into dst, which must be
// recordSize/4 bytes long.
func PutNode(dst []byte, recordSize uint16, left, right uint32) {
	switch recordSize {
	case 24:
		put24(dst[0:3], left)
		put24(dst[3:6], right)
	case 28:
		put24(dst[0:3], left)
		dst[3] = byte((left>>24)&0x0F)<<4 | byte((right>>24)&0x0F)
		put24(dst[4:7], right)
	case 32:
		binary.BigEndian.PutUint32(dst[0:4], left)
		binary.BigEndian.PutUint32(dst[4:8], right)
	}
}

func put24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

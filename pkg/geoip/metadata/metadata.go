// Package metadata locates and decodes the metadata map stored at the end of
// a database file.
package metadata

import (
	"bytes"
	"fmt"
	"time"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
)

// Metadata describes a database file.
type Metadata struct {
	NodeCount                uint32
	RecordSize               uint16
	IPVersion                uint16
	DatabaseType             string
	Languages                []string
	BinaryFormatMajorVersion uint16
	BinaryFormatMinorVersion uint16
	BuildEpoch               uint64
	Description              map[string]string
}

// RecordByteWidth is the size in bytes of one node (two records).
func (m *Metadata) RecordByteWidth() uint { return uint(m.RecordSize) * 2 / 8 }

// Depth is the bit width of the search tree.
func (m *Metadata) Depth() int {
	if m.IPVersion == common.IPv6 {
		return common.IPv6Depth
	}
	return common.IPv4Depth
}

// TreeSize is the size in bytes of the search tree region.
func (m *Metadata) TreeSize() uint { return uint(m.NodeCount) * m.RecordByteWidth() }

// DataSectionStart is the absolute offset of the value section.
func (m *Metadata) DataSectionStart() uint { return m.TreeSize() + common.DataSectionSeparator }

// BuildTime returns the build epoch as a time.
func (m *Metadata) BuildTime() time.Time { return time.Unix(int64(m.BuildEpoch), 0).UTC() }

// Locate returns the offset of the first byte after the last metadata marker
// within the trailing window of buf. A window <= 0 uses the default size.
func Locate(buf []byte, window int) (int, error) {
	if window <= 0 {
		window = common.MetadataSearchWindow
	}
	start := len(buf) - window
	if start < 0 {
		start = 0
	}
	i := bytes.LastIndex(buf[start:], common.MetadataMarker)
	if i < 0 {
		return 0, fmt.Errorf("%w: metadata section not found", common.ErrInvalidDatabase)
	}
	return start + i + len(common.MetadataMarker), nil
}

// Read locates and decodes the metadata of buf. It returns the metadata and
// the offset of the metadata marker, which is where the value section ends.
func Read(buf []byte, window int, limits decoder.Limits) (*Metadata, int, error) {
	start, err := Locate(buf, window)
	if err != nil {
		return nil, 0, err
	}
	m, err := Decode(buf[start:], limits)
	if err != nil {
		return nil, 0, err
	}
	markerAt := start - len(common.MetadataMarker)
	if m.DataSectionStart() > uint(markerAt) {
		return nil, 0, fmt.Errorf("%w: search tree of %d nodes (%d bytes) does not fit before metadata at %d",
			common.ErrInvalidDatabase, m.NodeCount, m.TreeSize(), markerAt)
	}
	return m, markerAt, nil
}

// Decode decodes a metadata map from section, which starts at the map's
// control byte. Pointers inside the section are relative to its start.
func Decode(section []byte, limits decoder.Limits) (*Metadata, error) {
	d := decoder.New(section, limits)
	root, err := d.Decode(0)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", common.ErrInvalidDatabase, err)
	}
	if root.Kind != decoder.KindMap {
		return nil, fmt.Errorf("%w: metadata is %s, not a map", common.ErrInvalidDatabase, root.Kind)
	}

	p := parser{d: d, m: &Metadata{}, seen: make(map[string]bool)}
	cursor := root.Child
	for i := uint(0); i < root.Size; i++ {
		key, err := d.Decode(cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata key: %v", common.ErrInvalidDatabase, err)
		}
		if key.Kind != decoder.KindString {
			return nil, fmt.Errorf("%w: metadata key at offset %d is %s", common.ErrInvalidDatabase, key.Offset, key.Kind)
		}
		if cursor, err = p.field(key.Text(), key.Next); err != nil {
			return nil, err
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p.m, nil
}

var requiredKeys = []string{
	"node_count",
	"record_size",
	"ip_version",
	"database_type",
	"languages",
	"binary_format_major_version",
	"binary_format_minor_version",
	"build_epoch",
}

type parser struct {
	d    *decoder.Decoder
	m    *Metadata
	seen map[string]bool
}

// field decodes the value of key at offset and returns the next key offset.
func (p *parser) field(key string, offset uint) (uint, error) {
	next, err := p.d.Skip(offset)
	if err != nil {
		return 0, fmt.Errorf("%w: metadata %s: %v", common.ErrInvalidDatabase, key, err)
	}

	switch key {
	case "node_count":
		v, err := p.scalar(key, offset, decoder.KindUint32)
		if err != nil {
			return 0, err
		}
		p.m.NodeCount = uint32(v.Uint())
	case "record_size":
		v, err := p.scalar(key, offset, decoder.KindUint16)
		if err != nil {
			return 0, err
		}
		p.m.RecordSize = uint16(v.Uint())
	case "ip_version":
		v, err := p.scalar(key, offset, decoder.KindUint16)
		if err != nil {
			return 0, err
		}
		p.m.IPVersion = uint16(v.Uint())
	case "binary_format_major_version":
		v, err := p.scalar(key, offset, decoder.KindUint16)
		if err != nil {
			return 0, err
		}
		p.m.BinaryFormatMajorVersion = uint16(v.Uint())
	case "binary_format_minor_version":
		v, err := p.scalar(key, offset, decoder.KindUint16)
		if err != nil {
			return 0, err
		}
		p.m.BinaryFormatMinorVersion = uint16(v.Uint())
	case "build_epoch":
		v, err := p.scalar(key, offset, decoder.KindUint64)
		if err != nil {
			return 0, err
		}
		p.m.BuildEpoch = v.Uint()
	case "database_type":
		v, err := p.scalar(key, offset, decoder.KindString)
		if err != nil {
			return 0, err
		}
		p.m.DatabaseType = v.Text()
	case "languages":
		langs, err := p.languages(offset)
		if err != nil {
			return 0, err
		}
		p.m.Languages = langs
	case "description":
		desc, err := p.description(offset)
		if err != nil {
			return 0, err
		}
		p.m.Description = desc
	default:
		return next, nil
	}

	p.seen[key] = true
	return next, nil
}

func (p *parser) scalar(key string, offset uint, want decoder.Kind) (decoder.Value, error) {
	v, err := p.d.Decode(offset)
	if err != nil {
		return decoder.Value{}, fmt.Errorf("%w: metadata %s: %v", common.ErrInvalidDatabase, key, err)
	}
	if v.Kind != want {
		return decoder.Value{}, fmt.Errorf("%w: metadata %s is %s, expected %s",
			common.ErrInvalidDatabase, key, v.Kind, want)
	}
	return v, nil
}

func (p *parser) languages(offset uint) ([]string, error) {
	nodes, err := p.d.Materialize(offset)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata languages: %v", common.ErrInvalidDatabase, err)
	}
	if nodes[0].Kind != decoder.KindArray {
		return nil, fmt.Errorf("%w: metadata languages is %s, expected array", common.ErrInvalidDatabase, nodes[0].Kind)
	}
	langs := make([]string, 0, nodes[0].Size)
	for _, n := range nodes[1:] {
		if n.Kind != decoder.KindString {
			return nil, fmt.Errorf("%w: metadata language is %s, expected utf8_string", common.ErrInvalidDatabase, n.Kind)
		}
		langs = append(langs, n.Text())
	}
	return langs, nil
}

func (p *parser) description(offset uint) (map[string]string, error) {
	nodes, err := p.d.Materialize(offset)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata description: %v", common.ErrInvalidDatabase, err)
	}
	if nodes[0].Kind != decoder.KindMap {
		return nil, fmt.Errorf("%w: metadata description is %s, expected map", common.ErrInvalidDatabase, nodes[0].Kind)
	}
	desc := make(map[string]string, nodes[0].Size)
	rest := nodes[1:]
	if len(rest) != int(nodes[0].Size)*2 {
		return nil, fmt.Errorf("%w: metadata description values must be strings", common.ErrInvalidDatabase)
	}
	for i := 0; i+1 < len(rest); i += 2 {
		if rest[i+1].Kind != decoder.KindString {
			return nil, fmt.Errorf("%w: metadata description for %q is %s",
				common.ErrInvalidDatabase, rest[i].Text(), rest[i+1].Kind)
		}
		desc[rest[i].Text()] = rest[i+1].Text()
	}
	return desc, nil
}

func (p *parser) validate() error {
	for _, k := range requiredKeys {
		if !p.seen[k] {
			return fmt.Errorf("%w: metadata is missing %s", common.ErrInvalidDatabase, k)
		}
	}

	m := p.m
	if m.BinaryFormatMajorVersion != common.SupportedMajorVersion {
		return fmt.Errorf("%w: binary format major version %d", common.ErrUnknownDatabaseFormat, m.BinaryFormatMajorVersion)
	}
	switch m.RecordSize {
	case 24, 28, 32:
	default:
		return fmt.Errorf("%w: unsupported record size %d", common.ErrInvalidDatabase, m.RecordSize)
	}
	if m.IPVersion != common.IPv4 && m.IPVersion != common.IPv6 {
		return fmt.Errorf("%w: unsupported ip version %d", common.ErrInvalidDatabase, m.IPVersion)
	}
	if m.NodeCount == 0 {
		return fmt.Errorf("%w: search tree has no nodes", common.ErrInvalidDatabase)
	}
	return nil
}

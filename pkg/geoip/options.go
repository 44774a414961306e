package geoip

import (
	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
)

// Mode selects how Open brings the file into memory.
type Mode int

const (
	// ModeMmap maps the file read-only. Strings and bytes returned by
	// decoders alias the mapping and are valid until Close.
	ModeMmap Mode = iota
	// ModeMemory reads the whole file into the heap.
	ModeMemory
)

func (m Mode) String() string {
	switch m {
	case ModeMmap:
		return "mmap"
	case ModeMemory:
		return "memory"
	}
	return "unknown"
}

// Options configures a Reader.
type Options struct {
	// Mode selects memory mapping or a heap copy. Ignored by FromBytes.
	Mode Mode

	// Logger provides structured logging.
	Logger common.Logger

	// Limits bounds pointer chains, nesting and subtree size per call.
	Limits decoder.Limits

	// CacheSize is the number of materialized records kept in an LRU
	// cache keyed by value-section offset (0 = disabled).
	CacheSize int

	// ExpectedBLAKE3, when set, is the hex BLAKE3-256 digest the whole file
	// must match at open.
	ExpectedBLAKE3 string

	// MetadataSearchWindow is the trailing byte window scanned for the
	// metadata marker (0 = default).
	MetadataSearchWindow int
}

// DefaultOptions returns default reader options.
func DefaultOptions() *Options {
	return &Options{
		Mode:                 ModeMmap,
		Logger:               NewDefaultLogger(),
		Limits:               decoder.DefaultLimits(),
		CacheSize:            0,
		MetadataSearchWindow: common.MetadataSearchWindow,
	}
}

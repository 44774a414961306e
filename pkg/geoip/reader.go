// Package geoip reads IP-keyed databases in the MaxMind DB binary format:
// a binary search tree over address bits pointing into a self-describing
// value section. Readers are read-only and safe for concurrent lookups.
package geoip

import (
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/metadata"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/tree"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/utils"
)

// Reader is an open database. All methods except Close may be called from
// many goroutines at once; Close must not race with in-flight lookups.
type Reader struct {
	path   string
	mode   Mode
	buffer *utils.Buffer

	meta    *metadata.Metadata
	tree    *tree.Tree
	decoder *decoder.Decoder

	logger common.Logger
	stats  *StatsCollector
	cache  *recordCache

	closed atomic.Bool
}

// Result is the outcome of a lookup.
type Result struct {
	// Entry points at the record for the matched prefix when Found.
	Entry Entry
	// Found reports whether the prefix has data.
	Found bool
	// PrefixLen is the number of bits matched in the tree's bit width; an
	// IPv4 address in an IPv6 tree includes the 96-bit IPv4 subtree prefix.
	PrefixLen int
	// Network is the matched network in the queried address family. It is
	// only set by Lookup.
	Network netip.Prefix
}

// Open opens the database file at path.
func Open(path string, opts *Options) (*Reader, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	start := time.Now()

	var (
		buf *utils.Buffer
		err error
	)
	switch opts.Mode {
	case ModeMmap:
		buf, err = utils.MapFile(path)
	case ModeMemory:
		buf, err = utils.ReadFile(path)
	default:
		return nil, fmt.Errorf("%w: unknown open mode %d", common.ErrFileOpen, opts.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrFileOpen, path, err)
	}

	r, err := newReader(buf, path, opts)
	if err != nil {
		_ = buf.Close()
		return nil, err
	}
	LogLatency(r.logger, "open", start, "path", path, "mode", opts.Mode.String())
	return r, nil
}

// FromBytes opens a database held in buf. The caller keeps ownership of buf
// and must not modify it while the Reader is in use.
func FromBytes(buf []byte, opts *Options) (*Reader, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	return newReader(utils.WrapBytes(buf), "", opts)
}

func newReader(buf *utils.Buffer, path string, opts *Options) (*Reader, error) {
	logger := common.LoggerOrNull(opts.Logger)
	data := buf.Data()

	if opts.ExpectedBLAKE3 != "" {
		got := utils.ComputeBLAKE3(data)
		if !strings.EqualFold(got, opts.ExpectedBLAKE3) {
			logger.Error("database digest mismatch", "path", path, "expected", opts.ExpectedBLAKE3, "actual", got)
			return nil, fmt.Errorf("%w: BLAKE3 digest %s, expected %s", common.ErrCorruptDatabase, got, opts.ExpectedBLAKE3)
		}
	}

	meta, markerAt, err := metadata.Read(data, opts.MetadataSearchWindow, opts.Limits)
	if err != nil {
		LogError(logger, "failed to read metadata", err, "path", path)
		return nil, err
	}

	dataStart := meta.DataSectionStart()
	section := data[dataStart:markerAt]
	t, err := tree.New(data[:meta.TreeSize()], meta.NodeCount, meta.RecordSize, meta.IPVersion, uint(len(section)))
	if err != nil {
		return nil, err
	}

	r := &Reader{
		path:    path,
		mode:    opts.Mode,
		buffer:  buf,
		meta:    meta,
		tree:    t,
		decoder: decoder.New(section, opts.Limits),
		logger:  logger,
		stats:   NewStatsCollector(),
	}
	if !buf.Mapped() {
		r.mode = ModeMemory
	}

	if opts.CacheSize > 0 {
		c, err := newRecordCache(opts.CacheSize, r.stats)
		if err != nil {
			return nil, fmt.Errorf("create record cache: %w", err)
		}
		r.cache = c
	}

	logger.Info("database opened",
		"path", path,
		"database_type", meta.DatabaseType,
		"ip_version", meta.IPVersion,
		"record_size", meta.RecordSize,
		"node_count", meta.NodeCount,
		"data_section_bytes", len(section),
		"build_epoch", meta.BuildEpoch,
	)
	return r, nil
}

// Metadata returns the decoded metadata. It must not be modified.
func (r *Reader) Metadata() *metadata.Metadata { return r.meta }

// Mode returns how the file is held in memory.
func (r *Reader) Mode() Mode { return r.mode }

// Stats returns a snapshot of lookup and decode counters.
func (r *Reader) Stats() Stats { return r.stats.Snapshot() }

// Size returns the size of the database in bytes.
func (r *Reader) Size() int { return len(r.buffer.Data()) }

// Digest returns the hex BLAKE3-256 digest of the whole file.
func (r *Reader) Digest() (string, error) {
	if r.closed.Load() {
		return "", common.ErrClosed
	}
	return utils.ComputeBLAKE3(r.buffer.Data()), nil
}

// Lookup finds the longest prefix containing ip. IPv4-mapped IPv6 addresses
// are unmapped when the database only holds IPv4.
func (r *Reader) Lookup(ip netip.Addr) (Result, error) {
	if !ip.IsValid() {
		return Result{}, fmt.Errorf("%w: zero address", common.ErrInvalidAddress)
	}
	if r.meta.IPVersion == common.IPv4 && ip.Is4In6() {
		ip = ip.Unmap()
	}

	var res Result
	var err error
	if ip.Is4() {
		a := ip.As4()
		res, err = r.LookupBytes(a[:])
	} else {
		a := ip.As16()
		res, err = r.LookupBytes(a[:])
	}
	if err != nil {
		return Result{}, err
	}

	bits := res.PrefixLen
	if ip.Is4() && r.meta.IPVersion == common.IPv6 {
		bits -= common.IPv4SubtreeDepth
	}
	if bits < 0 {
		bits = 0
	}
	if res.Network, err = ip.Prefix(bits); err != nil {
		return Result{}, fmt.Errorf("%w: prefix /%d for %s: %v", common.ErrCorruptDatabase, bits, ip, err)
	}
	return res, nil
}

// LookupBytes walks the tree for a raw 4- or 16-byte big-endian address.
func (r *Reader) LookupBytes(addr []byte) (Result, error) {
	if r.closed.Load() {
		return Result{}, common.ErrClosed
	}
	start := time.Now()
	tr, err := r.tree.Lookup(addr)
	r.stats.RecordLookup(tr.Found, err, time.Since(start))
	if err != nil {
		r.logger.Debug("lookup failed", "error", err.Error(), "address_bytes", len(addr))
		return Result{}, err
	}

	res := Result{Found: tr.Found, PrefixLen: tr.PrefixLen}
	if tr.Found {
		res.Entry = Entry{reader: r, Offset: tr.Offset}
	}
	return res, nil
}

// LookupString parses s and looks it up.
func (r *Reader) LookupString(s string) (Result, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrInvalidAddress, err)
	}
	return r.Lookup(ip)
}

// EntryAt returns an entry for a value-section offset, for example one
// obtained from an earlier lookup.
func (r *Reader) EntryAt(offset uint) Entry { return Entry{reader: r, Offset: offset} }

// Decoder returns the value-section decoder.
func (r *Reader) Decoder() *decoder.Decoder { return r.decoder }

// Close releases the mapping when the reader owns one. Entries and values
// obtained from the reader must not be used afterwards.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.cache != nil {
		r.cache.purge()
	}
	r.logger.Debug("database closed", "path", r.path, "mode", r.mode.String())
	if err := r.buffer.Close(); err != nil {
		return fmt.Errorf("%w: unmap %s: %v", common.ErrIO, r.path, err)
	}
	return nil
}

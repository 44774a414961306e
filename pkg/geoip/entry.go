package geoip

import (
	"fmt"

	"github.com/CVDpl/go-live-geoip/internal/common"
	"github.com/CVDpl/go-live-geoip/pkg/geoip/decoder"
)

// Entry is a cursor to a record in the value section. It holds no decoded
// data and is only valid while its Reader is open.
type Entry struct {
	reader *Reader
	Offset uint
}

// Valid reports whether the entry belongs to a reader.
func (e Entry) Valid() bool { return e.reader != nil }

// Value decodes the value at the entry, following a pointer if present.
func (e Entry) Value() (decoder.Value, error) {
	if err := e.check(); err != nil {
		return decoder.Value{}, err
	}
	v, err := e.reader.decoder.Decode(e.Offset)
	if err != nil {
		e.reader.decodeFailed("decode", e.Offset, err)
	}
	return v, err
}

// Resolve follows path from the entry without decoding untouched subtrees.
// found is false when a map key is missing or an index is out of range.
func (e Entry) Resolve(path decoder.Path) (v decoder.Value, found bool, err error) {
	if err := e.check(); err != nil {
		return decoder.Value{}, false, err
	}
	v, found, err = e.reader.decoder.Resolve(e.Offset, path)
	if err != nil {
		e.reader.decodeFailed("resolve", e.Offset, err, "path", path.String())
	}
	return v, found, err
}

// Get is Resolve with the steps given inline.
func (e Entry) Get(steps ...decoder.PathStep) (decoder.Value, bool, error) {
	return e.Resolve(decoder.Path(steps))
}

// Materialize decodes the whole record into a pre-order list owned by the
// caller.
func (e Entry) Materialize() ([]decoder.Value, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	r := e.reader
	if r.cache != nil {
		if nodes, ok := r.cache.get(e.Offset); ok {
			return nodes, nil
		}
	}
	nodes, err := r.decoder.Materialize(e.Offset)
	if err != nil {
		r.decodeFailed("materialize", e.Offset, err)
		return nil, err
	}
	if r.cache != nil {
		r.cache.add(e.Offset, nodes)
	}
	return nodes, nil
}

// Decode materializes the record and converts it to Go values.
func (e Entry) Decode() (any, error) {
	nodes, err := e.Materialize()
	if err != nil {
		return nil, err
	}
	return decoder.Interface(nodes)
}

func (e Entry) check() error {
	if e.reader == nil {
		return fmt.Errorf("%w: entry is not attached to a reader", common.ErrInvalidData)
	}
	if e.reader.closed.Load() {
		return common.ErrClosed
	}
	return nil
}

func (r *Reader) decodeFailed(op string, offset uint, err error, fields ...interface{}) {
	r.stats.RecordDecodeError()
	r.logger.Debug("decode failed", append([]interface{}{"operation", op, "offset", offset, "error", err.Error()}, fields...)...)
}

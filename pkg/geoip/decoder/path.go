package decoder

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/CVDpl/go-live-geoip/internal/common"
)

// PathStep is one step of a Path: either a map key or an array index.
type PathStep struct {
	key     string
	index   int
	isIndex bool
}

// Key returns a step selecting the value stored under key in a map.
func Key(key string) PathStep { return PathStep{key: key} }

// Index returns a step selecting element i of an array.
func Index(i int) PathStep { return PathStep{index: i, isIndex: true} }

// IsIndex reports whether the step is an array index.
func (s PathStep) IsIndex() bool { return s.isIndex }

func (s PathStep) String() string {
	if s.isIndex {
		return strconv.Itoa(s.index)
	}
	return strconv.Quote(s.key)
}

// Path is an ordered sequence of steps from an entry to a nested value.
type Path []PathStep

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ParsePath splits a dotted path such as "city.names.en" or
// "subdivisions.0.iso_code". Segments made only of digits become indexes.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}
	segments := strings.Split(s, ".")
	path := make(Path, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in path %q", common.ErrInvalidData, s)
		}
		if isDigits(seg) {
			i, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("%w: index %q: %v", common.ErrInvalidData, seg, err)
			}
			path = append(path, Index(i))
			continue
		}
		path = append(path, Key(seg))
	}
	return path, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Resolve walks path from the value at offset and returns the value it names.
// A missing map key or an index past the end of an array reports
// found == false with a nil error. Untouched siblings are skipped, not decoded.
func (d *Decoder) Resolve(offset uint, path Path) (v Value, found bool, err error) {
	v, err = d.Decode(offset)
	if err != nil {
		return Value{}, false, err
	}

	for depth, step := range path {
		switch v.Kind {
		case KindMap:
			if step.isIndex {
				return Value{}, false, fmt.Errorf("%w: index step %s at depth %d applied to a map",
					common.ErrInvalidData, step, depth)
			}
			v, found, err = d.lookupKey(v, step.key)
		case KindArray:
			if !step.isIndex {
				return Value{}, false, fmt.Errorf("%w: key step %s at depth %d applied to an array",
					common.ErrInvalidData, step, depth)
			}
			v, found, err = d.lookupIndex(v, step.index)
		default:
			return Value{}, false, fmt.Errorf("%w: step %s at depth %d applied to %s",
				common.ErrInvalidData, step, depth, v.Kind)
		}
		if err != nil || !found {
			return Value{}, false, err
		}
	}
	return v, true, nil
}

func (d *Decoder) lookupKey(m Value, key string) (Value, bool, error) {
	want := []byte(key)
	cursor := m.Child
	for i := uint(0); i < m.Size; i++ {
		k, err := d.Decode(cursor)
		if err != nil {
			return Value{}, false, err
		}
		if k.Kind != KindString {
			return Value{}, false, fmt.Errorf("%w: map key at offset %d is %s",
				common.ErrInvalidData, k.Offset, k.Kind)
		}
		if bytes.Equal(k.raw, want) {
			v, err := d.Decode(k.Next)
			return v, err == nil, err
		}
		if cursor, err = d.Skip(k.Next); err != nil {
			return Value{}, false, err
		}
	}
	return Value{}, false, nil
}

func (d *Decoder) lookupIndex(a Value, index int) (Value, bool, error) {
	if index < 0 {
		return Value{}, false, fmt.Errorf("%w: negative array index %d", common.ErrInvalidData, index)
	}
	if uint(index) >= a.Size {
		return Value{}, false, nil
	}
	cursor := a.Child
	var err error
	for i := 0; i < index; i++ {
		if cursor, err = d.Skip(cursor); err != nil {
			return Value{}, false, err
		}
	}
	v, err := d.Decode(cursor)
	return v, err == nil, err
}

package decoder

import (
	"fmt"

	"github.com/CVDpl/go-live-geoip/internal/common"
)

// frame tracks an open container during Materialize.
type frame struct {
	isMap    bool
	total    uint // child slots: pairs*2 for maps
	done     uint
	resume   uint // sibling offset to continue from when reached via pointer
	indirect bool
}

// Materialize decodes the whole subtree at offset into a pre-order list. A
// container precedes its children; a map with n pairs is followed by n
// key/value subtrees, an array with n elements by n element subtrees.
//
// The traversal uses an explicit stack. It fails with ErrCorruptDatabase once
// more than Limits.MaxNodes values are produced or containers nest deeper
// than Limits.MaxDepth, which also bounds pointer cycles.
func (d *Decoder) Materialize(offset uint) ([]Value, error) {
	var (
		out    []Value
		stack  []frame
		cursor = offset
	)

	for {
		expectKey := false
		if n := len(stack); n > 0 {
			top := &stack[n-1]
			expectKey = top.isMap && top.done%2 == 0
		}

		v, err := d.Decode(cursor)
		if err != nil {
			return nil, err
		}
		if expectKey && v.Kind != KindString {
			return nil, fmt.Errorf("%w: map key at offset %d is %s", common.ErrInvalidData, v.Offset, v.Kind)
		}
		if len(out) >= d.limits.MaxNodes {
			return nil, fmt.Errorf("%w: subtree at offset %d has more than %d values",
				common.ErrCorruptDatabase, offset, d.limits.MaxNodes)
		}
		out = append(out, v)

		if v.IsContainer() && v.Size > 0 {
			if len(stack) >= d.limits.MaxDepth {
				return nil, fmt.Errorf("%w: subtree at offset %d nests deeper than %d",
					common.ErrCorruptDatabase, offset, d.limits.MaxDepth)
			}
			stack = append(stack, frame{
				isMap:    v.Kind == KindMap,
				total:    v.Count(),
				resume:   v.Next,
				indirect: v.Indirect,
			})
			cursor = v.Child
			continue
		}

		next := v.Next
		for {
			n := len(stack)
			if n == 0 {
				return out, nil
			}
			top := &stack[n-1]
			top.done++
			if top.done < top.total {
				cursor = next
				break
			}
			if top.indirect {
				next = top.resume
			}
			stack = stack[:n-1]
		}
	}
}

// Interface converts a list produced by Materialize into Go values: maps
// become map[string]any, arrays []any and primitives their Value.Interface.
func Interface(nodes []Value) (any, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	v, used, err := build(nodes, 0)
	if err != nil {
		return nil, err
	}
	if used != len(nodes) {
		return nil, fmt.Errorf("%w: %d trailing values after subtree", common.ErrInvalidData, len(nodes)-used)
	}
	return v, nil
}

// build converts nodes[i:] and returns the index just past the subtree.
// Depth is bounded by the Materialize limits that produced the list.
func build(nodes []Value, i int) (any, int, error) {
	if i >= len(nodes) {
		return nil, i, fmt.Errorf("%w: truncated value list", common.ErrInvalidData)
	}
	v := nodes[i]
	i++

	switch v.Kind {
	case KindMap:
		m := make(map[string]any, v.Size)
		for n := uint(0); n < v.Size; n++ {
			if i >= len(nodes) || nodes[i].Kind != KindString {
				return nil, i, fmt.Errorf("%w: expected map key at position %d", common.ErrInvalidData, i)
			}
			key := nodes[i].Text()
			val, next, err := build(nodes, i+1)
			if err != nil {
				return nil, next, err
			}
			m[key] = val
			i = next
		}
		return m, i, nil
	case KindArray:
		a := make([]any, 0, v.Size)
		for n := uint(0); n < v.Size; n++ {
			val, next, err := build(nodes, i)
			if err != nil {
				return nil, next, err
			}
			a = append(a, val)
			i = next
		}
		return a, i, nil
	}
	return v.Interface(), i, nil
}

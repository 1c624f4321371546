// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"fmt"

	"github.com/AleutianAI/signaltree/services/tree/snapshot"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// Apply replays changes onto a deep copy of value.
//
// Description:
//
//	Add, Update and Replace write Value at Path; Delete removes Path.
//	Deletions are deferred and applied last, in reverse order, so that
//	trailing array deletions emitted in ascending index order do not shift
//	one another. For ordered diffs, Apply(a, Diff(a, b, WithDetectDeletions(true)))
//	is deep-equal to b. Unordered array diffs are not invertible.
//
// Inputs:
//   - value: The base value. Not modified.
//   - changes: Change records, typically Result.Changes.
//
// Outputs:
//   - any: The patched copy.
//   - error: ErrInvalidChange (wrapped) if a path does not fit the value.
func Apply(value any, changes []Change) (any, error) {
	out, err := snapshot.Clone(value)
	if err != nil {
		return nil, fmt.Errorf("clone base: %w", err)
	}

	var deletes []Change
	for _, c := range changes {
		if c.Kind == KindDelete {
			deletes = append(deletes, c)
			continue
		}
		v, err := snapshot.Clone(c.Value)
		if err != nil {
			return nil, fmt.Errorf("clone value at %s: %w", c.Path, err)
		}
		out, err = setIn(out, c.Path, v)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", c.Kind, err)
		}
	}

	for i := len(deletes) - 1; i >= 0; i-- {
		out, err = deleteIn(out, deletes[i].Path)
		if err != nil {
			return nil, fmt.Errorf("apply delete: %w", err)
		}
	}
	return out, nil
}

// setIn writes v at p inside node and returns the possibly new node.
// Arrays grow by one when p addresses the index just past the end.
func setIn(node any, p treepath.Path, v any) (any, error) {
	if p.IsRoot() {
		return v, nil
	}
	seg := p[0]
	rest := p[1:]

	switch c := node.(type) {
	case map[string]any:
		if seg.IsIndex() {
			return nil, fmt.Errorf("%w: index %d on object", ErrInvalidChange, seg.IndexValue())
		}
		if c == nil {
			c = make(map[string]any)
		}
		child, err := setIn(c[seg.KeyName()], rest, v)
		if err != nil {
			return nil, err
		}
		c[seg.KeyName()] = child
		return c, nil

	case []any:
		if !seg.IsIndex() {
			return nil, fmt.Errorf("%w: key %q on array", ErrInvalidChange, seg.KeyName())
		}
		i := seg.IndexValue()
		switch {
		case i < len(c):
			child, err := setIn(c[i], rest, v)
			if err != nil {
				return nil, err
			}
			c[i] = child
			return c, nil
		case i == len(c):
			child, err := setIn(nil, rest, v)
			if err != nil {
				return nil, err
			}
			return append(c, child), nil
		default:
			return nil, fmt.Errorf("%w: index %d past end of array of length %d", ErrInvalidChange, i, len(c))
		}

	case nil:
		if !rest.IsRoot() {
			return nil, fmt.Errorf("%w: missing container at %s", ErrInvalidChange, seg)
		}
		if seg.IsIndex() {
			if seg.IndexValue() != 0 {
				return nil, fmt.Errorf("%w: index %d on missing array", ErrInvalidChange, seg.IndexValue())
			}
			return []any{v}, nil
		}
		return map[string]any{seg.KeyName(): v}, nil
	}
	return nil, fmt.Errorf("%w: cannot descend into %T at %s", ErrInvalidChange, node, seg)
}

// deleteIn removes p from node and returns the possibly new node.
func deleteIn(node any, p treepath.Path) (any, error) {
	if p.IsRoot() {
		return nil, nil
	}
	seg := p[0]
	rest := p[1:]

	switch c := node.(type) {
	case map[string]any:
		if seg.IsIndex() {
			return nil, fmt.Errorf("%w: index %d on object", ErrInvalidChange, seg.IndexValue())
		}
		if rest.IsRoot() {
			delete(c, seg.KeyName())
			return c, nil
		}
		child, ok := c[seg.KeyName()]
		if !ok {
			return c, nil
		}
		next, err := deleteIn(child, rest)
		if err != nil {
			return nil, err
		}
		c[seg.KeyName()] = next
		return c, nil

	case []any:
		if !seg.IsIndex() {
			return nil, fmt.Errorf("%w: key %q on array", ErrInvalidChange, seg.KeyName())
		}
		i := seg.IndexValue()
		if i >= len(c) {
			return c, nil
		}
		if rest.IsRoot() {
			return append(c[:i:i], c[i+1:]...), nil
		}
		next, err := deleteIn(c[i], rest)
		if err != nil {
			return nil, err
		}
		c[i] = next
		return c, nil
	}
	// Deleting below a leaf or a missing value is a no-op.
	return node, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff computes ordered change lists between two plain-data values
// and applies them.
//
// # Value Model
//
// map[string]any is an object, []any is an array, everything else is a leaf
// compared with Options.Equal. Object keys are visited in sorted order since
// Go maps carry no insertion order.
//
// # Ordering
//
// Changes for keys of the updated value come first, in sorted key order;
// deletions (when enabled) follow, in sorted order of the current value's
// keys. Arrays are walked by index.
//
// # Safety Valves
//
// Descent stops silently at Options.MaxDepth, and an updated-side container
// already visited during this diff is skipped. Both trade completeness for
// guaranteed termination and never surface as errors.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// Diff compares current with updated.
//
// Description:
//
//	Walks updated, emitting Add for keys absent from current, Update for
//	unequal leaves, Replace where the container kind differs and, when
//	DetectDeletions is set, Delete for keys absent from updated.
//
// Inputs:
//   - current: The value before the change.
//   - updated: The value after the change.
//   - opts: Options; see DefaultOptions.
//
// Outputs:
//   - Result: Ordered changes. HasChanges is false iff Changes is empty.
//
// Thread Safety: Safe for concurrent use on values nobody mutates meanwhile.
func Diff(current, updated any, opts ...Option) Result {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &differ{
		opts:    o,
		visited: make(map[containerKey]struct{}),
	}
	d.walk(current, true, updated, treepath.Root, 0)
	return Result{Changes: d.changes, HasChanges: len(d.changes) > 0}
}

// HasChanges is shorthand for Diff(...).HasChanges.
func HasChanges(current, updated any, opts ...Option) bool {
	return Diff(current, updated, opts...).HasChanges
}

type containerKey struct {
	ptr uintptr
	len int
}

type differ struct {
	opts    Options
	visited map[containerKey]struct{}
	changes []Change
}

func (d *differ) emit(c Change) {
	d.changes = append(d.changes, c)
}

func (d *differ) walk(cur any, curPresent bool, upd any, path treepath.Path, depth int) {
	if depth > d.opts.MaxDepth {
		return
	}

	if !curPresent {
		d.emit(Change{Kind: KindAdd, Path: path, Value: upd})
		return
	}

	updMap, updIsMap := upd.(map[string]any)
	updArr, updIsArr := upd.([]any)

	// Step 1: leaves on the updated side.
	if !updIsMap && !updIsArr {
		if !d.opts.Equal(cur, upd) {
			d.emit(Change{Kind: KindUpdate, Path: path, Value: upd, OldValue: cur})
		}
		return
	}

	// Same container on both sides cannot differ.
	if sameContainer(cur, upd) {
		return
	}

	// Step 2: circular-reference guard.
	if key, ok := keyOf(upd); ok {
		if _, seen := d.visited[key]; seen {
			return
		}
		d.visited[key] = struct{}{}
	}

	curMap, curIsMap := cur.(map[string]any)
	curArr, curIsArr := cur.([]any)

	switch {
	case updIsArr && curIsArr:
		if d.opts.IgnoreArrayOrder {
			d.walkArrayUnordered(curArr, updArr, path)
		} else {
			d.walkArrayOrdered(curArr, updArr, path, depth)
		}
	case updIsMap && curIsMap:
		d.walkObject(curMap, updMap, path, depth)
	default:
		// Step 5: shape mismatch replaces the whole subtree.
		d.emit(Change{Kind: KindReplace, Path: path, Value: upd, OldValue: cur})
	}
}

func (d *differ) walkObject(cur, upd map[string]any, path treepath.Path, depth int) {
	for _, k := range sortedKeys(upd) {
		cv, ok := cur[k]
		d.walk(cv, ok, upd[k], path.Key(k), depth+1)
	}
	if !d.opts.DetectDeletions {
		return
	}
	for _, k := range sortedKeys(cur) {
		if _, ok := upd[k]; !ok {
			d.emit(Change{Kind: KindDelete, Path: path.Key(k), OldValue: cur[k]})
		}
	}
}

func (d *differ) walkArrayOrdered(cur, upd []any, path treepath.Path, depth int) {
	n := max(len(cur), len(upd))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(cur):
			d.emit(Change{Kind: KindAdd, Path: path.Index(i), Value: upd[i]})
		case i >= len(upd):
			if d.opts.DetectDeletions {
				d.emit(Change{Kind: KindDelete, Path: path.Index(i), OldValue: cur[i]})
			}
		default:
			d.walk(cur[i], true, upd[i], path.Index(i), depth+1)
		}
	}
}

func (d *differ) walkArrayUnordered(cur, upd []any, path treepath.Path) {
	curSet := make(map[string]struct{}, len(cur))
	for _, v := range cur {
		curSet[serialize(v)] = struct{}{}
	}
	updSet := make(map[string]struct{}, len(upd))
	for i, v := range upd {
		s := serialize(v)
		updSet[s] = struct{}{}
		if _, ok := curSet[s]; !ok {
			d.emit(Change{Kind: KindAdd, Path: path.Index(i), Value: v})
		}
	}
	if !d.opts.DetectDeletions {
		return
	}
	for i, v := range cur {
		if _, ok := updSet[serialize(v)]; !ok {
			d.emit(Change{Kind: KindDelete, Path: path.Index(i), OldValue: v})
		}
	}
}

// serialize produces the set-membership key for unordered array diffs.
// encoding/json sorts map keys, so equal plain data serializes equally.
func serialize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%#v", v, v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// keyOf identifies a container by its backing storage.
func keyOf(v any) (containerKey, bool) {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return containerKey{}, false
		}
		return containerKey{ptr: uintptr(reflect.ValueOf(x).UnsafePointer())}, true
	case []any:
		if len(x) == 0 {
			return containerKey{}, false
		}
		return containerKey{ptr: uintptr(reflect.ValueOf(x).UnsafePointer()), len: len(x)}, true
	}
	return containerKey{}, false
}

func sameContainer(a, b any) bool {
	ka, okA := keyOf(a)
	kb, okB := keyOf(b)
	if !okA || !okB {
		return false
	}
	_, aIsMap := a.(map[string]any)
	_, bIsMap := b.(map[string]any)
	return aIsMap == bIsMap && ka == kb
}

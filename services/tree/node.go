// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/signal"
	"github.com/AleutianAI/signaltree/services/tree/snapshot"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// Kind is the shape of a node.
type Kind int

const (
	// KindLeaf holds a single reactive cell.
	KindLeaf Kind = iota

	// KindObject holds a map[string]any with one child per key.
	KindObject

	// KindArray holds a []any with one child per index.
	KindArray
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf classifies v. Only map[string]any and []any are containers; every
// other value, typed maps and structs included, is a leaf.
func KindOf(v any) Kind {
	switch v.(type) {
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return KindLeaf
	}
}

// Node is one position in a materialized tree.
//
// Description:
//
//	A leaf node wraps a reactive cell. A branch node (object or array)
//	exposes its subtree value and its children, which are created on
//	first access and cached for as long as their key exists. Writing a
//	new subtree value keeps the cached children whose key survives and
//	notifies only the cells whose value actually changed.
//
//	A node is detached once its key disappears or its kind changes under
//	a write. Detached nodes keep their last value but reject writes with
//	ErrDetached.
//
// Thread Safety: NOT safe for concurrent use.
type Node interface {
	signal.Readable[any]

	// Path returns the node's location from the root.
	Path() treepath.Path

	// Kind returns the node's shape.
	Kind() Kind

	// Set replaces the subtree value. v is deep-copied.
	Set(v any) error

	// Update replaces the subtree value with fn(current).
	Update(fn func(any) any) error

	// Child returns the object child at key.
	Child(key string) (Node, error)

	// Index returns the array child at i.
	Index(i int) (Node, error)

	// At resolves path relative to this node.
	At(path treepath.Path) (Node, error)

	// Keys returns an object's keys in sorted order, nil for other kinds.
	Keys() []string

	// Len returns the number of children, 0 for leaves.
	Len() int

	// Detached reports whether the node has left the tree.
	Detached() bool
}

// =============================================================================
// node
// =============================================================================

type node struct {
	t      *Tree
	parent *node
	seg    treepath.Segment
	path   treepath.Path
	kind   Kind

	// cell holds a leaf's value.
	cell *signal.Signal[any]

	// ver counts changes anywhere below a branch; value is the branch's
	// container, shared with the parent's slot.
	ver   *signal.Signal[uint64]
	value any

	children map[string]*node
	detached bool
}

func (t *Tree) newNode(parent *node, seg treepath.Segment, path treepath.Path, v any) *node {
	n := &node{
		t:      t,
		parent: parent,
		seg:    seg,
		path:   path,
		kind:   KindOf(v),
	}
	if n.kind == KindLeaf {
		n.cell = signal.New[any](v, signal.WithEqual(t.equal), signal.WithScheduler[any](t.sched))
	} else {
		n.ver = signal.New[uint64](0, signal.WithScheduler[uint64](t.sched))
		n.value = v
		n.children = make(map[string]*node)
	}
	recordMaterialized(n.kind)
	return n
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (n *node) Path() treepath.Path { return n.path.Clone() }

func (n *node) Kind() Kind { return n.kind }

func (n *node) Detached() bool { return n.detached }

// Get returns the subtree value. Branch values are deep copies.
func (n *node) Get() any {
	if n.kind == KindLeaf {
		return n.cell.Get()
	}
	return snapshot.MustClone(n.value)
}

func (n *node) Version() uint64 {
	if n.kind == KindLeaf {
		return n.cell.Version()
	}
	return n.ver.Version()
}

func (n *node) Subscribe(fn func()) func() {
	if n.kind == KindLeaf {
		return n.cell.Subscribe(fn)
	}
	return n.ver.Subscribe(fn)
}

func (n *node) Keys() []string {
	m, ok := n.value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (n *node) Len() int {
	switch v := n.value.(type) {
	case map[string]any:
		return len(v)
	case []any:
		return len(v)
	default:
		return 0
	}
}

func (n *node) Child(key string) (Node, error) {
	c, err := n.child(treepath.Key(key))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (n *node) Index(i int) (Node, error) {
	c, err := n.child(treepath.Index(i))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (n *node) At(path treepath.Path) (Node, error) {
	c, err := n.t.resolve(n, path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// current returns the live value without copying.
func (n *node) current() any {
	if n.kind == KindLeaf {
		return n.cell.Get()
	}
	return n.value
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

func (n *node) Set(v any) error {
	if n.detached {
		return fmt.Errorf("%w: %s", ErrDetached, n.path)
	}
	owned, err := snapshot.Clone(v)
	if err != nil {
		return err
	}
	return n.t.write(actionSet, n.path, func() error {
		return n.set(owned)
	})
}

func (n *node) Update(fn func(any) any) error {
	if n.detached {
		return fmt.Errorf("%w: %s", ErrDetached, n.path)
	}
	return n.t.write(actionUpdate, n.path, func() error {
		owned, err := snapshot.Clone(fn(n.Get()))
		if err != nil {
			return err
		}
		return n.set(owned)
	})
}

// set writes an owned value into n, replacing n in its parent when the
// kind changes.
func (n *node) set(v any) error {
	if n.detached {
		return fmt.Errorf("%w: %s", ErrDetached, n.path)
	}
	if KindOf(v) != n.kind {
		if n.parent == nil {
			n.t.replaceRoot(v)
			return nil
		}
		p := n.parent
		p.dropChild(n.seg.CacheKey())
		p.setSlot(n.seg, v)
		p.changed()
		return nil
	}
	changed := n.assign(v)
	if n.parent != nil {
		n.parent.setSlot(n.seg, n.current())
	}
	if changed {
		n.bubble()
	}
	return nil
}

// assign adopts v, which has n's kind, and reports whether anything
// observable changed. Cached children are forwarded their new values;
// children whose key vanished or whose kind changed are detached.
func (n *node) assign(v any) bool {
	switch n.kind {
	case KindLeaf:
		before := n.cell.Version()
		n.cell.Set(v)
		return n.cell.Version() != before
	case KindObject:
		return n.assignObject(v.(map[string]any))
	default:
		return n.assignArray(v.([]any))
	}
}

func (n *node) assignObject(next map[string]any) bool {
	prev := n.value.(map[string]any)
	changed := len(prev) != len(next)
	for k, nv := range next {
		key := treepath.Key(k).CacheKey()
		c, cached := n.children[key]
		switch {
		case cached && KindOf(nv) == c.kind:
			if c.assign(nv) {
				changed = true
			}
			next[k] = c.current()
		case cached:
			n.dropChild(key)
			changed = true
		default:
			pv, ok := prev[k]
			switch {
			case !ok || !n.t.sameValue(pv, nv):
				changed = true
			default:
				next[k] = pv
			}
		}
	}
	for k := range prev {
		if _, ok := next[k]; ok {
			continue
		}
		n.dropChild(treepath.Key(k).CacheKey())
		changed = true
	}
	n.value = next
	if changed {
		n.ver.Set(n.ver.Get() + 1)
	}
	return changed
}

func (n *node) assignArray(next []any) bool {
	prev := n.value.([]any)
	changed := len(prev) != len(next)
	for i, nv := range next {
		key := treepath.Index(i).CacheKey()
		c, cached := n.children[key]
		switch {
		case cached && KindOf(nv) == c.kind:
			if c.assign(nv) {
				changed = true
			}
			next[i] = c.current()
		case cached:
			n.dropChild(key)
			changed = true
		default:
			switch {
			case i >= len(prev) || !n.t.sameValue(prev[i], nv):
				changed = true
			default:
				next[i] = prev[i]
			}
		}
	}
	for i := len(next); i < len(prev); i++ {
		n.dropChild(treepath.Index(i).CacheKey())
	}
	n.value = next
	if changed {
		n.ver.Set(n.ver.Get() + 1)
	}
	return changed
}

// sameValue compares slot values that have no cached child with the gate
// a materialized subtree would apply: leaves through the tree's equality,
// containers structurally with that equality at their leaves. An equal
// slot keeps its previous value, as a rejected cell.Set would.
func (t *Tree) sameValue(prev, next any) bool {
	if KindOf(prev) == KindLeaf && KindOf(next) == KindLeaf {
		return t.equal(prev, next)
	}
	return !diff.HasChanges(prev, next, t.strictDiff()...)
}

// strictDiff compares with the tree's leaf equality, deletions on and no
// depth limit.
func (t *Tree) strictDiff() []diff.Option {
	return []diff.Option{
		diff.WithEqual(t.equal),
		diff.WithDetectDeletions(true),
		diff.WithMaxDepth(math.MaxInt32),
	}
}

// insert adds a value under a segment that has no slot yet. Objects gain
// a key; arrays accept only the index one past the end.
func (n *node) insert(seg treepath.Segment, v any) error {
	switch c := n.value.(type) {
	case map[string]any:
		c[seg.KeyName()] = v
	case []any:
		if seg.IndexValue() != len(c) {
			return fmt.Errorf("%w: %s (len %d)", ErrPathNotFound, n.path.Child(seg), len(c))
		}
		grown := append(slices.Clip(c), v)
		n.value = grown
		if n.parent != nil {
			n.parent.setSlot(n.seg, grown)
		}
	}
	n.changed()
	return nil
}

// changed bumps n's own version and then bubbles.
func (n *node) changed() {
	n.ver.Set(n.ver.Get() + 1)
	n.bubble()
}

// bubble bumps every ancestor and the tree.
func (n *node) bubble() {
	for a := n.parent; a != nil; a = a.parent {
		a.ver.Set(a.ver.Get() + 1)
	}
	n.t.bump()
}

// -----------------------------------------------------------------------------
// Children
// -----------------------------------------------------------------------------

// normalize maps seg onto n's container kind. Decimal keys address array
// elements and index segments address object keys by their decimal form.
func (n *node) normalize(seg treepath.Segment) (treepath.Segment, error) {
	switch n.kind {
	case KindObject:
		if seg.IsIndex() {
			return treepath.Key(strconv.Itoa(seg.IndexValue())), nil
		}
		return seg, nil
	case KindArray:
		if seg.IsIndex() {
			return seg, nil
		}
		i, err := strconv.Atoi(seg.KeyName())
		if err != nil || i < 0 {
			return seg, fmt.Errorf("%w: %s", ErrPathNotFound, n.path.Child(seg))
		}
		return treepath.Index(i), nil
	default:
		return seg, fmt.Errorf("%w: %s is a leaf", ErrNotContainer, n.path)
	}
}

func (n *node) slot(seg treepath.Segment) (any, bool) {
	switch c := n.value.(type) {
	case map[string]any:
		v, ok := c[seg.KeyName()]
		return v, ok
	case []any:
		i := seg.IndexValue()
		if i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

func (n *node) setSlot(seg treepath.Segment, v any) {
	switch c := n.value.(type) {
	case map[string]any:
		c[seg.KeyName()] = v
	case []any:
		if i := seg.IndexValue(); i >= 0 && i < len(c) {
			c[i] = v
		}
	}
}

// child returns the cached child at seg, materializing it on first access.
func (n *node) child(seg treepath.Segment) (*node, error) {
	if n.detached {
		return nil, fmt.Errorf("%w: %s", ErrDetached, n.path)
	}
	seg, err := n.normalize(seg)
	if err != nil {
		return nil, err
	}
	key := seg.CacheKey()
	if c, ok := n.children[key]; ok {
		return c, nil
	}
	v, ok := n.slot(seg)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, n.path.Child(seg))
	}
	c := n.t.newNode(n, seg, n.path.Child(seg), v)
	n.children[key] = c
	if n.t.index != nil {
		n.t.index.Set(c.path, c)
	}
	return c, nil
}

func (n *node) dropChild(key string) {
	c, ok := n.children[key]
	if !ok {
		return
	}
	delete(n.children, key)
	c.detach()
	if n.t.index != nil {
		n.t.index.DeletePrefix(c.path)
	}
}

// detach marks n and its cached descendants as out of the tree. Each
// detached node notifies its subscribers once more so they can observe
// Detached() and re-select; the notification is queued on the tree's
// scheduler with the write that caused it.
func (n *node) detach() {
	n.detached = true
	for _, c := range n.children {
		c.detach()
	}
	if n.kind == KindLeaf {
		n.cell.Notify()
	} else {
		n.ver.Notify()
	}
}

var _ Node = (*node)(nil)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree materializes a nested value into a tree of reactive cells.
//
// # Description
//
// A Tree owns a deep copy of its initial value. Its root node is built
// eagerly; every other node is created the first time it is reached
// through Child, Index, At or Select, then cached. Leaves are
// signal.Signal cells. Writes to a branch walk the new value and touch
// only the cells whose value changed, so subscriptions on unrelated
// siblings are never disturbed.
//
// Optional engines are composed at construction time:
//
//	t, err := tree.New(initial,
//	    tree.WithPathIndex(),
//	    tree.WithTimeTravel(history.DefaultConfig()),
//	)
//
// Entity collections bind to an array position with BindEntities.
//
// # Limitations
//
// Cyclic input graphs are not supported and will not terminate.
//
// # Thread Safety
//
// A Tree and its nodes are NOT safe for concurrent use.
package tree

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/entities"
	"github.com/AleutianAI/signaltree/services/tree/history"
	"github.com/AleutianAI/signaltree/services/tree/pathindex"
	"github.com/AleutianAI/signaltree/services/tree/signal"
	"github.com/AleutianAI/signaltree/services/tree/snapshot"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPathNotFound is returned when a path does not exist in the tree.
	ErrPathNotFound = errors.New("path not found")

	// ErrNotContainer is returned when a child is requested from a leaf.
	ErrNotContainer = errors.New("not a container")

	// ErrDetached is returned when writing through a node that left the tree.
	ErrDetached = errors.New("node detached")

	// ErrTimeTravelDisabled is returned by history operations on a tree
	// built without WithTimeTravel.
	ErrTimeTravelDisabled = errors.New("time travel disabled")
)

const (
	actionSet    = history.ActionSet
	actionUpdate = history.ActionUpdate
	actionBatch  = history.ActionBatch
)

// WriteHook observes every completed outermost write.
type WriteHook func(action history.Action, path treepath.Path)

// =============================================================================
// Tree
// =============================================================================

// Tree is a lazily materialized reactive tree.
//
// Thread Safety: NOT safe for concurrent use.
type Tree struct {
	id     string
	root   *node
	ver    *signal.Signal[uint64]
	sched  *signal.Scheduler
	equal  signal.EqualFunc[any]
	index  *pathindex.Index[node]
	logger *slog.Logger

	diffOpts []diff.Option
	missing  entities.MissingPolicy

	history   *history.Manager
	restoring bool

	depth int
	hooks []WriteHook
}

// New materializes initial into a tree.
//
// Description:
//
//	initial is deep-copied, so later mutation of the caller's value never
//	reaches the tree. Options are applied in order; engines that wrap
//	writes (time travel, write hooks) are attached after the root exists.
//
// Inputs:
//   - initial: Any plain value. map[string]any and []any become branches.
//   - opts: Engines and settings.
//
// Outputs:
//   - *Tree: The tree. Never nil on success.
//   - error: Non-nil if initial cannot be copied or an option failed.
func New(initial any, opts ...Option) (*Tree, error) {
	s := settings{
		equal:  signal.Identical,
		logger: slog.Default().With(slog.String("component", "tree")),
	}
	for _, opt := range opts {
		opt(&s)
	}

	owned, err := snapshot.Clone(initial)
	if err != nil {
		return nil, fmt.Errorf("copy initial value: %w", err)
	}

	t := &Tree{
		id:       uuid.NewString(),
		sched:    signal.NewScheduler(),
		equal:    s.equal,
		logger:   s.logger,
		diffOpts: s.diffOpts,
		missing:  s.missing,
		hooks:    s.hooks,
	}
	t.logger = t.logger.With(slog.String("tree_id", t.id))
	t.ver = signal.New[uint64](0, signal.WithScheduler[uint64](t.sched))
	if s.pathIndex {
		t.index = pathindex.New[node]()
	}
	t.root = t.newNode(nil, treepath.Segment{}, treepath.Root, owned)

	if s.timeTravel != nil && s.timeTravel.Enabled {
		if err := t.enableTimeTravel(*s.timeTravel); err != nil {
			return nil, err
		}
	}

	t.logger.Debug("tree created",
		slog.String("kind", t.root.kind.String()),
		slog.Bool("path_index", t.index != nil),
		slog.Bool("time_travel", t.history != nil),
	)
	return t, nil
}

// ID returns the tree's unique identifier.
func (t *Tree) ID() string { return t.id }

// Root returns the root node. The root is replaced when a write changes
// its kind.
func (t *Tree) Root() Node { return t.root }

// Get returns a deep copy of the whole value.
func (t *Tree) Get() any { return t.root.Get() }

// Version counts writes that changed the tree.
func (t *Tree) Version() uint64 { return t.ver.Version() }

// Subscribe registers fn to run after any change anywhere in the tree.
func (t *Tree) Subscribe(fn func()) func() { return t.ver.Subscribe(fn) }

// Set replaces the whole value.
func (t *Tree) Set(v any) error {
	return t.SetAt(treepath.Root, v)
}

// Update replaces the whole value with fn(current).
func (t *Tree) Update(fn func(any) any) error {
	return t.UpdateAt(treepath.Root, fn)
}

// At returns the node at path, materializing it and its ancestors.
//
// Outputs:
//   - Node: The node.
//   - error: ErrPathNotFound or ErrNotContainer, wrapped with the path.
func (t *Tree) At(path treepath.Path) (Node, error) {
	n, err := t.resolve(t.root, path)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Select parses a path such as "a.b[0]" and returns the node there.
func (t *Tree) Select(path string) (Node, error) {
	p, err := treepath.Parse(path)
	if err != nil {
		return nil, err
	}
	return t.At(p)
}

// Unwrap returns a deep copy of the value at path without materializing it.
func (t *Tree) Unwrap(path treepath.Path) (any, error) {
	cur := t.root.current()
	for i, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[segmentKey(seg)]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path[:i+1])
			}
			cur = v
		case []any:
			idx, ok := segmentIndex(seg)
			if !ok || idx >= len(c) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path[:i+1])
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("%w: %s is a leaf", ErrNotContainer, path[:i])
		}
	}
	return snapshot.Clone(cur)
}

// SetAt writes v at path.
//
// Description:
//
//	The parent of path must exist. An absent object key is added; an
//	array index equal to the length appends. Anything else missing is
//	ErrPathNotFound.
//
// Inputs:
//   - path: Target location. The root path replaces the whole value.
//   - v: New value. Deep-copied.
//
// Outputs:
//   - error: ErrPathNotFound, ErrNotContainer, or a copy failure.
func (t *Tree) SetAt(path treepath.Path, v any) error {
	owned, err := snapshot.Clone(v)
	if err != nil {
		return err
	}
	return t.write(actionSet, path, func() error {
		return t.setAt(path, owned)
	})
}

// UpdateAt writes fn(current) at path. The path must already exist.
func (t *Tree) UpdateAt(path treepath.Path, fn func(any) any) error {
	return t.write(actionUpdate, path, func() error {
		n, err := t.resolve(t.root, path)
		if err != nil {
			return err
		}
		owned, err := snapshot.Clone(fn(n.Get()))
		if err != nil {
			return err
		}
		return n.set(owned)
	})
}

// Batch runs fn as a single write. Subscribers are notified once after fn
// returns and time travel records a single BATCH entry.
func (t *Tree) Batch(fn func() error) error {
	return t.write(actionBatch, treepath.Root, fn)
}

// IndexStats returns path index statistics, or false without an index.
func (t *Tree) IndexStats() (pathindex.Stats, bool) {
	if t.index == nil {
		return pathindex.Stats{}, false
	}
	return t.index.Stats(), true
}

// =============================================================================
// Internals
// =============================================================================

func (t *Tree) setAt(path treepath.Path, v any) error {
	if path.IsRoot() {
		return t.root.set(v)
	}
	parent, err := t.resolve(t.root, path.Parent())
	if err != nil {
		return err
	}
	last, _ := path.Last()
	seg, err := parent.normalize(last)
	if err != nil {
		return err
	}
	if _, ok := parent.slot(seg); !ok {
		return parent.insert(seg, v)
	}
	n, err := parent.child(seg)
	if err != nil {
		return err
	}
	return n.set(v)
}

// write wraps an outermost mutation in a scheduler batch and runs the
// write hooks once it completes. Nested writes and restores run fn as is.
func (t *Tree) write(action history.Action, path treepath.Path, fn func() error) error {
	if t.depth > 0 || t.restoring {
		return fn()
	}
	before := t.ver.Version()
	var err error
	func() {
		t.depth++
		defer func() { t.depth-- }()
		t.sched.Batch(func() { err = fn() })
	}()
	if err != nil {
		t.logger.Debug("tree write failed",
			slog.String("action", string(action)),
			slog.String("path", path.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	changed := t.ver.Version() != before
	recordWrite(action, changed)
	if !changed {
		return nil
	}
	t.logger.Debug("tree write",
		slog.String("action", string(action)),
		slog.String("path", path.String()),
	)
	for _, h := range t.hooks {
		h(action, path)
	}
	return nil
}

// resolve walks path from n, consulting the path index first when the
// walk starts at the root.
func (t *Tree) resolve(n *node, path treepath.Path) (*node, error) {
	if len(path) == 0 {
		return n, nil
	}
	if t.index != nil && n == t.root {
		if hit := t.index.Get(path); hit != nil && !hit.detached {
			return hit, nil
		}
	}
	cur := n
	for _, seg := range path {
		next, err := cur.child(seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (t *Tree) replaceRoot(v any) {
	old := t.root
	old.detach()
	if t.index != nil {
		t.index.Clear()
	}
	t.root = t.newNode(nil, treepath.Segment{}, treepath.Root, v)
	t.bump()
	t.logger.Debug("root replaced",
		slog.String("from", old.kind.String()),
		slog.String("to", t.root.kind.String()),
	)
}

func (t *Tree) bump() {
	t.ver.Set(t.ver.Get() + 1)
}

func segmentKey(seg treepath.Segment) string {
	if seg.IsIndex() {
		return strconv.Itoa(seg.IndexValue())
	}
	return seg.KeyName()
}

func segmentIndex(seg treepath.Segment) (int, bool) {
	if seg.IsIndex() {
		return seg.IndexValue(), seg.IndexValue() >= 0
	}
	i, err := strconv.Atoi(seg.KeyName())
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

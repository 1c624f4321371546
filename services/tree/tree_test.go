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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signaltree/services/tree/config"
	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/history"
	"github.com/AleutianAI/signaltree/services/tree/signal"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

func sample() map[string]any {
	return map[string]any{
		"a": map[string]any{"b": 1, "c": "x"},
		"items": []any{"x", "y"},
	}
}

func mustSelect(t *testing.T, tr *Tree, path string) Node {
	t.Helper()
	n, err := tr.Select(path)
	require.NoError(t, err)
	return n
}

func counter(n interface{ Subscribe(func()) func() }) *int {
	calls := new(int)
	n.Subscribe(func() { *calls++ })
	return calls
}

// =============================================================================
// Materialization
// =============================================================================

func TestNew_CopiesInput(t *testing.T) {
	in := sample()
	tr, err := New(in)
	require.NoError(t, err)

	in["a"].(map[string]any)["b"] = 99
	got, err := tr.Unwrap(treepath.MustParse("a.b"))
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	out := tr.Get().(map[string]any)
	out["a"].(map[string]any)["b"] = 42
	got, _ = tr.Unwrap(treepath.MustParse("a.b"))
	assert.Equal(t, 1, got, "Get hands out a copy")
}

func TestAt_LazyAndCached(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	assert.Empty(t, tr.root.children, "only the root is built eagerly")

	b1 := mustSelect(t, tr, "a.b")
	b2 := mustSelect(t, tr, "a.b")
	assert.Same(t, b1, b2)
	assert.Equal(t, KindLeaf, b1.Kind())
	assert.Equal(t, 1, b1.Get())
	assert.Equal(t, "a.b", b1.Path().String())

	a := mustSelect(t, tr, "a")
	assert.Equal(t, KindObject, a.Kind())
	assert.Equal(t, []string{"b", "c"}, a.Keys())
	assert.Equal(t, 2, a.Len())

	child, err := a.Child("b")
	require.NoError(t, err)
	assert.Same(t, b1, child)

	items := mustSelect(t, tr, "items")
	assert.Equal(t, KindArray, items.Kind())
	first, err := items.Index(0)
	require.NoError(t, err)
	assert.Equal(t, "x", first.Get())
	assert.Same(t, first, mustSelect(t, tr, "items.0"), "decimal keys address array elements")
}

func TestAt_Errors(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	_, err = tr.Select("a.missing")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = tr.Select("a.b.deeper")
	assert.ErrorIs(t, err, ErrNotContainer)

	_, err = tr.Select("items[7]")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = tr.Select("a[")
	assert.ErrorIs(t, err, treepath.ErrInvalidPath)
}

// =============================================================================
// Writes
// =============================================================================

func TestSet_SiblingIdentityPreserved(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	b := mustSelect(t, tr, "a.b")
	c := mustSelect(t, tr, "a.c")
	bCalls, cCalls := counter(b), counter(c)

	require.NoError(t, tr.SetAt(treepath.New("a"), map[string]any{"b": 2, "c": "x"}))

	assert.Equal(t, 2, b.Get())
	assert.Equal(t, 1, *bCalls)
	assert.Equal(t, 0, *cCalls, "unchanged sibling is not notified")
	assert.Same(t, b, mustSelect(t, tr, "a.b"))
	assert.Same(t, c, mustSelect(t, tr, "a.c"))
}

func TestSet_NoOpDoesNotNotify(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)
	calls := counter(tr)

	require.NoError(t, tr.Set(sample()))
	assert.Equal(t, 0, *calls)
	assert.Equal(t, uint64(0), tr.Version())
}

func TestSet_BubblesToAncestors(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	a := mustSelect(t, tr, "a")
	aCalls, treeCalls := counter(a), counter(tr)

	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), 5))
	assert.Equal(t, 1, *aCalls)
	assert.Equal(t, 1, *treeCalls)
	assert.Equal(t, map[string]any{"b": 5, "c": "x"}, a.Get())
}

func TestSet_KindChangeReplacesNode(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	old := mustSelect(t, tr, "a.b")
	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), map[string]any{"z": true}))

	assert.True(t, old.Detached())
	assert.ErrorIs(t, old.Set(3), ErrDetached)

	fresh := mustSelect(t, tr, "a.b")
	assert.NotSame(t, old, fresh)
	assert.Equal(t, KindObject, fresh.Kind())
	assert.Equal(t, true, mustSelect(t, tr, "a.b.z").Get())
}

func TestSet_RootKindChange(t *testing.T) {
	tr, err := New(1)
	require.NoError(t, err)
	old := tr.Root()

	require.NoError(t, tr.Set(map[string]any{"k": "v"}))
	assert.True(t, old.Detached())
	assert.Equal(t, KindObject, tr.Root().Kind())
	assert.Equal(t, "v", mustSelect(t, tr, "k").Get())
}

func TestSet_VanishedKeyDetaches(t *testing.T) {
	tr, err := New(sample(), WithPathIndex())
	require.NoError(t, err)

	b := mustSelect(t, tr, "a.b")
	require.True(t, tr.index.Has(treepath.MustParse("a.b")))

	require.NoError(t, tr.SetAt(treepath.New("a"), map[string]any{"c": "x"}))
	assert.True(t, b.Detached())
	assert.False(t, tr.index.Has(treepath.MustParse("a.b")), "detached subtree is evicted")

	_, err = tr.Select("a.b")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestSet_CustomEqualSameWithOrWithoutMaterializing(t *testing.T) {
	fold := func(a, b any) bool {
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			return strings.EqualFold(as, bs)
		}
		return signal.Identical(a, b)
	}
	initial := func() map[string]any {
		return map[string]any{"a": "x", "list": []any{"p"}}
	}

	for _, materialize := range []bool{false, true} {
		name := "lazy"
		if materialize {
			name = "materialized"
		}
		t.Run(name, func(t *testing.T) {
			tr, err := New(initial(), WithEqual(fold))
			require.NoError(t, err)
			if materialize {
				mustSelect(t, tr, "a")
				mustSelect(t, tr, "list[0]")
			}
			calls := counter(tr)

			require.NoError(t, tr.Set(map[string]any{"a": "X", "list": []any{"P"}}))
			assert.Equal(t, initial(), tr.Get())
			assert.Equal(t, uint64(0), tr.Version())
			assert.Zero(t, *calls)

			require.NoError(t, tr.Set(map[string]any{"a": "y", "list": []any{"P"}}))
			assert.Equal(t, map[string]any{"a": "y", "list": []any{"p"}}, tr.Get())
			assert.Equal(t, uint64(1), tr.Version())
		})
	}
}

func TestSet_DroppedNodeNotifiesSubscribers(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	b := mustSelect(t, tr, "a.b")
	c := mustSelect(t, tr, "a.c")
	bCalls, cCalls := counter(b), counter(c)

	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), map[string]any{"z": 1}))
	assert.True(t, b.Detached())
	assert.Equal(t, 1, *bCalls, "kind change notifies the dropped leaf once")
	assert.Zero(t, *cCalls)

	require.NoError(t, tr.Set(map[string]any{"items": []any{"x", "y"}}))
	assert.True(t, c.Detached())
	assert.Equal(t, 1, *cCalls, "vanished key notifies the dropped leaf once")
	assert.Equal(t, 1, *bCalls)
}

func TestSetAt_AddAndAppend(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	require.NoError(t, tr.SetAt(treepath.MustParse("a.d"), 4))
	assert.Equal(t, 4, mustSelect(t, tr, "a.d").Get())

	require.NoError(t, tr.SetAt(treepath.MustParse("items[2]"), "z"))
	got, err := tr.Unwrap(treepath.New("items"))
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y", "z"}, got)

	err = tr.SetAt(treepath.MustParse("items[9]"), "far")
	assert.ErrorIs(t, err, ErrPathNotFound)

	err = tr.SetAt(treepath.MustParse("nope.deep"), 1)
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestUpdateAt(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	require.NoError(t, tr.UpdateAt(treepath.MustParse("a.b"), func(v any) any {
		return v.(int) + 10
	}))
	assert.Equal(t, 11, mustSelect(t, tr, "a.b").Get())

	b := mustSelect(t, tr, "a.b")
	require.NoError(t, b.Update(func(v any) any { return v.(int) * 2 }))
	assert.Equal(t, 22, b.Get())
}

func TestArray_ShrinkDetachesTail(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	second := mustSelect(t, tr, "items[1]")
	first := mustSelect(t, tr, "items[0]")
	require.NoError(t, tr.SetAt(treepath.New("items"), []any{"x"}))

	assert.True(t, second.Detached())
	assert.False(t, first.Detached())
	assert.Equal(t, 1, mustSelect(t, tr, "items").Len())
}

func TestBatch_SingleNotification(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)
	calls := counter(tr)

	require.NoError(t, tr.Batch(func() error {
		if err := tr.SetAt(treepath.MustParse("a.b"), 2); err != nil {
			return err
		}
		return tr.SetAt(treepath.MustParse("a.c"), "y")
	}))
	assert.Equal(t, 1, *calls)
}

func TestWriteHook(t *testing.T) {
	var paths []string
	tr, err := New(sample(), WithWriteHook(func(action history.Action, p treepath.Path) {
		paths = append(paths, string(action)+" "+p.String())
	}))
	require.NoError(t, err)

	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), 2))
	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), 2))
	assert.Equal(t, []string{"SET a.b"}, paths, "no-op writes skip hooks")
}

// =============================================================================
// Path index
// =============================================================================

func TestPathIndex_Stats(t *testing.T) {
	tr, err := New(sample(), WithPathIndex())
	require.NoError(t, err)

	mustSelect(t, tr, "a.b")
	mustSelect(t, tr, "a.b")
	stats, ok := tr.IndexStats()
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Sets, "a and a.b")

	plain, err := New(sample())
	require.NoError(t, err)
	_, ok = plain.IndexStats()
	assert.False(t, ok)
}

// =============================================================================
// Time travel
// =============================================================================

func TestTimeTravel_UndoRedo(t *testing.T) {
	tr, err := New(map[string]any{"a": map[string]any{"b": 1}}, WithTimeTravel(history.DefaultConfig()))
	require.NoError(t, err)

	b := mustSelect(t, tr, "a.b")
	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), 2))
	assert.Equal(t, 2, b.Get())

	h := tr.History()
	require.Len(t, h, 2)
	assert.Equal(t, history.ActionInit, h[0].Action)
	assert.Equal(t, history.ActionSet, h[1].Action)
	assert.Equal(t, map[string]any{"path": "a.b"}, h[1].Payload)

	require.True(t, tr.Undo())
	assert.Equal(t, 1, b.Get(), "cached cell restored in place")
	assert.Same(t, b, mustSelect(t, tr, "a.b"))
	assert.Len(t, tr.History(), 2, "restores are not recorded")
	assert.True(t, tr.CanRedo())

	require.True(t, tr.Redo())
	assert.Equal(t, 2, b.Get())
	assert.False(t, tr.CanRedo())
	assert.Equal(t, 1, tr.CurrentIndex())
}

func TestTimeTravel_SkipsNoOpsAndBatches(t *testing.T) {
	tr, err := New(sample(), WithTimeTravel(history.DefaultConfig()))
	require.NoError(t, err)

	require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), 1))
	assert.Len(t, tr.History(), 1)

	require.NoError(t, tr.Batch(func() error {
		if err := tr.SetAt(treepath.MustParse("a.b"), 7); err != nil {
			return err
		}
		return tr.SetAt(treepath.MustParse("a.c"), "q")
	}))
	h := tr.History()
	require.Len(t, h, 2)
	assert.Equal(t, history.ActionBatch, h[1].Action)

	require.True(t, tr.JumpTo(0))
	got, _ := tr.Unwrap(treepath.MustParse("a.c"))
	assert.Equal(t, "x", got)

	require.NoError(t, tr.ResetHistory())
	assert.Len(t, tr.History(), 1)
	assert.False(t, tr.CanUndo())
}

func TestTimeTravel_RecordsWritesTheTreeDiffOptionsIgnore(t *testing.T) {
	tr, err := New(map[string]any{"a": []any{1, 2}, "deep": map[string]any{"x": map[string]any{"y": 1}}},
		WithTimeTravel(history.DefaultConfig()),
		WithDiffOptions(diff.WithIgnoreArrayOrder(true), diff.WithMaxDepth(1)),
	)
	require.NoError(t, err)

	require.NoError(t, tr.SetAt(treepath.MustParse("a"), []any{2, 1}))
	assert.Equal(t, uint64(1), tr.Version())
	require.Len(t, tr.History(), 2, "reorder is recorded")

	require.NoError(t, tr.SetAt(treepath.MustParse("deep.x.y"), 2))
	require.Len(t, tr.History(), 3, "write below the diff depth is recorded")

	require.True(t, tr.Undo())
	got, _ := tr.Unwrap(treepath.MustParse("deep.x.y"))
	assert.Equal(t, 1, got)
	require.True(t, tr.Undo())
	got, _ = tr.Unwrap(treepath.MustParse("a"))
	assert.Equal(t, []any{1, 2}, got)
	require.True(t, tr.Redo())
	got, _ = tr.Unwrap(treepath.MustParse("a"))
	assert.Equal(t, []any{2, 1}, got)
}

func TestTimeTravel_Disabled(t *testing.T) {
	tr, err := New(sample())
	require.NoError(t, err)

	assert.False(t, tr.TimeTravel())
	assert.False(t, tr.Undo())
	assert.False(t, tr.Redo())
	assert.False(t, tr.JumpTo(0))
	assert.Equal(t, -1, tr.CurrentIndex())
	assert.Nil(t, tr.History())
	assert.ErrorIs(t, tr.ResetHistory(), ErrTimeTravelDisabled)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TimeTravel.Enabled = true
	cfg.TimeTravel.MaxHistorySize = 3

	tr, err := New(sample(), FromConfig(cfg)...)
	require.NoError(t, err)
	assert.True(t, tr.TimeTravel())
	_, ok := tr.IndexStats()
	assert.True(t, ok)

	for i := 2; i < 8; i++ {
		require.NoError(t, tr.SetAt(treepath.MustParse("a.b"), i))
	}
	assert.Len(t, tr.History(), 3)
}

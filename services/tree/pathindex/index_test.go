// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathindex

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// handle carries a pointer field so it is never tiny-allocated; tiny
// allocations share blocks and would keep weak pointers alive.
type handle struct {
	name string
	pad  [4]int
}

func p(parts ...any) treepath.Path { return treepath.New(parts...) }

func TestIndex_SetGet(t *testing.T) {
	x := New[handle]()
	a := &handle{name: "a"}
	b := &handle{name: "b"}

	x.Set(p("users", 0, "name"), a)
	x.Set(p("users", 1), b)

	assert.Same(t, a, x.Get(p("users", 0, "name")))
	assert.Same(t, b, x.Get(p("users", 1)))
	assert.Nil(t, x.Get(p("users", 2)))
	assert.Nil(t, x.Get(p("users")), "intermediate nodes carry no handle")

	s := x.Stats()
	assert.Equal(t, uint64(2), s.Sets)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.Equal(t, 4, s.Nodes)

	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestIndex_KeyAndIndexSegmentsAreDistinct(t *testing.T) {
	x := New[handle]()
	byKey := &handle{name: "key"}
	byIndex := &handle{name: "index"}

	x.Set(p("list", "0"), byKey)
	x.Set(p("list", 0), byIndex)

	assert.Same(t, byKey, x.Get(p("list", "0")))
	assert.Same(t, byIndex, x.Get(p("list", 0)))

	runtime.KeepAlive(byKey)
	runtime.KeepAlive(byIndex)
}

func TestIndex_SetReplaces(t *testing.T) {
	x := New[handle]()
	first := &handle{name: "first"}
	second := &handle{name: "second"}

	x.Set(p("a"), first)
	x.Set(p("a"), second)
	assert.Same(t, second, x.Get(p("a")))

	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestIndex_DeletePrunesBottomUp(t *testing.T) {
	x := New[handle]()
	keep := &handle{name: "keep"}
	leaf := &handle{name: "leaf"}

	x.Set(p("a"), keep)
	x.Set(p("a", "b", "c"), leaf)
	require.Equal(t, 3, x.Stats().Nodes)

	assert.True(t, x.Delete(p("a", "b", "c")))
	assert.False(t, x.Delete(p("a", "b", "c")))
	assert.Equal(t, 1, x.Stats().Nodes, "b and c pruned, a still holds a handle")
	assert.Same(t, keep, x.Get(p("a")))

	assert.True(t, x.Delete(p("a")))
	assert.Equal(t, 0, x.Stats().Nodes)

	runtime.KeepAlive(keep)
	runtime.KeepAlive(leaf)
}

func TestIndex_DeletePrefix(t *testing.T) {
	x := New[handle]()
	hs := []*handle{{name: "1"}, {name: "2"}, {name: "3"}, {name: "4"}}

	x.Set(p("items"), hs[0])
	x.Set(p("items", 0), hs[1])
	x.Set(p("items", 0, "title"), hs[2])
	x.Set(p("other"), hs[3])

	assert.Equal(t, 3, x.DeletePrefix(p("items")))
	assert.Nil(t, x.Get(p("items", 0, "title")))
	assert.Same(t, hs[3], x.Get(p("other")))
	assert.Equal(t, 1, x.Stats().Nodes)
	assert.Equal(t, 1, x.Stats().CacheSize)

	assert.Equal(t, 0, x.DeletePrefix(p("missing")))

	runtime.KeepAlive(hs)
}

func TestIndex_Clear(t *testing.T) {
	x := New[handle]()
	h := &handle{name: "h"}
	x.Set(p("a", "b"), h)
	_ = x.Get(p("a", "b"))

	x.Clear()
	assert.Nil(t, x.Get(p("a", "b")))
	s := x.Stats()
	assert.Equal(t, 0, s.Nodes)
	assert.Equal(t, 0, s.CacheSize)
	assert.Equal(t, uint64(1), s.Hits, "counters survive Clear")

	runtime.KeepAlive(h)
}

func TestIndex_GetByPrefixOrder(t *testing.T) {
	x := New[handle]()
	root := &handle{name: "root"}
	z := &handle{name: "z"}
	zz := &handle{name: "zz"}
	a := &handle{name: "a"}

	x.Set(p("cfg"), root)
	x.Set(p("cfg", "z"), z)
	x.Set(p("cfg", "z", "z"), zz)
	x.Set(p("cfg", "a"), a)

	entries := x.GetByPrefix(p("cfg"))
	require.Len(t, entries, 4)

	var got []string
	for _, e := range entries {
		got = append(got, e.Path.String()+"="+e.Handle.name)
	}
	// Parents first, then children in insertion order.
	assert.Equal(t, []string{"=root", "z=z", "z.z=zz", "a=a"}, got)

	assert.Empty(t, x.GetByPrefix(p("nothing")))

	runtime.KeepAlive([]*handle{root, z, zz, a})
}

func setUnreachable(x *Index[handle], path treepath.Path) {
	x.Set(path, &handle{name: "ephemeral"})
}

func TestIndex_CollectedHandleIsMiss(t *testing.T) {
	x := New[handle]()
	setUnreachable(x, p("gone", "leaf"))
	require.Equal(t, 2, x.Stats().Nodes)

	runtime.GC()
	runtime.GC()

	assert.Nil(t, x.Get(p("gone", "leaf")))
	s := x.Stats()
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Cleanups)
	assert.Equal(t, 0, s.Nodes, "dead entry pruned with its empty ancestors")
	assert.False(t, x.Has(p("gone", "leaf")))
}

func TestIndex_GetByPrefixSkipsCollected(t *testing.T) {
	x := New[handle]()
	live := &handle{name: "live"}
	x.Set(p("list", 0), live)
	setUnreachable(x, p("list", 1))

	runtime.GC()
	runtime.GC()

	entries := x.GetByPrefix(p("list"))
	require.Len(t, entries, 1)
	assert.Same(t, live, entries[0].Handle)
	assert.Equal(t, uint64(1), x.Stats().Cleanups)

	runtime.KeepAlive(live)
}

func TestIndex_SetNilDeletes(t *testing.T) {
	x := New[handle]()
	h := &handle{name: "h"}
	x.Set(p("a"), h)
	x.Set(p("a"), nil)
	assert.False(t, x.Has(p("a")))
	runtime.KeepAlive(h)
}

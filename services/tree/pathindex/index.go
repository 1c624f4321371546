// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathindex maps tree paths to weakly held node handles.
//
// The index is a trie keyed by path segment, so lookups cost O(k) in the
// path length regardless of how many paths are indexed. A flat cache keyed by
// the rendered path string sits in front of the trie.
//
// # Ownership Model
//
// The index never keeps a handle alive. Entries hold weak.Pointer values, and
// every read that finds a collected handle counts a miss and prunes the entry.
//
// # Thread Safety
//
// NOT safe for concurrent use; the owning tree serializes access.
package pathindex

import (
	"weak"

	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// Stats is a point-in-time view of index counters.
type Stats struct {
	// Hits counts reads that returned a live handle.
	Hits uint64 `json:"hits"`

	// Misses counts reads that found nothing or a collected handle.
	Misses uint64 `json:"misses"`

	// Sets counts Set calls.
	Sets uint64 `json:"sets"`

	// Cleanups counts entries removed because their handle was collected.
	Cleanups uint64 `json:"cleanups"`

	// CacheSize is the number of flat cache entries.
	CacheSize int `json:"cache_size"`

	// Nodes is the number of trie nodes, excluding the root.
	Nodes int `json:"nodes"`
}

// Entry is a live handle found under a prefix.
type Entry[T any] struct {
	// Path is relative to the queried prefix.
	Path   treepath.Path
	Handle *T
}

type trieNode[T any] struct {
	seg      treepath.Segment
	parent   *trieNode[T]
	children map[string]*trieNode[T]
	order    []string

	payload    weak.Pointer[T]
	hasPayload bool
}

func (n *trieNode[T]) child(seg treepath.Segment) *trieNode[T] {
	if n.children == nil {
		return nil
	}
	return n.children[seg.CacheKey()]
}

func (n *trieNode[T]) empty() bool {
	return !n.hasPayload && len(n.children) == 0
}

func (n *trieNode[T]) removeChild(key string) {
	delete(n.children, key)
	for i, k := range n.order {
		if k == key {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

type cacheEntry[T any] struct {
	path treepath.Path
	ptr  weak.Pointer[T]
}

// Index is a path trie of weak handles.
//
// Thread Safety: NOT safe for concurrent use.
type Index[T any] struct {
	root  *trieNode[T]
	cache map[string]cacheEntry[T]
	nodes int

	hits     uint64
	misses   uint64
	sets     uint64
	cleanups uint64
}

// New creates an empty index.
func New[T any]() *Index[T] {
	return &Index[T]{
		root:  &trieNode[T]{},
		cache: make(map[string]cacheEntry[T]),
	}
}

// Set indexes handle at path, replacing any previous handle.
//
// A nil handle is equivalent to Delete.
func (x *Index[T]) Set(path treepath.Path, handle *T) {
	if handle == nil {
		x.Delete(path)
		return
	}
	n := x.root
	for _, seg := range path {
		next := n.child(seg)
		if next == nil {
			if n.children == nil {
				n.children = make(map[string]*trieNode[T])
			}
			next = &trieNode[T]{seg: seg, parent: n}
			key := seg.CacheKey()
			n.children[key] = next
			n.order = append(n.order, key)
			x.nodes++
		}
		n = next
	}
	wp := weak.Make(handle)
	n.payload = wp
	n.hasPayload = true
	x.cache[path.String()] = cacheEntry[T]{path: path.Clone(), ptr: wp}
	x.sets++
	recordSet()
}

// Get returns the live handle at path, or nil.
//
// Description:
//
//	Consults the flat cache first, then descends the trie. A live hit
//	re-registers the cache entry. A collected handle is a miss and its
//	entry is pruned on the spot.
func (x *Index[T]) Get(path treepath.Path) *T {
	key := path.String()
	if ce, ok := x.cache[key]; ok {
		if h := ce.ptr.Value(); h != nil {
			x.cache[key] = cacheEntry[T]{path: ce.path, ptr: weak.Make(h)}
			x.hits++
			recordLookup(true)
			return h
		}
		delete(x.cache, key)
	}

	n := x.descend(path)
	if n == nil || !n.hasPayload {
		x.misses++
		recordLookup(false)
		return nil
	}
	h := n.payload.Value()
	if h == nil {
		x.misses++
		recordLookup(false)
		x.dropPayload(n)
		return nil
	}
	x.cache[key] = cacheEntry[T]{path: path.Clone(), ptr: n.payload}
	x.hits++
	recordLookup(true)
	return h
}

// Has reports whether a live handle is indexed at path. It does not touch
// the hit/miss counters.
func (x *Index[T]) Has(path treepath.Path) bool {
	n := x.descend(path)
	return n != nil && n.hasPayload && n.payload.Value() != nil
}

// Delete removes the handle at path and prunes trie nodes that are left
// without payload and children, walking from the leaf towards the root and
// stopping at the first node that still holds state.
//
// Outputs:
//   - bool: True if a handle was indexed at path.
func (x *Index[T]) Delete(path treepath.Path) bool {
	delete(x.cache, path.String())
	n := x.descend(path)
	if n == nil || !n.hasPayload {
		return false
	}
	n.payload = weak.Pointer[T]{}
	n.hasPayload = false
	x.prune(n)
	return true
}

// DeletePrefix removes every entry at or below prefix.
//
// Outputs:
//   - int: Number of handles removed.
func (x *Index[T]) DeletePrefix(prefix treepath.Path) int {
	for key, ce := range x.cache {
		if ce.path.HasPrefix(prefix) {
			delete(x.cache, key)
		}
	}
	n := x.descend(prefix)
	if n == nil {
		return 0
	}
	removed, nodes := countSubtree(n)
	if n == x.root {
		x.root = &trieNode[T]{}
		x.nodes = 0
		return removed
	}
	n.parent.removeChild(n.seg.CacheKey())
	x.nodes -= nodes
	x.prune(n.parent)
	return removed
}

// Clear drops every entry in O(1). Counters are kept.
func (x *Index[T]) Clear() {
	x.root = &trieNode[T]{}
	x.cache = make(map[string]cacheEntry[T])
	x.nodes = 0
}

// GetByPrefix collects the live handles at or below prefix.
//
// Description:
//
//	Walks the subtree depth-first, parents before children, children in
//	insertion order. Paths in the result are relative to prefix; the
//	prefix's own handle, if any, has the root path. Collected handles
//	are skipped and pruned after the walk.
//
// Outputs:
//   - []Entry[T]: Ordered live entries. Empty if nothing is indexed there.
func (x *Index[T]) GetByPrefix(prefix treepath.Path) []Entry[T] {
	n := x.descend(prefix)
	if n == nil {
		return nil
	}
	var out []Entry[T]
	var dead []*trieNode[T]
	var walk func(n *trieNode[T], rel treepath.Path)
	walk = func(n *trieNode[T], rel treepath.Path) {
		if n.hasPayload {
			if h := n.payload.Value(); h != nil {
				out = append(out, Entry[T]{Path: rel, Handle: h})
			} else {
				dead = append(dead, n)
			}
		}
		for _, key := range n.order {
			c := n.children[key]
			walk(c, rel.Child(c.seg))
		}
	}
	walk(n, treepath.Path{})

	for _, d := range dead {
		if d.hasPayload {
			x.dropPayload(d)
		}
	}
	return out
}

// Stats returns the current counters.
func (x *Index[T]) Stats() Stats {
	return Stats{
		Hits:      x.hits,
		Misses:    x.misses,
		Sets:      x.sets,
		Cleanups:  x.cleanups,
		CacheSize: len(x.cache),
		Nodes:     x.nodes,
	}
}

func (x *Index[T]) descend(path treepath.Path) *trieNode[T] {
	n := x.root
	for _, seg := range path {
		n = n.child(seg)
		if n == nil {
			return nil
		}
	}
	return n
}

// dropPayload clears a collected handle and prunes what it leaves behind.
func (x *Index[T]) dropPayload(n *trieNode[T]) {
	n.payload = weak.Pointer[T]{}
	n.hasPayload = false
	x.cleanups++
	recordCleanup()
	x.prune(n)
}

func (x *Index[T]) prune(n *trieNode[T]) {
	for n != x.root && n != nil && n.empty() {
		parent := n.parent
		parent.removeChild(n.seg.CacheKey())
		n.parent = nil
		x.nodes--
		n = parent
	}
}

// countSubtree returns the payload count and node count under n, n included.
func countSubtree[T any](n *trieNode[T]) (payloads, nodes int) {
	nodes = 1
	if n.hasPayload {
		payloads = 1
	}
	for _, c := range n.children {
		p, k := countSubtree(c)
		payloads += p
		nodes += k
	}
	return payloads, nodes
}

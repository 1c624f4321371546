// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package signal

// Computed is a derived value recomputed from a fixed set of sources.
//
// Description:
//
//	Get recomputes only when the version of at least one source moved since
//	the last computation. While a Computed has subscribers it listens to its
//	sources, recomputes eagerly on their notifications and notifies its own
//	subscribers only when the derived value changed under its equality gate.
//
// Thread Safety: NOT safe for concurrent use.
type Computed[T any] struct {
	fn      func() T
	sources []Source
	seen    []uint64
	value   T
	valid   bool
	version uint64
	equal   EqualFunc[T]

	subs     subscribers
	upstream []func()
}

// ComputedOption configures a Computed.
type ComputedOption[T any] func(*Computed[T])

// WithComputedEqual replaces the equality gate used to decide whether a
// recomputation produced a new value.
func WithComputedEqual[T any](eq EqualFunc[T]) ComputedOption[T] {
	return func(c *Computed[T]) {
		if eq != nil {
			c.equal = eq
		}
	}
}

// NewComputed creates a derived value.
//
// Inputs:
//   - fn: Pure function reading the sources. Called lazily.
//   - sources: Every Source fn reads from.
//
// Outputs:
//   - *Computed[T]: The derived value. Never nil.
func NewComputed[T any](fn func() T, sources ...Source) *Computed[T] {
	return &Computed[T]{
		fn:      fn,
		sources: sources,
		seen:    make([]uint64, len(sources)),
		equal:   identicalT[T],
	}
}

// NewComputedWith is NewComputed with options.
func NewComputedWith[T any](fn func() T, opts []ComputedOption[T], sources ...Source) *Computed[T] {
	c := NewComputed(fn, sources...)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the derived value, recomputing it if a source changed.
func (c *Computed[T]) Get() T {
	c.refresh()
	return c.value
}

// Version returns a counter that moves whenever the derived value changed.
func (c *Computed[T]) Version() uint64 {
	c.refresh()
	return c.version
}

// Subscribe registers fn to run when the derived value changes.
func (c *Computed[T]) Subscribe(fn func()) func() {
	if c.subs.len() == 0 {
		c.connect()
	}
	unsub := c.subs.add(fn)
	return func() {
		unsub()
		if c.subs.len() == 0 {
			c.disconnect()
		}
	}
}

func (c *Computed[T]) stale() bool {
	if !c.valid {
		return true
	}
	for i, src := range c.sources {
		if src.Version() != c.seen[i] {
			return true
		}
	}
	return false
}

func (c *Computed[T]) refresh() {
	if !c.stale() {
		return
	}
	next := c.fn()
	for i, src := range c.sources {
		c.seen[i] = src.Version()
	}
	if !c.valid || !c.equal(c.value, next) {
		c.value = next
		c.version++
	}
	c.valid = true
}

func (c *Computed[T]) connect() {
	c.refresh()
	for _, src := range c.sources {
		c.upstream = append(c.upstream, src.Subscribe(c.onSourceChange))
	}
}

func (c *Computed[T]) disconnect() {
	for _, unsub := range c.upstream {
		unsub()
	}
	c.upstream = nil
}

func (c *Computed[T]) onSourceChange() {
	before := c.version
	c.refresh()
	if c.version != before {
		c.subs.notify()
	}
}

var _ Readable[int] = (*Computed[int])(nil)

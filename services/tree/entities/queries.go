// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entities

import (
	"github.com/AleutianAI/signaltree/services/tree/signal"
)

// Lookup is the result of a single-record query.
type Lookup[E any] struct {
	Value E
	Found bool
}

// All returns the records in insertion order.
func (c *Collection[E, K]) All() signal.Readable[[]E] {
	if c.all == nil {
		c.all = signal.NewComputed(c.Snapshot, c.rev)
	}
	return c.all
}

// Count returns the number of records.
func (c *Collection[E, K]) Count() signal.Readable[int] {
	if c.count == nil {
		c.count = signal.NewComputed(c.Len, c.rev)
	}
	return c.count
}

// IDs returns the keys in insertion order.
func (c *Collection[E, K]) IDs() signal.Readable[[]K] {
	if c.ids == nil {
		c.ids = signal.NewComputed(func() []K {
			return append([]K(nil), c.order...)
		}, c.rev)
	}
	return c.ids
}

// Has reports whether id is present.
func (c *Collection[E, K]) Has(id K) signal.Readable[bool] {
	return signal.NewComputed(func() bool {
		_, ok := c.byID[id]
		return ok
	}, c.rev)
}

// ByID returns the record under id.
func (c *Collection[E, K]) ByID(id K) signal.Readable[Lookup[E]] {
	return signal.NewComputed(func() Lookup[E] {
		e, ok := c.byID[id]
		return Lookup[E]{Value: e, Found: ok}
	}, c.rev)
}

// Where returns the records matching pred, in insertion order.
func (c *Collection[E, K]) Where(pred func(E) bool) signal.Readable[[]E] {
	return signal.NewComputed(func() []E {
		var out []E
		for _, id := range c.order {
			if e := c.byID[id]; pred(e) {
				out = append(out, e)
			}
		}
		return out
	}, c.rev)
}

// Find returns the first record matching pred.
func (c *Collection[E, K]) Find(pred func(E) bool) signal.Readable[Lookup[E]] {
	return signal.NewComputed(func() Lookup[E] {
		for _, id := range c.order {
			if e := c.byID[id]; pred(e) {
				return Lookup[E]{Value: e, Found: true}
			}
		}
		return Lookup[E]{}
	}, c.rev)
}

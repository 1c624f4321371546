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
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
)

// Patch computes the new version of a record from the stored one.
type Patch[E any] func(E) (E, error)

// Func adapts an infallible function to a Patch.
func Func[E any](fn func(E) E) Patch[E] {
	return func(e E) (E, error) { return fn(e), nil }
}

// =============================================================================
// Add / Upsert
// =============================================================================

// AddOne inserts e.
//
// Outputs:
//   - error: ErrDuplicateEntity if the key exists, ErrNoID if it cannot be
//     computed, ErrBlocked if an interceptor vetoed. Also sent to OnError.
func (c *Collection[E, K]) AddOne(e E) error {
	m := &mutation[E, K]{op: "add_one"}
	err := c.add(m, e)
	c.commit(m)
	return err
}

// AddMany inserts every record it can. Failures do not stop the batch and
// are returned together.
func (c *Collection[E, K]) AddMany(es ...E) error {
	m := &mutation[E, K]{op: "add_many"}
	var result *multierror.Error
	for _, e := range es {
		if err := c.add(m, e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.commit(m)
	return result.ErrorOrNil()
}

func (c *Collection[E, K]) add(m *mutation[E, K], e E) error {
	id, err := c.selectID(e)
	if err != nil {
		return c.fail(m.op, fmt.Errorf("%w: %v", ErrNoID, err))
	}
	if _, exists := c.byID[id]; exists {
		return c.fail(m.op, fmt.Errorf("%w: %v", ErrDuplicateEntity, id))
	}
	return c.insert(m, id, e)
}

func (c *Collection[E, K]) insert(m *mutation[E, K], id K, e E) error {
	e, err := c.interceptAdd(id, e)
	if err != nil {
		return c.fail(m.op, err)
	}
	c.byID[id] = e
	c.order = append(c.order, id)
	m.added = append(m.added, record[E, K]{id: id, next: e})
	return nil
}

// UpsertOne inserts e, or replaces the record with the same key.
func (c *Collection[E, K]) UpsertOne(e E) error {
	m := &mutation[E, K]{op: "upsert_one"}
	err := c.upsert(m, e)
	c.commit(m)
	return err
}

// UpsertMany upserts every record, returning the failures together.
func (c *Collection[E, K]) UpsertMany(es ...E) error {
	m := &mutation[E, K]{op: "upsert_many"}
	var result *multierror.Error
	for _, e := range es {
		if err := c.upsert(m, e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.commit(m)
	return result.ErrorOrNil()
}

func (c *Collection[E, K]) upsert(m *mutation[E, K], e E) error {
	id, err := c.selectID(e)
	if err != nil {
		return c.fail(m.op, fmt.Errorf("%w: %v", ErrNoID, err))
	}
	prev, exists := c.byID[id]
	if !exists {
		return c.insert(m, id, e)
	}
	return c.replace(m, id, prev, e)
}

// =============================================================================
// Update
// =============================================================================

// UpdateOne applies patch to the record under id.
//
// Description:
//
//	The key is fixed before the patch runs; a patch that changes the key
//	field does not move the record. A missing id is skipped under
//	MissingIgnore and reported as ErrEntityNotFound under MissingReport.
func (c *Collection[E, K]) UpdateOne(id K, patch Patch[E]) error {
	m := &mutation[E, K]{op: "update_one"}
	err := c.update(m, id, patch)
	c.commit(m)
	return err
}

// UpdateMany applies patch to each listed id.
func (c *Collection[E, K]) UpdateMany(ids []K, patch Patch[E]) error {
	m := &mutation[E, K]{op: "update_many"}
	var result *multierror.Error
	for _, id := range ids {
		if err := c.update(m, id, patch); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.commit(m)
	return result.ErrorOrNil()
}

// UpdateWhere applies patch to every record matching pred.
//
// Outputs:
//   - int: Number of records updated. Failures go to OnError only.
func (c *Collection[E, K]) UpdateWhere(pred func(E) bool, patch Patch[E]) int {
	m := &mutation[E, K]{op: "update_where"}
	n := 0
	for _, id := range append([]K(nil), c.order...) {
		if !pred(c.byID[id]) {
			continue
		}
		if err := c.update(m, id, patch); err == nil {
			n++
		}
	}
	c.commit(m)
	return n
}

func (c *Collection[E, K]) update(m *mutation[E, K], id K, patch Patch[E]) error {
	prev, ok := c.byID[id]
	if !ok {
		if c.missing == MissingReport {
			return c.fail(m.op, fmt.Errorf("%w: %v", ErrEntityNotFound, id))
		}
		c.logger.Debug("update of missing entity skipped", slog.Any("id", id))
		return nil
	}
	next, err := patch(prev)
	if err != nil {
		return c.fail(m.op, fmt.Errorf("patch %v: %w", id, err))
	}
	return c.replace(m, id, prev, next)
}

func (c *Collection[E, K]) replace(m *mutation[E, K], id K, prev, next E) error {
	next, err := c.interceptUpdate(id, prev, next)
	if err != nil {
		return c.fail(m.op, err)
	}
	c.byID[id] = next
	m.updated = append(m.updated, record[E, K]{id: id, prev: prev, next: next})
	return nil
}

// =============================================================================
// Remove
// =============================================================================

// RemoveOne deletes the record under id. A missing id is a no-op.
func (c *Collection[E, K]) RemoveOne(id K) error {
	m := &mutation[E, K]{op: "remove_one"}
	err := c.remove(m, id)
	c.commit(m)
	return err
}

// RemoveMany deletes each listed id.
func (c *Collection[E, K]) RemoveMany(ids ...K) error {
	m := &mutation[E, K]{op: "remove_many"}
	var result *multierror.Error
	for _, id := range ids {
		if err := c.remove(m, id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.commit(m)
	return result.ErrorOrNil()
}

// RemoveWhere deletes every record matching pred and returns how many went.
func (c *Collection[E, K]) RemoveWhere(pred func(E) bool) int {
	m := &mutation[E, K]{op: "remove_where"}
	n := 0
	for _, id := range c.order {
		if !pred(c.byID[id]) {
			continue
		}
		if err := c.remove(m, id); err == nil {
			n++
		}
	}
	c.commit(m)
	return n
}

// Clear removes every record interceptors allow and returns how many went.
func (c *Collection[E, K]) Clear() int {
	m := &mutation[E, K]{op: "clear"}
	n := 0
	for _, id := range c.order {
		if err := c.remove(m, id); err == nil {
			n++
		}
	}
	c.commit(m)
	return n
}

// remove deletes from the map only; commit compacts the order list.
func (c *Collection[E, K]) remove(m *mutation[E, K], id K) error {
	prev, ok := c.byID[id]
	if !ok {
		return nil
	}
	if err := c.interceptRemove(id, prev); err != nil {
		return c.fail(m.op, err)
	}
	delete(c.byID, id)
	m.removed = append(m.removed, record[E, K]{id: id, prev: prev})
	return nil
}

// =============================================================================
// Bulk replacement
// =============================================================================

// SetAll makes the collection hold exactly es, in that order.
//
// Description:
//
//	Keys absent from es are removed, the rest are upserted. Interceptors
//	and taps see the individual adds, updates and removes.
func (c *Collection[E, K]) SetAll(es ...E) error {
	m := &mutation[E, K]{op: "set_all"}
	var result *multierror.Error

	wanted := make([]K, 0, len(es))
	keep := make(map[K]struct{}, len(es))
	for _, e := range es {
		id, err := c.selectID(e)
		if err != nil {
			result = multierror.Append(result, c.fail(m.op, fmt.Errorf("%w: %v", ErrNoID, err)))
			continue
		}
		wanted = append(wanted, id)
		keep[id] = struct{}{}
	}
	for _, id := range c.order {
		if _, ok := keep[id]; !ok {
			if err := c.remove(m, id); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for _, e := range es {
		if _, err := c.selectID(e); err != nil {
			continue
		}
		if err := c.upsert(m, e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.reorder(wanted)
	c.commit(m)
	return result.ErrorOrNil()
}

// Load replaces the contents with es without running interceptors or the
// per-record taps. OnChange taps still fire. It is the restore path used
// when the records come from a snapshot rather than from a user action.
func (c *Collection[E, K]) Load(es ...E) error {
	byID := make(map[K]E, len(es))
	order := make([]K, 0, len(es))
	for _, e := range es {
		id, err := c.selectID(e)
		if err != nil {
			return fmt.Errorf("load: %w: %v", ErrNoID, err)
		}
		if _, dup := byID[id]; dup {
			return fmt.Errorf("load: %w: %v", ErrDuplicateEntity, id)
		}
		byID[id] = e
		order = append(order, id)
	}
	c.byID = byID
	c.order = order
	c.sched.Batch(func() {
		c.rev.Set(c.rev.Get() + 1)
	})
	c.logger.Debug("collection loaded", slog.Int("size", len(order)))
	for _, h := range c.taps.snapshot() {
		if h.OnChange != nil {
			h.OnChange()
		}
	}
	return nil
}

// reorder puts the keys listed in wanted first, in that order. Keys that
// are present but not listed (blocked removals) keep their relative order
// after them.
func (c *Collection[E, K]) reorder(wanted []K) {
	seen := make(map[K]struct{}, len(c.order))
	out := make([]K, 0, len(c.order))
	for _, id := range wanted {
		if _, ok := c.byID[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range c.order {
		if _, ok := c.byID[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	c.order = out
}

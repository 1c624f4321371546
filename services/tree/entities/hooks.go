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

import "fmt"

// TapHandlers observe mutations after they are applied. They cannot alter
// or cancel anything. Nil fields are skipped.
type TapHandlers[E any, K comparable] struct {
	OnAdd    func(id K, e E)
	OnUpdate func(id K, prev, next E)
	OnRemove func(id K, e E)

	// OnChange runs once per mutating call that changed something, after
	// the per-record handlers.
	OnChange func()
}

// InterceptContext is the veto/transform window handed to interceptors.
type InterceptContext[E any, K comparable] struct {
	// ID is the key being mutated.
	ID K

	// Previous is the stored record; zero for adds.
	Previous E

	// Value is the record about to be stored. For removals it is the
	// record about to be removed.
	Value E

	blocked bool
	reason  string
}

// Block cancels the mutation. Later interceptors are not run.
func (x *InterceptContext[E, K]) Block(reason string) {
	x.blocked = true
	x.reason = reason
}

// Transform replaces the record that will be stored. Ignored for removals.
func (x *InterceptContext[E, K]) Transform(v E) {
	x.Value = v
}

// Blocked reports whether Block was called.
func (x *InterceptContext[E, K]) Blocked() bool {
	return x.blocked
}

// InterceptHandlers run synchronously before a mutation is applied.
type InterceptHandlers[E any, K comparable] struct {
	OnAdd    func(ctx *InterceptContext[E, K])
	OnUpdate func(ctx *InterceptContext[E, K])
	OnRemove func(ctx *InterceptContext[E, K])
}

// Tap registers observers and returns the function that removes them.
func (c *Collection[E, K]) Tap(h TapHandlers[E, K]) func() {
	return c.taps.add(h)
}

// Intercept registers interceptors and returns the function that removes
// them. Interceptors run in registration order.
func (c *Collection[E, K]) Intercept(h InterceptHandlers[E, K]) func() {
	return c.intercepts.add(h)
}

func (c *Collection[E, K]) interceptAdd(id K, e E) (E, error) {
	ctx := &InterceptContext[E, K]{ID: id, Value: e}
	for _, h := range c.intercepts.snapshot() {
		if h.OnAdd == nil {
			continue
		}
		h.OnAdd(ctx)
		if ctx.blocked {
			var zero E
			return zero, fmt.Errorf("%w: add %v: %s", ErrBlocked, id, ctx.reason)
		}
	}
	return ctx.Value, nil
}

func (c *Collection[E, K]) interceptUpdate(id K, prev, next E) (E, error) {
	ctx := &InterceptContext[E, K]{ID: id, Previous: prev, Value: next}
	for _, h := range c.intercepts.snapshot() {
		if h.OnUpdate == nil {
			continue
		}
		h.OnUpdate(ctx)
		if ctx.blocked {
			var zero E
			return zero, fmt.Errorf("%w: update %v: %s", ErrBlocked, id, ctx.reason)
		}
	}
	return ctx.Value, nil
}

func (c *Collection[E, K]) interceptRemove(id K, prev E) error {
	ctx := &InterceptContext[E, K]{ID: id, Previous: prev, Value: prev}
	for _, h := range c.intercepts.snapshot() {
		if h.OnRemove == nil {
			continue
		}
		h.OnRemove(ctx)
		if ctx.blocked {
			return fmt.Errorf("%w: remove %v: %s", ErrBlocked, id, ctx.reason)
		}
	}
	return nil
}

func (c *Collection[E, K]) runTaps(m *mutation[E, K]) {
	for _, h := range c.taps.snapshot() {
		if h.OnAdd != nil {
			for _, r := range m.added {
				h.OnAdd(r.id, r.next)
			}
		}
		if h.OnUpdate != nil {
			for _, r := range m.updated {
				h.OnUpdate(r.id, r.prev, r.next)
			}
		}
		if h.OnRemove != nil {
			for _, r := range m.removed {
				h.OnRemove(r.id, r.prev)
			}
		}
		if h.OnChange != nil {
			h.OnChange()
		}
	}
}

// hookList keeps handlers in registration order.
type hookList[H any] struct {
	next  int
	order []int
	byID  map[int]H
}

func (l *hookList[H]) add(h H) func() {
	if l.byID == nil {
		l.byID = make(map[int]H)
	}
	id := l.next
	l.next++
	l.byID[id] = h
	l.order = append(l.order, id)
	return func() {
		if _, ok := l.byID[id]; !ok {
			return
		}
		delete(l.byID, id)
		for i, x := range l.order {
			if x == id {
				l.order = append(l.order[:i:i], l.order[i+1:]...)
				break
			}
		}
	}
}

// snapshot returns the handlers in order, so a handler may unregister
// itself while the list is being walked.
func (l *hookList[H]) snapshot() []H {
	out := make([]H, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

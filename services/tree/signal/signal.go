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

import (
	"reflect"
)

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// Source is anything a Computed can depend on.
type Source interface {
	// Version returns a counter that increases whenever the value changes.
	Version() uint64

	// Subscribe registers fn to be called after the value changes.
	// The returned func removes the subscription; calling it twice is safe.
	Subscribe(fn func()) (unsubscribe func())
}

// Readable is a Source with a typed value.
type Readable[T any] interface {
	Source
	Get() T
}

// Writable is a Readable that accepts writes.
type Writable[T any] interface {
	Readable[T]
	Set(v T)
	Update(fn func(T) T)
}

// EqualFunc decides whether a write is a no-op.
type EqualFunc[T any] func(a, b T) bool

// -----------------------------------------------------------------------------
// Equality
// -----------------------------------------------------------------------------

// Identical is the default equality gate.
//
// Description:
//
//	Values of comparable dynamic type are compared with ==. Funcs are equal
//	only when both are nil. Other non-comparable values (slices, maps) are
//	compared with reflect.DeepEqual, which is the closest Go analogue to
//	reference identity for plain data.
//
// Outputs:
//   - bool: True if a write of b over a must not notify.
func Identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).IsNil() && reflect.ValueOf(b).IsNil()
	}
	if ta.Comparable() {
		return safeCompare(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// safeCompare compares values whose static type is comparable. Structs and
// arrays holding interface fields can still panic at runtime when those
// fields carry non-comparable values, so we fall back to DeepEqual then.
func safeCompare(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}

// identicalT adapts Identical to a typed EqualFunc.
func identicalT[T any](a, b T) bool {
	return Identical(any(a), any(b))
}

// -----------------------------------------------------------------------------
// Signal
// -----------------------------------------------------------------------------

// Signal is a single mutable observable value.
//
// Description:
//
//	Get always returns the last value accepted by Set or Update. A write
//	that the equality gate reports as unchanged neither bumps the version
//	nor notifies subscribers.
//
// Thread Safety: NOT safe for concurrent use.
type Signal[T any] struct {
	value   T
	version uint64
	equal   EqualFunc[T]
	sched   *Scheduler
	subs    subscribers
}

// Option configures a Signal.
type Option[T any] func(*Signal[T])

// WithEqual replaces the default equality gate.
func WithEqual[T any](eq EqualFunc[T]) Option[T] {
	return func(s *Signal[T]) {
		if eq != nil {
			s.equal = eq
		}
	}
}

// WithScheduler attaches the signal to a batching scheduler.
func WithScheduler[T any](sched *Scheduler) Option[T] {
	return func(s *Signal[T]) {
		s.sched = sched
	}
}

// New creates a signal holding initial.
//
// Inputs:
//   - initial: The starting value.
//   - opts: Optional equality gate and scheduler.
//
// Outputs:
//   - *Signal[T]: The new signal. Never nil.
func New[T any](initial T, opts ...Option[T]) *Signal[T] {
	s := &Signal[T]{
		value: initial,
		equal: identicalT[T],
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	return s.value
}

// Set stores v and notifies subscribers unless v equals the current value.
func (s *Signal[T]) Set(v T) {
	if s.equal(s.value, v) {
		return
	}
	s.value = v
	s.version++
	s.sched.emit(&s.subs)
}

// Update stores fn(current), with the same equality gate as Set.
func (s *Signal[T]) Update(fn func(T) T) {
	s.Set(fn(s.value))
}

// Notify runs the subscribers without changing the value or version.
// Inside a batch the call is queued like a write.
func (s *Signal[T]) Notify() {
	s.sched.emit(&s.subs)
}

// Version returns the number of accepted writes.
func (s *Signal[T]) Version() uint64 {
	return s.version
}

// Subscribe registers fn to run after each accepted write.
func (s *Signal[T]) Subscribe(fn func()) func() {
	return s.subs.add(fn)
}

// Subscribers returns the number of live subscriptions.
func (s *Signal[T]) Subscribers() int {
	return s.subs.len()
}

var _ Writable[int] = (*Signal[int])(nil)

// -----------------------------------------------------------------------------
// Subscriber list
// -----------------------------------------------------------------------------

type subscription struct {
	fn     func()
	active bool
}

// subscribers is an ordered list of callbacks. Removal marks the entry
// inactive so that removal during notification is safe.
type subscribers struct {
	list []*subscription
}

func (l *subscribers) add(fn func()) func() {
	sub := &subscription{fn: fn, active: true}
	l.list = append(l.list, sub)
	return func() {
		if !sub.active {
			return
		}
		sub.active = false
		l.compact()
	}
}

func (l *subscribers) compact() {
	live := l.list[:0]
	for _, sub := range l.list {
		if sub.active {
			live = append(live, sub)
		}
	}
	for i := len(live); i < len(l.list); i++ {
		l.list[i] = nil
	}
	l.list = live
}

func (l *subscribers) len() int {
	return len(l.list)
}

// notify calls every subscriber registered at the time of the call.
func (l *subscribers) notify() {
	if len(l.list) == 0 {
		return
	}
	snapshot := make([]*subscription, len(l.list))
	copy(snapshot, l.list)
	for _, sub := range snapshot {
		if sub.active {
			sub.fn()
		}
	}
}

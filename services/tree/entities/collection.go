// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entities provides keyed collections with reactive queries.
//
// A Collection stores records of type E under keys of type K, keeps their
// insertion order, and exposes derived queries (All, Count, Where, ...) that
// recompute whenever the collection changes. Mutations can be observed with
// Tap and vetoed or rewritten with Intercept.
//
// # Error Policy
//
// Caller-contract violations (duplicate keys, records without a key,
// blocked mutations) are returned and also routed to the OnError hook.
// Updating or removing a key that does not exist is a benign race and is
// skipped, unless MissingReport is configured for updates.
package entities

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/signaltree/services/tree/signal"
)

var (
	// ErrDuplicateEntity is returned when adding a key that already exists.
	ErrDuplicateEntity = errors.New("entity already exists")

	// ErrEntityNotFound is reported for updates of missing keys under MissingReport.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrBlocked is returned when an interceptor blocks a mutation.
	ErrBlocked = errors.New("mutation blocked")

	// ErrNoID is returned when a record's key cannot be determined.
	ErrNoID = errors.New("entity has no id")
)

// MissingPolicy decides what UpdateOne does with a key that is not present.
type MissingPolicy int

const (
	// MissingIgnore skips the update silently.
	MissingIgnore MissingPolicy = iota

	// MissingReport returns ErrEntityNotFound and calls OnError.
	MissingReport
)

// String returns the policy name.
func (p MissingPolicy) String() string {
	switch p {
	case MissingReport:
		return "report"
	default:
		return "ignore"
	}
}

// ParseMissingPolicy parses "ignore" or "report".
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch s {
	case "", "ignore":
		return MissingIgnore, nil
	case "report":
		return MissingReport, nil
	}
	return MissingIgnore, fmt.Errorf("unknown missing policy %q", s)
}

// IDFunc extracts the key of a record.
type IDFunc[E any, K comparable] func(E) (K, error)

// Option configures a Collection.
type Option[E any, K comparable] func(*Collection[E, K])

// WithSelectID sets the key extractor. The default reads a struct field
// named ID or Id, or the "id" entry of a string-keyed map.
func WithSelectID[E any, K comparable](fn func(E) K) Option[E, K] {
	return func(c *Collection[E, K]) {
		if fn != nil {
			c.selectID = func(e E) (K, error) { return fn(e), nil }
		}
	}
}

// WithOnError sets the hook that receives caller-contract violations.
func WithOnError[E any, K comparable](fn func(error)) Option[E, K] {
	return func(c *Collection[E, K]) {
		c.onError = fn
	}
}

// WithMissingPolicy sets how updates of missing keys are handled.
func WithMissingPolicy[E any, K comparable](p MissingPolicy) Option[E, K] {
	return func(c *Collection[E, K]) {
		c.missing = p
	}
}

// WithScheduler attaches the collection to a batching scheduler, usually
// the one of the tree it is bound to.
func WithScheduler[E any, K comparable](s *signal.Scheduler) Option[E, K] {
	return func(c *Collection[E, K]) {
		c.sched = s
	}
}

// WithLogger sets the logger.
func WithLogger[E any, K comparable](l *slog.Logger) Option[E, K] {
	return func(c *Collection[E, K]) {
		if l != nil {
			c.logger = l
		}
	}
}

// Collection is a keyed, ordered set of records.
//
// Description:
//
//	Records live in a map plus an insertion-order key list. A revision
//	signal moves once per mutating call that changed something; every
//	query is a signal.Computed over that revision.
//
// Thread Safety: NOT safe for concurrent use.
type Collection[E any, K comparable] struct {
	byID  map[K]E
	order []K
	rev   *signal.Signal[uint64]

	selectID IDFunc[E, K]
	onError  func(error)
	missing  MissingPolicy
	sched    *signal.Scheduler
	logger   *slog.Logger

	taps       hookList[TapHandlers[E, K]]
	intercepts hookList[InterceptHandlers[E, K]]

	all   *signal.Computed[[]E]
	ids   *signal.Computed[[]K]
	count *signal.Computed[int]
}

// New creates an empty collection.
func New[E any, K comparable](opts ...Option[E, K]) *Collection[E, K] {
	c := &Collection[E, K]{
		byID:     make(map[K]E),
		selectID: defaultSelectID[E, K],
		logger:   slog.Default().With(slog.String("component", "entities")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rev = signal.New[uint64](0, signal.WithScheduler[uint64](c.sched))
	return c
}

// Revision returns the signal that moves on every effective mutation.
func (c *Collection[E, K]) Revision() signal.Readable[uint64] {
	return c.rev
}

// Len returns the number of records.
func (c *Collection[E, K]) Len() int {
	return len(c.order)
}

// Get returns the record stored under id.
func (c *Collection[E, K]) Get(id K) (E, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// Snapshot returns the records in insertion order as a new slice.
func (c *Collection[E, K]) Snapshot() []E {
	out := make([]E, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// ID returns the key of e as computed by the configured extractor.
func (c *Collection[E, K]) ID(e E) (K, error) {
	return c.selectID(e)
}

// -----------------------------------------------------------------------------
// Mutation bookkeeping
// -----------------------------------------------------------------------------

type record[E any, K comparable] struct {
	id   K
	prev E
	next E
}

// mutation collects what one public call changed, for taps and metrics.
type mutation[E any, K comparable] struct {
	op      string
	added   []record[E, K]
	updated []record[E, K]
	removed []record[E, K]
}

func (m *mutation[E, K]) empty() bool {
	return len(m.added) == 0 && len(m.updated) == 0 && len(m.removed) == 0
}

// commit publishes a finished mutation: compacts the order, bumps the
// revision, then runs taps.
func (c *Collection[E, K]) commit(m *mutation[E, K]) {
	if m.empty() {
		return
	}
	if len(m.removed) > 0 {
		c.order = slices.DeleteFunc(c.order, func(id K) bool {
			_, ok := c.byID[id]
			return !ok
		})
	}
	c.sched.Batch(func() {
		c.rev.Set(c.rev.Get() + 1)
	})
	recordMutation(m)
	c.logger.Debug("collection changed",
		slog.String("operation", m.op),
		slog.Int("added", len(m.added)),
		slog.Int("updated", len(m.updated)),
		slog.Int("removed", len(m.removed)),
		slog.Int("size", len(c.order)),
	)
	c.runTaps(m)
}

// fail routes a caller-contract violation to the logger, metrics and
// OnError hook, and returns it.
func (c *Collection[E, K]) fail(op string, err error) error {
	recordFailure(op, err)
	c.logger.Warn("collection mutation rejected",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	if c.onError != nil {
		c.onError(err)
	}
	return err
}

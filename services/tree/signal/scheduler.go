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

// Scheduler groups notifications issued inside Batch.
//
// Description:
//
//	Outside a batch, notifications run synchronously. Inside a batch they
//	are queued, de-duplicated per source, and flushed in first-write order
//	when the outermost Batch returns. Notifications issued while flushing
//	run immediately.
//
// A nil *Scheduler is valid and never batches.
//
// Thread Safety: NOT safe for concurrent use.
type Scheduler struct {
	depth   int
	pending []*subscribers
	queued  map[*subscribers]struct{}
	flushes uint64
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		queued: make(map[*subscribers]struct{}),
	}
}

// Batch runs fn with notifications deferred until the outermost Batch call
// returns. Nested calls are flattened. The queue is flushed even if fn
// panics.
func (s *Scheduler) Batch(fn func()) {
	if s == nil {
		fn()
		return
	}
	s.depth++
	defer func() {
		s.depth--
		if s.depth == 0 {
			s.flush()
		}
	}()
	fn()
}

// Batching reports whether a Batch is currently open.
func (s *Scheduler) Batching() bool {
	return s != nil && s.depth > 0
}

// Flushes returns how many non-empty batches have been flushed.
func (s *Scheduler) Flushes() uint64 {
	if s == nil {
		return 0
	}
	return s.flushes
}

func (s *Scheduler) emit(subs *subscribers) {
	if s == nil || s.depth == 0 {
		subs.notify()
		return
	}
	if _, ok := s.queued[subs]; ok {
		return
	}
	s.queued[subs] = struct{}{}
	s.pending = append(s.pending, subs)
}

func (s *Scheduler) flush() {
	if len(s.pending) == 0 {
		return
	}
	s.flushes++
	pending := s.pending
	s.pending = nil
	clear(s.queued)
	for _, subs := range pending {
		subs.notify()
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

// RingBuffer is a fixed-size circular buffer with positional access.
//
// # Description
//
// Push is O(1) and memory is bounded. When full, the oldest item is
// overwritten, which is how the history cap drops its oldest snapshots.
// Positions passed to At are logical: 0 is the oldest retained item.
//
// # Thread Safety
//
// NOT safe for concurrent use; caller must synchronize.
type RingBuffer[T any] struct {
	data  []T
	head  int // Next write position
	tail  int // Oldest element position
	count int
}

// NewRingBuffer creates a ring buffer holding at most capacity items.
//
// # Inputs
//
//   - capacity: Maximum number of elements. Values < 1 use DefaultMaxHistorySize.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultMaxHistorySize
	}
	return &RingBuffer[T]{data: make([]T, capacity)}
}

// Push appends an item, overwriting the oldest one when full.
//
// # Outputs
//
//   - bool: True if an old item was evicted to make room.
func (r *RingBuffer[T]) Push(item T) bool {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)

	if r.count == len(r.data) {
		r.tail = (r.tail + 1) % len(r.data)
		return true
	}
	r.count++
	return false
}

// At returns the item at logical position i, oldest first.
//
// # Outputs
//
//   - T: The item.
//   - bool: False if i is out of range.
func (r *RingBuffer[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.count {
		return zero, false
	}
	return r.data[(r.tail+i)%len(r.data)], true
}

// Newest returns the most recently pushed item.
func (r *RingBuffer[T]) Newest() (T, bool) {
	return r.At(r.count - 1)
}

// TruncateNewest drops the n most recent items.
//
// # Description
//
// Used to discard the redo branch before a new entry is appended.
// Dropped slots are zeroed so their snapshots can be collected.
func (r *RingBuffer[T]) TruncateNewest(n int) {
	if n <= 0 {
		return
	}
	if n > r.count {
		n = r.count
	}
	var zero T
	for i := 0; i < n; i++ {
		r.head--
		if r.head < 0 {
			r.head = len(r.data) - 1
		}
		r.data[r.head] = zero
	}
	r.count -= n
}

// Slice returns all items from oldest to newest as a new slice.
func (r *RingBuffer[T]) Slice() []T {
	if r.count == 0 {
		return nil
	}
	result := make([]T, r.count)
	for i := range result {
		result[i] = r.data[(r.tail+i)%len(r.data)]
	}
	return result
}

// Len returns the current number of elements.
func (r *RingBuffer[T]) Len() int {
	return r.count
}

// Cap returns the maximum capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// Clear removes all elements from the buffer.
func (r *RingBuffer[T]) Clear() {
	clear(r.data)
	r.head = 0
	r.tail = 0
	r.count = 0
}

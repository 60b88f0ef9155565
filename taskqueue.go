// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import "sync/atomic"

// A TaskEntry is one unit of marking work: either a reference to an
// object to scan, or a slice of a large reference array, identified by
// an interior pointer at the first element left to scan. It packs into
// one word so that queue slots can be read and written atomically.
//
// The zero TaskEntry is the null entry; it pads the unused tail of an
// overflow stack chunk.
type TaskEntry uint64

const sliceTag = 1

// EntryFromObj returns the entry for a whole object.
func EntryFromObj(obj Addr) TaskEntry {
	if obj == nilAddr {
		throw("task entry: nil object")
	}
	return TaskEntry(obj) << 1
}

// EntryFromSlice returns the entry for an array slice starting at the
// interior address a.
func EntryFromSlice(a Addr) TaskEntry {
	if a == nilAddr {
		throw("task entry: nil slice")
	}
	return TaskEntry(a)<<1 | sliceTag
}

// IsNull reports whether e is the null entry.
func (e TaskEntry) IsNull() bool { return e == 0 }

// IsArraySlice reports whether e holds an array slice.
func (e TaskEntry) IsArraySlice() bool { return e&sliceTag != 0 }

// IsObj reports whether e holds a whole object.
func (e TaskEntry) IsObj() bool { return e != 0 && e&sliceTag == 0 }

// Obj returns the object address of a whole-object entry.
func (e TaskEntry) Obj() Addr {
	if !e.IsObj() {
		throw("task entry: not an object")
	}
	return Addr(e >> 1)
}

// Slice returns the interior address of an array-slice entry.
func (e TaskEntry) Slice() Addr {
	if !e.IsArraySlice() {
		throw("task entry: not an array slice")
	}
	return Addr(e >> 1)
}

// A taskQueue is the bounded per-worker work queue. The owner pushes
// and pops at the bottom without interference; idle workers steal from
// the top. This is the usual lock-free owner/thief split: the only
// contended transition is the race for the last element, resolved by a
// compare-and-swap on top.
type taskQueue struct {
	bottom atomic.Int64
	top    atomic.Int64
	buf    []atomic.Uint64 // len is a power of two
	mask   int64
}

func newTaskQueue(capacity uintptr) *taskQueue {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		throw("task queue: capacity must be a power of two")
	}
	return &taskQueue{
		buf:  make([]atomic.Uint64, capacity),
		mask: int64(capacity) - 1,
	}
}

// maxElems returns the queue capacity.
func (q *taskQueue) maxElems() uintptr { return uintptr(len(q.buf)) }

// size returns the owner's view of the element count.
func (q *taskQueue) size() uintptr {
	b := q.bottom.Load()
	t := q.top.Load()
	if b <= t {
		return 0
	}
	return uintptr(b - t)
}

// pushLocal appends e at the bottom. It returns false when the queue
// is full; the caller then relocates a batch to the global mark stack
// and retries. Owner only.
func (q *taskQueue) pushLocal(e TaskEntry) bool {
	if e.IsNull() {
		throw("task queue: push of null entry")
	}
	b := q.bottom.Load()
	t := q.top.Load()
	if b-t >= int64(len(q.buf)) {
		return false
	}
	q.buf[b&q.mask].Store(uint64(e))
	q.bottom.Store(b + 1) // store-release, publishes the slot to thieves
	return true
}

// popLocal removes the most recently pushed entry. Owner only.
func (q *taskQueue) popLocal() (TaskEntry, bool) {
	b := q.bottom.Load() - 1
	q.bottom.Store(b)
	t := q.top.Load()
	if t > b {
		// Queue was already empty; undo the reservation.
		q.bottom.Store(t)
		return 0, false
	}
	e := TaskEntry(q.buf[b&q.mask].Load())
	if t == b {
		// Last element: race against thieves for it.
		if !q.top.CompareAndSwap(t, t+1) {
			// A thief got there first.
			e = 0
		}
		q.bottom.Store(t + 1)
		if e.IsNull() {
			return 0, false
		}
	}
	return e, true
}

// popSteal removes the oldest entry on behalf of another worker. Any
// worker may call it.
func (q *taskQueue) popSteal() (TaskEntry, bool) {
	for {
		t := q.top.Load()
		b := q.bottom.Load()
		if t >= b {
			return 0, false
		}
		e := TaskEntry(q.buf[t&q.mask].Load())
		if q.top.CompareAndSwap(t, t+1) {
			return e, true
		}
		// Lost the race against the owner or another thief; retry
		// with a fresh view.
	}
}

// setEmpty discards all entries. Only legal while no other worker
// touches the queue (overflow restart, cycle reset).
func (q *taskQueue) setEmpty() {
	t := q.top.Load()
	q.bottom.Store(t)
}

// iterate visits each queued entry. Only legal at a safepoint.
func (q *taskQueue) iterate(f func(TaskEntry)) {
	t := q.top.Load()
	b := q.bottom.Load()
	for i := t; i < b; i++ {
		f(TaskEntry(q.buf[i&q.mask].Load()))
	}
}

// A taskQueueSet groups the per-worker queues for stealing.
type taskQueueSet struct {
	queues []*taskQueue
}

func newTaskQueueSet(n uint32, capacity uintptr) *taskQueueSet {
	s := &taskQueueSet{queues: make([]*taskQueue, n)}
	for i := range s.queues {
		s.queues[i] = newTaskQueue(capacity)
	}
	return s
}

func (s *taskQueueSet) queue(i uint32) *taskQueue { return s.queues[i] }

// steal tries to take one entry from some queue other than worker
// queueID's own, probing victims from a random starting point.
func (s *taskQueueSet) steal(queueID uint32, seed *uint64) (TaskEntry, bool) {
	n := uint32(len(s.queues))
	if n < 2 {
		return 0, false
	}
	// Two probing rounds over the other queues; if every victim
	// observes empty twice we give up and let the caller enter the
	// termination protocol.
	for round := 0; round < 2; round++ {
		start := uint32(nextRand(seed)) % n
		for i := uint32(0); i < n; i++ {
			victim := (start + i) % n
			if victim == queueID {
				continue
			}
			if e, ok := s.queues[victim].popSteal(); ok {
				return e, true
			}
		}
	}
	return 0, false
}

// nextRand is a xorshift step; good enough to spread victim choices.
func nextRand(seed *uint64) uint64 {
	x := *seed
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	*seed = x
	return x
}

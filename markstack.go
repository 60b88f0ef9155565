// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"sync"
	"sync/atomic"
)

// The global mark stack absorbs spill from the per-worker queues. It
// keeps entries in fixed-size chunks carved out of one backing array:
// a lock-free bump allocator hands out fresh chunks, and two small
// mutex-protected linked lists track full and free chunks. The locks
// are held only for the O(1) splice.

// entriesPerChunk is the payload of one chunk. The whole chunk adds
// the next link on top.
const entriesPerChunk = 1024

type taskEntryChunk struct {
	next *taskEntryChunk
	data [entriesPerChunk]TaskEntry
}

// markStack is the process-wide chunked overflow stack.
type markStack struct {
	maxChunkCapacity uintptr // max chunks the stack may grow to
	chunkCapacity    uintptr // current backing capacity in chunks
	base             []taskEntryChunk

	// hwm is the bump allocator over base. A dirty read of hwm before
	// the add keeps it from running far past chunkCapacity: it stays
	// below chunkCapacity + #workers, so it cannot wrap.
	hwm atomic.Uintptr

	chunkListLock     sync.Mutex
	chunkList         *taskEntryChunk // full chunks
	chunksInChunkList atomic.Uintptr

	freeListLock sync.Mutex
	freeList     *taskEntryChunk
}

// markStackAllocGranularity stands in for the VM allocation
// granularity the backing store is carved with.
const markStackAllocGranularity = 4096 / 8 // words per page

// capacityAlignment returns the entry-count granularity initial and
// maximum capacities are rounded to: whole chunks of payload, at
// least a page's worth.
func (s *markStack) capacityAlignment() uintptr {
	return lcm(markStackAllocGranularity, entriesPerChunk)
}

func lcm(a, b uintptr) uintptr {
	return a / gcd(a, b) * b
}

func gcd(a, b uintptr) uintptr {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) / align * align
}

// initialize sizes the stack. Both capacities are in entries and are
// rounded up to the capacity alignment before conversion to chunks.
func (s *markStack) initialize(initialCapacity, maxCapacity uintptr) bool {
	if s.maxChunkCapacity != 0 {
		throw("mark stack already initialized")
	}

	s.maxChunkCapacity = alignUp(maxCapacity, s.capacityAlignment()) / entriesPerChunk
	initialChunkCapacity := alignUp(initialCapacity, s.capacityAlignment()) / entriesPerChunk

	if initialChunkCapacity > s.maxChunkCapacity {
		print("gcmark: maximum chunk capacity ", s.maxChunkCapacity, " smaller than initial capacity ", initialChunkCapacity, "\n")
		throw("mark stack initial capacity exceeds maximum")
	}

	return s.resize(initialChunkCapacity)
}

// resize replaces the backing array. Only legal while the stack is
// empty.
func (s *markStack) resize(newCapacity uintptr) bool {
	if !s.isEmpty() {
		throw("mark stack resize while not empty")
	}
	if newCapacity > s.maxChunkCapacity {
		throw("mark stack resize beyond maximum")
	}

	s.base = make([]taskEntryChunk, newCapacity)
	s.chunkCapacity = newCapacity
	s.setEmpty()
	return true
}

// expand doubles the capacity, bounded by the maximum. Only legal
// while the stack is empty.
func (s *markStack) expand() {
	if s.chunkCapacity == s.maxChunkCapacity {
		return
	}
	newCapacity := s.chunkCapacity * 2
	if newCapacity > s.maxChunkCapacity {
		newCapacity = s.maxChunkCapacity
	}
	s.resize(newCapacity)
}

func (s *markStack) addChunkToChunkList(elem *taskEntryChunk) {
	s.chunkListLock.Lock()
	elem.next = s.chunkList
	s.chunkList = elem
	s.chunksInChunkList.Add(1)
	s.chunkListLock.Unlock()
}

func (s *markStack) addChunkToFreeList(elem *taskEntryChunk) {
	s.freeListLock.Lock()
	elem.next = s.freeList
	s.freeList = elem
	s.freeListLock.Unlock()
}

func (s *markStack) removeChunkFromChunkList() *taskEntryChunk {
	s.chunkListLock.Lock()
	result := s.chunkList
	if result != nil {
		s.chunkList = result.next
		s.chunksInChunkList.Add(^uintptr(0))
	}
	s.chunkListLock.Unlock()
	return result
}

func (s *markStack) removeChunkFromFreeList() *taskEntryChunk {
	s.freeListLock.Lock()
	result := s.freeList
	if result != nil {
		s.freeList = result.next
	}
	s.freeListLock.Unlock()
	return result
}

// allocateNewChunk carves a chunk out of the backing array.
func (s *markStack) allocateNewChunk() *taskEntryChunk {
	// The dirty read limits hwm overshoot; see the field comment.
	if s.hwm.Load() >= s.chunkCapacity {
		return nil
	}
	curIdx := s.hwm.Add(1) - 1
	if curIdx >= s.chunkCapacity {
		return nil
	}
	result := &s.base[curIdx]
	result.next = nil
	return result
}

// parPushChunk copies one full batch of entries into a chunk and links
// it onto the full list. It returns false when no chunk could be
// obtained from either the free list or the backing array; the caller
// then flags global overflow.
//
// Pushing a chunk happens-before every pop of that chunk. No ordering
// holds between entries of distinct chunks.
func (s *markStack) parPushChunk(batch *[entriesPerChunk]TaskEntry) bool {
	newChunk := s.removeChunkFromFreeList()
	if newChunk == nil {
		newChunk = s.allocateNewChunk()
		if newChunk == nil {
			return false
		}
	}
	newChunk.data = *batch
	s.addChunkToChunkList(newChunk)
	return true
}

// parPopChunk moves one full chunk's entries into batch and recycles
// the chunk. It returns false when the stack is empty.
func (s *markStack) parPopChunk(batch *[entriesPerChunk]TaskEntry) bool {
	cur := s.removeChunkFromChunkList()
	if cur == nil {
		return false
	}
	*batch = cur.data
	s.addChunkToFreeList(cur)
	return true
}

// setEmpty discards all chunks. Only legal while no worker touches the
// stack.
func (s *markStack) setEmpty() {
	s.chunksInChunkList.Store(0)
	s.hwm.Store(0)
	s.chunkList = nil
	s.freeList = nil
}

// size returns the entry count currently on the stack. Racy but
// monotonic enough for the drain heuristics.
func (s *markStack) size() uintptr {
	return s.chunksInChunkList.Load() * entriesPerChunk
}

func (s *markStack) isEmpty() bool {
	return s.chunksInChunkList.Load() == 0
}

// capacity returns the current backing capacity in entries.
func (s *markStack) capacity() uintptr {
	return s.chunkCapacity * entriesPerChunk
}

// iterate visits every entry of every full chunk. Only legal at a
// safepoint.
func (s *markStack) iterate(f func(TaskEntry)) {
	numChunks := uintptr(0)
	for cur := s.chunkList; cur != nil; cur = cur.next {
		numChunks++
		if numChunks > s.chunksInChunkList.Load() {
			throw("mark stack: more chunks on the list than accounted")
		}
		for i := 0; i < entriesPerChunk; i++ {
			if cur.data[i].IsNull() {
				break
			}
			f(cur.data[i])
		}
	}
}

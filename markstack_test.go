// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark_test

import (
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/mahaoran1997/Semeru-dev"
)

func fillBatch(start int, n int) [EntriesPerChunk]TaskEntry {
	var batch [EntriesPerChunk]TaskEntry
	for i := 0; i < n; i++ {
		batch[i] = EntryFromObj(Addr(start + i))
	}
	return batch
}

func TestMarkStackPushPopRoundTrip(t *testing.T) {
	s := NewMarkStack(4*EntriesPerChunk, 4*EntriesPerChunk)

	in := fillBatch(100, EntriesPerChunk)
	if !s.PushChunk(&in) {
		t.Fatalf("push into a fresh stack failed")
	}
	if s.IsEmpty() || s.Size() != EntriesPerChunk {
		t.Fatalf("size = %d after one push, want %d", s.Size(), EntriesPerChunk)
	}

	var out [EntriesPerChunk]TaskEntry
	if !s.PopChunk(&out) {
		t.Fatalf("pop from a non-empty stack failed")
	}
	if out != in {
		t.Errorf("popped batch differs from the pushed one")
	}
	if !s.IsEmpty() {
		t.Errorf("stack not empty after popping the only chunk")
	}
	if s.PopChunk(&out) {
		t.Errorf("pop from an empty stack succeeded")
	}
}

// A partially filled batch keeps its null padding through the stack.
func TestMarkStackPartialBatchPadding(t *testing.T) {
	s := NewMarkStack(EntriesPerChunk, EntriesPerChunk)
	in := fillBatch(7, 10)
	if !s.PushChunk(&in) {
		t.Fatalf("push failed")
	}
	var out [EntriesPerChunk]TaskEntry
	s.PopChunk(&out)
	for i := 10; i < EntriesPerChunk; i++ {
		if !out[i].IsNull() {
			t.Fatalf("slot %d not null in a partial batch", i)
		}
	}
}

func TestMarkStackExhaustion(t *testing.T) {
	const chunks = 2
	s := NewMarkStack(chunks*EntriesPerChunk, chunks*EntriesPerChunk)

	for i := 0; i < chunks; i++ {
		b := fillBatch(i*EntriesPerChunk+1, EntriesPerChunk)
		if !s.PushChunk(&b) {
			t.Fatalf("push %d failed below capacity", i)
		}
	}
	b := fillBatch(1, EntriesPerChunk)
	if s.PushChunk(&b) {
		t.Fatalf("push beyond capacity succeeded")
	}

	// Popping recycles a chunk and makes room again.
	var out [EntriesPerChunk]TaskEntry
	if !s.PopChunk(&out) {
		t.Fatalf("pop failed")
	}
	if !s.PushChunk(&b) {
		t.Errorf("push after recycling a chunk failed")
	}
}

func TestMarkStackExpandDoubles(t *testing.T) {
	s := NewMarkStack(EntriesPerChunk, 8*EntriesPerChunk)
	if got := s.Capacity(); got != EntriesPerChunk {
		t.Fatalf("initial capacity = %d entries, want %d", got, EntriesPerChunk)
	}
	s.Expand()
	if got := s.Capacity(); got != 2*EntriesPerChunk {
		t.Errorf("capacity after expand = %d, want %d", got, 2*EntriesPerChunk)
	}
	s.Expand()
	s.Expand()
	if got := s.Capacity(); got != 8*EntriesPerChunk {
		t.Errorf("capacity = %d, want the maximum %d", got, 8*EntriesPerChunk)
	}
	// Expanding at the maximum is a no-op.
	s.Expand()
	if got := s.Capacity(); got != 8*EntriesPerChunk {
		t.Errorf("capacity grew past the maximum: %d", got)
	}
}

// Total pops equal total pushes at quiescence, with chunks flowing
// through concurrent pushers and poppers.
func TestMarkStackConcurrent(t *testing.T) {
	const workers = 4
	const chunksPerWorker = 64

	s := NewMarkStack(16*EntriesPerChunk, 16*EntriesPerChunk)

	var pushed, popped atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2 * workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < chunksPerWorker; i++ {
				b := fillBatch(w*chunksPerWorker+i*EntriesPerChunk+1, EntriesPerChunk)
				for !s.PushChunk(&b) {
					// Stack momentarily full; let the poppers make
					// room.
				}
				pushed.Add(1)
			}
		}(w)
		go func() {
			defer wg.Done()
			var out [EntriesPerChunk]TaskEntry
			for popped.Load() < workers*chunksPerWorker {
				if s.PopChunk(&out) {
					popped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if pushed.Load() != popped.Load() {
		t.Errorf("pushed %d chunks, popped %d", pushed.Load(), popped.Load())
	}
	if !s.IsEmpty() {
		t.Errorf("stack not empty at quiescence")
	}
}

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

func TestTaskEntryRoundTrip(t *testing.T) {
	obj := EntryFromObj(0x1234)
	if !obj.IsObj() || obj.IsArraySlice() || obj.IsNull() {
		t.Fatalf("object entry misclassified")
	}
	if obj.Obj() != 0x1234 {
		t.Errorf("Obj() = %#x, want 0x1234", obj.Obj())
	}

	slice := EntryFromSlice(0x1234)
	if !slice.IsArraySlice() || slice.IsNull() {
		t.Fatalf("slice entry misclassified")
	}
	if slice.Slice() != 0x1234 {
		t.Errorf("Slice() = %#x, want 0x1234", slice.Slice())
	}
	if obj == slice {
		t.Errorf("object and slice entries for the same address collide")
	}

	var null TaskEntry
	if !null.IsNull() {
		t.Errorf("zero entry is not null")
	}
}

func TestTaskQueueLocalLIFO(t *testing.T) {
	q := NewTaskQueue(16)
	for i := 1; i <= 5; i++ {
		if !q.PushLocal(EntryFromObj(Addr(i))) {
			t.Fatalf("push %d failed", i)
		}
	}
	if q.Size() != 5 {
		t.Fatalf("size = %d, want 5", q.Size())
	}
	// The owner pops most recent first.
	for i := 5; i >= 1; i-- {
		e, ok := q.PopLocal()
		if !ok || e.Obj() != Addr(i) {
			t.Fatalf("pop got (%v, %v), want object %d", e, ok, i)
		}
	}
	if _, ok := q.PopLocal(); ok {
		t.Errorf("pop from empty queue succeeded")
	}
}

func TestTaskQueueStealFIFO(t *testing.T) {
	q := NewTaskQueue(16)
	for i := 1; i <= 5; i++ {
		q.PushLocal(EntryFromObj(Addr(i)))
	}
	// Thieves take the oldest entries.
	for i := 1; i <= 5; i++ {
		e, ok := q.PopSteal()
		if !ok || e.Obj() != Addr(i) {
			t.Fatalf("steal got (%v, %v), want object %d", e, ok, i)
		}
	}
	if _, ok := q.PopSteal(); ok {
		t.Errorf("steal from empty queue succeeded")
	}
}

func TestTaskQueueOverflowReported(t *testing.T) {
	q := NewTaskQueue(8)
	for i := 1; i <= 8; i++ {
		if !q.PushLocal(EntryFromObj(Addr(i))) {
			t.Fatalf("push %d failed below capacity", i)
		}
	}
	if q.PushLocal(EntryFromObj(9)) {
		t.Errorf("push into a full queue succeeded")
	}
	// After making room, pushing works again.
	q.PopLocal()
	if !q.PushLocal(EntryFromObj(9)) {
		t.Errorf("push after pop failed")
	}
}

// Concurrent owner and thieves: every pushed entry is consumed exactly
// once, split between local pops and steals.
func TestTaskQueueConcurrentSteal(t *testing.T) {
	const total = 1 << 16
	const thieves = 4

	q := NewTaskQueue(1 << 10)
	var consumed atomic.Int64
	seen := make([]atomic.Int32, total+1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(thieves)
	for i := 0; i < thieves; i++ {
		go func() {
			defer wg.Done()
			for {
				if e, ok := q.PopSteal(); ok {
					seen[e.Obj()].Add(1)
					consumed.Add(1)
					continue
				}
				select {
				case <-done:
					// Drain whatever the owner left behind.
					for {
						e, ok := q.PopSteal()
						if !ok {
							return
						}
						seen[e.Obj()].Add(1)
						consumed.Add(1)
					}
				default:
				}
			}
		}()
	}

	for i := 1; i <= total; i++ {
		for !q.PushLocal(EntryFromObj(Addr(i))) {
			// Full; consume one ourselves to make room.
			if e, ok := q.PopLocal(); ok {
				seen[e.Obj()].Add(1)
				consumed.Add(1)
			}
		}
		// Interleave some owner pops.
		if i%3 == 0 {
			if e, ok := q.PopLocal(); ok {
				seen[e.Obj()].Add(1)
				consumed.Add(1)
			}
		}
	}
	close(done)
	wg.Wait()

	// Owner drains the rest.
	for {
		e, ok := q.PopLocal()
		if !ok {
			break
		}
		seen[e.Obj()].Add(1)
		consumed.Add(1)
	}

	if consumed.Load() != total {
		t.Fatalf("consumed %d entries, want %d", consumed.Load(), total)
	}
	for i := 1; i <= total; i++ {
		if n := seen[i].Load(); n != 1 {
			t.Fatalf("entry %d consumed %d times", i, n)
		}
	}
}

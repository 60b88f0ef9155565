// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// A suspendibleThreadSet lets concurrent workers yield cooperatively
// to a safepoint. Workers join the set while doing marking work and
// must leave it before blocking on a barrier or condition; a
// synchronizing thread stops the world by waiting until every joined
// worker has parked in yield.
type suspendibleThreadSet struct {
	mu   sync.Mutex
	cond *sync.Cond

	nthreads        int
	nthreadsStopped int
	suspendAll      atomic.Bool
}

func newSuspendibleThreadSet() *suspendibleThreadSet {
	s := &suspendibleThreadSet{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// join enters the set, waiting out any suspension in progress.
func (s *suspendibleThreadSet) join() {
	s.mu.Lock()
	for s.suspendAll.Load() {
		s.cond.Wait()
	}
	s.nthreads++
	s.mu.Unlock()
}

// leave exits the set.
func (s *suspendibleThreadSet) leave() {
	s.mu.Lock()
	if s.nthreads == 0 {
		throw("suspendible thread set: leave without join")
	}
	s.nthreads--
	// A synchronizer may be waiting for the joined count to settle.
	s.cond.Broadcast()
	s.mu.Unlock()
}

// shouldYield reports whether a suspension has been requested.
func (s *suspendibleThreadSet) shouldYield() bool {
	return s.suspendAll.Load()
}

// yield parks the caller for the duration of the suspension.
func (s *suspendibleThreadSet) yield() {
	s.mu.Lock()
	if s.suspendAll.Load() {
		s.nthreadsStopped++
		if s.nthreadsStopped == s.nthreads {
			s.cond.Broadcast()
		}
		for s.suspendAll.Load() {
			s.cond.Wait()
		}
		s.nthreadsStopped--
	}
	s.mu.Unlock()
}

// synchronize requests suspension and waits until every joined worker
// has stopped in yield.
func (s *suspendibleThreadSet) synchronize() {
	s.mu.Lock()
	s.suspendAll.Store(true)
	for s.nthreadsStopped < s.nthreads {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// desynchronize releases a suspension.
func (s *suspendibleThreadSet) desynchronize() {
	s.mu.Lock()
	if !s.suspendAll.Load() {
		throw("suspendible thread set: desynchronize without synchronize")
	}
	s.suspendAll.Store(false)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// A barrierSync parks workers until all of them have entered, with an
// abort path that releases waiters with a failure result. It is
// cyclic: the first entry after a completed round resets the count.
type barrierSync struct {
	mu   sync.Mutex
	cond *sync.Cond

	nWorkers    int
	nCompleted  int
	shouldReset bool
	aborted     bool
}

func newBarrierSync() *barrierSync {
	b := &barrierSync{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrierSync) setNWorkers(n int) {
	b.mu.Lock()
	b.nWorkers = n
	b.nCompleted = 0
	b.shouldReset = false
	b.aborted = false
	b.mu.Unlock()
}

// enter blocks until all workers have entered the barrier. It reports
// false when the barrier was aborted instead.
func (b *barrierSync) enter() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.shouldReset {
		// First worker of a new round; reset the count left over from
		// the previous one.
		b.nCompleted = 0
		b.shouldReset = false
	}
	b.nCompleted++
	if b.nCompleted == b.nWorkers {
		// Cannot zero the count here: other workers still compare it
		// against nWorkers on wakeup. Raise the reset flag instead
		// and let the next round's first worker clear it.
		b.shouldReset = true
		b.cond.Broadcast()
	} else {
		for b.nCompleted != b.nWorkers && !b.aborted {
			b.cond.Wait()
		}
	}
	return !b.aborted
}

// abort releases all waiters with a failure indication.
func (b *barrierSync) abort() {
	b.mu.Lock()
	b.aborted = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// A terminatorTerminator lets a waiting worker decide to exit the
// termination protocol, typically because work appeared on the global
// stack or the task wants to abort.
type terminatorTerminator interface {
	shouldExitTermination() bool
}

// A taskTerminator implements the "offer termination, wake on work"
// protocol across the active workers. A worker with nothing to do
// offers termination; if every worker is offering at once the phase is
// complete, otherwise a worker that spots work withdraws its offer and
// goes back to stealing.
type taskTerminator struct {
	nThreads           int32
	offeredTermination atomic.Int32
	queues             *taskQueueSet
}

func newTaskTerminator(n int32, queues *taskQueueSet) *taskTerminator {
	return &taskTerminator{nThreads: n, queues: queues}
}

// resetForReuse prepares the terminator for the next phase. A completed
// round leaves every worker's offer counted; that count is cleared here.
func (t *taskTerminator) resetForReuse(n int32) {
	if offered := t.offeredTermination.Load(); offered != 0 {
		if offered != t.nThreads {
			throw("terminator: reset while workers are offering termination")
		}
		t.offeredTermination.Store(0)
	}
	t.nThreads = n
}

// peekInQueueSet reports whether any worker queue still holds entries.
func (t *taskTerminator) peekInQueueSet() bool {
	for _, q := range t.queues.queues {
		if q.size() > 0 {
			return true
		}
	}
	return false
}

// offerTermination parks the calling worker in the protocol. It
// returns true when all workers terminated together, false when the
// worker should resume looking for work (or abort, which the caller
// distinguishes through its own flags).
func (t *taskTerminator) offerTermination(tt terminatorTerminator) bool {
	t.offeredTermination.Add(1)

	for i := 0; ; i++ {
		if t.offeredTermination.Load() == t.nThreads {
			return true
		}

		if t.peekInQueueSet() || (tt != nil && tt.shouldExitTermination()) {
			if t.offeredTermination.Add(-1) >= t.nThreads {
				throw("terminator: invariant violation")
			}
			return false
		}

		if i < 20 {
			runtime.Gosched()
		} else {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

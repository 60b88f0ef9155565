// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

// The write barrier side of the snapshot-at-the-beginning discipline
// lives in the host: mutator threads log pre-write reference values
// into per-thread SATB buffers. The marker only consumes completed
// buffers, through the closures below, and owes the host the remark
// invariant that no completed buffer survives the pause.

// A SATBBufferClosure processes one completed buffer of recorded
// references.
type SATBBufferClosure interface {
	DoBuffer(buffer []Addr)
}

// A SATBQueueSet is the host's collection of completed SATB buffers.
type SATBQueueSet interface {
	// ApplyClosureToCompletedBuffer claims one completed buffer,
	// applies cl to it and reports whether a buffer was claimed.
	ApplyClosureToCompletedBuffer(cl SATBBufferClosure) bool

	// CompletedBuffersNum returns how many completed buffers await
	// processing.
	CompletedBuffersNum() int

	// ProcessCompletedBuffers reports whether enough completed
	// buffers queued up that the marker should go process them.
	ProcessCompletedBuffers() bool

	// AbandonPartialMarking discards all completed buffers; used when
	// a cycle is aborted.
	AbandonPartialMarking()
}

// satbBufferClosure marks every reference recorded in a buffer. It is
// more lenient than the field closure: buffer entries come from
// anywhere in the heap, so there is no current-region filtering.
type satbBufferClosure struct {
	task *cmTask
}

func (cl *satbBufferClosure) DoBuffer(buffer []Addr) {
	for _, entry := range buffer {
		cl.doEntry(entry)
	}
}

func (cl *satbBufferClosure) doEntry(entry Addr) {
	t := cl.task
	t.refsReached++
	if entry == nilAddr {
		return
	}
	t.makeReferenceAlive(entry)
}

// A MutatorThread is one thread the host hands to the remark walk: its
// stack roots and its thread-local SATB queue.
type MutatorThread interface {
	// IterateStackRoots calls f for every reference reachable from
	// the thread's stack and the code it is executing.
	IterateStackRoots(f func(ref Addr))

	// DrainSATBQueue empties the thread's local SATB queue into cl.
	// For the VM thread this drains the shared queue.
	DrainSATBQueue(cl SATBBufferClosure)
}

// A ThreadClosure is applied to each claimed thread during remark.
type ThreadClosure interface {
	DoThread(t MutatorThread)
}

// A ThreadVisitor walks the mutator threads at a safepoint, handing
// each thread to the closure exactly once across all workers.
type ThreadVisitor interface {
	VisitThreads(tc ThreadClosure)
}

// remarkThreadsClosure discovers a thread's stack roots and then
// drains its SATB queue, on behalf of one remark worker.
type remarkThreadsClosure struct {
	task *cmTask
}

func (cl *remarkThreadsClosure) DoThread(mt MutatorThread) {
	t := cl.task
	mt.IterateStackRoots(func(ref Addr) {
		t.refsReached++
		if ref == nilAddr || !t.heap.IsInReserved(ref) {
			return
		}
		t.makeReferenceAlive(ref)
	})
	mt.DrainSATBQueue(&satbBufferClosure{task: t})
}

// A ReferenceProcessor is the host's weak/soft/phantom reference
// machinery. The marker supplies it the liveness predicate, a
// keep-alive closure that marks and occasionally drains, and a
// complete-GC closure that drains to quiescence.
type ReferenceProcessor interface {
	ProcessDiscoveredReferences(isAlive func(Addr) bool, keepAlive func(Addr), completeGC func())

	// PrecleanDiscoveredReferences walks the discovered lists ahead
	// of the remark pause, dropping the entries whose referents are
	// already known live. yield is polled between batches.
	PrecleanDiscoveredReferences(isAlive func(Addr) bool, keepAlive func(Addr), completeGC func(), yield func() bool)
}

// keepAliveAndDrainClosure preserves (marks) and traces referent
// objects through the cmTask of a worker, so reference processing
// rides the tasks' local queues instead of hammering the global stack
// this late in the cycle.
type keepAliveAndDrainClosure struct {
	marker          *Marker
	task            *cmTask
	refCounterLimit int
	refCounter      int
	isSerial        bool
}

func newKeepAliveAndDrainClosure(m *Marker, t *cmTask, isSerial bool) *keepAliveAndDrainClosure {
	if isSerial && t.workerID != 0 {
		throw("keep alive closure: only task 0 runs serial code")
	}
	limit := m.cfg.RefProcDrainInterval
	return &keepAliveAndDrainClosure{
		marker:          m,
		task:            t,
		refCounterLimit: limit,
		refCounter:      limit,
		isSerial:        isSerial,
	}
}

func (cl *keepAliveAndDrainClosure) doOop(ref Addr) {
	m := cl.marker
	if m.hasOverflown() {
		return
	}
	if !cl.task.dealWithReference(ref) {
		// Nothing was added to bitmap or queues; no point draining.
		return
	}
	cl.refCounter--

	if cl.refCounter == 0 {
		// Enough referents pushed; process the queued entries before
		// going on. The step is re-run until it stops aborting (time
		// target) or the stack overflows.
		for {
			cl.task.doMarkingStep(m.cfg.ConcMarkStepMillis, false /* doTermination */, cl.isSerial)
			if !cl.task.hasAborted() || m.hasOverflown() {
				break
			}
		}
		cl.refCounter = cl.refCounterLimit
	}
}

// drainMarkingStackClosure drains the marking structures of whatever
// the keep-alive closure queued, with an effectively unbounded time
// target.
type drainMarkingStackClosure struct {
	marker   *Marker
	task     *cmTask
	isSerial bool
}

func newDrainMarkingStackClosure(m *Marker, t *cmTask, isSerial bool) *drainMarkingStackClosure {
	if isSerial && t.workerID != 0 {
		throw("drain closure: only task 0 runs serial code")
	}
	return &drainMarkingStackClosure{marker: m, task: t, isSerial: isSerial}
}

func (cl *drainMarkingStackClosure) doVoid() {
	for {
		cl.task.doMarkingStep(1e9 /* something very large */, true /* doTermination */, cl.isSerial)
		if !cl.task.hasAborted() || cl.marker.hasOverflown() {
			break
		}
	}
}

// WeakRefsWork runs reference processing at the end of marking,
// serially through task 0. An overflow of the mark stack here cannot
// be recovered from: the liveness the processor already acted on would
// be stale after a restart.
func (m *Marker) WeakRefsWork(rp ReferenceProcessor) {
	if !m.globalMarkStack.isEmpty() {
		throw("marker: mark stack should be empty before reference processing")
	}

	keepAlive := newKeepAliveAndDrainClosure(m, m.task(0), true /* isSerial */)
	drain := newDrainMarkingStackClosure(m, m.task(0), true /* isSerial */)

	m.setConcurrency(1)

	rp.ProcessDiscoveredReferences(m.IsLive, func(ref Addr) { keepAlive.doOop(ref) }, drain.doVoid)

	// The closures set the overflow flag if they overflowed the
	// global marking stack.
	if m.hasOverflown() {
		print("gcmark: overflow during reference processing, cannot continue; ",
			"increase the maximum mark stack size and restart\n")
		throw("marker: overflow during reference processing")
	}

	if !m.globalMarkStack.isEmpty() {
		throw("marker: marking should have completed")
	}
}

// Preclean walks the discovered references between concurrent mark
// and remark, single threaded, so the pause has less to do. Gated on
// the configuration.
func (m *Marker) Preclean(rp ReferenceProcessor) {
	if !m.cfg.UseReferencePrecleaning {
		throw("marker: precleaning must be enabled")
	}

	m.sts.join()
	defer m.sts.leave()

	keepAlive := newKeepAliveAndDrainClosure(m, m.task(0), true /* isSerial */)
	drain := newDrainMarkingStackClosure(m, m.task(0), true /* isSerial */)

	m.setConcurrencyAndPhase(1, true /* concurrent */)

	rp.PrecleanDiscoveredReferences(m.IsLive, func(ref Addr) { keepAlive.doOop(ref) }, drain.doVoid,
		func() bool {
			m.doYieldCheck()
			return m.hasAborted()
		})
}

// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"sync/atomic"
	"time"
)

// Work-based clock periods. The driver checks its abort conditions
// whenever this much work has been done since the previous check.
const (
	wordsScannedPeriod = 12 * 1024
	refsReachedPeriod  = 1024
)

// drainStackTargetSize is the local queue size a partial drain aims
// for, leaving some entries available for stealing.
const drainStackTargetSize = 64

// A cmTask is the per-worker marking state: the region currently being
// scanned, the bound bitmaps, the work-based clock counters and the
// local work queue. One cmTask exists per worker id and is reset at
// cycle start; it is only ever driven by one worker at a time.
type cmTask struct {
	workerID uint32
	marker   *Marker
	heap     *Heap

	taskQueue  *taskQueue
	statsCache *regionMarkStatsCache

	// Region scan bindings. When currRegion is nil the bitmaps and
	// regionLimit are nil/0 too; when a region is held, aliveBitmap
	// is that region's alive bitmap.
	currRegion  *Region
	aliveBitmap *MarkBitmap
	destBitmap  *MarkBitmap
	regionLimit Addr

	// scanRegion is the region of the entry currently being scanned.
	// Discovery filters referents against it: references leaving it
	// are a collaborator's responsibility. It tracks currRegion while
	// draining a region's target queue, but follows the entry during
	// global-stack drains and steals, where entries that originated
	// in other regions pass through this task.
	scanRegion *Region

	// oopClosureBound mirrors the closure binding discipline: field
	// dispatch is only legal inside a marking step.
	oopClosureBound bool

	calls        uint32
	timeTargetMs float64
	startTime    time.Time
	phaseStart   time.Time

	wordsScanned          uintptr
	wordsScannedLimit     uintptr
	realWordsScannedLimit uintptr

	refsReached          uintptr
	refsReachedLimit     uintptr
	realRefsReachedLimit uintptr

	hasAbortedFlag      atomic.Bool
	hasTimedOut         bool
	drainingSATBBuffers bool

	stealSeed uint64

	elapsedTimeMs          float64
	terminationTimeMs      float64
	terminationStartTimeMs float64

	stepTimesMs         numberSeq
	markingStepDiffsMs  numberSeq
}

func newCMTask(workerID uint32, m *Marker, queue *taskQueue, stats []regionMarkStats) *cmTask {
	t := &cmTask{
		workerID:   workerID,
		marker:     m,
		heap:       m.heap,
		taskQueue:  queue,
		statsCache: newRegionMarkStatsCache(stats, regionMarkStatsCacheSize),
		stealSeed:  uint64(workerID)*0x9e3779b97f4a7c15 + 1,
	}
	t.markingStepDiffsMs.add(0.5)
	return t
}

func (t *cmTask) hasAborted() bool  { return t.hasAbortedFlag.Load() }
func (t *cmTask) setHasAborted()    { t.hasAbortedFlag.Store(true) }
func (t *cmTask) clearHasAborted()  { t.hasAbortedFlag.Store(false) }

// setupForRegion binds the task to a freshly claimed region.
func (t *cmTask) setupForRegion(r *Region) {
	if r == nil {
		throw("cm task: claimRegion should have filtered out nil regions")
	}
	t.currRegion = r
	t.aliveBitmap = r.aliveBitmap
	t.destBitmap = r.destBitmap
	t.regionLimit = r.ntams
}

func (t *cmTask) giveupCurrentRegion() {
	if t.currRegion == nil {
		throw("cm task: giving up region without holding one")
	}
	t.clearRegionFields()
}

func (t *cmTask) clearRegionFields() {
	t.currRegion = nil
	t.aliveBitmap = nil
	t.destBitmap = nil
	t.regionLimit = nilAddr
}

// reset prepares the task for a new cycle.
func (t *cmTask) reset() {
	t.clearRegionFields()

	t.calls = 0
	t.elapsedTimeMs = 0
	t.terminationTimeMs = 0
	t.terminationStartTimeMs = 0

	t.statsCache.reset()
}

func (t *cmTask) recordStartTime() {
	t.phaseStart = time.Now()
}

func (t *cmTask) recordEndTime() {
	t.elapsedTimeMs += elapsedMillis(t.phaseStart)
}

// shouldExitTermination lets the terminator wake this task when the
// global stack has work again or the task wants out.
func (t *cmTask) shouldExitTermination() bool {
	if !t.regularClockCall() {
		return true
	}
	return !t.marker.markStackEmpty() || t.hasAborted()
}

func (t *cmTask) reachedLimit() {
	if t.wordsScanned < t.wordsScannedLimit && t.refsReached < t.refsReachedLimit {
		throw("cm task: reachedLimit called below the limits")
	}
	t.abortMarkingIfRegularCheckFail()
}

func (t *cmTask) checkLimits() {
	if t.wordsScanned >= t.wordsScannedLimit || t.refsReached >= t.refsReachedLimit {
		t.reachedLimit()
	}
}

// regularClockCall checks, in order, every condition that should make
// the task abort its marking step. It returns false when the task
// must abort.
func (t *cmTask) regularClockCall() bool {
	if t.hasAborted() {
		return false
	}

	// Recalculate the limits for the next clock call first.
	t.recalculateLimits()

	// (1) A global overflow aborts the step; the overflow protocol
	// runs at the end of the step.
	if t.marker.hasOverflown() {
		return false
	}

	// The remaining checks only apply during concurrent marking; at
	// remark the world is stopped.
	if !t.marker.isConcurrent() {
		return true
	}

	// (2) Marking has been aborted externally.
	if t.marker.hasAborted() {
		return false
	}

	// (3) A safepoint wants us to yield. Abort; the caller yields.
	if t.marker.sts.shouldYield() {
		return false
	}

	// (4) Time quota exceeded.
	elapsed := elapsedMillis(t.startTime)
	if elapsed > t.timeTargetMs {
		t.hasTimedOut = true
		return false
	}

	// (5) Completed SATB buffers are pending and we are not the one
	// draining them; abort so the next step picks them up.
	if sq := t.marker.satbQueues; sq != nil && !t.drainingSATBBuffers && sq.ProcessCompletedBuffers() {
		return false
	}
	return true
}

func (t *cmTask) abortMarkingIfRegularCheckFail() {
	if !t.regularClockCall() {
		t.setHasAborted()
	}
}

func (t *cmTask) recalculateLimits() {
	t.realWordsScannedLimit = t.wordsScanned + wordsScannedPeriod
	t.wordsScannedLimit = t.realWordsScannedLimit

	t.realRefsReachedLimit = t.refsReached + refsReachedPeriod
	t.refsReachedLimit = t.realRefsReachedLimit
}

// decreaseLimits pulls the next clock call three quarters of a period
// closer. Called after infrequent expensive operations so the clock
// fires earlier than the full period would.
func (t *cmTask) decreaseLimits() {
	t.wordsScannedLimit = t.realWordsScannedLimit - 3*wordsScannedPeriod/4
	t.refsReachedLimit = t.realRefsReachedLimit - 3*refsReachedPeriod/4
}

// moveEntriesToGlobalStack relocates up to one chunk's worth of local
// entries to the global mark stack. Unused batch slots stay null so
// the consumer knows where the batch ends.
func (t *cmTask) moveEntriesToGlobalStack() {
	var buffer [entriesPerChunk]TaskEntry

	n := 0
	for n < entriesPerChunk {
		entry, ok := t.taskQueue.popLocal()
		if !ok {
			break
		}
		buffer[n] = entry
		n++
	}

	if n > 0 {
		if !t.marker.markStackPush(&buffer) {
			t.setHasAborted()
		}
	}

	// This operation was quite expensive, so decrease the limits.
	t.decreaseLimits()
}

// getEntriesFromGlobalStack moves one chunk from the global mark stack
// into the local queue, reporting whether a chunk was available.
func (t *cmTask) getEntriesFromGlobalStack() bool {
	var buffer [entriesPerChunk]TaskEntry

	if !t.marker.markStackPop(&buffer) {
		return false
	}

	for i := 0; i < entriesPerChunk; i++ {
		entry := buffer[i]
		if entry.IsNull() {
			break
		}
		t.push(entry)
	}

	// This operation was quite expensive, so decrease the limits.
	t.decreaseLimits()
	return true
}

// push queues an entry for scanning, relocating a batch to the global
// stack if the local queue is full. The retry after a relocation is
// guaranteed to succeed: the move freed at least a chunk's worth of
// slots (or the queue is smaller than a chunk and was fully drained).
func (t *cmTask) push(entry TaskEntry) {
	if debugMarkTask {
		if !entry.IsArraySlice() && !t.heap.IsInReserved(entry.Obj()) {
			throw("cm task: pushing object outside the reserved heap")
		}
		if entry.IsObj() {
			r := t.heap.RegionContaining(entry.Obj())
			if !r.aliveBitmap.IsMarked(entry.Obj()) && !r.objAllocatedSinceMarkStart(entry.Obj()) {
				throw("cm task: pushing unmarked object")
			}
		}
	}
	if !t.taskQueue.pushLocal(entry) {
		t.moveEntriesToGlobalStack()
		if !t.taskQueue.pushLocal(entry) {
			throw("cm task: push failed after moving entries to the global stack")
		}
	}
}

const debugMarkTask = true

// drainLocalQueue pops and scans local entries until the queue reaches
// its target size: a partial drain keeps a few entries around for
// thieves, a total drain empties the queue.
func (t *cmTask) drainLocalQueue(partially bool) {
	if t.hasAborted() {
		return
	}

	var targetSize uintptr
	if partially {
		targetSize = t.taskQueue.maxElems() / 3
		if targetSize > drainStackTargetSize {
			targetSize = drainStackTargetSize
		}
	}

	if t.taskQueue.size() > targetSize {
		entry, ok := t.taskQueue.popLocal()
		for ok {
			t.scanTaskEntry(entry)
			if t.taskQueue.size() <= targetSize || t.hasAborted() {
				ok = false
			} else {
				entry, ok = t.taskQueue.popLocal()
			}
		}
	}
}

// drainGlobalStack moves chunks from the global stack through the
// local queue until the stack reaches its target size (partial) or is
// empty (total).
func (t *cmTask) drainGlobalStack(partially bool) {
	if t.hasAborted() {
		return
	}

	// Local queue first; a total drain expects it empty already.
	if !partially && t.taskQueue.size() != 0 {
		throw("cm task: total global drain with a non-empty local queue")
	}

	if partially {
		// The stack size is updated racily; dropping below the target
		// now and then is harmless.
		targetSize := t.marker.partialMarkStackSizeTarget()
		for !t.hasAborted() && t.marker.markStackSize() > targetSize {
			if t.getEntriesFromGlobalStack() {
				t.drainLocalQueue(partially)
			}
		}
	} else {
		for !t.hasAborted() && t.getEntriesFromGlobalStack() {
			t.drainLocalQueue(partially)
		}
	}
}

// drainSATBBuffers applies the marking closure to all completed SATB
// buffers the host has queued.
func (t *cmTask) drainSATBBuffers() {
	sq := t.marker.satbQueues
	if sq == nil || t.hasAborted() {
		return
	}

	// Tell the regular clock we are the ones draining, so it does not
	// abort us for the very buffers we are working on.
	t.drainingSATBBuffers = true

	cl := &satbBufferClosure{task: t}
	for !t.hasAborted() && sq.ApplyClosureToCompletedBuffer(cl) {
		t.abortMarkingIfRegularCheckFail()
	}

	t.drainingSATBBuffers = false

	if !t.hasAborted() && !t.marker.isConcurrent() && sq.CompletedBuffersNum() != 0 {
		throw("cm task: completed SATB buffers remain at remark")
	}

	// Again an expensive operation; get the clock called earlier.
	t.decreaseLimits()
}

func (t *cmTask) clearMarkStatsCache(regionIdx uint32) {
	t.statsCache.resetRegion(regionIdx)
}

func (t *cmTask) flushMarkStatsCache() (hits, misses uint64) {
	return t.statsCache.evictAll()
}

// updateLiveness credits the object's words to its region, through the
// per-worker cache.
func (t *cmTask) updateLiveness(obj Addr, objSize uintptr) {
	t.statsCache.addLiveWords(t.heap.addrToRegionIndex(obj), objSize)
}

// scanTaskEntry scans one unit of work, visiting the entry's children.
// The scan region follows the entry: a stolen or globally drained
// entry is filtered against its own region, not against whatever
// region this task happens to hold.
func (t *cmTask) scanTaskEntry(entry TaskEntry) {
	var a Addr
	if entry.IsArraySlice() {
		// The slice may point into a humongous continuation; the
		// array header's region is the one the scan belongs to.
		a = t.heap.Model.BlockStart(entry.Slice())
	} else {
		a = entry.Obj()
	}
	prev := t.scanRegion
	t.scanRegion = t.heap.RegionContaining(a)
	t.processGreyTaskEntry(entry, true)
	t.scanRegion = prev
}

// processGreyTaskEntry dispatches on the entry shape: array slices go
// to the slice processor, large reference arrays get sliced up, plain
// objects have their fields iterated. With scan false only the
// bookkeeping runs; that is how primitive arrays are accounted without
// a trip through the queues.
func (t *cmTask) processGreyTaskEntry(entry TaskEntry, scan bool) {
	if debugMarkTask && !scan {
		if !entry.IsObj() || !t.heap.Model.IsTypeArray(entry.Obj()) {
			throw("cm task: skipping scan of a scannable entry")
		}
	}

	if scan {
		if entry.IsArraySlice() {
			t.wordsScanned += t.processSlice(entry.Slice())
		} else {
			obj := entry.Obj()
			if t.shouldBeSliced(obj) {
				t.wordsScanned += t.processObjArray(obj)
			} else {
				t.wordsScanned += t.iterateObject(obj)
			}
		}
	}

	t.checkLimits()
}

// iterateObject applies the field closure to every reference field of
// a plain object and returns the words scanned.
func (t *cmTask) iterateObject(obj Addr) uintptr {
	if !t.oopClosureBound {
		throw("cm task: field iteration without a bound closure")
	}
	model := t.heap.Model
	model.IterateFields(obj, func(ref Addr) {
		t.dealWithReference(ref)
	})
	return model.Size(obj)
}

// dealWithReference is the field closure: it filters the referent and
// feeds discovery. References leaving the current region are skipped;
// the region they land in sees them through its own target object
// queue, maintained by collaborators.
func (t *cmTask) dealWithReference(ref Addr) bool {
	t.refsReached++

	if ref == nilAddr {
		return false
	}
	if t.scanRegion != nil && !t.scanRegion.IsInReserved(ref) {
		return false
	}
	return t.makeReferenceAlive(ref)
}

// markInAliveBitmap marks obj in its region's alive bitmap and, on a
// successful 0->1 flip, credits its size to the region's liveness.
// Objects allocated since the cycle's mark start are implicitly live
// and are not marked.
func (t *cmTask) markInAliveBitmap(obj Addr) bool {
	r := t.heap.RegionContaining(obj)
	if r == nil {
		throw("cm task: marking object outside the reserved heap")
	}
	if r.objAllocatedSinceMarkStart(obj) {
		return false
	}
	// A continuation region's bitmap is never consulted: the whole
	// humongous object is represented by the single bit at the start
	// region's bottom.
	if r.isContinuesHumongous() {
		throw("cm task: marking in a humongous continuation region")
	}
	if t.scanRegion != nil && r != t.scanRegion {
		throw("cm task: marking outside the scanned region")
	}
	if r == t.currRegion && t.aliveBitmap != r.aliveBitmap {
		throw("cm task: not marking in the current alive bitmap")
	}

	if !r.aliveBitmap.ParMark(obj) {
		return false
	}
	t.updateLiveness(obj, t.heap.Model.Size(obj))
	return true
}

// makeReferenceAlive marks obj and queues it for scanning. Primitive
// arrays are accounted immediately instead of travelling through the
// queues: they contain no references and their metadata is built in.
func (t *cmTask) makeReferenceAlive(obj Addr) bool {
	if !t.markInAliveBitmap(obj) {
		return false
	}

	// No extra fence is needed between the mark and the push: the CAS
	// in ParMark orders them.
	if t.heap.Model.IsTypeArray(obj) {
		t.processGreyTaskEntry(EntryFromObj(obj), false)
	} else {
		t.push(EntryFromObj(obj))
	}
	return true
}

// trimTargetObjQueue drains a region's target object queue, feeding
// every root into the field closure. The queued references are roots
// into the current region, so it is the scan region for the drain.
func (t *cmTask) trimTargetObjQueue(q *TargetObjQueue) {
	prev := t.scanRegion
	t.scanRegion = t.currRegion
	for !t.hasAborted() {
		t.trimTargetObjQueueToThreshold(q, 0)
		if q.IsEmpty() || t.hasAborted() {
			break
		}
	}
	t.scanRegion = prev
}

func (t *cmTask) trimTargetObjQueueToThreshold(q *TargetObjQueue, threshold int) {
	// Overflowed roots first.
	for {
		ref, ok := q.popOverflow()
		if !ok {
			break
		}
		t.dealWithReference(ref)
		if t.hasAborted() {
			return
		}
	}
	for {
		ref, ok := q.popLocal(threshold)
		if !ok {
			break
		}
		t.dealWithReference(ref)
		if t.hasAborted() {
			return
		}
	}
}

// doAddr scans the single object at addr with partial drains after it,
// the way a humongous start region is processed. It reports whether
// the task may keep going.
func (t *cmTask) doAddr(addr Addr) bool {
	if !t.currRegion.IsInReserved(addr) {
		throw("cm task: humongous scan outside the current region")
	}
	t.scanTaskEntry(EntryFromObj(addr))
	t.drainLocalQueue(true)
	t.drainGlobalStack(true)
	return !t.hasAborted()
}

/*
	doMarkingStep is the building block of the marking phase. It is
	called in parallel with the same method on other tasks, and
	repeatedly: a step aborts when its time target is reached, when a
	yield or an external abort is requested, when enough completed SATB
	buffers queue up, or when the global mark stack overflows. Only a
	return without the task's hasAborted flag set means the marking
	phase is complete.

	The work sources are, in the order the step consumes them: the
	target object queue of the region claimed from the collection-set
	cursor, the task's local queue, the global mark stack, and finally
	the other tasks' queues via stealing. The work-based clock
	(regularClockCall) is wired into every loop so the step notices its
	abort conditions within a bounded amount of work.

	When doTermination is set the step ends in the termination
	protocol; isSerial skips the synchronization in the termination and
	overflow code for single-threaded callers (reference processing by
	the VM thread). On a global overflow all parallel tasks meet at two
	barrier syncs: after the first everyone has stopped marking, worker
	0 resets the global state, and after the second the phase can be
	restarted.
*/
func (t *cmTask) doMarkingStep(timeTargetMs float64, doTermination, isSerial bool) {
	if timeTargetMs < 1.0 {
		throw("cm task: minimum step granularity is 1ms")
	}
	m := t.marker

	t.startTime = time.Now()

	// Stealing only makes sense together with termination, and never
	// serially.
	doStealing := doTermination && !isSerial

	diffPredictionMs := t.markingStepDiffsMs.avg()
	t.timeTargetMs = timeTargetMs - diffPredictionMs

	// Set up the work-based clock.
	t.wordsScanned = 0
	t.refsReached = 0
	t.recalculateLimits()

	t.clearHasAborted()
	t.hasTimedOut = false
	t.drainingSATBBuffers = false

	t.calls++

	t.oopClosureBound = true

	if m.hasOverflown() {
		// The stack overflowed during a pause and this task restarts
		// after a yield point: abort straight into the overflow
		// protocol at the end of the step.
		t.setHasAborted()
	}

	// Drain whatever SATB buffers are already completed; the regular
	// clock aborts the step when enough new ones queue up.
	t.drainSATBBuffers()
	t.drainLocalQueue(true)
	t.drainGlobalStack(true)

	for {
		if !t.hasAborted() && t.currRegion != nil {
			r := t.currRegion
			if r.isHumongous() {
				if r.Used() == 0 {
					throw("cm task: empty humongous region in collection set")
				}
				// One humongous object covers the whole run of
				// regions; a single bit at the start region's bottom
				// stands for it. Continuation regions are skipped
				// without ever looking at their bitmaps.
				if r.isStartsHumongous() && t.aliveBitmap.IsMarked(r.bottom) {
					t.doAddr(r.bottom)
				}
				// Even if the task aborted while scanning the
				// humongous object the region can be given up.
				t.giveupCurrentRegion()
				t.abortMarkingIfRegularCheckFail()
			} else {
				t.trimTargetObjQueue(r.targetQueue)
				if !t.hasAborted() {
					t.giveupCurrentRegion()
					t.abortMarkingIfRegularCheckFail()
				}
			}
		}

		// The region is done with (or the task aborted); keep the
		// local queue short and the global stack drained a bit.
		t.drainLocalQueue(true)
		t.drainGlobalStack(true)

		// Claim a new region off the collection-set cursor. The
		// cursor can hand back nil while regions are still left (a
		// claimed region turned out empty), hence the outOfRegions
		// check rather than trusting a single nil.
		for !t.hasAborted() && t.currRegion == nil && !m.outOfRegions() {
			if t.regionLimit != nilAddr {
				throw("cm task: region limit set without a region")
			}
			if claimed := m.claimRegion(t.workerID); claimed != nil {
				t.setupForRegion(claimed)
				if t.currRegion != claimed {
					throw("cm task: setup did not install the claimed region")
				}
			}
			// Claiming can spin over a run of empty regions; keep
			// the clock ticking.
			t.abortMarkingIfRegularCheckFail()
		}

		if !t.hasAborted() && t.currRegion == nil && !m.outOfRegions() {
			throw("cm task: no region claimed with regions remaining")
		}

		if t.currRegion == nil || t.hasAborted() {
			break
		}
	}

	if !t.hasAborted() {
		// All regions are claimed. The global stack cannot be checked
		// for emptiness here: other tasks may still be pushing.
		// Reduce the SATB backlog so remark has less to do.
		t.drainSATBBuffers()
	}

	// Everything else is done; drain completely.
	t.drainLocalQueue(false)
	t.drainGlobalStack(false)

	if doStealing && !t.hasAborted() {
		// Nothing left of our own; try the other tasks' queues.
		for !t.hasAborted() {
			entry, ok := m.taskQueues.steal(t.workerID, &t.stealSeed)
			if !ok {
				break
			}
			t.scanTaskEntry(entry)

			// Towards the end now: drain completely after each
			// stolen entry.
			t.drainLocalQueue(false)
			t.drainGlobalStack(false)
		}
	}

	if doTermination && !t.hasAborted() {
		if t.taskQueue.size() != 0 {
			throw("cm task: entering termination with local work")
		}
		t.terminationStartTimeMs = elapsedMillis(t.startTime)

		finished := isSerial || m.terminator.offerTermination(t)
		t.terminationTimeMs += elapsedMillis(t.startTime) - t.terminationStartTimeMs

		if finished {
			// All tasks are done; now the global state is quiescent
			// and checkable.
			if !m.outOfRegions() {
				throw("cm task: terminated with regions unclaimed")
			}
			if !m.markStackEmpty() {
				throw("cm task: terminated with a non-empty global stack")
			}
			if t.taskQueue.size() != 0 {
				throw("cm task: terminated with local work")
			}
			if m.hasOverflown() {
				throw("cm task: terminated with overflow pending")
			}
			if t.hasAborted() {
				throw("cm task: terminated while aborted")
			}
		} else {
			// More work appeared somewhere. Abort the step; the
			// caller restarts it.
			t.setHasAborted()
		}
	}

	t.oopClosureBound = false
	elapsedTimeMs := elapsedMillis(t.startTime)
	t.stepTimesMs.add(elapsedTimeMs)

	if t.hasAborted() {
		if t.hasTimedOut {
			// Track how far past the target the step ran, but only
			// for genuine timeouts; other aborts would skew it.
			diffMs := elapsedTimeMs - t.timeTargetMs
			t.markingStepDiffsMs.add(diffMs)
		}

		if m.hasOverflown() {
			// A global overflow: every task must stop and the marking
			// state must be rebuilt before the phase restarts. Two
			// barrier syncs make that safe.
			if !isSerial {
				m.enterFirstSyncBarrier(t.workerID)
				// Everyone has stopped marking; re-initialization is
				// safe now.
			}

			t.clearRegionFields()
			t.flushMarkStatsCache()

			if !isSerial {
				// During the concurrent phase worker 0 resets the
				// global structures and requests the restart; during
				// a STW pause the overflow flag must survive so the
				// pause can restart concurrent marking.
				if m.isConcurrent() && t.workerID == 0 {
					m.resetMarkingForRestart()
					m.restartForOverflow.Store(true)
				}
				m.enterSecondSyncBarrier(t.workerID)
			}
			// Everything is re-initialized; ready to restart.
		}
	}
}

// A numberSeq accumulates a sequence of float64 samples.
type numberSeq struct {
	n   int
	sum float64
	max float64
}

func (s *numberSeq) add(v float64) {
	s.n++
	s.sum += v
	if v > s.max {
		s.max = v
	}
}

func (s *numberSeq) num() int { return s.n }

func (s *numberSeq) avg() float64 {
	if s.n == 0 {
		return 0
	}
	return s.sum / float64(s.n)
}

func (s *numberSeq) maximum() float64 { return s.max }

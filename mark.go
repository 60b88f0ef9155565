// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// A Marker owns the process-scoped marking state: the worker tasks and
// their queues, the global mark stack, the claim cursor over the
// collection set, the heap-wide bitmap pair, the per-region liveness
// counters and the phase synchronization. The host creates one Marker
// per heap and drives the phases through it; nothing here is ambient.
type Marker struct {
	heap *Heap
	cfg  Config

	completedInitialization bool

	markBitmap1 *MarkBitmap
	markBitmap2 *MarkBitmap

	// prev holds the snapshot of the last completed marking, next
	// receives the marking in progress; they swap at remark end.
	prevMarkBitmap *MarkBitmap
	nextMarkBitmap *MarkBitmap

	rootRegions     *rootRegions
	globalMarkStack markStack

	// csetHead is the first region of the collection-set chain; the
	// finger starts at its bottom.
	csetHead *Region

	// finger is the claim cursor: the bottom address of the next
	// region to hand out, 0 when the chain is exhausted. It only
	// advances.
	finger atomic.Uint64

	maxNumTasks    uint32
	numActiveTasks atomic.Uint32
	tasks          []*cmTask
	taskQueues     *taskQueueSet
	terminator     *taskTerminator

	firstOverflowBarrierSync  *barrierSync
	secondOverflowBarrierSync *barrierSync

	hasOverflownFlag   atomic.Bool
	concurrentFlag     atomic.Bool
	hasAbortedFlag     atomic.Bool
	restartForOverflow atomic.Bool

	regionMarkStats    []regionMarkStats
	topAtRebuildStarts []Addr

	sts *suspendibleThreadSet

	concurrentWorkers    *workGang
	parallelWorkers      *workGang
	numConcurrentWorkers uint32
	maxConcurrentWorkers uint32

	// rareEventLock serializes the infrequent global list splices,
	// like merging per-worker cleanup lists into the master free
	// list.
	rareEventLock sync.Mutex

	satbQueues SATBQueueSet

	accumTaskVTime []float64

	totalCleanupTime float64
	cleanupTimes     numberSeq
}

// NewMarker builds the marking state for heap. It fails when the
// configuration is inconsistent or the overflow stack cannot be sized.
func NewMarker(heap *Heap, cfg Config) (*Marker, error) {
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	if heap.RegionWords == 0 || len(heap.Regions) == 0 {
		return nil, fmt.Errorf("gcmark: heap has no regions")
	}
	if heap.Model == nil {
		return nil, fmt.Errorf("gcmark: heap has no object model")
	}

	heapWords := uintptr(len(heap.Regions)) * heap.RegionWords
	m := &Marker{
		heap:        heap,
		cfg:         cfg,
		markBitmap1: NewMarkBitmap(heap.Base, heapWords),
		markBitmap2: NewMarkBitmap(heap.Base, heapWords),

		rootRegions: newRootRegions(heap.maxRegions()),

		maxNumTasks: cfg.ParallelGCThreads,

		firstOverflowBarrierSync:  newBarrierSync(),
		secondOverflowBarrierSync: newBarrierSync(),

		regionMarkStats:    make([]regionMarkStats, heap.maxRegions()),
		topAtRebuildStarts: make([]Addr, heap.maxRegions()),

		sts: newSuspendibleThreadSet(),
	}
	m.prevMarkBitmap = m.markBitmap1
	m.nextMarkBitmap = m.markBitmap2

	m.numConcurrentWorkers = cfg.ConcGCThreads
	m.maxConcurrentWorkers = cfg.ConcGCThreads
	m.concurrentWorkers = newWorkGang("Conc Mark", m.maxConcurrentWorkers)
	m.parallelWorkers = newWorkGang("Par Mark", cfg.ParallelGCThreads)

	if !m.globalMarkStack.initialize(cfg.MarkStackSize, cfg.MarkStackSizeMax) {
		return nil, fmt.Errorf("gcmark: failed to allocate the overflow mark stack")
	}

	m.taskQueues = newTaskQueueSet(m.maxNumTasks, cfg.TaskQueueCapacity)
	m.terminator = newTaskTerminator(int32(m.maxNumTasks), m.taskQueues)
	m.tasks = make([]*cmTask, m.maxNumTasks)
	m.accumTaskVTime = make([]float64, m.maxNumTasks)
	for i := uint32(0); i < m.maxNumTasks; i++ {
		m.tasks[i] = newCMTask(i, m, m.taskQueues.queue(i), m.regionMarkStats)
	}

	// So that worker-count assertions hold before the first cycle.
	m.numActiveTasks.Store(m.maxNumTasks)

	m.resetAtMarkingComplete()
	m.completedInitialization = true
	return m, nil
}

// CompletedInitialization reports whether the marker constructed all
// of its structures.
func (m *Marker) CompletedInitialization() bool { return m.completedInitialization }

// SetSATBQueueSet installs the host's SATB queue surface. May be nil
// when the host has no write barrier (pure memory-server operation).
func (m *Marker) SetSATBQueueSet(sq SATBQueueSet) { m.satbQueues = sq }

// SetCollectionSet links regions into the collection-set chain the
// claim cursor walks, in the given order. Call before PreInitialMark.
func (m *Marker) SetCollectionSet(regions []*Region) {
	var head *Region
	var tail *Region
	for _, r := range regions {
		r.csetNext = nil
		if tail == nil {
			head = r
		} else {
			tail.csetNext = r
		}
		tail = r
	}
	m.csetHead = head
	m.resetFinger()
}

func (m *Marker) resetFinger() {
	if m.csetHead != nil {
		m.finger.Store(uint64(m.csetHead.bottom))
	} else {
		m.finger.Store(0)
	}
}

func (m *Marker) hasOverflown() bool { return m.hasOverflownFlag.Load() }
func (m *Marker) setHasOverflown()   { m.hasOverflownFlag.Store(true) }
func (m *Marker) clearHasOverflown() { m.hasOverflownFlag.Store(false) }

func (m *Marker) hasAborted() bool { return m.hasAbortedFlag.Load() }

func (m *Marker) isConcurrent() bool { return m.concurrentFlag.Load() }

// RestartForOverflow reports whether the last phase ended in an
// overflow restart request; the scheduler then runs the phase again.
func (m *Marker) RestartForOverflow() bool { return m.restartForOverflow.Load() }

// HasAborted reports whether the whole marking cycle was aborted.
func (m *Marker) HasAborted() bool { return m.hasAborted() }

func (m *Marker) task(id uint32) *cmTask {
	if id >= m.maxNumTasks {
		throw("marker: task id out of range")
	}
	return m.tasks[id]
}

// outOfRegions reports whether the claim cursor is exhausted.
func (m *Marker) outOfRegions() bool { return m.finger.Load() == 0 }

// markStackPush pushes a batch onto the global mark stack, flagging
// global overflow on failure.
func (m *Marker) markStackPush(batch *[entriesPerChunk]TaskEntry) bool {
	if m.globalMarkStack.parPushChunk(batch) {
		return true
	}
	m.setHasOverflown()
	return false
}

func (m *Marker) markStackPop(batch *[entriesPerChunk]TaskEntry) bool {
	return m.globalMarkStack.parPopChunk(batch)
}

func (m *Marker) markStackEmpty() bool  { return m.globalMarkStack.isEmpty() }
func (m *Marker) markStackSize() uintptr { return m.globalMarkStack.size() }

// partialMarkStackSizeTarget is the entry count a partial global drain
// aims to leave on the stack, so other tasks can keep popping.
func (m *Marker) partialMarkStackSizeTarget() uintptr {
	return m.globalMarkStack.capacity() / 3
}

// claimRegion hands out the next region of the collection-set chain to
// worker workerID. It returns nil when the chain is exhausted, and
// also when the claimed region turned out empty; callers distinguish
// the two with outOfRegions and retry.
func (m *Marker) claimRegion(workerID uint32) *Region {
	for {
		oldFinger := Addr(m.finger.Load())
		if oldFinger == nilAddr {
			// Out of regions; the finger stays untouched.
			return nil
		}
		if !m.heap.IsInReserved(oldFinger) {
			throw("marker: claim finger outside the reserved heap")
		}
		currRegion := m.heap.RegionContaining(oldFinger)
		if currRegion == nil {
			throw("marker: no region under a non-nil finger")
		}

		// The atomic finger load orders before the csetNext read, so
		// a claim is observed before the region state it guards.
		var end Addr
		if next := currRegion.csetNext; next != nil {
			end = next.bottom
		}

		if m.finger.CompareAndSwap(uint64(oldFinger), uint64(end)) {
			// The region is ours.
			if currRegion.ntams > currRegion.bottom {
				return currRegion
			}
			// Empty region (NTAMS at bottom): skip it and make the
			// caller claim again.
			if currRegion.ntams != currRegion.bottom {
				throw("marker: region limit below bottom")
			}
			return nil
		}
		// Another worker moved the finger; retry from the new value.
	}
}

// Finger returns the cursor's current value. 0 means exhausted.
func (m *Marker) Finger() Addr { return Addr(m.finger.Load()) }

// reset prepares all marking structures for a new cycle. Must run at
// a safepoint.
func (m *Marker) reset() {
	m.hasAbortedFlag.Store(false)

	m.resetMarkingForRestart()

	// Reset every task, not just the active ones: different phases
	// use different worker counts.
	for _, t := range m.tasks {
		t.reset()
	}

	for i := range m.regionMarkStats {
		m.topAtRebuildStarts[i] = nilAddr
		m.regionMarkStats[i].clear()
	}
}

// clearStatisticsInRegion wipes the liveness gathered for one region,
// in the shared counter and in every task cache.
func (m *Marker) clearStatisticsInRegion(regionIdx uint32) {
	for _, t := range m.tasks {
		t.clearMarkStatsCache(regionIdx)
	}
	m.topAtRebuildStarts[regionIdx] = nilAddr
	m.regionMarkStats[regionIdx].clear()
}

// clearStatistics wipes the statistics of r, covering the whole run
// for a humongous region.
func (m *Marker) clearStatistics(r *Region) {
	if r.isHumongous() {
		if !r.isStartsHumongous() {
			throw("marker: clearing statistics from a humongous continuation")
		}
		size := m.humongousRegionSpan(r)
		for j := r.index; j < r.index+size; j++ {
			m.clearStatisticsInRegion(j)
		}
	} else {
		m.clearStatisticsInRegion(r.index)
	}
}

// humongousRegionSpan returns how many regions the humongous object
// starting at r covers.
func (m *Marker) humongousRegionSpan(r *Region) uint32 {
	if !r.isStartsHumongous() {
		throw("marker: humongous span of a non-start region")
	}
	objWords := m.heap.Model.Size(r.bottom)
	return uint32((objWords + m.heap.RegionWords - 1) / m.heap.RegionWords)
}

// resetMarkingForRestart empties the marking data structures so the
// phase can start over: after an overflow it also grows the stack and
// drops the partial per-region statistics.
func (m *Marker) resetMarkingForRestart() {
	m.globalMarkStack.setEmpty()

	if m.hasOverflown() {
		m.globalMarkStack.expand()

		for i := range m.regionMarkStats {
			m.regionMarkStats[i].clearDuringOverflow()
		}
	}

	m.clearHasOverflown()
	m.resetFinger()

	for _, q := range m.taskQueues.queues {
		q.setEmpty()
	}
}

func (m *Marker) setConcurrency(activeTasks uint32) {
	if activeTasks > m.maxNumTasks {
		throw("marker: more active tasks than the maximum")
	}
	m.numActiveTasks.Store(activeTasks)
	m.terminator.resetForReuse(int32(activeTasks))
	m.firstOverflowBarrierSync.setNWorkers(int(activeTasks))
	m.secondOverflowBarrierSync.setNWorkers(int(activeTasks))
}

// setConcurrencyAndPhase additionally records whether the coming work
// runs concurrently with mutators or inside a pause. The flag steers
// the clock checks and who may reset state after an overflow.
func (m *Marker) setConcurrencyAndPhase(activeTasks uint32, concurrent bool) {
	m.setConcurrency(activeTasks)
	m.concurrentFlag.Store(concurrent)
	if !concurrent && !m.outOfRegions() {
		// At this point we must be in a pause with marking complete.
		throw("marker: STW phase entered with regions unclaimed")
	}
}

func (m *Marker) resetAtMarkingComplete() {
	m.resetMarkingForRestart()
	m.numActiveTasks.Store(0)
}

// ActiveTasks returns the worker count of the phase in progress.
func (m *Marker) ActiveTasks() uint32 { return m.numActiveTasks.Load() }

// doYieldCheck yields to a pending safepoint, reporting whether it
// yielded.
func (m *Marker) doYieldCheck() bool {
	if m.sts.shouldYield() {
		m.sts.yield()
		return true
	}
	return false
}

// enterFirstSyncBarrier parks the worker until every task has stopped
// marking after an overflow. The suspendible set must be left for the
// wait: a safepoint request racing the barrier would deadlock
// otherwise.
func (m *Marker) enterFirstSyncBarrier(workerID uint32) {
	var barrierAborted bool
	if m.isConcurrent() {
		m.sts.leave()
		barrierAborted = !m.firstOverflowBarrierSync.enter()
		m.sts.join()
	} else {
		barrierAborted = !m.firstOverflowBarrierSync.enter()
	}

	// Everyone has synced up and stopped working.

	if barrierAborted {
		// The barrier was aborted: ignore the overflow condition and
		// get out of the whole marking phase as fast as possible.
		return
	}
}

func (m *Marker) enterSecondSyncBarrier(workerID uint32) {
	if m.isConcurrent() {
		m.sts.leave()
		m.secondOverflowBarrierSync.enter()
		m.sts.join()
	} else {
		m.secondOverflowBarrierSync.enter()
	}
	// Everything is re-initialized and ready to go.
}

// PreInitialMark prepares all marking structures. Must run at a
// safepoint, before the cycle starts.
func (m *Marker) PreInitialMark() {
	m.reset()

	for _, r := range m.heap.Regions {
		r.noteStartOfMarking()
	}

	m.rootRegions.reset()
}

// PostInitialMark runs at the end of the initial pause: root region
// scanning becomes claimable.
func (m *Marker) PostInitialMark() {
	m.rootRegions.prepareForScan()
}

// AddRootRegion registers r for the root region scan. Only legal at a
// safepoint.
func (m *Marker) AddRootRegion(r *Region) { m.rootRegions.add(r) }

// RootRegionScanInProgress reports whether a root region scan is still
// running.
func (m *Marker) RootRegionScanInProgress() bool { return m.rootRegions.isScanInProgress() }

// WaitUntilRootRegionScanFinished blocks until the root region scan
// completes; collaborators that need the bitmaps call it before an
// evacuation.
func (m *Marker) WaitUntilRootRegionScanFinished() bool {
	return m.rootRegions.waitUntilScanFinished()
}

// CancelRootRegionScan aborts the scan and releases waiters.
func (m *Marker) CancelRootRegionScan() { m.rootRegions.cancelScan() }

// scanRootRegion marks everything the objects in [NTAMS, top) of r
// refer to. Root regions hold objects that were moved during the
// initial pause; whatever they point at must survive this cycle.
func (m *Marker) scanRootRegion(r *Region, workerID uint32) {
	if !r.isOld() && !(r.typ == RegionSurvivor && r.ntams == r.bottom) {
		throw("marker: root region is neither old nor survivor")
	}
	t := m.task(workerID)
	model := m.heap.Model

	cur := r.ntams
	end := r.Top()
	for cur < end {
		obj := cur
		size := model.Size(obj)
		if !model.IsTypeArray(obj) {
			model.IterateFields(obj, func(ref Addr) {
				m.rootScanReference(t, ref)
			})
		}
		cur += Addr(size)
	}
}

// rootScanReference marks one reference found in a root region. Roots
// only mark; queue feeding happens when the referent's own region is
// scanned.
func (m *Marker) rootScanReference(t *cmTask, ref Addr) {
	if ref == nilAddr || !m.heap.IsInReserved(ref) {
		return
	}
	t.markInAliveBitmap(ref)
}

// ScanRootRegions scans all registered root regions with the
// concurrent workers, ahead of the main marking phase.
func (m *Marker) ScanRootRegions() {
	// scanInProgress was only set if there is at least one root
	// region to scan.
	if !m.rootRegions.isScanInProgress() {
		return
	}
	if m.hasAborted() {
		throw("marker: aborting before root region scanning finished is not supported")
	}

	numWorkers := m.calcActiveMarkingWorkers()
	if n := m.rootRegions.numRoots(); numWorkers > n {
		// Work is handed out per region; more workers are useless.
		numWorkers = n
	}
	m.numConcurrentWorkers = numWorkers

	m.concurrentWorkers.run(func(workerID uint32) {
		for {
			r := m.rootRegions.claimNext()
			if r == nil {
				break
			}
			m.scanRootRegion(r, workerID)
		}
	}, numWorkers)

	m.rootRegions.scanFinished()
}

// calcActiveMarkingWorkers returns the worker count for the next
// concurrent phase.
func (m *Marker) calcActiveMarkingWorkers() uint32 {
	result := m.maxConcurrentWorkers
	if result < 1 || result > m.maxConcurrentWorkers {
		throw("marker: calculated marking workers out of range")
	}
	return result
}

// MarkFromRoots runs the concurrent marking phase: every worker
// repeatedly invokes the marking step until the phase completes, is
// aborted, or overflows. On overflow the phase returns with
// RestartForOverflow set and the caller runs it again.
func (m *Marker) MarkFromRoots() {
	m.restartForOverflow.Store(false)

	m.numConcurrentWorkers = m.calcActiveMarkingWorkers()
	activeWorkers := m.concurrentWorkers.updateActiveWorkers(m.numConcurrentWorkers)

	// The terminator and barriers are sized in setConcurrencyAndPhase.
	m.setConcurrencyAndPhase(activeWorkers, true)

	m.concurrentWorkers.run(func(workerID uint32) {
		m.concurrentMarkingWork(workerID)
	}, activeWorkers)
}

// concurrentMarkingWork is one worker's share of the concurrent
// marking phase.
func (m *Marker) concurrentMarkingWork(workerID uint32) {
	start := nowSeconds()

	m.sts.join()
	defer m.sts.leave()

	if workerID >= m.ActiveTasks() {
		throw("marker: worker id beyond the active tasks")
	}

	t := m.task(workerID)
	t.recordStartTime()
	if !m.hasAborted() {
		for {
			t.doMarkingStep(m.cfg.ConcMarkStepMillis, true /* doTermination */, false /* isSerial */)

			m.doYieldCheck()

			if m.hasAborted() || !t.hasAborted() {
				break
			}
			if m.RestartForOverflow() {
				// The overflow protocol re-initialized everything;
				// the scheduler decides when to run the phase again.
				break
			}
		}
	}

	t.recordEndTime()
	if t.hasAborted() && !m.hasAborted() && !m.RestartForOverflow() {
		throw("marker: task aborted without the cycle aborting")
	}

	m.accumTaskVTime[workerID] += nowSeconds() - start
}

// FinalizeMarking is the remark pause's marking part: each worker
// walks the mutator threads it is handed (discovering stack roots and
// draining thread-local SATB queues) and then drains all remaining
// work with an effectively unbounded time target. Must run at a
// safepoint.
func (m *Marker) FinalizeMarking(threads ThreadVisitor) {
	activeWorkers := m.parallelWorkers.activeWorkers
	m.setConcurrencyAndPhase(activeWorkers, false /* concurrent */)
	m.terminator.resetForReuse(int32(activeWorkers))

	m.parallelWorkers.run(func(workerID uint32) {
		t := m.task(workerID)
		t.recordStartTime()
		defer t.recordEndTime()

		if threads != nil {
			rtc := &remarkThreadsClosure{task: t}
			threads.VisitThreads(rtc)
		}

		for {
			t.doMarkingStep(1e9 /* something very large */, true /* doTermination */, false /* isSerial */)
			if !t.hasAborted() || m.hasOverflown() {
				// On overflow we do not restart here: remark is
				// abandoned and concurrent marking runs again.
				break
			}
		}
	}, activeWorkers)

	if sq := m.satbQueues; sq != nil && !m.hasOverflown() && sq.CompletedBuffersNum() != 0 {
		throw("marker: completed SATB buffers remain after remark")
	}
}

// Remark completes the cycle after FinalizeMarking: on overflow it
// requests a restart, otherwise it processes references, flushes the
// liveness caches and swaps the bitmap pair. Must run at a safepoint.
func (m *Marker) Remark(threads ThreadVisitor, rp ReferenceProcessor, tracker RemSetTracker) {
	m.restartForOverflow.Store(false)

	m.FinalizeMarking(threads)

	markFinished := !m.hasOverflown()
	if markFinished {
		if rp != nil {
			m.WeakRefsWork(rp)
		}

		m.flushAllTaskCaches()

		if tracker != nil {
			m.updateRemSetTrackingBeforeRebuild(tracker)
		}

		m.swapMarkBitmaps()
		m.resetAtMarkingComplete()
	} else {
		// We overflowed: concurrent marking restarts from scratch.
		// The per-worker overflow protocol preserved the flag through
		// the pause; clear the marking state here instead.
		m.restartForOverflow.Store(true)
		m.resetMarkingForRestart()
	}
}

func (m *Marker) swapMarkBitmaps() {
	m.prevMarkBitmap, m.nextMarkBitmap = m.nextMarkBitmap, m.prevMarkBitmap
}

// flushAllTaskCaches folds every worker's cached liveness into the
// shared per-region counters.
func (m *Marker) flushAllTaskCaches() (hits, misses uint64) {
	for _, t := range m.tasks {
		h, ms := t.flushMarkStatsCache()
		hits += h
		misses += ms
	}
	return hits, misses
}

// Liveness returns the live words found for region regionIdx in the
// current (or just completed) cycle. Only stable once the caches have
// been flushed.
func (m *Marker) Liveness(regionIdx uint32) uintptr {
	return uintptr(m.regionMarkStats[regionIdx].liveWords.Load())
}

// TopAtRebuildStart returns the captured rebuild top of a region, or 0
// when the region is not scanned for the rebuild.
func (m *Marker) TopAtRebuildStart(regionIdx uint32) Addr {
	if regionIdx >= m.heap.maxRegions() {
		throw("marker: top-at-rebuild-start index out of bounds")
	}
	return m.topAtRebuildStarts[regionIdx]
}

// A RemSetTracker is the host policy deciding which regions the
// remembered-set rebuild will scan.
type RemSetTracker interface {
	// UpdateBeforeRebuild inspects a region with its marked liveness
	// and reports whether it was selected for rebuild.
	UpdateBeforeRebuild(r *Region, liveWords uintptr) bool

	// NeedsScanForRebuild reports whether the rebuild pass must scan
	// the region at all.
	NeedsScanForRebuild(r *Region) bool

	// UpdateAfterRebuild finalizes a region's tracking state once the
	// rebuild is done.
	UpdateAfterRebuild(r *Region)
}

// Cleanup is the pause after the remembered-set rebuild: tracking
// state is finalized per region and the cleanup time recorded. Must
// run at a safepoint.
func (m *Marker) Cleanup(tracker RemSetTracker) {
	// A full collection may have happened in between.
	if m.hasAborted() {
		return
	}

	start := nowSeconds()

	if tracker != nil {
		m.heap.regionIterate(func(r *Region) bool {
			tracker.UpdateAfterRebuild(r)
			return false
		})
	}

	recent := nowSeconds() - start
	m.totalCleanupTime += recent
	m.cleanupTimes.add(recent)
}

func (m *Marker) updateTopAtRebuildStart(r *Region, tracker RemSetTracker) {
	idx := r.index
	if m.topAtRebuildStarts[idx] != nilAddr {
		throw("marker: top-at-rebuild-start already set for region")
	}
	if tracker.NeedsScanForRebuild(r) {
		m.topAtRebuildStarts[idx] = r.Top()
	}
	// Otherwise the entry stays 0.
}

// updateRemSetTrackingBeforeRebuild applies the tracker to every
// region and distributes humongous liveness over its whole run.
func (m *Marker) updateRemSetTrackingBeforeRebuild(tracker RemSetTracker) uint32 {
	selected := uint32(0)
	m.heap.regionIterate(func(r *Region) bool {
		if r.isContinuesHumongous() {
			// Accounted with its start region below.
			return false
		}
		if r.isStartsHumongous() {
			isLive := m.Liveness(r.index) > 0
			var marked uintptr
			if isLive {
				marked = m.heap.Model.Size(r.bottom)
			}
			m.distributeMarkedWords(r, marked)
			span := m.humongousRegionSpan(r)
			for i := r.index; i < r.index+span; i++ {
				hr := m.heap.Regions[i]
				if tracker.UpdateBeforeRebuild(hr, m.Liveness(i)) {
					selected++
				}
				m.updateTopAtRebuildStart(hr, tracker)
			}
			return false
		}
		if tracker.UpdateBeforeRebuild(r, m.Liveness(r.index)) {
			selected++
		}
		m.updateTopAtRebuildStart(r, tracker)
		return false
	})
	return selected
}

// distributeMarkedWords spreads a humongous object's live words over
// the regions of its run, a region's worth at a time.
func (m *Marker) distributeMarkedWords(r *Region, markedWords uintptr) {
	objWords := m.heap.Model.Size(r.bottom)
	if markedWords != 0 && markedWords != objWords {
		throw("marker: humongous marked words neither zero nor the object size")
	}
	span := m.humongousRegionSpan(r)
	for i := r.index; i < r.index+span; i++ {
		wordsToAdd := markedWords
		if wordsToAdd > m.heap.RegionWords {
			wordsToAdd = m.heap.RegionWords
		}
		m.regionMarkStats[i].liveWords.Store(uint64(wordsToAdd))
		markedWords -= wordsToAdd
	}
}

// IsLive is the liveness predicate handed to the reference processor:
// an address outside the reserved heap is trivially live; inside, an
// object is live when it was allocated since mark start or is marked
// in its region's alive bitmap.
func (m *Marker) IsLive(obj Addr) bool {
	if obj == nilAddr {
		return false
	}
	r := m.heap.RegionContaining(obj)
	if r == nil {
		return true
	}
	if r.objAllocatedSinceMarkStart(obj) {
		return true
	}
	if r.isContinuesHumongous() {
		// One object covers the run; its bit lives at the start
		// region's bottom.
		i := r.index
		for !m.heap.Regions[i].isStartsHumongous() {
			if i == 0 {
				throw("marker: humongous continuation without a start region")
			}
			i--
		}
		start := m.heap.Regions[i]
		return start.aliveBitmap.IsMarked(start.bottom)
	}
	return r.aliveBitmap.IsMarked(obj)
}

// ConcurrentCycleAbort tears down an in-flight cycle (a full
// collection superseded it): structures are emptied, both barriers are
// aborted so no worker stays parked, and partial SATB marking is
// abandoned.
func (m *Marker) ConcurrentCycleAbort() {
	if m.hasAborted() {
		return
	}

	m.resetMarkingForRestart()
	for _, t := range m.tasks {
		t.clearRegionFields()
	}
	m.firstOverflowBarrierSync.abort()
	m.secondOverflowBarrierSync.abort()
	m.hasAbortedFlag.Store(true)

	if sq := m.satbQueues; sq != nil {
		sq.AbandonPartialMarking()
	}
}

// clearBitmapChunkWords is how much bitmap-covered heap one clearing
// step handles between yield checks.
const clearBitmapChunkWords = 1 << 20

// clearBitmap clears bitmap over every region with a worker gang. With
// mayYield the workers join the suspendible set and give up when the
// cycle aborts mid-way.
func (m *Marker) clearBitmap(bitmap *MarkBitmap, gang *workGang, mayYield bool) {
	claimer := newRegionClaimer(gang.activeWorkers, m.heap.maxRegions())

	gang.run(func(workerID uint32) {
		if mayYield {
			m.sts.join()
			defer m.sts.leave()
		}
		m.heap.regionParIterateFromWorkerOffset(func(r *Region) bool {
			cur := r.bottom
			for cur < r.end {
				words := uintptr(r.end - cur)
				if words > clearBitmapChunkWords {
					words = clearBitmapChunkWords
				}
				bitmap.ClearRange(cur, words)
				cur += Addr(words)

				if mayYield && m.doYieldCheck() && m.hasAborted() {
					return true
				}
			}
			return false
		}, claimer, workerID)
	}, gang.activeWorkers)
}

// CleanupForNextMark clears the next bitmap concurrently, getting it
// ready for the following cycle.
func (m *Marker) CleanupForNextMark() {
	m.clearBitmap(m.nextMarkBitmap, m.concurrentWorkers, true)
}

// ClearPrevBitmap clears the prev bitmap. Must run at a safepoint.
func (m *Marker) ClearPrevBitmap() {
	m.clearBitmap(m.prevMarkBitmap, m.parallelWorkers, false)
}

// ClearRegionAliveBitmaps clears the per-region alive and destination
// bitmaps with the concurrent gang, yielding between regions.
func (m *Marker) ClearRegionAliveBitmaps() {
	claimer := newRegionClaimer(m.concurrentWorkers.activeWorkers, m.heap.maxRegions())
	m.concurrentWorkers.run(func(workerID uint32) {
		m.sts.join()
		defer m.sts.leave()
		m.heap.regionParIterateFromWorkerOffset(func(r *Region) bool {
			r.aliveBitmap.ClearAll()
			r.destBitmap.ClearAll()
			return m.doYieldCheck() && m.hasAborted()
		}, claimer, workerID)
	}, m.concurrentWorkers.activeWorkers)
}

// ReclaimEmptyRegions frees the regions the cycle found fully dead:
// used but with zero marked liveness, not young, not archive. Workers
// gather them on local lists and splice those into one cleanup list in
// order, one rare-event lock acquisition per worker; the cleanup list
// is then prepended to the heap's master free list. A dead humongous
// run leaves its tracking set as one contiguous removal. Returns the
// number of regions reclaimed.
func (m *Marker) ReclaimEmptyRegions() uint32 {
	cleanupList := NewFreeRegionList("Empty Regions After Mark List", nil)
	gang := m.parallelWorkers
	claimer := newRegionClaimer(gang.activeWorkers, m.heap.maxRegions())

	gang.run(func(workerID uint32) {
		localCleanupList := NewFreeRegionList("Local Cleanup List", nil)

		m.heap.regionParIterateFromWorkerOffset(func(r *Region) bool {
			if r.Used() > 0 && m.Liveness(r.index) == 0 && !r.isYoung() && !r.isArchive() &&
				!r.isContinuesHumongous() && !r.isFree() {
				if r.isStartsHumongous() {
					m.freeHumongousRegion(r, localCleanupList)
				} else {
					m.freeRegion(r, localCleanupList)
				}
			}
			return false
		}, claimer, workerID)

		if localCleanupList.IsEmpty() {
			return
		}
		m.rareEventLock.Lock()
		cleanupList.AddOrderedList(localCleanupList)
		m.rareEventLock.Unlock()
		if !localCleanupList.IsEmpty() {
			throw("marker: local cleanup list not emptied by the merge")
		}
	}, gang.activeWorkers)

	reclaimed := cleanupList.Length()
	if reclaimed > 0 {
		m.heap.PrependToFreeList(cleanupList)
	}
	return reclaimed
}

// freeRegion resets one region and adds it to list.
func (m *Marker) freeRegion(r *Region, list *FreeRegionList) {
	// Reset the top before the type tag: concurrent reclaim workers
	// read the two without holding the region.
	r.SetTop(r.bottom)
	r.ntams = r.bottom
	r.typ = RegionFree
	r.aliveBitmap.ClearAll()
	r.destBitmap.ClearAll()
	m.clearStatisticsInRegion(r.index)
	list.AddOrdered(r)
}

// freeHumongousRegion releases a whole humongous run: the contiguous
// regions are unlinked from the humongous tracking set in one pass and
// then reset onto list.
func (m *Marker) freeHumongousRegion(r *Region, list *FreeRegionList) {
	span := m.humongousRegionSpan(r)
	if hs := m.heap.humongousSet; hs != nil && hs.Contains(r) {
		// Several workers can release runs in parallel; the set
		// splice itself is serialized.
		m.rareEventLock.Lock()
		hs.RemoveStartingAt(r, span)
		m.rareEventLock.Unlock()
	}
	for i := r.index; i < r.index+span; i++ {
		m.freeRegion(m.heap.Regions[i], list)
	}
}

// PrevMarkBitmap returns the snapshot bitmap of the last completed
// cycle.
func (m *Marker) PrevMarkBitmap() *MarkBitmap { return m.prevMarkBitmap }

// NextMarkBitmap returns the bitmap the cycle in progress writes.
func (m *Marker) NextMarkBitmap() *MarkBitmap { return m.nextMarkBitmap }

// AccumulatedTaskTime returns the accumulated worker seconds of worker
// workerID.
func (m *Marker) AccumulatedTaskTime(workerID uint32) float64 {
	return m.accumTaskVTime[workerID]
}

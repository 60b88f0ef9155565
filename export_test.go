// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

// Shims exposing internals to the external test package.

const (
	EntriesPerChunk     = entriesPerChunk
	ObjArrayMarkingStride = objArrayMarkingStride
)

type TaskQueue = taskQueue
type MarkStack = markStack
type StatsCache = regionMarkStatsCache
type RegionStats = regionMarkStats

func NewTaskQueue(capacity uintptr) *TaskQueue { return newTaskQueue(capacity) }

func (q *TaskQueue) PushLocal(e TaskEntry) bool      { return q.pushLocal(e) }
func (q *TaskQueue) PopLocal() (TaskEntry, bool)     { return q.popLocal() }
func (q *TaskQueue) PopSteal() (TaskEntry, bool)     { return q.popSteal() }
func (q *TaskQueue) Size() uintptr                   { return q.size() }
func (q *TaskQueue) MaxElems() uintptr               { return q.maxElems() }
func (q *TaskQueue) SetEmpty()                       { q.setEmpty() }

func NewMarkStack(initial, max uintptr) *MarkStack {
	s := &MarkStack{}
	if !s.initialize(initial, max) {
		throw("test mark stack initialization failed")
	}
	return s
}

func (s *MarkStack) PushChunk(batch *[EntriesPerChunk]TaskEntry) bool { return s.parPushChunk(batch) }
func (s *MarkStack) PopChunk(batch *[EntriesPerChunk]TaskEntry) bool  { return s.parPopChunk(batch) }
func (s *MarkStack) Expand()                                          { s.expand() }
func (s *MarkStack) IsEmpty() bool                                    { return s.isEmpty() }
func (s *MarkStack) Size() uintptr                                    { return s.size() }
func (s *MarkStack) Capacity() uintptr                                { return s.capacity() }
func (s *MarkStack) SetEmptyT()                                       { s.setEmpty() }

func NewStatsCache(target []RegionStats, entries uint32) *StatsCache {
	return newRegionMarkStatsCache(target, entries)
}

func (c *StatsCache) AddLiveWords(regionIdx uint32, incr uintptr) { c.addLiveWords(regionIdx, incr) }
func (c *StatsCache) EvictAll() (hits, misses uint64)             { return c.evictAll() }

func (s *RegionStats) LiveWords() uintptr { return uintptr(s.liveWords.Load()) }

func (m *Marker) OutOfRegionsT() bool { return m.outOfRegions() }

func (m *Marker) ClaimRegionT(workerID uint32) *Region { return m.claimRegion(workerID) }

func (m *Marker) GlobalMarkStackEmpty() bool { return m.globalMarkStack.isEmpty() }

func (m *Marker) FlushAllTaskCachesT() { m.flushAllTaskCaches() }

func (m *Marker) TaskQueueSizeT(workerID uint32) uintptr {
	return m.taskQueues.queue(workerID).size()
}

// MakeReferenceAliveT marks obj through a worker task, the way a
// collaborator feeding the marker would.
func (m *Marker) MakeReferenceAliveT(workerID uint32, obj Addr) bool {
	return m.task(workerID).makeReferenceAlive(obj)
}

// MarkStackAllocatedChunksT returns how many chunks were ever carved
// from the backing store since the last reset.
func (m *Marker) MarkStackAllocatedChunksT() uintptr {
	return m.globalMarkStack.hwm.Load()
}

func (m *Marker) UpdateRemSetTrackingBeforeRebuildT(tracker RemSetTracker) uint32 {
	return m.updateRemSetTrackingBeforeRebuild(tracker)
}

func (r *Region) SetNTAMSForTest(a Addr) { r.ntams = a }

func (rr *rootRegions) ClaimNextT() *Region { return rr.claimNext() }

func (m *Marker) RootRegionsT() *RootRegions { return m.rootRegions }

type RootRegions = rootRegions

func (rr *RootRegions) PrepareForScanT() { rr.prepareForScan() }
func (rr *RootRegions) AddT(r *Region)   { rr.add(r) }
func (rr *RootRegions) ScanFinishedT()   { rr.scanFinished() }
func (rr *RootRegions) CancelScanT()     { rr.cancelScan() }
func (rr *RootRegions) WaitT() bool      { return rr.waitUntilScanFinished() }

// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcmark implements the concurrent region-based tracing marker
// of the memory-server garbage collector.
//
// The heap is partitioned into fixed-size regions. A marking cycle
// starts from each region's target object queue (references into the
// region recorded by collaborators), discovers the transitively
// reachable objects with a gang of workers, and records them in
// per-region alive bitmaps together with per-region liveness counts.
// Workers keep discovered work on bounded per-worker queues, spill to a
// chunked global mark stack, steal from each other when idle, and
// coordinate overflow restarts through two barrier syncs.
//
// The package does not move objects and does not know their layout:
// the host supplies an ObjectModel that sizes objects and iterates
// their reference fields.
package gcmark

import (
	"fmt"
	"time"
)

// An Addr is a heap word address: an index into the host's conceptual
// word-addressed heap. 0 is never the address of an object.
type Addr uint64

const nilAddr Addr = 0

// Heap describes the reserved range the marker operates on. Regions
// are dense and fixed-size; region i covers
// [Base + i*RegionWords, Base + (i+1)*RegionWords).
type Heap struct {
	Base        Addr
	RegionWords uintptr
	Regions     []*Region

	Model ObjectModel

	// freeList receives reclaimed regions; humongousSet tracks the
	// regions of humongous runs so a dead run can be unlinked as one
	// contiguous removal.
	freeList     *FreeRegionList
	humongousSet *FreeRegionList
}

// FreeList returns the master free list reclaimed regions are
// prepended to.
func (h *Heap) FreeList() *FreeRegionList {
	if h.freeList == nil {
		h.freeList = NewFreeRegionList("Master Free List", nil)
	}
	return h.freeList
}

// HumongousSet returns the set tracking humongous regions. The host
// adds the whole run when it allocates a humongous object; the marker
// unlinks the run when the object is found dead.
func (h *Heap) HumongousSet() *FreeRegionList {
	if h.humongousSet == nil {
		h.humongousSet = NewFreeRegionList("Humongous Set", nil)
	}
	return h.humongousSet
}

// PrependToFreeList splices list into the master free list, keeping
// index order; list is left empty.
func (h *Heap) PrependToFreeList(list *FreeRegionList) {
	h.FreeList().AddOrderedList(list)
}

// RegionContaining returns the region covering a, or nil if a is
// outside the reserved range.
func (h *Heap) RegionContaining(a Addr) *Region {
	if a < h.Base {
		return nil
	}
	i := uintptr(a-h.Base) / h.RegionWords
	if i >= uintptr(len(h.Regions)) {
		return nil
	}
	return h.Regions[i]
}

// IsInReserved reports whether a lies inside the reserved heap range.
func (h *Heap) IsInReserved(a Addr) bool {
	return a >= h.Base && uintptr(a-h.Base) < uintptr(len(h.Regions))*h.RegionWords
}

func (h *Heap) maxRegions() uint32 {
	return uint32(len(h.Regions))
}

func (h *Heap) end() Addr {
	return h.Base + Addr(uintptr(len(h.Regions))*h.RegionWords)
}

// addrToRegionIndex returns the dense index of the region containing a.
// a must be in the reserved range.
func (h *Heap) addrToRegionIndex(a Addr) uint32 {
	if !h.IsInReserved(a) {
		throw("addrToRegionIndex: address outside reserved heap")
	}
	return uint32(uintptr(a-h.Base) / h.RegionWords)
}

// ObjectModel is the host's view of object layout. The marker treats
// objects as opaque records; all it needs is a size, a class of shape
// (plain object, object array, primitive array) and a way to read the
// reference fields.
//
// LoadArrayElem and IterateFields must load references with acquire
// semantics so that a reference published by a mutator is seen fully
// initialized by the marking worker.
type ObjectModel interface {
	// Size returns the size of the object starting at obj, in words.
	Size(obj Addr) uintptr

	// IsObjArray reports whether obj is an array of references.
	IsObjArray(obj Addr) bool

	// IsTypeArray reports whether obj is an array of primitives. A
	// type array contains no references and is never scanned.
	IsTypeArray(obj Addr) bool

	// ObjArrayLen returns the element count of a reference array.
	ObjArrayLen(obj Addr) uintptr

	// LoadArrayElem returns element i of the reference array obj,
	// or 0 for a nil element.
	LoadArrayElem(obj Addr, i uintptr) Addr

	// IterateFields calls f once per reference the object holds (the
	// fields of a plain object, the elements of a reference array),
	// passing 0 for nil references. The marker slices large arrays
	// itself and then reads them through LoadArrayElem instead.
	IterateFields(obj Addr, f func(ref Addr))

	// BlockStart returns the start address of the object containing
	// the (possibly interior) address a. Only used to recover an
	// array header from an array-slice entry.
	BlockStart(a Addr) Addr
}

// Config carries the tunables of the marker. The zero value of a field
// selects its default.
type Config struct {
	// ParallelGCThreads is the worker count for stop-the-world
	// phases (remark, cleanup).
	ParallelGCThreads uint32

	// ConcGCThreads is the worker count for concurrent marking.
	// 0 derives max(1, (ParallelGCThreads+2)/4).
	ConcGCThreads uint32

	// MarkStackSize and MarkStackSizeMax are the initial and maximum
	// overflow mark stack capacities, in entries. MarkStackSize 0
	// derives min(MarkStackSizeMax, workers*TaskQueueCapacity).
	MarkStackSize    uintptr
	MarkStackSizeMax uintptr

	// TaskQueueCapacity is the per-worker deque capacity in entries.
	// Must be a power of two.
	TaskQueueCapacity uintptr

	// RefProcDrainInterval is the number of referents a keep-alive
	// closure processes before forcing a drain.
	RefProcDrainInterval int

	// ConcMarkStepMillis is the soft time target of one driver
	// invocation during concurrent marking.
	ConcMarkStepMillis float64

	// UseReferencePrecleaning enables the single-threaded preclean
	// pass between concurrent mark and remark.
	UseReferencePrecleaning bool

	// ClassUnloadingWithConcurrentMark selects whether the host runs
	// class unloading at remark. The marker only routes the choice.
	ClassUnloadingWithConcurrentMark bool
}

const (
	defaultTaskQueueCapacity = 8192
	defaultMarkStackSizeMax  = 16384 * entriesPerChunk
	defaultRefProcDrain      = 1000
	defaultConcMarkStepMs    = 10.0
)

func (c *Config) fillDefaults() error {
	if c.ParallelGCThreads == 0 {
		c.ParallelGCThreads = 1
	}
	if c.ConcGCThreads == 0 {
		c.ConcGCThreads = scaleConcurrentWorkers(c.ParallelGCThreads)
	}
	if c.ConcGCThreads > c.ParallelGCThreads {
		return fmt.Errorf("gcmark: more concurrent workers (%d) than parallel workers (%d)", c.ConcGCThreads, c.ParallelGCThreads)
	}
	if c.TaskQueueCapacity == 0 {
		c.TaskQueueCapacity = defaultTaskQueueCapacity
	}
	if c.TaskQueueCapacity&(c.TaskQueueCapacity-1) != 0 {
		return fmt.Errorf("gcmark: task queue capacity %d is not a power of two", c.TaskQueueCapacity)
	}
	if c.MarkStackSizeMax == 0 {
		c.MarkStackSizeMax = defaultMarkStackSizeMax
	}
	if c.MarkStackSize == 0 {
		sz := uintptr(c.ConcGCThreads) * c.TaskQueueCapacity
		if sz > c.MarkStackSizeMax {
			sz = c.MarkStackSizeMax
		}
		c.MarkStackSize = sz
	}
	if c.MarkStackSize < 1 || c.MarkStackSize > c.MarkStackSizeMax {
		return fmt.Errorf("gcmark: mark stack size %d must be between 1 and %d", c.MarkStackSize, c.MarkStackSizeMax)
	}
	if c.RefProcDrainInterval == 0 {
		c.RefProcDrainInterval = defaultRefProcDrain
	}
	if c.ConcMarkStepMillis == 0 {
		c.ConcMarkStepMillis = defaultConcMarkStepMs
	}
	return nil
}

// scaleConcurrentWorkers derives the concurrent marking worker count
// from the stop-the-world worker count.
func scaleConcurrentWorkers(numGCWorkers uint32) uint32 {
	n := (numGCWorkers + 2) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func elapsedMillis(since time.Time) float64 {
	return float64(time.Since(since)) / float64(time.Millisecond)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// throw reports an unrecoverable invariant violation.
func throw(s string) {
	panic("gcmark: " + s)
}

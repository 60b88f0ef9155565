// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"sync"
	"sync/atomic"
)

// A RegionType tags the role of a region in the heap.
type RegionType uint8

const (
	RegionFree RegionType = iota
	RegionYoung
	RegionSurvivor
	RegionOld
	RegionHumongousStart
	RegionHumongousCont
	RegionArchive
)

func (t RegionType) String() string {
	switch t {
	case RegionFree:
		return "FREE"
	case RegionYoung:
		return "YOUN"
	case RegionSurvivor:
		return "SURV"
	case RegionOld:
		return "OLD"
	case RegionHumongousStart:
		return "HUMS"
	case RegionHumongousCont:
		return "HUMC"
	case RegionArchive:
		return "ARCH"
	}
	return "????"
}

// A Region is a fixed-size span of the heap, the unit of allocation
// and reclamation. The marker reads its bounds, scans from its target
// object queue and records reachability in its alive bitmap; everything
// else about a region belongs to collaborators.
type Region struct {
	index  uint32
	typ    RegionType
	bottom Addr
	end    Addr

	// top is the allocation frontier, advanced by the host.
	top atomic.Uint64

	// ntams is the value of top captured when the current marking
	// cycle began. Objects at or above ntams are implicitly live and
	// are never marked. Immutable for the duration of one cycle.
	ntams Addr

	aliveBitmap *MarkBitmap
	destBitmap  *MarkBitmap

	targetQueue *TargetObjQueue

	// csetNext links the region into the collection-set chain walked
	// by the claim cursor.
	csetNext *Region

	// Intrusive links and back-reference for region sets. Owned by
	// the containing set.
	next, prev    *Region
	containingSet *regionSetBase
}

// NewRegion builds a region covering [bottom, bottom+words) with fresh
// alive and destination bitmaps.
func NewRegion(index uint32, typ RegionType, bottom Addr, words uintptr) *Region {
	r := &Region{
		index:       index,
		typ:         typ,
		bottom:      bottom,
		end:         bottom + Addr(words),
		aliveBitmap: NewMarkBitmap(bottom, words),
		destBitmap:  NewMarkBitmap(bottom, words),
		targetQueue: newTargetObjQueue(),
	}
	r.top.Store(uint64(bottom))
	return r
}

func (r *Region) Index() uint32           { return r.index }
func (r *Region) Type() RegionType        { return r.typ }
func (r *Region) Bottom() Addr            { return r.bottom }
func (r *Region) End() Addr               { return r.end }
func (r *Region) Top() Addr               { return Addr(r.top.Load()) }
func (r *Region) SetTop(a Addr)           { r.top.Store(uint64(a)) }
func (r *Region) NTAMS() Addr             { return r.ntams }
func (r *Region) AliveBitmap() *MarkBitmap { return r.aliveBitmap }
func (r *Region) DestBitmap() *MarkBitmap  { return r.destBitmap }
func (r *Region) TargetQueue() *TargetObjQueue { return r.targetQueue }

func (r *Region) SetType(t RegionType) { r.typ = t }

// SetCSetNext links nxt after r in the collection-set chain.
func (r *Region) SetCSetNext(nxt *Region) { r.csetNext = nxt }
func (r *Region) CSetNext() *Region       { return r.csetNext }

func (r *Region) isHumongous() bool      { return r.typ == RegionHumongousStart || r.typ == RegionHumongousCont }
func (r *Region) isStartsHumongous() bool { return r.typ == RegionHumongousStart }
func (r *Region) isContinuesHumongous() bool { return r.typ == RegionHumongousCont }
func (r *Region) isFree() bool           { return r.typ == RegionFree }
func (r *Region) isArchive() bool        { return r.typ == RegionArchive }
func (r *Region) isYoung() bool          { return r.typ == RegionYoung }
func (r *Region) isOld() bool            { return r.typ == RegionOld }
func (r *Region) isEmpty() bool          { return r.Top() == r.bottom }

// IsInReserved reports whether a lies within the region's span.
func (r *Region) IsInReserved(a Addr) bool {
	return a >= r.bottom && a < r.end
}

// noteStartOfMarking captures top as NTAMS for the cycle about to run.
func (r *Region) noteStartOfMarking() {
	r.ntams = r.Top()
}

// objAllocatedSinceMarkStart reports whether obj was allocated after
// the cycle's NTAMS snapshot; such objects are implicitly live.
func (r *Region) objAllocatedSinceMarkStart(obj Addr) bool {
	return obj >= r.ntams
}

// Used returns the allocated words of the region.
func (r *Region) Used() uintptr {
	return uintptr(r.Top() - r.bottom)
}

// A TargetObjQueue holds the references into one region that act as
// marking roots for it. Collaborators (write barriers, other
// collectors) push; the worker that owns the region during a cycle
// drains. Entries above the ring capacity overflow to a side list the
// way task queues do, so producers never block on a full ring.
type TargetObjQueue struct {
	mu       sync.Mutex
	ring     []Addr
	overflow []Addr
}

const targetObjQueueRing = 256

func newTargetObjQueue() *TargetObjQueue {
	return &TargetObjQueue{ring: make([]Addr, 0, targetObjQueueRing)}
}

// Push records ref as a root into the queue's region.
func (q *TargetObjQueue) Push(ref Addr) {
	if ref == nilAddr {
		throw("TargetObjQueue: push of nil reference")
	}
	q.mu.Lock()
	if len(q.ring) < cap(q.ring) {
		q.ring = append(q.ring, ref)
	} else {
		q.overflow = append(q.overflow, ref)
	}
	q.mu.Unlock()
}

// popOverflow removes one entry from the overflow list.
func (q *TargetObjQueue) popOverflow() (Addr, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.overflow); n > 0 {
		ref := q.overflow[n-1]
		q.overflow = q.overflow[:n-1]
		return ref, true
	}
	return nilAddr, false
}

// popLocal removes one ring entry while more than threshold remain.
func (q *TargetObjQueue) popLocal(threshold int) (Addr, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.ring); n > threshold {
		ref := q.ring[n-1]
		q.ring = q.ring[:n-1]
		return ref, true
	}
	return nilAddr, false
}

// IsEmpty reports whether the queue holds no roots.
func (q *TargetObjQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ring) == 0 && len(q.overflow) == 0
}

// Len returns the number of queued roots.
func (q *TargetObjQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ring) + len(q.overflow)
}

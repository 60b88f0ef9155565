// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"sync"
	"sync/atomic"
)

// rootRegions is the registry of regions whose contents must be
// scanned as roots at the start of a cycle, before any evacuation may
// look at the bitmaps. Appends happen at a safepoint; workers claim
// scan work with an atomic cursor.
type rootRegions struct {
	roots      []*Region
	maxRegions uint32

	numRootRegions     atomic.Uint32
	claimedRootRegions atomic.Uint32
	shouldAbort        atomic.Bool

	mu             sync.Mutex
	scanDone       *sync.Cond
	scanInProgress bool
}

func newRootRegions(maxRegions uint32) *rootRegions {
	rr := &rootRegions{
		roots:      make([]*Region, maxRegions),
		maxRegions: maxRegions,
	}
	rr.scanDone = sync.NewCond(&rr.mu)
	return rr
}

func (rr *rootRegions) reset() {
	rr.numRootRegions.Store(0)
}

// add registers r for root scanning. Only legal at a safepoint.
func (rr *rootRegions) add(r *Region) {
	idx := rr.numRootRegions.Add(1) - 1
	if idx >= rr.maxRegions {
		throw("root regions: more root regions than there is space")
	}
	rr.roots[idx] = r
}

func (rr *rootRegions) prepareForScan() {
	if rr.isScanInProgress() {
		throw("root regions: scan already in progress")
	}
	rr.mu.Lock()
	rr.scanInProgress = rr.numRootRegions.Load() > 0
	rr.mu.Unlock()
	rr.claimedRootRegions.Store(0)
	rr.shouldAbort.Store(false)
}

// claimNext hands out the next unclaimed root region, or nil when the
// registry is exhausted or the scan was cancelled.
func (rr *rootRegions) claimNext() *Region {
	if rr.shouldAbort.Load() {
		// Force callers to bail out of their loop.
		return nil
	}
	num := rr.numRootRegions.Load()
	if rr.claimedRootRegions.Load() >= num {
		return nil
	}
	claimed := rr.claimedRootRegions.Add(1) - 1
	if claimed < num {
		return rr.roots[claimed]
	}
	return nil
}

func (rr *rootRegions) numRoots() uint32 {
	return rr.numRootRegions.Load()
}

func (rr *rootRegions) isScanInProgress() bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.scanInProgress
}

func (rr *rootRegions) notifyScanDone() {
	rr.mu.Lock()
	rr.scanInProgress = false
	rr.scanDone.Broadcast()
	rr.mu.Unlock()
}

// cancelScan aborts the scan and releases any waiters.
func (rr *rootRegions) cancelScan() {
	rr.shouldAbort.Store(true)
	rr.notifyScanDone()
}

// scanFinished records completion of the scan. Unless the scan was
// aborted, every root region must have been claimed by now.
func (rr *rootRegions) scanFinished() {
	if !rr.isScanInProgress() {
		throw("root regions: scan finished without being in progress")
	}
	if !rr.shouldAbort.Load() && rr.claimedRootRegions.Load() < rr.numRootRegions.Load() {
		throw("root regions: scan finished with unclaimed root regions")
	}
	rr.notifyScanDone()
}

// waitUntilScanFinished blocks the caller until the root region scan
// completes. It reports whether it had to wait.
func (rr *rootRegions) waitUntilScanFinished() bool {
	rr.mu.Lock()
	if !rr.scanInProgress {
		rr.mu.Unlock()
		return false
	}
	for rr.scanInProgress {
		rr.scanDone.Wait()
	}
	rr.mu.Unlock()
	return true
}

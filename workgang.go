// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"sync"
	"sync/atomic"
)

// A workGang runs a task body on a gang of workers. Workers are
// goroutines spawned per run; they carry no state across runs.
type workGang struct {
	name          string
	totalWorkers  uint32
	activeWorkers uint32
}

func newWorkGang(name string, totalWorkers uint32) *workGang {
	return &workGang{name: name, totalWorkers: totalWorkers, activeWorkers: totalWorkers}
}

// updateActiveWorkers clamps and installs the worker count for the
// next run, returning the count actually in effect.
func (g *workGang) updateActiveWorkers(n uint32) uint32 {
	if n < 1 {
		n = 1
	}
	if n > g.totalWorkers {
		n = g.totalWorkers
	}
	g.activeWorkers = n
	return n
}

// run executes body(workerID) on nWorkers workers and waits for all of
// them. nWorkers 0 uses the active worker count.
func (g *workGang) run(body func(workerID uint32), nWorkers uint32) {
	if nWorkers == 0 {
		nWorkers = g.activeWorkers
	}
	if nWorkers > g.totalWorkers {
		throw("work gang: more workers requested than the gang has")
	}
	var wg sync.WaitGroup
	wg.Add(int(nWorkers))
	for i := uint32(0); i < nWorkers; i++ {
		go func(id uint32) {
			defer wg.Done()
			body(id)
		}(i)
	}
	wg.Wait()
}

// A regionClaimer partitions the region index space for a parallel
// iteration: each worker starts at its own offset and claims regions
// with a CAS, so every region is visited by exactly one worker.
type regionClaimer struct {
	nWorkers uint32
	claims   []atomic.Uint32
}

func newRegionClaimer(nWorkers uint32, nRegions uint32) *regionClaimer {
	if nWorkers == 0 {
		throw("region claimer: no workers")
	}
	return &regionClaimer{
		nWorkers: nWorkers,
		claims:   make([]atomic.Uint32, nRegions),
	}
}

// offsetForWorker spreads the workers' starting points over the index
// space.
func (c *regionClaimer) offsetForWorker(workerID uint32) uint32 {
	if workerID >= c.nWorkers {
		throw("region claimer: invalid worker id")
	}
	return uint32(uint64(len(c.claims)) * uint64(workerID) / uint64(c.nWorkers))
}

// claimRegion claims region idx for the caller, reporting success.
func (c *regionClaimer) claimRegion(idx uint32) bool {
	return c.claims[idx].CompareAndSwap(0, 1)
}

// regionParIterateFromWorkerOffset visits every region exactly once
// across workers calling it with distinct worker ids. The closure
// returns true to abort the caller's part of the iteration.
func (h *Heap) regionParIterateFromWorkerOffset(cl func(*Region) bool, claimer *regionClaimer, workerID uint32) {
	n := uint32(len(h.Regions))
	if n == 0 {
		return
	}
	start := claimer.offsetForWorker(workerID)
	for i := uint32(0); i < n; i++ {
		idx := (start + i) % n
		if !claimer.claimRegion(idx) {
			continue
		}
		if cl(h.Regions[idx]) {
			return
		}
	}
}

// regionIterate visits every region serially.
func (h *Heap) regionIterate(cl func(*Region) bool) {
	for _, r := range h.Regions {
		if cl(r) {
			return
		}
	}
}

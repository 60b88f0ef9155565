// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import "sync/atomic"

// regionMarkStats accumulates the liveness found for one region during
// a cycle. Folded into from the per-worker caches with atomic adds, so
// any worker may contribute to any region.
type regionMarkStats struct {
	liveWords atomic.Uint64
}

func (s *regionMarkStats) clear() {
	s.liveWords.Store(0)
}

// clearDuringOverflow drops the partial liveness gathered before an
// overflow restart; the restarted cycle re-derives it.
func (s *regionMarkStats) clearDuringOverflow() {
	s.liveWords.Store(0)
}

// A regionMarkStatsCache buffers live-word updates per worker so that
// the hot marking loop does not contend on the shared counters. It is
// direct-mapped by region index; a conflicting update folds the evicted
// counter into the shared array with one atomic add.
type regionMarkStatsCache struct {
	target []regionMarkStats

	entries []regionMarkStatsCacheEntry
	mask    uint32

	hits   uint64
	misses uint64
}

type regionMarkStatsCacheEntry struct {
	regionIdx uint32
	liveWords uintptr
}

// regionMarkStatsCacheSize is the per-worker cache entry count. Must
// be a power of two.
const regionMarkStatsCacheSize = 1024

func newRegionMarkStatsCache(target []regionMarkStats, numCacheEntries uint32) *regionMarkStatsCache {
	if numCacheEntries == 0 || numCacheEntries&(numCacheEntries-1) != 0 {
		throw("region mark stats cache: size must be a power of two")
	}
	c := &regionMarkStatsCache{
		target:  target,
		entries: make([]regionMarkStatsCacheEntry, numCacheEntries),
		mask:    numCacheEntries - 1,
	}
	c.reset()
	return c
}

// invalidRegionIdx marks an empty cache entry. Region indices are
// dense and well below it.
const invalidRegionIdx = ^uint32(0)

// addLiveWords credits incr live words to the region, through the
// cache.
func (c *regionMarkStatsCache) addLiveWords(regionIdx uint32, incr uintptr) {
	e := &c.entries[regionIdx&c.mask]
	if e.regionIdx == regionIdx {
		c.hits++
		e.liveWords += incr
		return
	}
	c.misses++
	c.evict(e)
	e.regionIdx = regionIdx
	e.liveWords = incr
}

func (c *regionMarkStatsCache) evict(e *regionMarkStatsCacheEntry) {
	if e.regionIdx == invalidRegionIdx || e.liveWords == 0 {
		return
	}
	c.target[e.regionIdx].liveWords.Add(uint64(e.liveWords))
	e.liveWords = 0
}

// evictAll flushes every cached counter into the shared array and
// returns the accumulated hit and miss counts.
func (c *regionMarkStatsCache) evictAll() (hits, misses uint64) {
	for i := range c.entries {
		c.evict(&c.entries[i])
	}
	return c.hits, c.misses
}

// reset empties the cache without flushing. Used between cycles, when
// the shared counters are cleared anyway.
func (c *regionMarkStatsCache) reset() {
	for i := range c.entries {
		c.entries[i] = regionMarkStatsCacheEntry{regionIdx: invalidRegionIdx}
	}
	c.hits = 0
	c.misses = 0
}

// resetRegion drops any cached counter for one region.
func (c *regionMarkStatsCache) resetRegion(regionIdx uint32) {
	e := &c.entries[regionIdx&c.mask]
	if e.regionIdx == regionIdx {
		e.regionIdx = invalidRegionIdx
		e.liveWords = 0
	}
}

// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark_test

import (
	"sync"
	"testing"

	. "github.com/mahaoran1997/Semeru-dev"
)

func TestStatsCacheHitAndEvict(t *testing.T) {
	shared := make([]RegionStats, 64)
	c := NewStatsCache(shared, 4)

	// Repeated updates to the same region stay in the cache.
	c.AddLiveWords(1, 10)
	c.AddLiveWords(1, 5)
	if got := shared[1].LiveWords(); got != 0 {
		t.Fatalf("shared counter = %d before any eviction, want 0", got)
	}

	// Region 5 maps to the same entry as region 1 (4-entry cache), so
	// the cached counter is folded into the shared array.
	c.AddLiveWords(5, 7)
	if got := shared[1].LiveWords(); got != 15 {
		t.Fatalf("shared counter = %d after eviction, want 15", got)
	}

	hits, misses := c.EvictAll()
	if got := shared[5].LiveWords(); got != 7 {
		t.Errorf("shared counter = %d after EvictAll, want 7", got)
	}
	if hits != 1 || misses != 2 {
		t.Errorf("hits, misses = %d, %d, want 1, 2", hits, misses)
	}

	// A second flush adds nothing.
	c.EvictAll()
	if got := shared[1].LiveWords(); got != 15 {
		t.Errorf("shared counter changed on a second flush: %d", got)
	}
}

// The reduction is associative and commutative: concurrent workers with
// private caches must sum to the same totals.
func TestStatsCacheConcurrentReduction(t *testing.T) {
	const regions = 32
	const workers = 8
	const updates = 10000

	shared := make([]RegionStats, regions)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			c := NewStatsCache(shared, 8)
			for i := 0; i < updates; i++ {
				c.AddLiveWords(uint32((i+w)%regions), 1)
			}
			c.EvictAll()
		}(w)
	}
	wg.Wait()

	total := uintptr(0)
	for i := range shared {
		total += shared[i].LiveWords()
	}
	if total != workers*updates {
		t.Errorf("total live words = %d, want %d", total, workers*updates)
	}
}

// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/mahaoran1997/Semeru-dev"
)

func rootRegionsForTest(t *testing.T, nRoots int) (*Marker, *RootRegions, []*Region) {
	t.Helper()
	h, _ := newTestHeap(t, 8)
	m := h.marker
	rr := m.RootRegionsT()
	var roots []*Region
	for i := 0; i < nRoots; i++ {
		r := h.heap.Regions[i]
		rr.AddT(r)
		roots = append(roots, r)
	}
	rr.PrepareForScanT()
	return m, rr, roots
}

func TestRootRegionsClaiming(t *testing.T) {
	_, rr, roots := rootRegionsForTest(t, 3)

	var got []*Region
	for {
		r := rr.ClaimNextT()
		if r == nil {
			break
		}
		got = append(got, r)
	}
	if len(got) != len(roots) {
		t.Fatalf("claimed %d regions, want %d", len(got), len(roots))
	}
	for i := range roots {
		if got[i] != roots[i] {
			t.Errorf("claim %d returned region %d, want %d", i, got[i].Index(), roots[i].Index())
		}
	}
	// Exhausted: stays nil.
	if rr.ClaimNextT() != nil {
		t.Errorf("claim after exhaustion returned a region")
	}
	rr.ScanFinishedT()
}

func TestRootRegionsConcurrentClaimUnique(t *testing.T) {
	const workers = 8
	_, rr, roots := rootRegionsForTest(t, 6)

	claims := make([]atomic.Int32, len(roots))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				r := rr.ClaimNextT()
				if r == nil {
					return
				}
				claims[r.Index()].Add(1)
			}
		}()
	}
	wg.Wait()

	for i := range claims {
		if n := claims[i].Load(); n != 1 {
			t.Errorf("root region %d claimed %d times", i, n)
		}
	}
	rr.ScanFinishedT()
}

func TestRootRegionsWaitAndCancel(t *testing.T) {
	t.Run("WaitForFinish", func(t *testing.T) {
		_, rr, _ := rootRegionsForTest(t, 2)

		var waited atomic.Bool
		done := make(chan struct{})
		go func() {
			rr.WaitT()
			waited.Store(true)
			close(done)
		}()

		time.Sleep(10 * time.Millisecond)
		if waited.Load() {
			t.Fatalf("waiter returned before the scan finished")
		}
		for rr.ClaimNextT() != nil {
		}
		rr.ScanFinishedT()
		<-done
	})
	t.Run("Cancel", func(t *testing.T) {
		_, rr, _ := rootRegionsForTest(t, 2)

		done := make(chan struct{})
		go func() {
			rr.WaitT()
			close(done)
		}()
		time.Sleep(5 * time.Millisecond)
		rr.CancelScanT()
		<-done

		// The abort also stops the claim cursor.
		if rr.ClaimNextT() != nil {
			t.Errorf("claim after cancel returned a region")
		}
	})
	t.Run("NoRoots", func(t *testing.T) {
		_, rr, _ := rootRegionsForTest(t, 0)
		if rr.WaitT() {
			t.Errorf("waited although no scan was in progress")
		}
	})
}

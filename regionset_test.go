// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark_test

import (
	"os"
	"testing"

	. "github.com/mahaoran1997/Semeru-dev"
)

func TestMain(m *testing.M) {
	SetUnrealisticallyLongLength(1 << 20)
	os.Exit(m.Run())
}

const testRegionWords = 1 << 10

// makeRegions builds free regions with the given indices, placed at
// index*testRegionWords past a nonzero base.
func makeRegions(indices ...uint32) []*Region {
	rs := make([]*Region, 0, len(indices))
	for _, i := range indices {
		bottom := Addr(testRegionWords * (uintptr(i) + 1))
		rs = append(rs, NewRegion(i, RegionFree, bottom, testRegionWords))
	}
	return rs
}

func listIndices(l *FreeRegionList) []uint32 {
	var got []uint32
	it := NewFreeRegionListIterator(l)
	for it.MoreAvailable() {
		got = append(got, it.Next().Index())
	}
	return got
}

func checkList(t *testing.T, l *FreeRegionList, want []uint32) {
	t.Helper()
	got := listIndices(l)
	if len(got) != len(want) {
		t.Fatalf("list %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("list %v, want %v", got, want)
		}
	}
	if l.Length() != uint32(len(want)) {
		t.Errorf("length = %d, want %d", l.Length(), len(want))
	}
	l.Verify()
}

func TestFreeRegionListAddOrdered(t *testing.T) {
	l := NewFreeRegionList("Test Free List", nil)
	for _, r := range makeRegions(5, 2, 9, 0, 7) {
		l.AddOrdered(r)
	}
	checkList(t, l, []uint32{0, 2, 5, 7, 9})

	it := NewFreeRegionListIterator(l)
	for it.MoreAvailable() {
		r := it.Next()
		if !l.Contains(r) {
			t.Errorf("region %d does not report the list as its containing set", r.Index())
		}
	}
}

func TestFreeRegionListAddOrderedList(t *testing.T) {
	t.Run("Interleaved", func(t *testing.T) {
		l := NewFreeRegionList("To", nil)
		for _, r := range makeRegions(2, 5, 9) {
			l.AddOrdered(r)
		}
		m := NewFreeRegionList("From", nil)
		for _, r := range makeRegions(1, 7, 10) {
			m.AddOrdered(r)
		}

		l.AddOrderedList(m)

		checkList(t, l, []uint32{1, 2, 5, 7, 9, 10})
		if !m.IsEmpty() || m.Length() != 0 {
			t.Errorf("source list not empty after merge: length %d", m.Length())
		}
		// The merged tail must be the maximum-index node.
		if r := l.RemoveRegion(false); r.Index() != 10 {
			t.Errorf("tail index = %d, want 10", r.Index())
		}
	})
	t.Run("IntoEmpty", func(t *testing.T) {
		l := NewFreeRegionList("To", nil)
		m := NewFreeRegionList("From", nil)
		for _, r := range makeRegions(3, 4) {
			m.AddOrdered(r)
		}
		l.AddOrderedList(m)
		checkList(t, l, []uint32{3, 4})
		checkList(t, m, nil)
	})
	t.Run("FromEmpty", func(t *testing.T) {
		l := NewFreeRegionList("To", nil)
		for _, r := range makeRegions(3) {
			l.AddOrdered(r)
		}
		l.AddOrderedList(NewFreeRegionList("From", nil))
		checkList(t, l, []uint32{3})
	})
	t.Run("AllBefore", func(t *testing.T) {
		l := NewFreeRegionList("To", nil)
		for _, r := range makeRegions(8, 9) {
			l.AddOrdered(r)
		}
		m := NewFreeRegionList("From", nil)
		for _, r := range makeRegions(1, 2) {
			m.AddOrdered(r)
		}
		l.AddOrderedList(m)
		checkList(t, l, []uint32{1, 2, 8, 9})
	})
	t.Run("AllAfter", func(t *testing.T) {
		l := NewFreeRegionList("To", nil)
		for _, r := range makeRegions(1, 2) {
			l.AddOrdered(r)
		}
		m := NewFreeRegionList("From", nil)
		for _, r := range makeRegions(8, 9) {
			m.AddOrdered(r)
		}
		l.AddOrderedList(m)
		checkList(t, l, []uint32{1, 2, 8, 9})
	})
}

func TestFreeRegionListRemoveStartingAt(t *testing.T) {
	build := func() (*FreeRegionList, map[uint32]*Region) {
		l := NewFreeRegionList("Test Free List", nil)
		byIdx := make(map[uint32]*Region)
		for _, r := range makeRegions(1, 2, 3, 4, 5, 6) {
			byIdx[r.Index()] = r
			l.AddOrdered(r)
		}
		return l, byIdx
	}

	t.Run("Head", func(t *testing.T) {
		l, byIdx := build()
		l.RemoveStartingAt(byIdx[1], 2)
		checkList(t, l, []uint32{3, 4, 5, 6})
		if l.Contains(byIdx[1]) || l.Contains(byIdx[2]) {
			t.Errorf("removed regions still claim membership")
		}
	})
	t.Run("Middle", func(t *testing.T) {
		l, byIdx := build()
		l.RemoveStartingAt(byIdx[3], 2)
		checkList(t, l, []uint32{1, 2, 5, 6})
	})
	t.Run("Tail", func(t *testing.T) {
		l, byIdx := build()
		l.RemoveStartingAt(byIdx[5], 2)
		checkList(t, l, []uint32{1, 2, 3, 4})
	})
	t.Run("EntireList", func(t *testing.T) {
		l, byIdx := build()
		l.RemoveStartingAt(byIdx[1], 6)
		checkList(t, l, nil)
		if !l.IsEmpty() {
			t.Errorf("list not empty after removing every region")
		}
	})
	t.Run("Single", func(t *testing.T) {
		l, byIdx := build()
		l.RemoveStartingAt(byIdx[4], 1)
		checkList(t, l, []uint32{1, 2, 3, 5, 6})
	})
}

func TestFreeRegionListRemoveAll(t *testing.T) {
	l := NewFreeRegionList("Test Free List", nil)
	regions := makeRegions(1, 2, 3)
	for _, r := range regions {
		l.AddOrdered(r)
	}
	l.RemoveAll()
	checkList(t, l, nil)
	for _, r := range regions {
		if l.Contains(r) {
			t.Errorf("region %d still claims membership after RemoveAll", r.Index())
		}
	}
	// The regions are reusable afterwards.
	l.AddOrdered(regions[1])
	checkList(t, l, []uint32{2})
}

func TestFreeRegionListNumRegionsInRange(t *testing.T) {
	l := NewFreeRegionList("Test Free List", nil)
	for _, r := range makeRegions(2, 4, 6, 8, 10) {
		l.AddOrdered(r)
	}
	for _, tc := range []struct {
		lo, hi, want uint32
	}{
		{0, 100, 5},
		{2, 10, 5},
		{3, 9, 3},
		{4, 4, 1},
		{5, 5, 0},
		{11, 20, 0},
		{0, 1, 0},
	} {
		if got := l.NumRegionsInRange(tc.lo, tc.hi); got != tc.want {
			t.Errorf("NumRegionsInRange(%d, %d) = %d, want %d", tc.lo, tc.hi, got, tc.want)
		}
	}
}

func TestFreeRegionListRemoveRegion(t *testing.T) {
	l := NewFreeRegionList("Test Free List", nil)
	for _, r := range makeRegions(1, 2, 3) {
		l.AddOrdered(r)
	}
	if r := l.RemoveRegion(true); r.Index() != 1 {
		t.Errorf("head removal returned %d, want 1", r.Index())
	}
	if r := l.RemoveRegion(false); r.Index() != 3 {
		t.Errorf("tail removal returned %d, want 3", r.Index())
	}
	checkList(t, l, []uint32{2})
	l.RemoveRegion(true)
	if r := l.RemoveRegion(true); r != nil {
		t.Errorf("removal from empty list returned region %d", r.Index())
	}
}

func TestRegionSetMembership(t *testing.T) {
	s := NewRegionSet("Test Set", nil)
	rs := makeRegions(1, 2)
	s.Add(rs[0])
	s.Add(rs[1])
	if s.Length() != 2 {
		t.Fatalf("length = %d, want 2", s.Length())
	}
	s.Remove(rs[0])
	if s.Length() != 1 {
		t.Fatalf("length = %d, want 1", s.Length())
	}
	// A removed region can join another set.
	l := NewFreeRegionList("Other", nil)
	l.AddOrdered(rs[0])
	checkList(t, l, []uint32{1})
}

func TestFreeRegionListDuplicateIndexPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("inserting a duplicate index did not panic")
		}
	}()
	l := NewFreeRegionList("Test Free List", nil)
	for _, r := range makeRegions(5) {
		l.AddOrdered(r)
	}
	l.AddOrdered(makeRegions(5)[0])
}

// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

import (
	"math/bits"
	"sync/atomic"
)

// A MarkBitmap records one bit per heap word over a contiguous address
// range. Bit i covers word base+i. It serves two roles: the per-region
// alive bitmap written during a cycle, and the heap-wide prev/next
// bitmap pair snapshot used by auxiliary queries.
type MarkBitmap struct {
	base  Addr
	words uintptr // covered heap words

	// bitword[i/64] bit i%64 covers heap word base+i. Concurrent
	// marking goes through ParMark's CAS; Mark, Clear and the range
	// clears store plainly.
	bitword []atomic.Uint64
}

// NewMarkBitmap returns a cleared bitmap covering [base, base+words).
func NewMarkBitmap(base Addr, words uintptr) *MarkBitmap {
	return &MarkBitmap{
		base:    base,
		words:   words,
		bitword: make([]atomic.Uint64, (words+63)/64),
	}
}

func (b *MarkBitmap) Base() Addr      { return b.base }
func (b *MarkBitmap) CoversWords() uintptr { return b.words }

func (b *MarkBitmap) bitIndex(a Addr) uintptr {
	if a < b.base || uintptr(a-b.base) >= b.words {
		throw("mark bitmap: address out of covered range")
	}
	return uintptr(a - b.base)
}

// ParMark atomically sets the bit for a and reports whether this call
// flipped it from 0 to 1. Concurrent callers race on the same word;
// exactly one of them wins for any given address.
func (b *MarkBitmap) ParMark(a Addr) bool {
	i := b.bitIndex(a)
	w := &b.bitword[i/64]
	mask := uint64(1) << (i % 64)
	for {
		old := w.Load()
		if old&mask != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// Mark sets the bit for a without synchronization. Only legal at a
// safepoint.
func (b *MarkBitmap) Mark(a Addr) {
	i := b.bitIndex(a)
	w := &b.bitword[i/64]
	w.Store(w.Load() | uint64(1)<<(i%64))
}

// Clear clears the bit for a without synchronization. Only legal at a
// safepoint.
func (b *MarkBitmap) Clear(a Addr) {
	i := b.bitIndex(a)
	w := &b.bitword[i/64]
	w.Store(w.Load() &^ (uint64(1) << (i % 64)))
}

// IsMarked reports whether the bit for a is set.
func (b *MarkBitmap) IsMarked(a Addr) bool {
	i := b.bitIndex(a)
	return b.bitword[i/64].Load()&(uint64(1)<<(i%64)) != 0
}

// ClearRange clears all bits for [start, start+words).
func (b *MarkBitmap) ClearRange(start Addr, words uintptr) {
	if words == 0 {
		return
	}
	lo := b.bitIndex(start)
	hi := lo + words - 1
	if hi >= b.words {
		throw("mark bitmap: clear range beyond covered range")
	}

	loWord, loBit := lo/64, lo%64
	hiWord, hiBit := hi/64, hi%64
	if loWord == hiWord {
		mask := (^uint64(0) << loBit) & (^uint64(0) >> (63 - hiBit))
		w := &b.bitword[loWord]
		w.Store(w.Load() &^ mask)
		return
	}
	w := &b.bitword[loWord]
	w.Store(w.Load() &^ (^uint64(0) << loBit))
	for i := loWord + 1; i < hiWord; i++ {
		b.bitword[i].Store(0)
	}
	w = &b.bitword[hiWord]
	w.Store(w.Load() &^ (^uint64(0) >> (63 - hiBit)))
}

// ClearAll clears the whole bitmap.
func (b *MarkBitmap) ClearAll() {
	for i := range b.bitword {
		b.bitword[i].Store(0)
	}
}

// Iterate visits the marked addresses in [start, start+words) in
// ascending order, calling visit for each. If visit returns false the
// iteration stops early and Iterate returns false; a completed
// iteration returns true. Early abort is what lets a concurrent
// bitmap walk yield for a safepoint mid-range.
func (b *MarkBitmap) Iterate(start Addr, words uintptr, visit func(Addr) bool) bool {
	if words == 0 {
		return true
	}
	lo := b.bitIndex(start)
	end := lo + words
	if end > b.words {
		throw("mark bitmap: iterate range beyond covered range")
	}

	for i := lo; i < end; {
		w := b.bitword[i/64].Load()
		// Drop bits below the current position.
		w >>= i % 64
		if w == 0 {
			i = (i/64 + 1) * 64
			continue
		}
		skip := uintptr(bits.TrailingZeros64(w))
		i += skip
		if i >= end {
			return true
		}
		if !visit(b.base + Addr(i)) {
			return false
		}
		i++
	}
	return true
}

// NextMarked returns the first marked address in [start, start+words),
// or 0 if there is none.
func (b *MarkBitmap) NextMarked(start Addr, words uintptr) Addr {
	var found Addr
	b.Iterate(start, words, func(a Addr) bool {
		found = a
		return false
	})
	return found
}

// CountMarked returns the number of set bits in [start, start+words).
func (b *MarkBitmap) CountMarked(start Addr, words uintptr) uintptr {
	n := uintptr(0)
	b.Iterate(start, words, func(Addr) bool {
		n++
		return true
	})
	return n
}

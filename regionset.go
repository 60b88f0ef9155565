// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Region sets group regions for lifecycle management. A FreeRegionList
// additionally threads its members on a doubly-linked list kept sorted
// by region index, so that contiguous runs can be unlinked in one pass
// and whole lists spliced together in order.

package gcmark

const debugRegionSets = true

// A RegionSetChecker verifies instance-specific properties of a set:
// that the caller holds the right lock and that a region is of the
// right type for the set.
type RegionSetChecker interface {
	CheckMTSafety()
	IsCorrectType(r *Region) bool
	Description() string
}

// regionSetBase carries the attributes every region set maintains.
type regionSetBase struct {
	name    string
	checker RegionSetChecker
	length  uint32

	verifyInProgress bool
}

func (s *regionSetBase) Name() string { return s.name }
func (s *regionSetBase) Length() uint32 { return s.length }
func (s *regionSetBase) IsEmpty() bool { return s.length == 0 }

func (s *regionSetBase) checkMTSafety() {
	if s.checker != nil {
		s.checker.CheckMTSafety()
	}
}

func (s *regionSetBase) verifyRegion(r *Region) {
	if !debugRegionSets {
		return
	}
	if r.containingSet != s {
		print("gcmark: [", s.name, "] inconsistent containing set for region ", r.index, "\n")
		throw("region set: inconsistent containing set")
	}
	if r.isYoung() {
		throw("region set: young region in set")
	}
	if s.checker != nil && !s.checker.IsCorrectType(r) {
		print("gcmark: [", s.name, "] wrong type of region ", r.index, " (", r.typ.String(), ")\n")
		throw("region set: wrong region type")
	}
	if r.isFree() && !r.isEmpty() {
		throw("region set: free region is not empty")
	}
	if r.isEmpty() && !r.isFree() && !r.isArchive() {
		throw("region set: empty region is not free or archive")
	}
}

// add accounts for r joining the set. r must not belong to a set.
func (s *regionSetBase) add(r *Region) {
	s.checkMTSafety()
	if r.containingSet != nil {
		throw("region set: adding region that already has a containing set")
	}
	r.containingSet = s
	s.length++
	s.verifyRegion(r)
}

// remove accounts for r leaving the set.
func (s *regionSetBase) remove(r *Region) {
	s.checkMTSafety()
	s.verifyRegion(r)
	if r.next != nil || r.prev != nil {
		throw("region set: removing region still linked")
	}
	if s.length == 0 {
		throw("region set: removing region from empty set")
	}
	r.containingSet = nil
	s.length--
}

func (s *regionSetBase) verify() {
	s.checkMTSafety()
	if (s.IsEmpty() && s.length != 0) || (!s.IsEmpty() && s.length == 0) {
		throw("region set: length and emptiness disagree")
	}
}

// A RegionSet is a named region group whose members are not threaded on
// a list; it only tracks membership and length.
type RegionSet struct {
	regionSetBase
}

// NewRegionSet returns an empty set with the given name. checker may
// be nil.
func NewRegionSet(name string, checker RegionSetChecker) *RegionSet {
	return &RegionSet{regionSetBase{name: name, checker: checker}}
}

// Add puts r into the set. r must not be in any set.
func (s *RegionSet) Add(r *Region) { s.add(r) }

// Remove takes r out of the set.
func (s *RegionSet) Remove(r *Region) { s.remove(r) }

// BulkRemove adjusts the length after the caller unlinked removed
// regions itself.
func (s *RegionSet) BulkRemove(removed uint32) {
	if removed > s.length {
		throw("region set: bulk remove underflow")
	}
	s.length -= removed
}

// unrealisticallyLongLength bounds the plausible length of any free
// list; a walk that exceeds it has almost certainly hit a cycle.
var unrealisticallyLongLength uint32

// SetUnrealisticallyLongLength sets the cycle-detection bound. It may
// only be set once.
func SetUnrealisticallyLongLength(len uint32) {
	if unrealisticallyLongLength != 0 {
		throw("region set: unrealistically long length set twice")
	}
	unrealisticallyLongLength = len
}

// A FreeRegionList links all the regions added to it in a
// doubly-linked list sorted strictly ascending by region index.
// Operations that iterate the list are kept off hot paths; the usual
// traffic is one region at a time or a splice of two whole lists.
type FreeRegionList struct {
	regionSetBase

	head, tail *Region

	// last remembers where the previous add_ordered ended, to speed
	// up runs of in-order insertion.
	last *Region
}

// NewFreeRegionList returns an empty list with the given name. checker
// may be nil.
func NewFreeRegionList(name string, checker RegionSetChecker) *FreeRegionList {
	l := &FreeRegionList{regionSetBase: regionSetBase{name: name, checker: checker}}
	l.clear()
	return l
}

func (l *FreeRegionList) clear() {
	l.length = 0
	l.head = nil
	l.tail = nil
	l.last = nil
}

// Contains reports whether r belongs to this list.
func (l *FreeRegionList) Contains(r *Region) bool {
	return r.containingSet == &l.regionSetBase
}

// AddOrdered inserts r at its index position. r must not belong to a
// set and its index must not collide with a member.
func (l *FreeRegionList) AddOrdered(r *Region) {
	l.verifyOptional()

	// Determine the insertion point, resuming from the last one when
	// the caller inserts in ascending order.
	cur := l.head
	if l.last != nil && l.last.index < r.index {
		cur = l.last
	}
	for cur != nil && cur.index < r.index {
		cur = cur.next
	}
	if cur != nil && cur.index == r.index {
		throw("free region list: duplicate region index")
	}

	if cur == nil {
		// New tail.
		r.prev = l.tail
		r.next = nil
		if l.tail == nil {
			l.head = r
		} else {
			l.tail.next = r
		}
		l.tail = r
	} else {
		r.next = cur
		r.prev = cur.prev
		if cur.prev == nil {
			l.head = r
		} else {
			cur.prev.next = r
		}
		cur.prev = r
	}
	l.last = r

	l.add(r)
	l.verifyOptional()
}

// AddOrderedList merges from into l, preserving ascending index order,
// and leaves from empty. The merge walks both lists once; it does not
// reinsert region by region.
func (l *FreeRegionList) AddOrderedList(from *FreeRegionList) {
	l.checkMTSafety()
	from.checkMTSafety()

	l.verifyOptional()
	from.verifyOptional()

	if from.IsEmpty() {
		return
	}

	// Re-tag each region. The transition goes through nil so that the
	// ownership check stays meaningful.
	for r := from.head; r != nil; r = r.next {
		r.containingSet = nil
		r.containingSet = &l.regionSetBase
	}

	if l.IsEmpty() {
		if l.length != 0 || l.tail != nil {
			throw("free region list: empty list with stale state")
		}
		l.head = from.head
		l.tail = from.tail
	} else {
		curTo := l.head
		curFrom := from.head
		for curFrom != nil {
			for curTo != nil && curTo.index < curFrom.index {
				curTo = curTo.next
			}
			if curTo != nil && curTo.index == curFrom.index {
				throw("free region list: duplicate region index in merge")
			}
			if curTo == nil {
				// The rest of from becomes the tail.
				l.tail.next = curFrom
				curFrom.prev = l.tail
				curFrom = nil
			} else {
				nextFrom := curFrom.next
				curFrom.next = curTo
				curFrom.prev = curTo.prev
				if curTo.prev == nil {
					l.head = curFrom
				} else {
					curTo.prev.next = curFrom
				}
				curTo.prev = curFrom
				curFrom = nextFrom
			}
		}
		if l.tail.index < from.tail.index {
			l.tail = from.tail
		}
	}

	l.length += from.length
	from.clear()

	l.verifyOptional()
	from.verifyOptional()
}

// RemoveRegion unlinks and returns one region from the head or the
// tail, or nil if the list is empty.
func (l *FreeRegionList) RemoveRegion(fromHead bool) *Region {
	l.checkMTSafety()
	l.verifyOptional()

	var r *Region
	if fromHead {
		r = l.head
		if r != nil {
			l.head = r.next
			if l.head == nil {
				l.tail = nil
			} else {
				l.head.prev = nil
			}
		}
	} else {
		r = l.tail
		if r != nil {
			l.tail = r.prev
			if l.tail == nil {
				l.head = nil
			} else {
				l.tail.next = nil
			}
		}
	}
	if r == nil {
		return nil
	}
	if l.last == r {
		l.last = nil
	}
	r.next = nil
	r.prev = nil
	l.remove(r)

	l.verifyOptional()
	return r
}

// RemoveStartingAt unlinks the numRegions successive members starting
// at first and clears their set membership. numRegions must be at
// least 1 and the members must actually be on the list.
func (l *FreeRegionList) RemoveStartingAt(first *Region, numRegions uint32) {
	l.checkMTSafety()
	if numRegions < 1 {
		throw("free region list: remove of zero regions")
	}
	if l.IsEmpty() {
		throw("free region list: remove from empty list")
	}

	l.verifyOptional()
	oldLength := l.length

	cur := first
	count := uint32(0)
	for count < numRegions {
		if cur == nil {
			throw("free region list: ran off the end removing regions")
		}
		l.verifyRegion(cur)
		next := cur.next
		prev := cur.prev

		if prev == nil {
			if l.head != cur {
				throw("free region list: headless region has no prev")
			}
			l.head = next
		} else {
			if l.head == cur {
				throw("free region list: head has a prev")
			}
			prev.next = next
		}
		if next == nil {
			if l.tail != cur {
				throw("free region list: tailless region has no next")
			}
			l.tail = prev
		} else {
			if l.tail == cur {
				throw("free region list: tail has a next")
			}
			next.prev = prev
		}
		if l.last == cur {
			l.last = nil
		}

		cur.next = nil
		cur.prev = nil
		l.remove(cur)

		count++
		cur = next
	}

	if count != numRegions {
		throw("free region list: removed count mismatch")
	}
	if l.length+numRegions != oldLength {
		throw("free region list: new length inconsistent after removal")
	}

	l.verifyOptional()
}

// RemoveAll unlinks every member and clears its membership and links.
func (l *FreeRegionList) RemoveAll() {
	l.checkMTSafety()
	l.verifyOptional()

	cur := l.head
	for cur != nil {
		l.verifyRegion(cur)
		next := cur.next
		cur.next = nil
		cur.prev = nil
		cur.containingSet = nil
		cur = next
	}
	l.clear()

	l.verifyOptional()
}

// NumRegionsInRange returns how many members have an index in
// [start, end], inclusive. Linear in the list length.
func (l *FreeRegionList) NumRegionsInRange(start, end uint32) uint32 {
	num := uint32(0)
	for cur := l.head; cur != nil; cur = cur.next {
		if cur.index > end {
			break
		}
		if cur.index >= start {
			num++
		}
	}
	return num
}

func (l *FreeRegionList) verifyOptional() {
	if debugRegionSets {
		l.Verify()
	}
}

// Verify re-derives the length by walking the list and checks sort
// order, link symmetry and the cycle bound.
func (l *FreeRegionList) Verify() {
	l.checkMTSafety()
	if l.verifyInProgress {
		throw("free region list: verification already in progress")
	}
	l.regionSetBase.verify()
	l.verifyInProgress = true

	if l.head != nil && l.head.prev != nil {
		throw("free region list: head has a prev")
	}

	count := uint32(0)
	lastIndex := uint32(0)
	var prev0 *Region
	for cur := l.head; cur != nil; cur = cur.next {
		l.verifyRegion(cur)

		count++
		if unrealisticallyLongLength != 0 && count >= unrealisticallyLongLength {
			print("gcmark: [", l.name, "] walked ", count, " nodes, is there maybe a cycle?\n")
			throw("free region list: unrealistically long, cycle suspected")
		}

		if cur.next != nil && cur.next.prev != cur {
			throw("free region list: next or prev pointers messed up")
		}
		if count > 1 && cur.index <= lastIndex {
			throw("free region list: list not sorted by index")
		}
		lastIndex = cur.index
		prev0 = cur
	}

	if l.tail != prev0 {
		throw("free region list: tail does not end the list")
	}
	if l.tail != nil && l.tail.next != nil {
		throw("free region list: tail has a next")
	}
	if l.length != count {
		print("gcmark: [", l.name, "] length ", l.length, " but walked ", count, " nodes\n")
		throw("free region list: length mismatch")
	}

	l.verifyInProgress = false
}

// A FreeRegionListIterator walks a list front to back.
type FreeRegionListIterator struct {
	list *FreeRegionList
	cur  *Region
}

// NewFreeRegionListIterator returns an iterator positioned at the head
// of list.
func NewFreeRegionListIterator(list *FreeRegionList) *FreeRegionListIterator {
	return &FreeRegionListIterator{list: list, cur: list.head}
}

// MoreAvailable reports whether Next has members left to return.
func (it *FreeRegionListIterator) MoreAvailable() bool {
	return it.cur != nil
}

// Next returns the current member and advances.
func (it *FreeRegionListIterator) Next() *Region {
	if !it.MoreAvailable() {
		throw("free region list iterator: next past the end")
	}
	r := it.cur
	it.list.verifyRegion(r)
	it.cur = r.next
	return r
}

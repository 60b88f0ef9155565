// Copyright 2019 The Semeru Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcmark

// Large reference arrays are not scanned in one go: that would let a
// single entry hog a worker past every clock call. Instead the scan is
// chopped into slices of objArrayMarkingStride elements; each slice
// scans its stride and pushes the tail as a new slice entry first, so
// other workers can steal the rest of the array.

// objArrayMarkingStride is the element count one slice scan covers.
const objArrayMarkingStride = 2048

// shouldBeSliced reports whether obj is a reference array big enough
// to go through the slice processor.
func (t *cmTask) shouldBeSliced(obj Addr) bool {
	model := t.heap.Model
	return model.IsObjArray(obj) && model.Size(obj) >= 2*objArrayMarkingStride
}

// processObjArray starts the sliced scan of a whole reference array
// and returns the words scanned by this first step.
func (t *cmTask) processObjArray(obj Addr) uintptr {
	if !t.shouldBeSliced(obj) {
		throw("obj array processor: array does not need slicing")
	}
	return t.processArraySlice(obj, 0)
}

// processSlice continues a sliced scan from an array-slice entry. The
// interior address identifies the array (via the host's BlockStart)
// and the first element left to scan.
func (t *cmTask) processSlice(slice Addr) uintptr {
	model := t.heap.Model
	obj := model.BlockStart(slice)
	if obj == nilAddr || !model.IsObjArray(obj) {
		throw("obj array processor: slice does not point into a reference array")
	}
	header := model.Size(obj) - uintptr(model.ObjArrayLen(obj))
	off := uintptr(slice - obj)
	if off < header {
		throw("obj array processor: slice points into the array header")
	}
	return t.processArraySlice(obj, off-header)
}

// processArraySlice scans up to one stride of elements starting at
// index from, pushing the remainder as a new slice first.
func (t *cmTask) processArraySlice(obj Addr, from uintptr) uintptr {
	model := t.heap.Model
	length := uintptr(model.ObjArrayLen(obj))
	if from >= length {
		throw("obj array processor: slice start beyond the array length")
	}
	header := model.Size(obj) - length

	remaining := length - from
	toScan := remaining
	if toScan > objArrayMarkingStride {
		toScan = objArrayMarkingStride
	}
	if remaining > objArrayMarkingStride {
		// Push the tail before scanning, so it is available for
		// stealing while this stride runs.
		t.push(EntryFromSlice(obj + Addr(header+from+objArrayMarkingStride)))
	}

	for i := from; i < from+toScan; i++ {
		t.dealWithReference(model.LoadArrayElem(obj, i))
	}

	// The array header is charged to the first slice.
	words := toScan
	if from == 0 {
		words += header
	}
	return words
}

package persist

import (
	"github.com/greynewell/mist-histogram/histogram"
)

// Attach allocates persistent backing for h in alloc and rebinds h's
// unlogged store to it, so every future Add/AddCount on h writes directly
// into shared memory instead of a process-local array. The logged store is
// left on the heap: it only tracks what this process has already reported,
// which is inherently process-local bookkeeping.
//
// If alloc is nil, h is a dummy, or allocation fails (the segment is full),
// Attach returns without changing h: the histogram keeps recording to its
// heap store and FlagIsPersistent is never set, matching
// Allocator.IsFull's documented fallback contract.
func Attach(alloc Allocator, h *histogram.Histogram) {
	if alloc == nil || h == nil || h.Kind() == histogram.KindDummy {
		return
	}

	metaRef, metaData, err := allocatePadded(alloc, TypeSampleStoreMeta, SampleStoreMetaSize)
	if err != nil {
		return
	}
	copy(metaData, SampleStoreMeta{ID: h.Hash()}.Encode())
	meta := metaData[:SampleStoreMetaSize]

	rec := HistogramRecord{
		NameHash: h.Hash(),
		Flags:    int32(h.GetFlags()),
		Name:     h.Name(),
		MetaRef:  uint32(metaRef),
	}

	var store histogram.Store
	if ranges := h.Ranges(); ranges != nil {
		encoded := EncodeRanges(ranges)
		rangesRef, rangesData, err := allocatePadded(alloc, TypeBucketRangesRecord, uint32(len(encoded)))
		if err != nil {
			return
		}
		copy(rangesData, encoded)
		alloc.MakeIterable(rangesRef)

		n := ranges.BucketCount()
		countsRef, countsData, err := allocatePadded(alloc, TypeCountsBlock, uint32(n)*4)
		if err != nil {
			return
		}

		rec.RangesRef = uint32(rangesRef)
		rec.CountsRef = uint32(countsRef)
		rec.BucketCount = uint32(n)
		store = newPersistentSampleVector(h.Hash(), n, countsData[:n*4], meta)
	} else {
		store = newPersistentSparseMap(alloc, h.Hash(), meta)
	}

	recBytes := rec.Encode()
	recRef, recData, err := allocatePadded(alloc, TypeHistogramRecord, uint32(len(recBytes)))
	if err != nil {
		return
	}
	copy(recData, recBytes)
	alloc.MakeIterable(recRef)

	if rec.RangesRef != 0 {
		h.Ranges().PersistentRef = rec.RangesRef
	}
	h.BindPersistentStore(store)
}

// Materialize reconstructs a live *histogram.Histogram from rec, wiring its
// unlogged store to alloc so reads and writes in this process flow through
// the exact bytes the writer's Store uses. It reports ok=false if rec
// references blocks alloc cannot resolve (a corrupt segment, or a record
// whose blocks predate a truncated/reopened file).
func Materialize(alloc Allocator, rec HistogramRecord) (h *histogram.Histogram, ok bool) {
	metaData, found := alloc.Get(Reference(rec.MetaRef))
	if !found || len(metaData) < SampleStoreMetaSize {
		return nil, false
	}
	meta := metaData[:SampleStoreMetaSize]

	if rec.BucketCount > 0 {
		logicalRangesSize := int(rec.BucketCount+1)*4 + 4
		rangesData, found := alloc.Get(Reference(rec.RangesRef))
		if !found || len(rangesData) < logicalRangesSize {
			return nil, false
		}
		ranges, err := DecodeRanges(rangesData[:logicalRangesSize])
		if err != nil {
			return nil, false
		}
		ranges.PersistentRef = rec.RangesRef

		n := int(rec.BucketCount)
		countsData, found := alloc.Get(Reference(rec.CountsRef))
		if !found || len(countsData) < n*4 {
			return nil, false
		}

		h = histogram.NewWithRanges(rec.Name, histogram.KindCustom, ranges)
		h.BindPersistentStore(newPersistentSampleVector(rec.NameHash, n, countsData[:n*4], meta))
	} else {
		h = histogram.NewSparse(rec.Name)
		h.BindPersistentStore(newPersistentSparseMap(alloc, rec.NameHash, meta))
	}

	h.SetFlags(histogram.Flags(rec.Flags))
	return h, true
}

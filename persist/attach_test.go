package persist

import (
	"testing"

	"github.com/greynewell/mist-histogram/histogram"
)

// TestAttachAndMaterializeShareLiveSparseCounts mirrors the canonical
// cross-process scenario: one histogram handle records samples against a
// sparse histogram backed by a shared allocator, a second handle
// materialized from the same allocator's records sees those samples
// immediately, and further writes through the first handle are visible to
// the second without re-materializing.
func TestAttachAndMaterializeShareLiveSparseCounts(t *testing.T) {
	alloc := NewMemAllocator(0)

	writer := histogram.NewSparse("Foo")
	Attach(alloc, writer)
	if !writer.GetFlags().Has(histogram.FlagIsPersistent) {
		t.Fatal("Attach must set FlagIsPersistent on success")
	}

	writer.AddCount(3, 200)

	var rec HistogramRecord
	found := false
	alloc.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		if typeID != TypeHistogramRecord {
			return true
		}
		var err error
		rec, err = DecodeHistogramRecord(data)
		if err != nil {
			t.Fatalf("DecodeHistogramRecord: %v", err)
		}
		found = true
		return false
	})
	if !found {
		t.Fatal("Attach must make a HistogramRecord iterable")
	}

	reader, ok := Materialize(alloc, rec)
	if !ok {
		t.Fatal("Materialize must resolve the record Attach just wrote")
	}
	if got := reader.GetCount(3); got != 200 {
		t.Fatalf("reader.GetCount(3) = %d, want 200", got)
	}

	writer.AddCount(3, 50)
	if got := reader.GetCount(3); got != 250 {
		t.Fatalf("reader.GetCount(3) after further writer activity = %d, want 250 (no re-import)", got)
	}
}

// TestAttachAndMaterializeShareLiveDenseCounts is the bucketed-histogram
// analogue: ranges are persisted bit-exact, and the reader sees the same
// counts block the writer accumulates into.
func TestAttachAndMaterializeShareLiveDenseCounts(t *testing.T) {
	alloc := NewMemAllocator(0)

	writer := histogram.NewLinear("Latency", 1, 100, 10)
	Attach(alloc, writer)
	writer.Add(5)
	writer.Add(5)

	var rec HistogramRecord
	alloc.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		if typeID != TypeHistogramRecord {
			return true
		}
		var err error
		rec, err = DecodeHistogramRecord(data)
		return err != nil
	})

	reader, ok := Materialize(alloc, rec)
	if !ok {
		t.Fatal("Materialize must resolve the record Attach just wrote")
	}
	if got := reader.GetCount(5); got != 2 {
		t.Fatalf("reader.GetCount(5) = %d, want 2", got)
	}

	writer.Add(5)
	if got := reader.GetCount(5); got != 3 {
		t.Fatalf("reader.GetCount(5) after further writer activity = %d, want 3", got)
	}
}

// TestAttachFallsBackToHeapWhenAllocatorFull exercises Allocator.IsFull's
// documented contract: an allocation failure during Attach must leave the
// histogram fully usable on its original heap store, not half-wired.
func TestAttachFallsBackToHeapWhenAllocatorFull(t *testing.T) {
	alloc := NewMemAllocator(1) // too small for even the first block
	h := histogram.NewSparse("Foo")

	Attach(alloc, h)

	if h.GetFlags().Has(histogram.FlagIsPersistent) {
		t.Fatal("Attach must not set FlagIsPersistent when allocation fails")
	}
	h.AddCount(3, 5)
	if got := h.GetCount(3); got != 5 {
		t.Fatalf("GetCount(3) = %d, want 5 (heap store must still work after a failed Attach)", got)
	}
}

func TestMaterializeRejectsUnresolvableMetaRef(t *testing.T) {
	alloc := NewMemAllocator(0)
	rec := HistogramRecord{NameHash: 1, Name: "X", MetaRef: 99}
	if _, ok := Materialize(alloc, rec); ok {
		t.Fatal("Materialize must fail when MetaRef cannot be resolved")
	}
}

package persist

import "testing"

func TestMemAllocatorAllocateGetRoundTrip(t *testing.T) {
	a := NewMemAllocator(0)
	ref, data, err := a.Allocate(TypeHistogramRecord, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(data, []byte("01234567"))

	got, ok := a.Get(ref)
	if !ok {
		t.Fatal("Get returned ok=false for a fresh allocation")
	}
	if string(got) != "01234567" {
		t.Fatalf("got %q, want %q", got, "01234567")
	}
}

func TestMemAllocatorIterateOnlyYieldsIterable(t *testing.T) {
	a := NewMemAllocator(0)
	ref1, _, _ := a.Allocate(TypeHistogramRecord, 4)
	_, _, _ = a.Allocate(TypeHistogramRecord, 4) // never made iterable
	ref3, _, _ := a.Allocate(TypeHistogramRecord, 4)

	a.MakeIterable(ref1)
	a.MakeIterable(ref3)

	var seen []Reference
	a.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		seen = append(seen, ref)
		return true
	})

	if len(seen) != 2 || seen[0] != ref1 || seen[1] != ref3 {
		t.Fatalf("seen = %v, want [%v %v]", seen, ref1, ref3)
	}
}

func TestMemAllocatorIterateStopsEarly(t *testing.T) {
	a := NewMemAllocator(0)
	for i := 0; i < 5; i++ {
		ref, _, _ := a.Allocate(TypeHistogramRecord, 1)
		a.MakeIterable(ref)
	}

	count := 0
	a.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("count = %d, want 2 (iteration should stop once fn returns false)", count)
	}
}

func TestMemAllocatorIsFullRespectsCapacity(t *testing.T) {
	a := NewMemAllocator(16)
	if a.IsFull() {
		t.Fatal("a fresh allocator must not report full")
	}
	if _, _, err := a.Allocate(TypeHistogramRecord, 16); err != nil {
		t.Fatalf("Allocate within capacity: %v", err)
	}
	if !a.IsFull() {
		t.Fatal("allocator at exactly its capacity must report full")
	}
	if _, _, err := a.Allocate(TypeHistogramRecord, 1); err == nil {
		t.Fatal("expected an error allocating past capacity")
	}
}

func TestMemAllocatorGetUnknownReference(t *testing.T) {
	a := NewMemAllocator(0)
	if _, ok := a.Get(Reference(99)); ok {
		t.Fatal("Get must return ok=false for an unknown reference")
	}
	if _, ok := a.Get(Reference(0)); ok {
		t.Fatal("Get must return ok=false for the null reference")
	}
}

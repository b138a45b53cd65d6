package persist

import (
	"path/filepath"
	"testing"
)

func TestFileAllocatorCreatesAndPersistsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.mist")

	a, err := OpenFile(path, 4096)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if a.IsCorrupt() {
		t.Fatal("a freshly created file must not be reported corrupt")
	}

	ref, data, err := a.Allocate(TypeHistogramRecord, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(data, []byte("abcdefgh"))
	a.MakeIterable(ref)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFile(path, 4096)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.IsCorrupt() {
		t.Fatal("reopening a cleanly closed file must not report corrupt")
	}

	var found []byte
	reopened.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		if typeID == TypeHistogramRecord {
			found = append([]byte(nil), data...)
		}
		return true
	})
	if string(found) != "abcdefgh" {
		t.Fatalf("found = %q, want %q", found, "abcdefgh")
	}
}

func TestFileAllocatorRejectsCapacityMismatchOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.mist")

	a, err := OpenFile(path, 4096)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	a.Close()

	if _, err := OpenFile(path, 8192); err == nil {
		t.Fatal("expected an error reopening with a different capacity")
	}
}

func TestFileAllocatorIsFullAndAllocateFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.mist")

	a, err := OpenFile(path, fileHeaderSize+recordHeaderSize+4)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Allocate(TypeHistogramRecord, 4); err != nil {
		t.Fatalf("Allocate within capacity: %v", err)
	}
	if !a.IsFull() {
		t.Fatal("allocator with no room for another record header must report full")
	}
	if _, _, err := a.Allocate(TypeHistogramRecord, 1); err == nil {
		t.Fatal("expected an error allocating past capacity")
	}
}

func TestOpenFileReadOnlySharesAWriterHeldSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.mist")

	writer, err := OpenFile(path, 4096)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer writer.Close()

	ref, data, err := writer.Allocate(TypeHistogramRecord, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(data, []byte("liveliv1"))
	writer.MakeIterable(ref)

	reader, err := OpenFileReadOnly(path, 4096)
	if err != nil {
		t.Fatalf("OpenFileReadOnly must succeed while a writer still holds the segment open: %v", err)
	}
	defer reader.Close()

	if reader.IsCorrupt() {
		t.Fatal("a reader opened against a healthy writer-held segment must not report corrupt")
	}

	var found []byte
	reader.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		if typeID == TypeHistogramRecord {
			found = append([]byte(nil), data...)
		}
		return true
	})
	if string(found) != "liveliv1" {
		t.Fatalf("found = %q, want %q", found, "liveliv1")
	}

	if _, _, err := reader.Allocate(TypeHistogramRecord, 4); err == nil {
		t.Fatal("Allocate on a read-only handle must fail")
	}
}

func TestFileAllocatorDetectsHeaderCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.mist")

	a, err := OpenFile(path, 4096)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	// Flip a byte inside the magic preamble to simulate corruption, then
	// close and reopen to force header revalidation.
	a.data[0] ^= 0xFF
	a.Close()

	reopened, err := OpenFile(path, 4096)
	if err != nil {
		t.Fatalf("reopen after corrupting magic: %v", err)
	}
	defer reopened.Close()

	if !reopened.IsCorrupt() {
		t.Fatal("reopening a file with a corrupted magic preamble must report corrupt")
	}
	if _, _, err := reopened.Allocate(TypeHistogramRecord, 4); err == nil {
		t.Fatal("Allocate on a corrupt allocator must fail")
	}
}

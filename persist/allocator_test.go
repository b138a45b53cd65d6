package persist

import (
	"testing"

	"github.com/greynewell/mist-histogram/histogram"
)

func TestHistogramRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := HistogramRecord{
		NameHash:    12345,
		Flags:       int32(histogram.FlagUMATargeted),
		BucketCount: 10,
		RangesRef:   7,
		CountsRef:   8,
		MetaRef:     9,
		Name:        "Latency",
	}
	got, err := DecodeHistogramRecord(r.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestHistogramRecordDecodeRejectsTruncated(t *testing.T) {
	if _, err := DecodeHistogramRecord([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error decoding a truncated histogram record")
	}
}

func TestSparseSampleRecordRoundTrip(t *testing.T) {
	r := SparseSampleRecord{ID: 99, Value: -5, Count: 42}
	got, err := DecodeSparseSampleRecord(r.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}
	if len(r.Encode()) != SparseSampleRecordSize {
		t.Fatalf("encoded size = %d, want %d", len(r.Encode()), SparseSampleRecordSize)
	}
}

func TestSampleStoreMetaRoundTrip(t *testing.T) {
	m := SampleStoreMeta{ID: 1, Sum: -500, RedundantCount: 3, SingleSample: 0xABCD}
	got, err := DecodeSampleStoreMeta(m.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
	if len(m.Encode()) != SampleStoreMetaSize {
		t.Fatalf("encoded size = %d, want %d", len(m.Encode()), SampleStoreMetaSize)
	}
}

func TestRangesManagerCanonicalizesByChecksum(t *testing.T) {
	ranges := histogram.NewLinear("X", 1, 100, 10).Ranges()

	m := NewRangesManager()
	first, dup := m.Canonicalize(ranges, Reference(1))
	if dup {
		t.Fatal("first sighting must not be reported as a duplicate")
	}
	if first != Reference(1) {
		t.Fatalf("first = %v, want 1", first)
	}

	second, dup := m.Canonicalize(ranges, Reference(2))
	if !dup {
		t.Fatal("second sighting of the same checksum must be reported as a duplicate")
	}
	if second != Reference(1) {
		t.Fatalf("second = %v, want the original reference 1", second)
	}
}

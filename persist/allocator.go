// Package persist implements the Allocator contract the histogram core
// depends on for sharing a segment of record storage across processes, plus
// the bit-exact record layouts that flow through it. The core never knows
// whether it is backed by MemAllocator (heap, single process) or
// FileAllocator (mmap, shared across a supervisor and its subordinates).
package persist

import (
	"encoding/binary"
	"sync"

	misterrors "github.com/greynewell/mist-histogram/errors"
	"github.com/greynewell/mist-histogram/histogram"
)

// Record type ids. Bumped whenever the corresponding layout changes, so a
// reader can ignore records written by an incompatible version instead of
// misinterpreting their bytes.
const (
	TypeHistogramRecord    uint32 = 1
	TypeSparseSampleRecord uint32 = 2
	TypeSampleStoreMeta    uint32 = 3
	TypeCountsBlock        uint32 = 4
	TypeBucketRangesRecord uint32 = 5
)

// alignUp rounds n up to the next multiple of 8. Every allocation this
// package makes keeps to this alignment so a Sum field (int64) or any
// per-bucket int32 landed on by a later allocation can be addressed
// atomically no matter where it falls in the arena.
func alignUp(n uint32) uint32 {
	return (n + 7) &^ 7
}

// allocatePadded allocates alignUp(logicalSize) bytes tagged typeID and
// returns the full (possibly larger than logicalSize) payload view; callers
// slice down to the size they actually need.
func allocatePadded(alloc Allocator, typeID uint32, logicalSize uint32) (Reference, []byte, error) {
	padded := alignUp(logicalSize)
	if padded == 0 {
		padded = 8
	}
	return alloc.Allocate(typeID, padded)
}

// Reference addresses one allocation inside an Allocator. The zero value
// means "no reference", mirroring a null pointer.
type Reference uint32

// Allocator is the only storage primitive the core depends on: allocation,
// iteration in strict creation order, a "make iterable" commitment step,
// and fullness/corruption flags.
type Allocator interface {
	// Allocate reserves size bytes tagged with typeID and returns a
	// reference to them along with a byte slice view the caller may fill
	// in directly. The record is not visible to Iterate until MakeIterable
	// is called on the returned reference.
	Allocate(typeID uint32, size uint32) (Reference, []byte, error)
	// Get returns the byte slice backing ref, or ok=false if ref is
	// unknown (zero, out of range, or the allocator has been closed).
	Get(ref Reference) (data []byte, ok bool)
	// MakeIterable commits ref: it becomes visible to future Iterate
	// calls, in the order MakeIterable was called.
	MakeIterable(ref Reference)
	// Iterate walks every committed record in insertion order, calling fn
	// with its type id, reference, and backing bytes. Iterate stops early
	// if fn returns false.
	Iterate(fn func(typeID uint32, ref Reference, data []byte) bool)
	// IsFull reports whether the allocator has exhausted its capacity.
	// Histograms whose allocation fails transparently fall back to the
	// heap with the persistent flag cleared; see histogram.CodeAllocatorFull.
	IsFull() bool
	// IsCorrupt reports whether this allocator's backing storage failed an
	// integrity check on open and must not be trusted for reads.
	IsCorrupt() bool
}

// HistogramRecord is the bit-exact layout persisted per histogram, shared
// across processes that map the same allocator segment. RangesRef, CountsRef
// and MetaRef point at the histogram's live backing blocks elsewhere in the
// same allocator: a reader resolves them with Allocator.Get and gets the
// exact bytes the writer's Store reads and writes, not a snapshot. Field
// order matches the wire layout exactly: changing it requires bumping
// TypeHistogramRecord.
type HistogramRecord struct {
	NameHash    uint64
	Flags       int32
	BucketCount uint32
	RangesRef   uint32
	CountsRef   uint32
	MetaRef     uint32
	Name        string
}

// HistogramRecordFixedSize is the byte length of every HistogramRecord field
// up to and including MetaRef; Name follows as NUL-terminated bytes of
// variable length.
const HistogramRecordFixedSize = 8 + 4 + 4 + 4 + 4 + 4

// Encode serializes r into the exact on-disk layout described above.
func (r HistogramRecord) Encode() []byte {
	buf := make([]byte, HistogramRecordFixedSize+len(r.Name)+1)
	binary.LittleEndian.PutUint64(buf[0:8], r.NameHash)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Flags))
	binary.LittleEndian.PutUint32(buf[12:16], r.BucketCount)
	binary.LittleEndian.PutUint32(buf[16:20], r.RangesRef)
	binary.LittleEndian.PutUint32(buf[20:24], r.CountsRef)
	binary.LittleEndian.PutUint32(buf[24:28], r.MetaRef)
	copy(buf[28:], r.Name)
	return buf
}

// DecodeHistogramRecord parses the layout Encode produces. It returns an
// error (rather than panicking) on a truncated buffer, matching the "invalid
// wire record on deserialization: return null" rule.
func DecodeHistogramRecord(data []byte) (HistogramRecord, error) {
	if len(data) < HistogramRecordFixedSize+1 {
		return HistogramRecord{}, misterrors.New(histogram.CodeWireFormat, "histogram record shorter than fixed layout")
	}
	r := HistogramRecord{
		NameHash:    binary.LittleEndian.Uint64(data[0:8]),
		Flags:       int32(binary.LittleEndian.Uint32(data[8:12])),
		BucketCount: binary.LittleEndian.Uint32(data[12:16]),
		RangesRef:   binary.LittleEndian.Uint32(data[16:20]),
		CountsRef:   binary.LittleEndian.Uint32(data[20:24]),
		MetaRef:     binary.LittleEndian.Uint32(data[24:28]),
	}
	nameBytes := data[28:]
	nul := len(nameBytes)
	for i, b := range nameBytes {
		if b == 0 {
			nul = i
			break
		}
	}
	r.Name = string(nameBytes[:nul])
	return r, nil
}

// SparseSampleRecord is one (key, count) pair in a persisted sparse
// histogram's sample map. kExpectedInstanceSize = 16 bytes.
type SparseSampleRecord struct {
	ID    uint64
	Value int32
	Count int32
}

const SparseSampleRecordSize = 16

func (r SparseSampleRecord) Encode() []byte {
	buf := make([]byte, SparseSampleRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.ID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Value))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Count))
	return buf
}

func DecodeSparseSampleRecord(data []byte) (SparseSampleRecord, error) {
	if len(data) < SparseSampleRecordSize {
		return SparseSampleRecord{}, misterrors.New(histogram.CodeWireFormat, "sparse sample record shorter than 16 bytes")
	}
	return SparseSampleRecord{
		ID:    binary.LittleEndian.Uint64(data[0:8]),
		Value: int32(binary.LittleEndian.Uint32(data[8:12])),
		Count: int32(binary.LittleEndian.Uint32(data[12:16])),
	}, nil
}

// SampleStoreMeta is the per-histogram metadata block tracking the
// single-sample fast path and the running sum/redundant-count used for
// corruption detection. kExpectedInstanceSize = 24 bytes.
type SampleStoreMeta struct {
	ID             uint64
	Sum            int64
	RedundantCount int32
	SingleSample   uint32
}

const SampleStoreMetaSize = 24

func (m SampleStoreMeta) Encode() []byte {
	buf := make([]byte, SampleStoreMetaSize)
	binary.LittleEndian.PutUint64(buf[0:8], m.ID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Sum))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(m.RedundantCount))
	binary.LittleEndian.PutUint32(buf[20:24], m.SingleSample)
	return buf
}

func DecodeSampleStoreMeta(data []byte) (SampleStoreMeta, error) {
	if len(data) < SampleStoreMetaSize {
		return SampleStoreMeta{}, misterrors.New(histogram.CodeWireFormat, "sample store meta shorter than 24 bytes")
	}
	return SampleStoreMeta{
		ID:             binary.LittleEndian.Uint64(data[0:8]),
		Sum:            int64(binary.LittleEndian.Uint64(data[8:16])),
		RedundantCount: int32(binary.LittleEndian.Uint32(data[16:20])),
		SingleSample:   binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// RangesManager canonicalizes bucket ranges discovered via allocator
// iteration against locally constructed ones, so histograms that share the
// same shape reference the same allocator blob instead of duplicating it.
type RangesManager struct {
	mu         sync.Mutex
	byChecksum map[uint32]Reference
}

// NewRangesManager creates an empty manager.
func NewRangesManager() *RangesManager {
	return &RangesManager{byChecksum: make(map[uint32]Reference)}
}

// Canonicalize returns the reference previously registered for ranges'
// checksum, or registers ref as the canonical one if this is the first
// sighting. The second return value is true when ref was already canonical
// (the caller should free its own allocation and use the returned one).
func (m *RangesManager) Canonicalize(ranges *histogram.BucketRanges, ref Reference) (Reference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byChecksum[ranges.Checksum]; ok {
		return existing, true
	}
	m.byChecksum[ranges.Checksum] = ref
	return ref, false
}

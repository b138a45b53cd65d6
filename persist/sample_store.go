package persist

import (
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/greynewell/mist-histogram/histogram"
)

// PersistentSampleVector is a dense histogram.Store whose counts live in an
// allocator-owned counts block instead of process memory. Every Accumulate,
// MergeBuckets and SubtractBuckets lands directly on the shared bytes, so
// any process with the same block mapped observes the write without a
// separate import step.
type PersistentSampleVector struct {
	id     uint64
	n      int
	counts []byte // n * 4 bytes, one int32 per bucket
	meta   []byte // SampleStoreMetaSize bytes: ID, Sum, RedundantCount, SingleSample
}

func newPersistentSampleVector(id uint64, n int, counts, meta []byte) *PersistentSampleVector {
	return &PersistentSampleVector{id: id, n: n, counts: counts, meta: meta}
}

func (v *PersistentSampleVector) sumPtr() *int64       { return (*int64)(unsafe.Pointer(&v.meta[8])) }
func (v *PersistentSampleVector) redundantPtr() *int32 { return (*int32)(unsafe.Pointer(&v.meta[16])) }
func (v *PersistentSampleVector) countPtr(key int32) *int32 {
	return (*int32)(unsafe.Pointer(&v.counts[int(key)*4]))
}

func (v *PersistentSampleVector) ID() uint64           { return v.id }
func (v *PersistentSampleVector) Sum() int64           { return atomic.LoadInt64(v.sumPtr()) }
func (v *PersistentSampleVector) RedundantCount() int32 { return atomic.LoadInt32(v.redundantPtr()) }

// Accumulate adds delta (always positive) to bucket key and updates the
// running sum and redundant count. It reports false for an out-of-range key.
func (v *PersistentSampleVector) Accumulate(key int32, delta int32, sumDelta int64) bool {
	if delta <= 0 || key < 0 || int(key) >= v.n {
		return false
	}
	atomic.AddInt32(v.countPtr(key), delta)
	atomic.AddInt64(v.sumPtr(), sumDelta)
	atomic.AddInt32(v.redundantPtr(), delta)
	return true
}

// Buckets returns every bucket with a non-zero count, in key order.
func (v *PersistentSampleVector) Buckets() []histogram.Bucket {
	var out []histogram.Bucket
	for i := 0; i < v.n; i++ {
		if c := atomic.LoadInt32(v.countPtr(int32(i))); c != 0 {
			out = append(out, histogram.Bucket{Key: int32(i), Count: c})
		}
	}
	return out
}

// ExtractAll atomically drains sum, redundant count and every bucket back to
// zero, returning what was drained.
func (v *PersistentSampleVector) ExtractAll() (int64, int32, []histogram.Bucket) {
	sum := atomic.SwapInt64(v.sumPtr(), 0)
	redundant := atomic.SwapInt32(v.redundantPtr(), 0)
	var out []histogram.Bucket
	for i := 0; i < v.n; i++ {
		if c := atomic.SwapInt32(v.countPtr(int32(i)), 0); c != 0 {
			out = append(out, histogram.Bucket{Key: int32(i), Count: c})
		}
	}
	return sum, redundant, out
}

// MergeBuckets adds sum, redundant count and every bucket's count into v.
func (v *PersistentSampleVector) MergeBuckets(sum int64, redundant int32, buckets []histogram.Bucket) {
	atomic.AddInt64(v.sumPtr(), sum)
	atomic.AddInt32(v.redundantPtr(), redundant)
	for _, b := range buckets {
		if b.Key >= 0 && int(b.Key) < v.n {
			atomic.AddInt32(v.countPtr(b.Key), b.Count)
		}
	}
}

// SubtractBuckets removes sum, redundant count and every bucket's count from
// v, reporting false if any bucket key falls outside v's range.
func (v *PersistentSampleVector) SubtractBuckets(sum int64, redundant int32, buckets []histogram.Bucket) bool {
	for _, b := range buckets {
		if b.Key < 0 || int(b.Key) >= v.n {
			return false
		}
	}
	atomic.AddInt64(v.sumPtr(), -sum)
	atomic.AddInt32(v.redundantPtr(), -redundant)
	for _, b := range buckets {
		atomic.AddInt32(v.countPtr(b.Key), -b.Count)
	}
	return true
}

var _ histogram.Store = (*PersistentSampleVector)(nil)

// PersistentSparseMap is a sparse histogram.Store whose per-key counts live
// in lazily-allocated SparseSampleRecord entries inside the same allocator,
// discovered by scanning for records tagged with the histogram's name hash.
// A key seen by one process becomes visible to any other process holding a
// cellFor lookup against the same key, via the shared record bytes; a
// process that has not yet looked up a brand-new key only sees it after its
// own next Iterate-driven scan (this package's collector re-scans on every
// run), so a key racing its own first creation across two processes is not
// perfectly deduplicated — acceptable, since nothing downstream depends on
// exact dedup of concurrent first-writes to a key, only on already-known
// keys observing further updates live.
type PersistentSparseMap struct {
	id    uint64
	alloc Allocator
	meta  []byte // SampleStoreMetaSize bytes

	mu    sync.RWMutex
	cells map[int32][]byte // key -> SparseSampleRecord bytes (ID, Value, Count)
}

func newPersistentSparseMap(alloc Allocator, id uint64, meta []byte) *PersistentSparseMap {
	m := &PersistentSparseMap{id: id, alloc: alloc, meta: meta, cells: make(map[int32][]byte)}
	alloc.Iterate(func(typeID uint32, ref Reference, data []byte) bool {
		if typeID != TypeSparseSampleRecord || len(data) < SparseSampleRecordSize {
			return true
		}
		rec, err := DecodeSparseSampleRecord(data)
		if err != nil || rec.ID != id {
			return true
		}
		m.cells[rec.Value] = data[:SparseSampleRecordSize]
		return true
	})
	return m
}

func (m *PersistentSparseMap) sumPtr() *int64       { return (*int64)(unsafe.Pointer(&m.meta[8])) }
func (m *PersistentSparseMap) redundantPtr() *int32 { return (*int32)(unsafe.Pointer(&m.meta[16])) }
func cellCountPtr(cell []byte) *int32               { return (*int32)(unsafe.Pointer(&cell[12])) }

func (m *PersistentSparseMap) ID() uint64            { return m.id }
func (m *PersistentSparseMap) Sum() int64            { return atomic.LoadInt64(m.sumPtr()) }
func (m *PersistentSparseMap) RedundantCount() int32 { return atomic.LoadInt32(m.redundantPtr()) }

// cellFor returns the live bytes backing key's count, allocating and
// committing a new SparseSampleRecord on first use.
func (m *PersistentSparseMap) cellFor(key int32) []byte {
	m.mu.RLock()
	cell, ok := m.cells[key]
	m.mu.RUnlock()
	if ok {
		return cell
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cell, ok := m.cells[key]; ok {
		return cell
	}
	rec := SparseSampleRecord{ID: m.id, Value: key}
	ref, data, err := allocatePadded(m.alloc, TypeSparseSampleRecord, SparseSampleRecordSize)
	if err != nil {
		return nil
	}
	copy(data, rec.Encode())
	m.alloc.MakeIterable(ref)
	cell := data[:SparseSampleRecordSize]
	m.cells[key] = cell
	return cell
}

// Accumulate adds delta (always positive) to key's count.
func (m *PersistentSparseMap) Accumulate(key int32, delta int32, sumDelta int64) bool {
	if delta <= 0 {
		return false
	}
	cell := m.cellFor(key)
	if cell == nil {
		return false
	}
	atomic.AddInt32(cellCountPtr(cell), delta)
	atomic.AddInt64(m.sumPtr(), sumDelta)
	atomic.AddInt32(m.redundantPtr(), delta)
	return true
}

// Buckets returns every key with a non-zero count, sorted by key.
func (m *PersistentSparseMap) Buckets() []histogram.Bucket {
	m.mu.RLock()
	cells := make(map[int32][]byte, len(m.cells))
	for k, c := range m.cells {
		cells[k] = c
	}
	m.mu.RUnlock()

	out := make([]histogram.Bucket, 0, len(cells))
	for k, c := range cells {
		if n := atomic.LoadInt32(cellCountPtr(c)); n != 0 {
			out = append(out, histogram.Bucket{Key: k, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ExtractAll atomically drains sum, redundant count and every key's count
// back to zero, returning what was drained, sorted by key.
func (m *PersistentSparseMap) ExtractAll() (int64, int32, []histogram.Bucket) {
	sum := atomic.SwapInt64(m.sumPtr(), 0)
	redundant := atomic.SwapInt32(m.redundantPtr(), 0)

	m.mu.RLock()
	cells := make(map[int32][]byte, len(m.cells))
	for k, c := range m.cells {
		cells[k] = c
	}
	m.mu.RUnlock()

	var out []histogram.Bucket
	for k, c := range cells {
		if n := atomic.SwapInt32(cellCountPtr(c), 0); n != 0 {
			out = append(out, histogram.Bucket{Key: k, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return sum, redundant, out
}

// MergeBuckets adds sum, redundant count and every bucket's count into m.
func (m *PersistentSparseMap) MergeBuckets(sum int64, redundant int32, buckets []histogram.Bucket) {
	atomic.AddInt64(m.sumPtr(), sum)
	atomic.AddInt32(m.redundantPtr(), redundant)
	for _, b := range buckets {
		if cell := m.cellFor(b.Key); cell != nil {
			atomic.AddInt32(cellCountPtr(cell), b.Count)
		}
	}
}

// SubtractBuckets removes sum, redundant count and every bucket's count
// from m, reporting false if any key's backing cell cannot be allocated.
func (m *PersistentSparseMap) SubtractBuckets(sum int64, redundant int32, buckets []histogram.Bucket) bool {
	cells := make([][]byte, len(buckets))
	for i, b := range buckets {
		cell := m.cellFor(b.Key)
		if cell == nil {
			return false
		}
		cells[i] = cell
	}
	atomic.AddInt64(m.sumPtr(), -sum)
	atomic.AddInt32(m.redundantPtr(), -redundant)
	for i, b := range buckets {
		atomic.AddInt32(cellCountPtr(cells[i]), -b.Count)
	}
	return true
}

var _ histogram.Store = (*PersistentSparseMap)(nil)

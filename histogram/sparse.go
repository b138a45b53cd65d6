package histogram

import (
	"sort"
	"sync"
	"sync/atomic"
)

// SparseSampleMap is the sample store backing sparse histograms: every
// distinct sample value is its own bucket of implicit width
// [value, value+1). There is no shared BucketRanges; keys in Bucket are
// raw sample values, not indices.
type SparseSampleMap struct {
	id             uint64
	sum            atomic.Int64
	redundantCount atomic.Int32

	mu     sync.RWMutex
	counts map[int32]*atomic.Int32
}

// NewSparseSampleMap creates an empty sparse store.
func NewSparseSampleMap(id uint64) *SparseSampleMap {
	return &SparseSampleMap{id: id, counts: make(map[int32]*atomic.Int32)}
}

func (s *SparseSampleMap) ID() uint64            { return s.id }
func (s *SparseSampleMap) Sum() int64            { return s.sum.Load() }
func (s *SparseSampleMap) RedundantCount() int32 { return s.redundantCount.Load() }

// Accumulate adds delta to the count for sample value key. If the key has
// never been seen, a new entry is created (the later of two racing
// creators discovers the earlier one and simply adds to it, so no count
// is ever lost to a concurrent Add/snapshot race).
func (s *SparseSampleMap) Accumulate(key int32, delta int32, sumDelta int64) bool {
	if delta <= 0 {
		return false
	}
	s.mu.RLock()
	cell, ok := s.counts[key]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		cell, ok = s.counts[key]
		if !ok {
			cell = &atomic.Int32{}
			s.counts[key] = cell
		}
		s.mu.Unlock()
	}
	cell.Add(delta)
	s.sum.Add(sumDelta)
	s.redundantCount.Add(delta)
	return true
}

// Buckets returns a snapshot of every nonzero bucket, ascending by key.
func (s *SparseSampleMap) Buckets() []Bucket {
	s.mu.RLock()
	out := make([]Bucket, 0, len(s.counts))
	for k, cell := range s.counts {
		if c := cell.Load(); c != 0 {
			out = append(out, Bucket{Key: k, Count: c})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ExtractAll atomically empties the store and returns what it held.
func (s *SparseSampleMap) ExtractAll() (int64, int32, []Bucket) {
	sum := s.sum.Swap(0)
	redundant := s.redundantCount.Swap(0)

	s.mu.RLock()
	cells := make(map[int32]*atomic.Int32, len(s.counts))
	for k, v := range s.counts {
		cells[k] = v
	}
	s.mu.RUnlock()

	out := make([]Bucket, 0, len(cells))
	for k, cell := range cells {
		if c := cell.Swap(0); c != 0 {
			out = append(out, Bucket{Key: k, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return sum, redundant, out
}

func (s *SparseSampleMap) cellFor(key int32) *atomic.Int32 {
	s.mu.RLock()
	cell, ok := s.counts[key]
	s.mu.RUnlock()
	if ok {
		return cell
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell, ok = s.counts[key]; ok {
		return cell
	}
	cell = &atomic.Int32{}
	s.counts[key] = cell
	return cell
}

// MergeBuckets adds the given snapshot into this store.
func (s *SparseSampleMap) MergeBuckets(sum int64, redundant int32, buckets []Bucket) {
	s.sum.Add(sum)
	s.redundantCount.Add(redundant)
	for _, b := range buckets {
		s.cellFor(b.Key).Add(b.Count)
	}
}

// SubtractBuckets removes the given snapshot from this store. Sparse
// stores never reject a subtract by shape — every key is its own bucket —
// so this always succeeds.
func (s *SparseSampleMap) SubtractBuckets(sum int64, redundant int32, buckets []Bucket) bool {
	s.sum.Add(-sum)
	s.redundantCount.Add(-redundant)
	for _, b := range buckets {
		s.cellFor(b.Key).Add(-b.Count)
	}
	return true
}

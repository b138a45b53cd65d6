package histogram

import (
	"sync"
	"sync/atomic"
)

// Bucket is one (key, count) pair surfaced by a Store snapshot. Key is a
// bucket index for dense stores (SampleVector) or the raw sample value for
// sparse stores (SparseSampleMap).
type Bucket struct {
	Key   int32
	Count int32
}

// Store is the uniform contract both SampleVector and SparseSampleMap
// satisfy. Histogram.unlogged and Histogram.logged are Stores; the
// histogram's snapshot, merge and subtract paths operate purely against
// this interface.
type Store interface {
	// ID is the histogram's name hash, captured once at construction.
	ID() uint64
	// Sum is the running total of sample*count, updated independently of
	// the per-bucket counts.
	Sum() int64
	// RedundantCount is the running total of count, also updated
	// independently of the per-bucket counts, for corruption detection.
	RedundantCount() int32
	// Buckets returns a point-in-time copy of every nonzero bucket in
	// ascending key order. It does not mutate the store.
	Buckets() []Bucket
	// Accumulate adds delta to the bucket identified by key, and adds
	// sumDelta to Sum and delta to RedundantCount. Returns false if the
	// store refuses the write: a non-positive delta, or (for a dense store)
	// a key outside its bucket range.
	Accumulate(key int32, delta int32, sumDelta int64) bool
	// ExtractAll atomically empties the store, returning its prior sum,
	// redundant count, and nonzero buckets.
	ExtractAll() (sum int64, redundant int32, buckets []Bucket)
	// MergeBuckets adds the given sum/redundant/buckets into this store.
	MergeBuckets(sum int64, redundant int32, buckets []Bucket)
	// SubtractBuckets removes the given sum/redundant/buckets from this
	// store. Returns false if the bucket shapes disagree (sparse source
	// keyed by a non-unit-width bucket against a differently-shaped
	// target, a known race-tolerance hazard).
	SubtractBuckets(sum int64, redundant int32, buckets []Bucket) bool
}

// SampleVector is the dense sample store backing bucketed histograms
// (exponential, linear, boolean, custom). It starts in the zero state
// (single-sample fast path) and upgrades itself to a full counts array the
// first time two different buckets are recorded, or the 16-bit inline
// count overflows.
type SampleVector struct {
	id             uint64
	n              int
	sum            atomic.Int64
	redundantCount atomic.Int32
	single         singleSample
	counts         atomic.Pointer[[]atomic.Int32]
	installMu      sync.Mutex
}

// NewSampleVector creates a dense store sized for bucketCount buckets.
func NewSampleVector(id uint64, bucketCount int) *SampleVector {
	return &SampleVector{id: id, n: bucketCount}
}

func (v *SampleVector) ID() uint64             { return v.id }
func (v *SampleVector) Sum() int64             { return v.sum.Load() }
func (v *SampleVector) RedundantCount() int32  { return v.redundantCount.Load() }

// ensureArray installs the counts array under the install lock, copying
// over any value still held in the single-sample slot exactly once.
func (v *SampleVector) ensureArray() []atomic.Int32 {
	if arr := v.counts.Load(); arr != nil {
		return *arr
	}
	v.installMu.Lock()
	defer v.installMu.Unlock()
	if arr := v.counts.Load(); arr != nil {
		return *arr
	}
	fresh := make([]atomic.Int32, v.n)
	if bucket, count, hadValue := v.single.extractAndDisable(); hadValue {
		fresh[bucket].Store(int32(count))
	}
	v.counts.Store(&fresh)
	return fresh
}

// Accumulate implements Store. key is the bucket index.
func (v *SampleVector) Accumulate(key int32, delta int32, sumDelta int64) bool {
	if key < 0 || int(key) >= v.n || delta <= 0 {
		return false
	}
	if arr := v.counts.Load(); arr == nil {
		if v.single.accumulate(key, int(delta)) {
			v.sum.Add(sumDelta)
			v.redundantCount.Add(delta)
			return true
		}
		// Fast path refused: promote to the array and retry there.
		v.ensureArray()
	}
	arr := *v.counts.Load()
	arr[key].Add(delta)
	v.sum.Add(sumDelta)
	v.redundantCount.Add(delta)
	return true
}

// Buckets returns a snapshot of every nonzero bucket, ascending by index.
func (v *SampleVector) Buckets() []Bucket {
	if arr := v.counts.Load(); arr != nil {
		var out []Bucket
		for i := range *arr {
			if c := (*arr)[i].Load(); c != 0 {
				out = append(out, Bucket{Key: int32(i), Count: c})
			}
		}
		return out
	}
	bucket, count, disabled := v.single.load()
	if disabled || count == 0 {
		return nil
	}
	return []Bucket{{Key: int32(bucket), Count: int32(count)}}
}

// ExtractAll atomically empties the store and returns what it held.
func (v *SampleVector) ExtractAll() (int64, int32, []Bucket) {
	sum := v.sum.Swap(0)
	redundant := v.redundantCount.Swap(0)

	if arr := v.counts.Load(); arr != nil {
		var out []Bucket
		for i := range *arr {
			if c := (*arr)[i].Swap(0); c != 0 {
				out = append(out, Bucket{Key: int32(i), Count: c})
			}
		}
		return sum, redundant, out
	}

	bucket, count, disabled := v.single.extract(0)
	if disabled || count == 0 {
		return sum, redundant, nil
	}
	return sum, redundant, []Bucket{{Key: int32(bucket), Count: int32(count)}}
}

// MergeBuckets adds the given snapshot into this store.
func (v *SampleVector) MergeBuckets(sum int64, redundant int32, buckets []Bucket) {
	v.sum.Add(sum)
	v.redundantCount.Add(redundant)
	if len(buckets) == 0 {
		return
	}
	arr := v.ensureArray()
	for _, b := range buckets {
		if int(b.Key) >= 0 && int(b.Key) < len(arr) {
			arr[b.Key].Add(b.Count)
		}
	}
}

// SubtractBuckets removes the given snapshot from this store.
func (v *SampleVector) SubtractBuckets(sum int64, redundant int32, buckets []Bucket) bool {
	v.sum.Add(-sum)
	v.redundantCount.Add(-redundant)
	if len(buckets) == 0 {
		return true
	}
	arr := v.ensureArray()
	for _, b := range buckets {
		if int(b.Key) < 0 || int(b.Key) >= len(arr) {
			return false
		}
		arr[b.Key].Add(-b.Count)
	}
	return true
}

package histogram

import "sync"

// ScaledLinearHistogram wraps a linear histogram (min=1, max=n,
// buckets=n+1) with a per-bucket fractional remainder so that values
// arriving in units smaller than one count (e.g. CPU basis points instead
// of whole percent) can still be recorded without allocating n times as
// many real histogram samples.
//
// Each bucket keeps a remainder of not-yet-flushed scaled units; once it
// reaches scale, one real count is flushed to the underlying histogram and
// scale is subtracted back out. Over many adds the reported total
// converges to addedCount/scale with error bounded to at most 1 per
// bucket.
type ScaledLinearHistogram struct {
	hist  *Histogram
	scale int32

	mu         sync.Mutex
	remainders []int32
}

// NewScaledLinear creates a scaled-linear wrapper over a fresh linear
// histogram with buckets [1, n], divided by scale.
func NewScaledLinear(name string, n int32, scale int32) *ScaledLinearHistogram {
	if scale < 1 {
		scale = 1
	}
	h := NewLinear(name, 1, n, int(n)+1)
	return &ScaledLinearHistogram{
		hist:       h,
		scale:      scale,
		remainders: make([]int32, n+2),
	}
}

// Histogram returns the underlying linear histogram that receives flushed
// whole counts.
func (s *ScaledLinearHistogram) Histogram() *Histogram { return s.hist }

// AddCount records count scaled units at bucket (a 1-based linear
// position, like the underlying histogram's sample values). count must be
// positive; the underlying histogram has no notion of a negative sample
// so there is nothing to flush a negative remainder into.
func (s *ScaledLinearHistogram) AddCount(bucket int32, count int32) {
	if count <= 0 {
		return
	}
	idx := bucket
	if idx < 0 {
		idx = 0
	}
	if int(idx) >= len(s.remainders) {
		idx = int32(len(s.remainders) - 1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remainders[idx] += count
	for s.remainders[idx] >= s.scale {
		s.hist.AddCount(int64(bucket), 1)
		s.remainders[idx] -= s.scale
	}
}

// Add records one scaled unit at bucket.
func (s *ScaledLinearHistogram) Add(bucket int32) {
	s.AddCount(bucket, 1)
}

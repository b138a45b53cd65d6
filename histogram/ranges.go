package histogram

import (
	"hash/crc32"

	misterrors "github.com/greynewell/mist-histogram/errors"
)

// MinBucketCount and MaxBucketCount bound the number of buckets any
// histogram may request after argument rectification.
const (
	MinBucketCount = 3
	MaxBucketCount = 1002
)

// BucketRanges is the immutable, ordered boundary vector shared by every
// histogram of a given shape. Ranges[i] is the inclusive lower bound of
// bucket i; Ranges[N] (the last entry) is SampleMax, the exclusive upper
// bound of the final bucket.
type BucketRanges struct {
	Ranges   []Sample
	Checksum uint32

	// PersistentRef is set when these ranges are backed by a record in a
	// shared persistent allocator segment, so identically-shaped
	// histograms in other processes can reference the same blob instead
	// of duplicating it. Zero means "heap only".
	PersistentRef uint32
}

// BucketCount returns the number of buckets these ranges describe.
func (r *BucketRanges) BucketCount() int {
	return len(r.Ranges) - 1
}

// computeChecksum mirrors protocol.Message.ComputeChecksum: a CRC32-IEEE
// over the raw bytes of the boundary vector.
func (r *BucketRanges) computeChecksum() uint32 {
	buf := make([]byte, 0, len(r.Ranges)*4)
	for _, v := range r.Ranges {
		buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return crc32.ChecksumIEEE(buf)
}

// finalize computes and stores the checksum. Called once, at construction,
// before the ranges are ever published to the registry.
func (r *BucketRanges) finalize() {
	r.Checksum = r.computeChecksum()
}

// VerifyChecksum recomputes the checksum and compares it against the
// stored value. A mismatch means the ranges were mutated after
// construction or the persistent backing record is corrupt — a fatal
// integrity signal during snapshotting.
func (r *BucketRanges) VerifyChecksum() bool {
	return r.Checksum == r.computeChecksum()
}

// Monotonic reports whether the ranges are strictly increasing, as
// required of any registered BucketRanges.
func (r *BucketRanges) Monotonic() bool {
	for i := 1; i < len(r.Ranges); i++ {
		if r.Ranges[i] <= r.Ranges[i-1] {
			return false
		}
	}
	return true
}

// BucketIndex performs a binary search over the shared ranges for the
// bucket containing sample. Values below the first boundary land in
// bucket 0 (underflow); values at or above the last interior boundary
// land in the final bucket (overflow).
func (r *BucketRanges) BucketIndex(sample Sample) int {
	n := r.BucketCount()
	lo, hi := 0, n-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if r.Ranges[mid] <= sample {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// ConstructionArgs are the caller-supplied parameters for a bucketed
// histogram, before rectification.
type ConstructionArgs struct {
	Min, Max    Sample
	BucketCount int
}

// InspectConstructionArguments rectifies out-of-bounds construction
// arguments in place and reports whether it had to change anything. The
// record is still usable after rectification — callers never fail, they
// get a slightly different (but valid) shape back.
func InspectConstructionArguments(args *ConstructionArgs) (rectified bool) {
	if args.Min > args.Max {
		args.Min, args.Max = args.Max, args.Min
		rectified = true
	}
	if args.Min < 1 {
		args.Min = 1
		rectified = true
	}
	if args.Max > SampleMax-1 {
		args.Max = SampleMax - 1
		rectified = true
	}
	if args.BucketCount < MinBucketCount {
		args.BucketCount = MinBucketCount
		rectified = true
	}
	maxForRange := int(args.Max-args.Min) + 2
	if args.BucketCount > maxForRange {
		args.BucketCount = maxForRange
		rectified = true
	}
	if args.BucketCount > MaxBucketCount {
		args.BucketCount = MaxBucketCount
		rectified = true
	}
	return rectified
}

// NewExponentialRanges divides the log-space between min and max into
// bucketCount-2 pieces. Whenever the computed next boundary would not be
// strictly greater than the current one, it is bumped by one until it is —
// this keeps the ranges strictly monotonic even for narrow, low-count
// histograms.
func NewExponentialRanges(bucketCount int, min, max Sample) *BucketRanges {
	n := bucketCount
	ranges := make([]Sample, n+1)
	ranges[0] = 0
	ranges[n] = SampleMax

	current := min
	ranges[1] = current

	if n > 2 {
		logMax := fastLog(float64(max))
		logCurrent := fastLog(float64(current))
		logRatio := (logMax - logCurrent) / float64(n-2)

		for i := 2; i < n; i++ {
			logNext := logCurrent + logRatio
			next := Sample(expRound(logNext))
			if next <= current {
				next = current + 1
			}
			current = next
			logCurrent = fastLog(float64(current))
			ranges[i] = current
		}
	}

	r := &BucketRanges{Ranges: ranges}
	r.finalize()
	return r
}

// NewLinearRanges spaces boundaries by equal arithmetic intervals of
// (max-min)/(bucketCount-2), rounded to the nearest integer.
func NewLinearRanges(bucketCount int, min, max Sample) *BucketRanges {
	n := bucketCount
	ranges := make([]Sample, n+1)
	ranges[0] = 0
	ranges[n] = SampleMax

	if n <= 2 {
		ranges[1] = min
	} else {
		step := float64(max-min) / float64(n-2)
		current := float64(min)
		prev := Sample(0)
		for i := 1; i < n; i++ {
			next := Sample(current + 0.5)
			if i > 1 && next <= prev {
				next = prev + 1
			}
			ranges[i] = next
			prev = next
			current += step
		}
	}

	r := &BucketRanges{Ranges: ranges}
	r.finalize()
	return r
}

// NewBooleanRanges is the linear layout fixed at min=1, max=2, n=3:
// ranges [0, 1, 2, SampleMax].
func NewBooleanRanges() *BucketRanges {
	return NewLinearRanges(3, 1, 2)
}

// NewCustomRanges builds ranges from caller-supplied interior boundaries.
// 0 and SampleMax are appended, the result is sorted and deduplicated, and
// at least one interior boundary must be strictly positive.
func NewCustomRanges(interior []Sample) (*BucketRanges, error) {
	all := make([]Sample, 0, len(interior)+2)
	all = append(all, 0)
	hasPositive := false
	for _, v := range interior {
		if v > 0 {
			hasPositive = true
		}
		if v > SampleMax-1 {
			return nil, misterrors.New(CodeValidation, "custom range boundary exceeds SampleMax-1")
		}
		all = append(all, v)
	}
	if !hasPositive {
		return nil, misterrors.New(CodeValidation, "custom ranges require at least one boundary > 0")
	}
	all = append(all, SampleMax)

	sortUnique := dedupeSorted(all)
	if len(sortUnique) < MinBucketCount+1 {
		return nil, misterrors.New(CodeValidation, "custom ranges produced too few buckets")
	}

	r := &BucketRanges{Ranges: sortUnique}
	r.finalize()
	return r, nil
}

func dedupeSorted(in []Sample) []Sample {
	sorted := append([]Sample(nil), in...)
	insertionSort(sorted)
	out := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func insertionSort(s []Sample) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

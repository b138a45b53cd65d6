package histogram

// RecordChecker lets a caller suppress creation of real histograms by
// name hash. The decision is consulted once, at creation time, and is
// assumed stable thereafter — factory construction never re-checks it.
type RecordChecker interface {
	ShouldRecord(hash uint64) bool
}

// mismatchedConstructionArguments is the process-wide sparse meta-
// histogram: whenever two histograms sharing a name hash disagree on
// their construction parameters, one sample keyed by the hash is
// recorded here instead of failing the call.
var mismatchedConstructionArguments = NewSparse("Histogram.MismatchedConstructionArguments")

// MismatchedConstructionArguments returns the shared meta-histogram that
// records construction-parameter collisions.
func MismatchedConstructionArguments() *Histogram { return mismatchedConstructionArguments }

// RecordMismatch records one sample against the meta-histogram, keyed by
// the colliding name hash reduced into the sample range.
func RecordMismatch(hash uint64) {
	mismatchedConstructionArguments.Add(int64(hash % uint64(SampleMax-1)))
}

func newBase(name string, kind Kind) *Histogram {
	return &Histogram{name: name, nameHash: HashName(name), kind: kind}
}

// NewExponential constructs an exponential-layout histogram. Construction
// arguments are rectified before the ranges are built.
func NewExponential(name string, min, max Sample, bucketCount int) *Histogram {
	args := ConstructionArgs{Min: min, Max: max, BucketCount: bucketCount}
	InspectConstructionArguments(&args)

	h := newBase(name, KindExponential)
	h.min, h.max, h.bucketCount = args.Min, args.Max, args.BucketCount
	h.ranges = NewExponentialRanges(args.BucketCount, args.Min, args.Max)
	h.unlogged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	h.logged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	return h
}

// NewLinear constructs a linear-layout histogram.
func NewLinear(name string, min, max Sample, bucketCount int) *Histogram {
	args := ConstructionArgs{Min: min, Max: max, BucketCount: bucketCount}
	InspectConstructionArguments(&args)

	h := newBase(name, KindLinear)
	h.min, h.max, h.bucketCount = args.Min, args.Max, args.BucketCount
	h.ranges = NewLinearRanges(args.BucketCount, args.Min, args.Max)
	h.unlogged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	h.logged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	return h
}

// NewBoolean constructs a boolean histogram: linear, min=1, max=2, n=3.
func NewBoolean(name string) *Histogram {
	h := newBase(name, KindBoolean)
	h.min, h.max, h.bucketCount = 1, 2, 3
	h.ranges = NewBooleanRanges()
	h.unlogged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	h.logged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	return h
}

// NewCustom constructs a histogram from caller-supplied interior
// boundaries (see NewCustomRanges for the rectification rules).
func NewCustom(name string, interior []Sample) (*Histogram, error) {
	ranges, err := NewCustomRanges(interior)
	if err != nil {
		return nil, err
	}
	h := newBase(name, KindCustom)
	h.ranges = ranges
	h.bucketCount = ranges.BucketCount()
	h.unlogged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	h.logged = NewSampleVector(h.nameHash, h.ranges.BucketCount())
	return h, nil
}

// NewSparse constructs a sparse histogram: no shared BucketRanges, each
// distinct sample is its own bucket.
func NewSparse(name string) *Histogram {
	h := newBase(name, KindSparse)
	h.unlogged = NewSparseSampleMap(h.nameHash)
	h.logged = NewSparseSampleMap(h.nameHash)
	return h
}

// NewWithRanges constructs a bucketed histogram directly from pre-built
// ranges, bypassing range computation entirely. It is used by the persist
// package when reconstructing a histogram from a persisted record, where
// the ranges must match the writer's exactly rather than be recomputed from
// min/max/bucketCount (which would disagree with the original for anything
// but linear spacing).
func NewWithRanges(name string, kind Kind, ranges *BucketRanges) *Histogram {
	h := newBase(name, kind)
	h.ranges = ranges
	h.bucketCount = ranges.BucketCount()
	h.unlogged = NewSampleVector(h.nameHash, h.bucketCount)
	h.logged = NewSampleVector(h.nameHash, h.bucketCount)
	return h
}

// NewDummy constructs an expired (intentionally-not-recorded) histogram.
// Every record operation on it is a no-op and every snapshot is empty; it
// compares as "equal construction" against any request, so a dummy never
// triggers a mismatch report.
func NewDummy(name string) *Histogram {
	return newBase(name, KindDummy)
}

// MatchesShape reports whether h was built with kind and, for families with
// a fixed min/max/bucketCount, the given values. It is the registry's cheap
// pre-check on a lookup hit: unlike SameConstruction, it needs no candidate
// histogram (and so no BucketRanges or sample store) built just to be
// thrown away when the shapes already agree.
func (h *Histogram) MatchesShape(kind Kind, min, max Sample, bucketCount int) bool {
	if h.isDummy() {
		return true
	}
	if h.kind != kind {
		return false
	}
	switch h.kind {
	case KindSparse, KindBoolean:
		return true
	default:
		return h.min == min && h.max == max && h.bucketCount == bucketCount
	}
}

// SameConstruction reports whether other was built with the same kind and
// shape as h — the check the registry uses to decide between
// deduplicating a lookup and reporting a mismatch. A dummy always
// compares equal to anything.
func (h *Histogram) SameConstruction(other *Histogram) bool {
	if h.isDummy() || other.isDummy() {
		return true
	}
	if h.kind != other.kind {
		return false
	}
	switch h.kind {
	case KindSparse:
		return true
	case KindBoolean:
		return true
	default:
		return h.min == other.min && h.max == other.max && h.bucketCount == other.bucketCount
	}
}

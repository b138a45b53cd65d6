package histogram

import (
	"math/rand/v2"
	"sync/atomic"
)

// Kind tags which of the five concrete histogram families (plus the
// expired/dummy placeholder) a Histogram is, since every family shares the
// same Histogram struct and is distinguished by this tag rather than by
// separate types.
type Kind int

const (
	KindExponential Kind = iota
	KindLinear
	KindBoolean
	KindCustom
	KindSparse
	KindDummy
)

func (k Kind) String() string {
	switch k {
	case KindExponential:
		return "exponential"
	case KindLinear:
		return "linear"
	case KindBoolean:
		return "boolean"
	case KindCustom:
		return "custom"
	case KindSparse:
		return "sparse"
	case KindDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// Flags is the per-histogram flag bitset.
type Flags uint32

const (
	FlagUMATargeted Flags = 1 << iota
	FlagUMAStability
	FlagIPCSerializationSource
	FlagCallbackExists
	FlagIsPersistent
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Histogram is the single concrete type behind every family. Name,
// NameHash, and the shared BucketRanges (nil for sparse/dummy) are
// immutable after construction; Flags is mutable (the callback-exists bit
// flips as observers come and go) so it is stored atomically.
type Histogram struct {
	name        string
	nameHash    uint64
	kind        Kind
	min, max    Sample
	bucketCount int
	ranges      *BucketRanges

	flags atomic.Uint32

	unlogged Store
	logged   Store

	finalDeltaTaken atomic.Bool
}

// Name returns the histogram's stable name.
func (h *Histogram) Name() string { return h.name }

// Hash returns the histogram's 64-bit name hash.
func (h *Histogram) Hash() uint64 { return h.nameHash }

// Kind returns which family this histogram belongs to.
func (h *Histogram) Kind() Kind { return h.kind }

// Ranges returns the shared bucket ranges, or nil for sparse/dummy
// histograms.
func (h *Histogram) Ranges() *BucketRanges { return h.ranges }

// GetFlags returns the current flag bitset.
func (h *Histogram) GetFlags() Flags { return Flags(h.flags.Load()) }

// SetFlags ors the given bits into the flag bitset.
func (h *Histogram) SetFlags(f Flags) {
	for {
		old := h.flags.Load()
		nw := old | uint32(f)
		if old == nw || h.flags.CompareAndSwap(old, nw) {
			return
		}
	}
}

// ClearFlags ands out the given bits from the flag bitset.
func (h *Histogram) ClearFlags(f Flags) {
	for {
		old := h.flags.Load()
		nw := old &^ uint32(f)
		if old == nw || h.flags.CompareAndSwap(old, nw) {
			return
		}
	}
}

// BindPersistentStore replaces h's unlogged store with s and sets
// FlagIsPersistent. It is used by the persist package once it has wired s
// to shared-memory-backed counts, and must be called before h is published
// to a registry or recorded against. The logged store stays heap-backed:
// what this process has already reported is inherently process-local.
func (h *Histogram) BindPersistentStore(s Store) {
	h.unlogged = s
	h.SetFlags(FlagIsPersistent)
}

func (h *Histogram) isDummy() bool { return h.kind == KindDummy }

// keyFor maps a clamped sample to the store key: a bucket index for
// bucketed families, the raw sample value for sparse.
func (h *Histogram) keyFor(sample Sample) int32 {
	if h.kind == KindSparse {
		return sample
	}
	return int32(h.ranges.BucketIndex(sample))
}

// Add records a single occurrence of sample.
func (h *Histogram) Add(sample int64) {
	h.AddCount(sample, 1)
}

// AddCount records count occurrences of sample. count must be > 0; a
// request for 0 is a silent no-op, a negative count is a caller bug and is
// dropped (this is a debug assertion; in a library with no
// panics-as-contract we simply refuse the write).
func (h *Histogram) AddCount(sample int64, count int32) {
	if h.isDummy() || count == 0 {
		return
	}
	if count < 0 {
		return
	}
	s := ClampSample(sample)
	key := h.keyFor(s)
	sumDelta := int64(s) * int64(count)
	h.unlogged.Accumulate(key, count, sumDelta)
}

// AddBoolean records a boolean sample: true maps to 1, false to 0.
func (h *Histogram) AddBoolean(v bool) {
	if v {
		h.Add(1)
	} else {
		h.Add(0)
	}
}

// scaledAdder implements the shared logic behind AddScaled and its 1000/1024
// convenience wrappers: record floor(count/scale) directly, then
// probabilistically round the remainder against a uniform [0,scale) draw.
func (h *Histogram) scaledAdder(sample int64, count, scale int64) {
	if count <= 0 || scale <= 0 {
		return
	}
	whole := count / scale
	remainder := count % scale
	if whole > 0 {
		h.AddCount(sample, int32(whole))
	}
	if remainder > 0 && rand.Int64N(scale) < remainder {
		h.AddCount(sample, 1)
	}
}

// AddScaled records count/scale occurrences of sample, rounding the
// fractional remainder probabilistically.
func (h *Histogram) AddScaled(sample int64, count, scale int64) {
	h.scaledAdder(sample, count, scale)
}

// AddScaled1000 fixes scale at 1000.
func (h *Histogram) AddScaled1000(sample int64, count int64) {
	h.scaledAdder(sample, count, 1000)
}

// AddScaled1024 fixes scale at 1024.
func (h *Histogram) AddScaled1024(sample int64, count int64) {
	h.scaledAdder(sample, count, 1024)
}

// Samples is an independent, queryable copy of a histogram's recorded
// data, returned by every Snapshot* method.
type Samples struct {
	Sum            int64
	RedundantCount int32
	Buckets        []Bucket
}

// TotalCount sums every bucket's count — the value that should match
// RedundantCount within the race-based tolerance when no writes are
// in flight.
func (s Samples) TotalCount() int64 {
	var total int64
	for _, b := range s.Buckets {
		total += int64(b.Count)
	}
	return total
}

func samplesFrom(sum int64, redundant int32, buckets []Bucket) Samples {
	return Samples{Sum: sum, RedundantCount: redundant, Buckets: buckets}
}

// SnapshotAll returns an independent copy of every sample recorded so far
// (logged and unlogged combined), without disturbing either store.
func (h *Histogram) SnapshotAll() Samples {
	if h.isDummy() {
		return Samples{}
	}
	unloggedBuckets := h.unlogged.Buckets()
	loggedBuckets := h.logged.Buckets()
	merged := mergeBuckets(unloggedBuckets, loggedBuckets)
	return samplesFrom(h.unlogged.Sum()+h.logged.Sum(), h.unlogged.RedundantCount()+h.logged.RedundantCount(), merged)
}

// SnapshotUnlogged returns an independent copy of samples not yet claimed
// by MarkSamplesAsLogged, without disturbing the unlogged store.
func (h *Histogram) SnapshotUnlogged() Samples {
	if h.isDummy() {
		return Samples{}
	}
	return samplesFrom(h.unlogged.Sum(), h.unlogged.RedundantCount(), h.unlogged.Buckets())
}

// SnapshotDelta atomically extracts every unlogged sample into a fresh
// Samples value, adds that same data to the logged store, and returns it.
// A concurrent Add lands either in this delta (pre-exchange) or the next
// one (post-exchange) — never dropped, never double-counted.
func (h *Histogram) SnapshotDelta() Samples {
	if h.isDummy() {
		return Samples{}
	}
	sum, redundant, buckets := h.unlogged.ExtractAll()
	h.logged.MergeBuckets(sum, redundant, buckets)
	return samplesFrom(sum, redundant, buckets)
}

// SnapshotFinalDelta is the non-mutating variant of SnapshotDelta: it
// returns the unlogged samples without transferring them. It may be
// called at most once per histogram; a second call returns an empty
// Samples value (mirrors the debug-flag guard used elsewhere).
func (h *Histogram) SnapshotFinalDelta() Samples {
	if h.isDummy() {
		return Samples{}
	}
	if !h.finalDeltaTaken.CompareAndSwap(false, true) {
		return Samples{}
	}
	return samplesFrom(h.unlogged.Sum(), h.unlogged.RedundantCount(), h.unlogged.Buckets())
}

// MarkSamplesAsLogged subtracts samples from the unlogged store and adds
// them to the logged store, so a subsequent SnapshotDelta will not include
// anything already in samples.
func (h *Histogram) MarkSamplesAsLogged(samples Samples) bool {
	if h.isDummy() {
		return true
	}
	if !h.unlogged.SubtractBuckets(samples.Sum, samples.RedundantCount, samples.Buckets) {
		return false
	}
	h.logged.MergeBuckets(samples.Sum, samples.RedundantCount, samples.Buckets)
	return true
}

// GetCount returns the current count recorded against the bucket
// containing sample, combining logged and unlogged data.
func (h *Histogram) GetCount(sample int64) int32 {
	if h.isDummy() {
		return 0
	}
	key := h.keyFor(ClampSample(sample))
	var total int32
	for _, b := range h.unlogged.Buckets() {
		if b.Key == key {
			total += b.Count
		}
	}
	for _, b := range h.logged.Buckets() {
		if b.Key == key {
			total += b.Count
		}
	}
	return total
}

func mergeBuckets(a, b []Bucket) []Bucket {
	counts := make(map[int32]int32, len(a)+len(b))
	order := make([]int32, 0, len(a)+len(b))
	add := func(bs []Bucket) {
		for _, bk := range bs {
			if _, ok := counts[bk.Key]; !ok {
				order = append(order, bk.Key)
			}
			counts[bk.Key] += bk.Count
		}
	}
	add(a)
	add(b)
	insertionSortInt32(order)
	out := make([]Bucket, 0, len(order))
	for _, k := range order {
		if c := counts[k]; c != 0 {
			out = append(out, Bucket{Key: k, Count: c})
		}
	}
	return out
}

func insertionSortInt32(s []int32) {
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

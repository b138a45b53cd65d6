// Package registry implements the process-wide deduplicating histogram
// table: StatisticsRegistry from the design this module is built against.
// It owns the name-hash-to-handle map, a ranges canonicalization index, the
// per-hash and global observer lists, and the pluggable RecordChecker.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/greynewell/mist-histogram/histogram"
	"github.com/greynewell/mist-histogram/persist"
)

// Observer is notified when a sample is recorded against a histogram it is
// registered for (or against every histogram, if registered globally).
// Observers run synchronously on the recording path while the registry
// mutex is held, so implementations must be fast and must never call back
// into the registry.
type Observer func(name string, hash uint64, sample int32)

// Registry deduplicates histograms and bucket ranges by hash, and fans out
// sample-observer callbacks. The zero value is not usable; construct with
// New.
type Registry struct {
	mu sync.Mutex

	byHash           map[uint64]*histogram.Histogram
	rangesByChecksum map[uint32][]*histogram.BucketRanges

	nextObserverID int
	perHash        map[uint64]map[int]Observer
	global         map[int]Observer

	recordChecker histogram.RecordChecker

	// allocator, if set, backs every newly created histogram with shared
	// persistent storage instead of a heap-only sample store.
	allocator persist.Allocator

	// callbacksActive is the fast-path "any observer exists anywhere"
	// boolean the recording path consults before ever touching the
	// mutex.
	callbacksActive atomic.Bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byHash:           make(map[uint64]*histogram.Histogram),
		rangesByChecksum: make(map[uint32][]*histogram.BucketRanges),
		perHash:          make(map[uint64]map[int]Observer),
		global:           make(map[int]Observer),
	}
}

var (
	defaultMu  sync.Mutex
	defaultReg = New()
)

// Default returns the current process-wide registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultReg
}

// PushScoped installs a fresh, empty registry as the process-wide default
// and returns a function that restores the previous one. This is the
// nested-test-registry stack spec describes: a scoped registry starts with
// no observers of its own, and popping it leaves the parent's observers
// exactly as they were — observer registration is scoped to the registry
// it was made on, never inherited or leaked across the swap.
func PushScoped() (restore func()) {
	defaultMu.Lock()
	prev := defaultReg
	defaultReg = New()
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultReg = prev
		defaultMu.Unlock()
	}
}

// SetRecordChecker installs the pluggable expiration policy. Consulted once
// per name at creation time; later calls for the same name reuse the
// cached decision implicitly, since the histogram is already in the map.
func (r *Registry) SetRecordChecker(rc histogram.RecordChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordChecker = rc
}

// SetAllocator installs a persistent allocator: every histogram this
// registry creates from this point on gets its unlogged store wired
// directly into alloc's shared memory, instead of a private heap store.
// Histograms already registered are unaffected.
func (r *Registry) SetAllocator(alloc persist.Allocator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocator = alloc
}

// attachBuild wraps build so the histogram it constructs also gets
// persistent backing allocated in alloc before it is published.
func attachBuild(alloc persist.Allocator, build func() *histogram.Histogram) func() *histogram.Histogram {
	return func() *histogram.Histogram {
		h := build()
		persist.Attach(alloc, h)
		return h
	}
}

func (r *Registry) shouldRecord(hash uint64) bool {
	if r.recordChecker == nil {
		return true
	}
	return r.recordChecker.ShouldRecord(hash)
}

// canonicalizeRangesLocked dedupes ranges by checksum plus a value
// comparison (two distinct shapes can collide on a 32-bit checksum). The
// caller must hold r.mu.
func (r *Registry) canonicalizeRangesLocked(ranges *histogram.BucketRanges) *histogram.BucketRanges {
	if ranges == nil {
		return nil
	}
	group := r.rangesByChecksum[ranges.Checksum]
	for _, existing := range group {
		if sameRanges(existing, ranges) {
			return existing
		}
	}
	r.rangesByChecksum[ranges.Checksum] = append(group, ranges)
	return ranges
}

func sameRanges(a, b *histogram.BucketRanges) bool {
	if len(a.Ranges) != len(b.Ranges) {
		return false
	}
	for i := range a.Ranges {
		if a.Ranges[i] != b.Ranges[i] {
			return false
		}
	}
	return true
}

// findLocked looks up a histogram by hash; it does not touch the ranges
// canonicalization index. The caller must hold r.mu.
func (r *Registry) findLocked(hash uint64) (*histogram.Histogram, bool) {
	h, ok := r.byHash[hash]
	return h, ok
}

// getOrCreate is the single chokepoint every GetOrCreate* convenience
// wrapper funnels through: consult the record checker, look up by hash,
// compare construction on a hit, or insert fresh on a miss. build is only
// invoked on a miss (after the record-checker and existing-entry checks):
// a hit is decided by matchesShape against the already-registered handle's
// own recorded shape, so a rejected or deduplicated lookup never pays for
// an unused histogram's BucketRanges or sample stores.
func (r *Registry) getOrCreate(name string, matchesShape func(*histogram.Histogram) bool, build func() *histogram.Histogram) *histogram.Histogram {
	hash := histogram.HashName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.shouldRecord(hash) {
		return histogram.NewDummy(name)
	}

	if existing, ok := r.findLocked(hash); ok {
		if matchesShape(existing) {
			return existing
		}
		histogram.RecordMismatch(hash)
		return histogram.NewDummy(name)
	}

	if r.allocator != nil {
		build = attachBuild(r.allocator, build)
	}
	h := build()
	r.canonicalizeRangesLocked(h.Ranges())
	r.byHash[hash] = h
	if _, hasObservers := r.perHash[hash]; hasObservers || len(r.global) > 0 {
		h.SetFlags(histogram.FlagCallbackExists)
	}
	return h
}

// GetOrCreateExponential returns the registered exponential histogram for
// name, creating it if absent.
func (r *Registry) GetOrCreateExponential(name string, min, max histogram.Sample, bucketCount int) *histogram.Histogram {
	return r.getOrCreate(name,
		func(existing *histogram.Histogram) bool {
			return existing.MatchesShape(histogram.KindExponential, min, max, bucketCount)
		},
		func() *histogram.Histogram { return histogram.NewExponential(name, min, max, bucketCount) },
	)
}

// GetOrCreateLinear returns the registered linear histogram for name,
// creating it if absent.
func (r *Registry) GetOrCreateLinear(name string, min, max histogram.Sample, bucketCount int) *histogram.Histogram {
	return r.getOrCreate(name,
		func(existing *histogram.Histogram) bool {
			return existing.MatchesShape(histogram.KindLinear, min, max, bucketCount)
		},
		func() *histogram.Histogram { return histogram.NewLinear(name, min, max, bucketCount) },
	)
}

// GetOrCreateBoolean returns the registered boolean histogram for name,
// creating it if absent.
func (r *Registry) GetOrCreateBoolean(name string) *histogram.Histogram {
	return r.getOrCreate(name,
		func(existing *histogram.Histogram) bool {
			return existing.MatchesShape(histogram.KindBoolean, 1, 2, 3)
		},
		func() *histogram.Histogram { return histogram.NewBoolean(name) },
	)
}

// GetOrCreateSparse returns the registered sparse histogram for name,
// creating it if absent.
func (r *Registry) GetOrCreateSparse(name string) *histogram.Histogram {
	return r.getOrCreate(name,
		func(existing *histogram.Histogram) bool {
			return existing.MatchesShape(histogram.KindSparse, 0, 0, 0)
		},
		func() *histogram.Histogram { return histogram.NewSparse(name) },
	)
}

// GetOrCreateCustom returns the registered custom-ranges histogram for
// name, creating it if absent. Unlike the other families, construction can
// fail (an invalid interior boundary set), so this returns an error instead
// of silently falling back to a dummy.
func (r *Registry) GetOrCreateCustom(name string, interior []histogram.Sample) (*histogram.Histogram, error) {
	hash := histogram.HashName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.shouldRecord(hash) {
		return histogram.NewDummy(name), nil
	}
	if existing, ok := r.findLocked(hash); ok {
		candidate, err := histogram.NewCustom(name, interior)
		if err != nil {
			return nil, err
		}
		if existing.SameConstruction(candidate) {
			return existing, nil
		}
		histogram.RecordMismatch(hash)
		return histogram.NewDummy(name), nil
	}

	h, err := histogram.NewCustom(name, interior)
	if err != nil {
		return nil, err
	}
	if r.allocator != nil {
		persist.Attach(r.allocator, h)
	}
	r.canonicalizeRangesLocked(h.Ranges())
	r.byHash[hash] = h
	if _, hasObservers := r.perHash[hash]; hasObservers || len(r.global) > 0 {
		h.SetFlags(histogram.FlagCallbackExists)
	}
	return h, nil
}

// FindByName looks up an already-registered histogram without creating one.
func (r *Registry) FindByName(name string) (*histogram.Histogram, bool) {
	hash := histogram.HashName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(hash)
}

// Import inserts a histogram discovered elsewhere (typically materialized
// from a persistent allocator segment by the persist package) under its own
// name hash, deduplicating exactly like getOrCreate's hit path. It reports
// whether h itself became the registered handle (false means an existing,
// differently-shaped entry won and h was discarded).
func (r *Registry) Import(h *histogram.Histogram) (*histogram.Histogram, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findLocked(h.Hash()); ok {
		if existing.SameConstruction(h) {
			return existing, existing == h
		}
		histogram.RecordMismatch(h.Hash())
		return existing, false
	}
	r.canonicalizeRangesLocked(h.Ranges())
	r.byHash[h.Hash()] = h
	if _, hasObservers := r.perHash[h.Hash()]; hasObservers || len(r.global) > 0 {
		h.SetFlags(histogram.FlagCallbackExists)
	}
	return h, true
}

// All returns a snapshot slice of every currently registered histogram, in
// no particular order. Used by the collector to drive a snapshot pass.
func (r *Registry) All() []*histogram.Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*histogram.Histogram, 0, len(r.byHash))
	for _, h := range r.byHash {
		out = append(out, h)
	}
	return out
}

// AddObserver registers obs against the given name hash. It returns a
// token that RemoveObserver needs to unregister this exact registration
// (observer functions are not comparable in Go, so identity is tracked by
// token instead of by value).
func (r *Registry) AddObserver(hash uint64, obs Observer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserverID
	r.nextObserverID++
	m, ok := r.perHash[hash]
	if !ok {
		m = make(map[int]Observer)
		r.perHash[hash] = m
	}
	m[id] = obs
	if h, ok := r.byHash[hash]; ok {
		h.SetFlags(histogram.FlagCallbackExists)
	}
	r.callbacksActive.Store(true)
	return id
}

// AddGlobalObserver registers obs against every histogram.
func (r *Registry) AddGlobalObserver(obs Observer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserverID
	r.nextObserverID++
	r.global[id] = obs
	r.callbacksActive.Store(true)
	return id
}

// RemoveObserver unregisters a per-hash observer previously returned by
// AddObserver.
func (r *Registry) RemoveObserver(hash uint64, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.perHash[hash]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(r.perHash, hash)
			if h, ok := r.byHash[hash]; ok {
				h.ClearFlags(histogram.FlagCallbackExists)
			}
		}
	}
	r.refreshCallbacksActiveLocked()
}

// RemoveGlobalObserver unregisters a global observer previously returned by
// AddGlobalObserver.
func (r *Registry) RemoveGlobalObserver(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.global, id)
	r.refreshCallbacksActiveLocked()
}

func (r *Registry) refreshCallbacksActiveLocked() {
	if len(r.global) > 0 {
		r.callbacksActive.Store(true)
		return
	}
	for _, m := range r.perHash {
		if len(m) > 0 {
			r.callbacksActive.Store(true)
			return
		}
	}
	r.callbacksActive.Store(false)
}

// SampleCallbacksActive is the cached fast-path boolean: false means no
// observer exists anywhere and the recording path can skip the registry
// entirely.
func (r *Registry) SampleCallbacksActive() bool {
	return r.callbacksActive.Load()
}

// DispatchSample notifies every observer registered for hash, plus every
// global observer, synchronously while the registry mutex is held. Callers
// on the recording hot path should guard this behind
// h.GetFlags().Has(histogram.FlagCallbackExists) so a histogram with no
// observers never pays for the lock.
func (r *Registry) DispatchSample(name string, hash uint64, sample int32) {
	if !r.callbacksActive.Load() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, obs := range r.global {
		obs(name, hash, sample)
	}
	for _, obs := range r.perHash[hash] {
		obs(name, hash, sample)
	}
}

// RecordAndDispatch records sample against h and, if h has live observers,
// dispatches to them. This is the glue spec describes as "a fast-path
// boolean avoids touching the registry on the hot path": the flag check
// happens on h itself, with no lock, before RecordAndDispatch ever reaches
// into the registry.
func (r *Registry) RecordAndDispatch(h *histogram.Histogram, sample int64) {
	h.Add(sample)
	if h.GetFlags().Has(histogram.FlagCallbackExists) {
		r.DispatchSample(h.Name(), h.Hash(), int32(sample))
	}
}

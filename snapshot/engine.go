// Package snapshot implements the delta snapshot engine: the component
// that walks a set of histograms once per collection pass, extracts only
// the samples recorded since the last pass, validates their integrity, and
// hands each surviving delta to an external flattener sink.
package snapshot

import (
	"sync"
	"sync/atomic"

	"github.com/greynewell/mist-histogram/histogram"
)

// commonRaceBasedCountMismatch is the tolerance absorbing the expected skew
// between a histogram's redundant count and its bucket-count total when a
// concurrent recorder lands a sample mid-snapshot. Below this the
// difference is normal eventual-consistency noise, not corruption.
const commonRaceBasedCountMismatch = 5

// Inconsistency is a bitmask of the corruption classes FindCorruption can
// report for one histogram.
type Inconsistency uint32

const (
	// BucketOrderError means the histogram's BucketRanges are not
	// strictly increasing. Fatal: the caller should abort the process.
	BucketOrderError Inconsistency = 1 << iota
	// RangeChecksumError means the BucketRanges checksum no longer
	// matches its contents. Fatal, same as above.
	RangeChecksumError
	// CountHighError means the bucket-count total exceeds the redundant
	// count by more than the race tolerance.
	CountHighError
	// CountLowError means the bucket-count total falls short of the
	// redundant count by more than the race tolerance.
	CountLowError
)

// Fatal reports whether any bit in i represents an unrecoverable integrity
// failure (bucket order or checksum corruption), as opposed to a merely
// reportable count skew.
func (i Inconsistency) Fatal() bool {
	return i&(BucketOrderError|RangeChecksumError) != 0
}

// Flattener receives validated deltas, one call per histogram per
// successful pass. Called from the snapshotting goroutine; implementations
// must not re-enter the engine for the same histogram during the call.
type Flattener interface {
	RecordDelta(h *histogram.Histogram, samples histogram.Samples)
}

// Engine is the snapshot engine: at most one PrepareDeltas or
// SnapshotUnlogged pass may be active at a time, enforced by isActive.
type Engine struct {
	mu       sync.Mutex
	isActive atomic.Bool

	transactionID atomic.Int64

	// seen suppresses duplicate reports of the same (hash, bit)
	// inconsistency across passes; it lives on the engine, not on the
	// histogram or the registry, so two independently constructed
	// engines over the same histograms each report a given corruption
	// once on their own timeline.
	seenMu sync.Mutex
	seen   map[uint64]Inconsistency

	// pending holds (histogram, snapshot) pairs opened by
	// SnapshotUnlogged and not yet closed by MarkUnloggedAsLogged.
	pendingMu sync.Mutex
	pending   map[uint64]histogram.Samples
}

// SeenInconsistencies returns the inconsistency bits this engine has
// already observed for hash, across every PrepareDeltas pass so far.
func (e *Engine) SeenInconsistencies(hash uint64) Inconsistency {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	return e.seen[hash]
}

// NewEngine creates an idle snapshot engine.
func NewEngine() *Engine {
	return &Engine{
		seen:    make(map[uint64]Inconsistency),
		pending: make(map[uint64]histogram.Samples),
	}
}

// TransactionID returns the id of the most recently completed pass, or 0 if
// none has run yet.
func (e *Engine) TransactionID() int64 {
	return e.transactionID.Load()
}

// FindCorruption inspects samples against h's bucket ranges (if any) and
// its redundant count, classifying any disagreement.
func FindCorruption(h *histogram.Histogram, samples histogram.Samples) Inconsistency {
	var inconsistency Inconsistency

	if ranges := h.Ranges(); ranges != nil {
		if !ranges.Monotonic() {
			inconsistency |= BucketOrderError
		}
		if !ranges.VerifyChecksum() {
			inconsistency |= RangeChecksumError
		}
	}

	diff := samples.TotalCount() - int64(samples.RedundantCount)
	switch {
	case diff > commonRaceBasedCountMismatch:
		inconsistency |= CountHighError
	case diff < -commonRaceBasedCountMismatch:
		inconsistency |= CountLowError
	}

	return inconsistency
}

// firstReport takes seenMu and reports whether bit is newly seen for hash (and records
// it), so a caller reports each (histogram, inconsistency bit) at most
// once across this engine's lifetime.
func (e *Engine) firstReport(hash uint64, bit Inconsistency) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	already := e.seen[hash]
	if already&bit != 0 {
		return false
	}
	e.seen[hash] = already | bit
	return true
}

// PrepareDeltas applies flagsToSet to every handle, skips any handle
// missing a bit in requiredFlags, extracts its delta, validates it, and
// forwards surviving deltas to sink. It panics if a fatal inconsistency
// (bucket order or checksum corruption) is found, mirroring the reference
// implementation's process-abort contract for corrupted shared memory.
// Entering while another pass is already active is a contract violation
// and also panics.
func (e *Engine) PrepareDeltas(handles []*histogram.Histogram, flagsToSet, requiredFlags histogram.Flags, sink Flattener) int64 {
	if !e.isActive.CompareAndSwap(false, true) {
		panic("snapshot: PrepareDeltas called while a pass is already active")
	}
	defer e.isActive.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range handles {
		if flagsToSet != 0 {
			h.SetFlags(flagsToSet)
		}
		if !h.GetFlags().Has(requiredFlags) {
			continue
		}

		samples := h.SnapshotDelta()
		inconsistency := FindCorruption(h, samples)
		if inconsistency.Fatal() {
			panic("snapshot: fatal corruption detected for histogram " + h.Name())
		}
		if inconsistency != 0 {
			// firstReport's return value only governs whether this is a
			// fresh sighting for instrumentation; the delta itself is
			// discarded every time a count mismatch is found, since a
			// corrupted count total can't be trusted to forward.
			e.firstReport(h.Hash(), inconsistency)
			continue
		}

		if samples.TotalCount() > 0 {
			sink.RecordDelta(h, samples)
		}
	}

	return e.transactionID.Add(1)
}

// SnapshotUnlogged captures unlogged samples without marking them logged.
// The caller must later call MarkUnloggedAsLogged with the exact same
// histogram set to close out the transaction; until then the engine holds
// one (histogram, snapshot) pair per hash.
func (e *Engine) SnapshotUnlogged(handles []*histogram.Histogram) map[uint64]histogram.Samples {
	if !e.isActive.CompareAndSwap(false, true) {
		panic("snapshot: SnapshotUnlogged called while a pass is already active")
	}
	defer e.isActive.Store(false)

	out := make(map[uint64]histogram.Samples, len(handles))
	e.pendingMu.Lock()
	for _, h := range handles {
		samples := h.SnapshotUnlogged()
		out[h.Hash()] = samples
		e.pending[h.Hash()] = samples
	}
	e.pendingMu.Unlock()

	e.transactionID.Add(1)
	return out
}

// MarkUnloggedAsLogged closes the transaction SnapshotUnlogged opened for
// each of handles, subtracting the held snapshot from unlogged and adding
// it to logged. It panics if a handle has no pending snapshot — exactly one
// pending pair must exist per transaction.
func (e *Engine) MarkUnloggedAsLogged(handles []*histogram.Histogram) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	for _, h := range handles {
		samples, ok := e.pending[h.Hash()]
		if !ok {
			panic("snapshot: MarkUnloggedAsLogged called without a matching SnapshotUnlogged pair for " + h.Name())
		}
		delete(e.pending, h.Hash())
		if !h.MarkSamplesAsLogged(samples) {
			panic("snapshot: shape mismatch marking samples as logged for " + h.Name())
		}
	}
}

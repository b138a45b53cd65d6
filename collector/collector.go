// Package collector orchestrates one full collection pass: pull in foreign
// providers' deltas, import anything a persistent allocator has accumulated,
// then run the snapshot engine over every histogram the registry knows,
// handing surviving deltas to a Flattener sink.
package collector

import (
	"context"
	"time"

	"github.com/greynewell/mist-histogram/histogram"
	"github.com/greynewell/mist-histogram/logging"
	"github.com/greynewell/mist-histogram/metrics"
	"github.com/greynewell/mist-histogram/parallel"
	"github.com/greynewell/mist-histogram/persist"
	"github.com/greynewell/mist-histogram/provider"
	"github.com/greynewell/mist-histogram/registry"
	"github.com/greynewell/mist-histogram/snapshot"
	"github.com/greynewell/mist-histogram/trace"
)

// Collector wires the registry, the snapshot engine, and an optional
// provider registry and persistent allocator into a single runnable pass.
type Collector struct {
	Registry  *registry.Registry
	Engine    *snapshot.Engine
	Providers *provider.Registry
	Allocator persist.Allocator
	Sink      snapshot.Flattener
	Logger    *logging.Logger

	// Metrics, if set, receives operational counters about the collector
	// itself (pass count, pass duration, histograms seen) — distinct from
	// the domain histograms the collector manages, which go through Sink.
	Metrics *metrics.Registry

	// FlagsToSet and RequiredFlags are forwarded unchanged to every
	// PrepareDeltas call; see snapshot.Engine.PrepareDeltas.
	FlagsToSet    histogram.Flags
	RequiredFlags histogram.Flags

	// Workers bounds the concurrency of the per-histogram corruption-check
	// fan-out. Defaults to 4 if unset.
	Workers int

	imported map[uint64]bool
}

// RunOnce performs a single collection pass and returns the transaction id
// it produced.
func (c *Collector) RunOnce(ctx context.Context) int64 {
	ctx, span := trace.Start(ctx, "collector.run_once")
	defer span.End("ok")
	start := time.Now()

	log := c.Logger
	if log == nil {
		log = logging.New("histcollect", logging.Level(0))
	}

	if c.Providers != nil {
		c.Providers.CollectAll(ctx)
	}

	if c.Allocator != nil {
		c.importFromAllocator(ctx, log)
	}

	handles := c.Registry.All()
	workers := c.Workers
	if workers < 1 {
		workers = 4
	}
	pool := parallel.NewPool(workers)

	// A read-only range sanity sweep, fanned out across a pool: this is a
	// cheap early warning that does not consume any samples, run ahead of
	// the authoritative (and necessarily single-threaded) PrepareDeltas pass
	// so a fatal range corruption shows up in logs before the engine panics
	// on it.
	results := parallel.Map(ctx, pool, handles, func(ctx context.Context, h *histogram.Histogram) (bool, error) {
		ranges := h.Ranges()
		if ranges == nil {
			return true, nil
		}
		return ranges.Monotonic() && ranges.VerifyChecksum(), nil
	})
	for i, r := range results {
		if r.Err == nil && !r.Value {
			log.Error(ctx, "range sanity sweep found corruption ahead of snapshot pass", "histogram", handles[i].Name())
		}
	}

	txID := c.Engine.PrepareDeltas(handles, c.FlagsToSet, c.RequiredFlags, c.Sink)
	log.Info(ctx, "collection pass complete", "transaction_id", txID, "histograms", len(handles))

	if c.Metrics != nil {
		c.Metrics.Counter("histcollect_runs_total").Inc()
		c.Metrics.Gauge("histcollect_histograms_active").Set(float64(len(handles)))
		c.Metrics.Histogram("histcollect_pass_duration_ms", metrics.DefaultBuckets).
			Observe(float64(time.Since(start).Milliseconds()))
	}

	return txID
}

// importFromAllocator walks every iterable histogram record the allocator
// holds and registers any this collector has not yet imported, following
// the "last created" fast-path idea from the reference import algorithm:
// once a hash has been imported it is never re-examined.
func (c *Collector) importFromAllocator(ctx context.Context, log *logging.Logger) {
	if c.imported == nil {
		c.imported = make(map[uint64]bool)
	}

	c.Allocator.Iterate(func(typeID uint32, ref persist.Reference, data []byte) bool {
		if typeID != persist.TypeHistogramRecord {
			return true
		}
		rec, err := persist.DecodeHistogramRecord(data)
		if err != nil {
			log.Warn(ctx, "skipping unreadable histogram record", "error", err)
			return true
		}
		if c.imported[rec.NameHash] {
			return true
		}
		c.imported[rec.NameHash] = true

		h, ok := persist.Materialize(c.Allocator, rec)
		if !ok {
			log.Warn(ctx, "skipping histogram record with unresolvable backing", "name", rec.Name)
			return true
		}
		if _, kept := c.Registry.Import(h); !kept {
			log.Warn(ctx, "name hash collision importing persisted histogram", "name", rec.Name)
		}
		return true
	})
}

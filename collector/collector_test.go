package collector

import (
	"context"
	"testing"

	"github.com/greynewell/mist-histogram/histogram"
	"github.com/greynewell/mist-histogram/provider"
	"github.com/greynewell/mist-histogram/registry"
	"github.com/greynewell/mist-histogram/snapshot"
)

type captureFlattener struct {
	deltas []histogram.Samples
}

func (c *captureFlattener) RecordDelta(h *histogram.Histogram, samples histogram.Samples) {
	c.deltas = append(c.deltas, samples)
}

func TestRunOnceForwardsNonEmptyDeltas(t *testing.T) {
	reg := registry.New()
	h := reg.GetOrCreateLinear("Latency", 1, 100, 10)
	h.Add(5)
	h.Add(7)

	sink := &captureFlattener{}
	c := &Collector{
		Registry: reg,
		Engine:   snapshot.NewEngine(),
		Sink:     sink,
	}

	txID := c.RunOnce(context.Background())
	if txID != 1 {
		t.Fatalf("transaction id = %d, want 1", txID)
	}
	if len(sink.deltas) != 1 || sink.deltas[0].TotalCount() != 2 {
		t.Fatalf("deltas = %+v, want one delta with total 2", sink.deltas)
	}
}

func TestRunOneCallsEveryProviderBeforeSnapshotting(t *testing.T) {
	reg := registry.New()
	h := reg.GetOrCreateLinear("FromProvider", 1, 100, 10)

	providers := provider.NewRegistry(0)
	providers.Register(fakeProviderFunc(func() { h.Add(3) }))

	sink := &captureFlattener{}
	c := &Collector{
		Registry:  reg,
		Engine:    snapshot.NewEngine(),
		Providers: providers,
		Sink:      sink,
	}

	c.RunOnce(context.Background())

	if len(sink.deltas) != 1 || sink.deltas[0].TotalCount() != 1 {
		t.Fatalf("deltas = %+v, want the provider's merge to have landed before the snapshot", sink.deltas)
	}
}

// fakeProviderFunc adapts a plain func into a provider.Provider for tests.
type fakeProviderFunc func()

func (f fakeProviderFunc) Name() string { return "fake" }

func (f fakeProviderFunc) MergeHistogramDeltas(ctx context.Context, done func()) {
	f()
	done()
}

func TestRunOnceSkipsEmptyHistograms(t *testing.T) {
	reg := registry.New()
	reg.GetOrCreateLinear("Quiet", 1, 100, 10)

	sink := &captureFlattener{}
	c := &Collector{Registry: reg, Engine: snapshot.NewEngine(), Sink: sink}

	c.RunOnce(context.Background())

	if len(sink.deltas) != 0 {
		t.Fatalf("deltas = %+v, want none for a histogram with nothing recorded", sink.deltas)
	}
}

// Package provider lets foreign subsystems merge their own histogram
// deltas into the global registry ahead of a collection pass: a small
// interface, a name-keyed registry behind a mutex, and a CollectAll that
// fans out to every registered provider.
package provider

import (
	"context"
	"sync"

	"github.com/greynewell/mist-histogram/resource"
)

// Provider is a foreign aggregation source: something outside the
// histogram package's own recording path that accumulates its own
// counters and needs a chance to fold them into the registry before a
// snapshot pass reads it.
type Provider interface {
	// Name identifies the provider for logging and deduplication.
	Name() string
	// MergeHistogramDeltas merges this provider's pending deltas into the
	// registry, then calls done. Implementations should treat ctx
	// cancellation as "abandon the merge, call done anyway" rather than
	// leaving the collector waiting.
	MergeHistogramDeltas(ctx context.Context, done func())
}

// Registry holds every live provider by name. The upstream design
// describes these as weak references so a provider that has gone away
// between registration and a collection pass is silently skipped instead
// of dereferencing freed memory; the generic weak-pointer machinery that
// would require in Go (type-parameterized over the registered pointer
// type) added fragility without a GC-backed benefit a GC'd language
// doesn't already give for free, so this registry uses plain references
// plus an explicit Unregister instead — the caller removes a provider when
// it shuts down, which is the idiomatic Go equivalent. Neither the collector
// nor cmd/histcollect calls Unregister. See DESIGN.md.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	order     []string

	// limiter bounds how many providers' MergeHistogramDeltas run
	// concurrently during CollectAll. A process with hundreds of foreign
	// providers (one per connection, say) should not spin up hundreds of
	// goroutines in one burst every collection pass.
	limiter *resource.Limiter
}

// NewRegistry creates an empty provider registry whose CollectAll fans out
// to at most maxConcurrent providers at a time. maxConcurrent <= 0 means
// "no extra limit beyond one goroutine per provider".
func NewRegistry(maxConcurrent int) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	if maxConcurrent > 0 {
		r.limiter = resource.NewLimiter("provider-collect", maxConcurrent)
	}
	return r
}

// Register adds p under its own name, replacing any provider previously
// registered under the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Unregister removes the provider registered under name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return
	}
	delete(r.providers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Providers returns a snapshot of every registered provider, in
// registration order.
func (r *Registry) Providers() []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

// CollectAll calls MergeHistogramDeltas on every registered provider and
// waits for all of them to report done, or for ctx to be cancelled.
func (r *Registry) CollectAll(ctx context.Context) {
	providers := r.Providers()
	if len(providers) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(providers))
	for _, p := range providers {
		p := p
		// signalDone is what actually counts this provider as finished: it
		// is the done callback MergeHistogramDeltas receives, not the
		// synchronous return of the call, since an async provider may call
		// done from another goroutine well after MergeHistogramDeltas has
		// already returned. sync.Once guards a provider that calls done
		// more than once.
		var once sync.Once
		signalDone := func() { once.Do(wg.Done) }
		merge := func() {
			p.MergeHistogramDeltas(ctx, signalDone)
		}
		if r.limiter == nil {
			go merge()
			continue
		}
		if err := r.limiter.Go(ctx, merge); err != nil {
			// Context already cancelled before a slot freed up; merge
			// never ran, so account for its wg.Done ourselves.
			signalDone()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

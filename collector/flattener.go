package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/greynewell/mist-histogram/checkpoint"
	"github.com/greynewell/mist-histogram/circuitbreaker"
	misterrors "github.com/greynewell/mist-histogram/errors"
	"github.com/greynewell/mist-histogram/histogram"
	"github.com/greynewell/mist-histogram/pickle"
	"github.com/greynewell/mist-histogram/protocol"
	"github.com/greynewell/mist-histogram/retry"
	"github.com/greynewell/mist-histogram/snapshot"
	"github.com/greynewell/mist-histogram/transport"
)

// NetworkFlattener encodes each delta's shape with pickle, wraps it in a
// protocol.Message, and ships it over a transport.Transport. Uploads run off
// the recording hot path, but a dead endpoint could otherwise stall the
// collector loop; retry.Do and a circuitbreaker.Breaker keep that bounded
// instead of blocking indefinitely.
type NetworkFlattener struct {
	Transport transport.Transport
	Policy    retry.Policy
	Breaker   *circuitbreaker.Breaker
}

// NewNetworkFlattener wires a flattener with sane retry and breaker defaults.
func NewNetworkFlattener(t transport.Transport) *NetworkFlattener {
	return &NetworkFlattener{
		Transport: t,
		Policy:    retry.DefaultPolicy,
		Breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold:   5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 1,
		}),
	}
}

// RecordDelta implements snapshot.Flattener.
func (n *NetworkFlattener) RecordDelta(h *histogram.Histogram, samples histogram.Samples) {
	rec, err := pickle.FromHistogram(h)
	if err != nil {
		// Unrepresentable kinds are dropped; nothing propagates to user
		// code per the taxonomy's wire-record rule.
		return
	}
	shape, err := pickle.Encode(rec)
	if err != nil {
		return
	}

	payload := struct {
		Shape   []byte            `json:"shape"`
		Samples histogram.Samples `json:"samples"`
	}{Shape: shape, Samples: samples}

	msg, err := protocol.New(protocol.SourceHistCollector, protocol.TypeHistogramDelta, payload)
	if err != nil {
		return
	}

	ctx := context.Background()
	_ = n.Breaker.Do(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, n.Policy, func(ctx context.Context) error {
			return n.Transport.Send(ctx, msg)
		})
	})
}

var _ snapshot.Flattener = (*NetworkFlattener)(nil)

// JournalingFlattener wraps another Flattener and durably records, via the
// checkpoint package, which transaction ids this collector has already
// shipped — so a crashed collector can tell on restart not to resend deltas
// whose transaction already completed. This supplements the required/set
// flag bookkeeping the core already does with a crash-safe log, something
// the distilled contract leaves to the deployment.
type JournalingFlattener struct {
	Inner   snapshot.Flattener
	Tracker *checkpoint.Tracker
	txID    int64
}

// NewJournalingFlattener opens (or resumes) a checkpoint tracker under dir
// for the given run id, wrapping inner.
func NewJournalingFlattener(inner snapshot.Flattener, dir, runID string) (*JournalingFlattener, error) {
	tracker, err := checkpoint.Open(dir, runID)
	if err != nil {
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "opening collector checkpoint tracker")
	}
	return &JournalingFlattener{Inner: inner, Tracker: tracker}, nil
}

// BeginTransaction must be called once per pass, before the engine hands any
// deltas to RecordDelta, so each delta can be journaled under its
// transaction id.
func (j *JournalingFlattener) BeginTransaction(txID int64) {
	j.txID = txID
}

// RecordDelta implements snapshot.Flattener. It forwards the delta to Inner
// inside a journaled checkpoint step keyed by the current transaction id and
// histogram name; if that step already completed in a prior run, the whole
// step, including the call to Inner, is skipped.
func (j *JournalingFlattener) RecordDelta(h *histogram.Histogram, samples histogram.Samples) {
	step := fmt.Sprintf("tx-%d-%s", j.txID, h.Name())
	_ = j.Tracker.Step(context.Background(), step, func(ctx context.Context) (any, error) {
		j.Inner.RecordDelta(h, samples)
		return samples.TotalCount(), nil
	})
}

var _ snapshot.Flattener = (*JournalingFlattener)(nil)

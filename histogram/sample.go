// Package histogram implements the sample-bucketing core of the MIST
// telemetry engine: bucket ranges, the single-sample/dense/sparse sample
// stores, and the histogram families built on top of them.
package histogram

import "math"

// Sample is a single numeric observation recorded into a histogram.
type Sample = int32

// SampleMax is the largest sample value the engine will ever store.
// Recording clamps every value to [0, SampleMax-1].
const SampleMax Sample = math.MaxInt32

// ClampSample clamps v into the representable sample range.
func ClampSample(v int64) Sample {
	if v < 0 {
		return 0
	}
	if v >= int64(SampleMax) {
		return SampleMax - 1
	}
	return Sample(v)
}

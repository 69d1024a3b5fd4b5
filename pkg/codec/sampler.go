package codec

import (
	"math"
)

// TimestampSamplerFunc returns the number of samples elapsed since the
// previous call, given a presentation timestamp in microseconds.
type TimestampSamplerFunc func(timestampUs int64) uint32

// NewTimestampSampler creates a sampler driven by the presentation
// timestamps carried by the encoder output rather than by the wall clock.
// The first call and any timestamp going backwards yield zero samples.
func NewTimestampSampler(clockRate uint32) TimestampSamplerFunc {
	clockRateFloat := float64(clockRate)
	var last int64
	first := true

	return func(timestampUs int64) uint32 {
		if first {
			first = false
			last = timestampUs
			return 0
		}
		delta := timestampUs - last
		if delta <= 0 {
			return 0
		}
		last = timestampUs
		return uint32(math.Round(clockRateFloat * float64(delta) / 1e6))
	}
}

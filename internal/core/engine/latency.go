package engine

import (
	"math"
	"sort"
	"time"
)

// Unknown is returned by LatencyTracker.Percentile when no samples have been
// recorded yet.
const Unknown time.Duration = 0

// LatencyTracker keeps a bounded, arrival-ordered history of round-trip times.
// It is owned by a single goroutine and is not safe for concurrent use.
type LatencyTracker struct {
	samples    []time.Duration
	maxSamples int
}

// NewLatencyTracker creates a tracker retaining at most maxSamples samples.
func NewLatencyTracker(maxSamples int) *LatencyTracker {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &LatencyTracker{
		samples:    make([]time.Duration, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

// Record appends a sample, evicting the oldest one past capacity.
func (t *LatencyTracker) Record(sample time.Duration) {
	if len(t.samples) == t.maxSamples {
		copy(t.samples, t.samples[1:])
		t.samples = t.samples[:len(t.samples)-1]
	}
	t.samples = append(t.samples, sample)
}

// Percentile returns the mean of the fastest round(N*p) samples, which drops
// the slowest tail of the history. Rounding is half away from zero, so five
// samples at p=0.9 keep all five. At least one sample is always kept when the
// history is not empty. An empty history yields Unknown.
func (t *LatencyTracker) Percentile(p float64) time.Duration {
	n := len(t.samples)
	if n == 0 {
		return Unknown
	}

	keep := int(math.Round(float64(n) * p))
	if keep < 1 {
		keep = 1
	}
	if keep > n {
		keep = n
	}

	sorted := make([]time.Duration, n)
	copy(sorted, t.samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, sample := range sorted[:keep] {
		sum += sample
	}
	return sum / time.Duration(keep)
}

// Samples returns a copy of the history in arrival order.
func (t *LatencyTracker) Samples() []time.Duration {
	out := make([]time.Duration, len(t.samples))
	copy(out, t.samples)
	return out
}

// Len returns the number of retained samples.
func (t *LatencyTracker) Len() int {
	return len(t.samples)
}

// Cap returns the configured history capacity.
func (t *LatencyTracker) Cap() int {
	return t.maxSamples
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(values ...int) []time.Duration {
	out := make([]time.Duration, len(values))
	for i, v := range values {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestLatencyTrackerBoundedHistory(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for _, sample := range ms(10, 20, 30, 40, 50) {
		tracker.Record(sample)
	}

	require.Equal(t, 3, tracker.Len())
	assert.Equal(t, ms(30, 40, 50), tracker.Samples())
}

func TestLatencyTrackerClampsCapacity(t *testing.T) {
	tracker := NewLatencyTracker(0)
	tracker.Record(time.Second)
	tracker.Record(2 * time.Second)

	assert.Equal(t, 1, tracker.Cap())
	assert.Equal(t, []time.Duration{2 * time.Second}, tracker.Samples())
}

func TestLatencyTrackerEmptyIsUnknown(t *testing.T) {
	tracker := NewLatencyTracker(10)
	assert.Equal(t, Unknown, tracker.Percentile(0.9))
}

func TestLatencyTrackerPercentile(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		p       float64
		want    time.Duration
	}{
		// round(4.5) rounds half away from zero, so all five samples are kept
		{name: "five samples", samples: ms(10, 20, 30, 40, 50), p: 0.9, want: 30 * time.Millisecond},
		{name: "arrival order ignored", samples: ms(50, 10, 40, 20, 30), p: 0.9, want: 30 * time.Millisecond},
		{name: "ten samples drop slowest", samples: ms(10, 20, 30, 40, 50, 60, 70, 80, 90, 100), p: 0.9, want: 50 * time.Millisecond},
		{name: "single sample", samples: ms(50), p: 0.9, want: 50 * time.Millisecond},
		{name: "tiny p keeps one", samples: ms(30, 10, 20), p: 0.01, want: 10 * time.Millisecond},
		{name: "full p keeps all", samples: ms(10, 20, 60), p: 1, want: 30 * time.Millisecond},
		{name: "four samples", samples: ms(10, 20, 30, 1000), p: 0.9, want: 265 * time.Millisecond},
		{name: "two samples half", samples: ms(10, 30), p: 0.25, want: 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewLatencyTracker(100)
			for _, sample := range tt.samples {
				tracker.Record(sample)
			}
			assert.Equal(t, tt.want, tracker.Percentile(tt.p))
			// repeated calls do not disturb the history
			assert.Equal(t, tt.want, tracker.Percentile(tt.p))
			assert.Equal(t, tt.samples, tracker.Samples())
		})
	}
}

package timeseries

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Normalize resamples raw samples of one dimension onto a fixed step grid
// covering window. The input slice is not modified.
//
// Samples outside the window are dropped. Several samples landing in the
// same step are summed. Steps without a sample are filled according to
// opts.GapPolicy. If fewer than opts.MinCoverage of the steps carry data an
// *InsufficientDataError is returned.
func Normalize(samples []Sample, window Window, opts Options) (Series, error) {
	opts = opts.withDefaults()

	if !window.End.After(window.Start) {
		return Series{}, ErrEmptyWindow
	}
	if opts.MinCoverage < 0 || opts.MinCoverage > 1 {
		return Series{}, fmt.Errorf("min coverage must be within [0,1], got %g", opts.MinCoverage)
	}
	policy, err := ParseGapPolicy(string(opts.GapPolicy))
	if err != nil {
		return Series{}, err
	}
	opts.GapPolicy = policy

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for i, s := range sorted {
		if i > 0 && s.Timestamp.Equal(sorted[i-1].Timestamp) {
			return Series{}, &DuplicateSampleError{Timestamp: s.Timestamp}
		}
		if s.Units < 0 || math.IsNaN(s.Units) || math.IsInf(s.Units, 0) {
			return Series{}, &InvalidSampleError{Timestamp: s.Timestamp, Units: s.Units}
		}
	}

	expected := stepCount(window.Duration(), opts.Step)
	values := make([]float64, expected)
	present := make([]bool, expected)

	for _, s := range sorted {
		if !window.Contains(s.Timestamp) {
			continue
		}
		idx := int(s.Timestamp.Sub(window.Start) / opts.Step)
		values[idx] += s.Units
		present[idx] = true
	}

	filled := 0
	for i := range values {
		if present[i] {
			filled++
			continue
		}
		if opts.GapPolicy == CarryForward && i > 0 {
			values[i] = values[i-1]
		}
	}

	coverage := float64(filled) / float64(expected)
	if coverage < opts.MinCoverage {
		return Series{}, &InsufficientDataError{
			Present:     filled,
			Expected:    expected,
			MinCoverage: opts.MinCoverage,
		}
	}

	return Series{
		Window:    window,
		Step:      opts.Step,
		Values:    values,
		GapPolicy: opts.GapPolicy,
		Coverage:  coverage,
	}, nil
}

// stepCount returns ceil(length/step)
func stepCount(length, step time.Duration) int {
	n := int(length / step)
	if length%step != 0 {
		n++
	}
	return n
}

package timeseries

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyWindow is returned when the window has no length
var ErrEmptyWindow = errors.New("window end must be after window start")

// DuplicateSampleError is returned when two samples share a timestamp
type DuplicateSampleError struct {
	Timestamp time.Time
}

func (e *DuplicateSampleError) Error() string {
	return fmt.Sprintf("duplicate sample at %s", e.Timestamp.UTC().Format(time.RFC3339))
}

// InvalidSampleError is returned for a sample with negative or non-finite units
type InvalidSampleError struct {
	Timestamp time.Time
	Units     float64
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("invalid sample at %s: units must be finite and >= 0, got %g", e.Timestamp.UTC().Format(time.RFC3339), e.Units)
}

// InsufficientDataError is returned when too few steps carry source data
type InsufficientDataError struct {
	Present     int
	Expected    int
	MinCoverage float64
}

func (e *InsufficientDataError) Error() string {
	coverage := 0.0
	if e.Expected > 0 {
		coverage = float64(e.Present) / float64(e.Expected)
	}
	return fmt.Sprintf("insufficient data: %d of %d expected samples present (%.1f%% < %.1f%%)",
		e.Present, e.Expected, coverage*100, e.MinCoverage*100)
}

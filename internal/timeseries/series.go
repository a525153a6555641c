package timeseries

import (
	"fmt"
	"strings"
	"time"
)

// DefaultStep is the resampling step used when none is configured
const DefaultStep = time.Minute

// DefaultMinCoverage is the fraction of expected steps that must carry data
const DefaultMinCoverage = 0.5

// GapPolicy controls how steps without a source sample are materialized
type GapPolicy string

const (
	// ZeroFill treats a missing step as zero consumption
	ZeroFill GapPolicy = "zero_fill"
	// CarryForward repeats the previous step's value
	CarryForward GapPolicy = "carry_forward"
)

// ParseGapPolicy converts a configuration value into a GapPolicy.
// An empty string selects ZeroFill.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ZeroFill), "zero-fill", "zero":
		return ZeroFill, nil
	case string(CarryForward), "carry-forward", "carry":
		return CarryForward, nil
	default:
		return "", fmt.Errorf("unknown gap policy %q (expected %s or %s)", s, ZeroFill, CarryForward)
	}
}

// Sample is one observation of a single throughput dimension
type Sample struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Units     float64   `json:"units" yaml:"units"`
}

// Window is the half-open interval [Start, End)
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Hours returns the window length in hours
func (w Window) Hours() float64 {
	return w.Duration().Hours()
}

// Days returns the window length in days
func (w Window) Days() float64 {
	return w.Duration().Hours() / 24
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Options configures a Normalize call
type Options struct {
	Step        time.Duration
	GapPolicy   GapPolicy
	MinCoverage float64
}

// DefaultOptions returns one-minute zero-filled resampling with a 50% coverage floor
func DefaultOptions() Options {
	return Options{
		Step:        DefaultStep,
		GapPolicy:   ZeroFill,
		MinCoverage: DefaultMinCoverage,
	}
}

func (o Options) withDefaults() Options {
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	if o.GapPolicy == "" {
		o.GapPolicy = ZeroFill
	}
	return o
}

// Series is a gap-free, fixed-step consumption series. It is never mutated
// after Normalize returns it.
type Series struct {
	Window    Window        `json:"window"`
	Step      time.Duration `json:"step"`
	Values    []float64     `json:"values"`
	GapPolicy GapPolicy     `json:"gap_policy"`
	Coverage  float64       `json:"coverage"`
}

// Len returns the number of steps in the series
func (s Series) Len() int {
	return len(s.Values)
}

// TimeAt returns the start of step i
func (s Series) TimeAt(i int) time.Time {
	return s.Window.Start.Add(time.Duration(i) * s.Step)
}

// StepMinutes returns the step length in minutes
func (s Series) StepMinutes() float64 {
	return s.Step.Minutes()
}

// Sum returns the total of all values
func (s Series) Sum() float64 {
	var total float64
	for _, v := range s.Values {
		total += v
	}
	return total
}

// Max returns the largest value, or 0 for an empty series
func (s Series) Max() float64 {
	var peak float64
	for _, v := range s.Values {
		if v > peak {
			peak = v
		}
	}
	return peak
}

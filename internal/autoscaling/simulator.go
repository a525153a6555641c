package autoscaling

import (
	"errors"
	"fmt"
	"math"
	"time"

	"capacityeval/internal/timeseries"
)

// ceilTolerance absorbs floating point noise so that 70/0.7 rounds to 100, not 101
const ceilTolerance = 1e-9

// Point is the simulated provisioned capacity in effect at one step
type Point struct {
	Timestamp   time.Time `json:"timestamp"`
	Provisioned float64   `json:"provisioned"`
}

// Result is the provisioned capacity step function produced by one replay
type Result struct {
	Points                  []Point `json:"points"`
	Policy                  Policy  `json:"policy"`
	UnderProvisionedMinutes float64 `json:"under_provisioned_minutes"`
	ThrottledMinutes        float64 `json:"throttled_minutes"`
	ScaleOutEvents          int     `json:"scale_out_events"`
	ScaleInEvents           int     `json:"scale_in_events"`
}

// Peak returns the highest simulated capacity
func (r *Result) Peak() float64 {
	var peak float64
	for _, p := range r.Points {
		if p.Provisioned > peak {
			peak = p.Provisioned
		}
	}
	return peak
}

// State is the controller state carried from one sample to the next
type State struct {
	Provisioned  float64
	BreachHigh   int
	BreachLow    int
	LastScaleIn  time.Time
	LastScaleOut time.Time

	scaleInDay    time.Time
	scaleInsToday int
}

// controller replays a single dimension. It owns its state and result and
// is discarded once the series has been consumed.
type controller struct {
	policy        Policy
	series        timeseries.Series
	stepMinutes   float64
	scaleOutSteps int
	scaleInSteps  int
	state         State
	result        *Result
}

// Simulate replays series through policy and returns the simulated
// provisioned capacity for every step. The series is read in order and
// never modified.
func Simulate(series timeseries.Series, policy Policy) (*Result, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if series.Step <= 0 {
		return nil, fmt.Errorf("series step must be positive, got %s", series.Step)
	}
	if series.Len() == 0 {
		return nil, errors.New("cannot simulate an empty series")
	}

	c := newController(series, policy)
	for i := range series.Values {
		c.observe(i)
	}
	return c.result, nil
}

func newController(series timeseries.Series, policy Policy) *controller {
	stepMinutes := series.StepMinutes()
	c := &controller{
		policy:        policy,
		series:        series,
		stepMinutes:   stepMinutes,
		scaleOutSteps: sustainSteps(policy.ScaleOutSustainedMinutes, stepMinutes),
		scaleInSteps:  sustainSteps(policy.ScaleInSustainedMinutes, stepMinutes),
		result: &Result{
			Points: make([]Point, 0, series.Len()),
			Policy: policy,
		},
	}
	c.state.Provisioned = c.clamp(ceilUnits(series.Values[0] / policy.TargetUtilization))
	return c
}

// observe advances the controller by one sample and emits its point
func (c *controller) observe(i int) {
	now := c.series.TimeAt(i)
	consumed := c.series.Values[i]

	if ceilUnits(consumed/c.policy.TargetUtilization) > c.policy.MaxCapacity {
		c.result.UnderProvisionedMinutes += c.stepMinutes
	}

	u := c.utilization(consumed)
	if !c.evaluateScaleOut(now, consumed, u) {
		c.evaluateScaleIn(now, i, u)
	}

	if consumed > c.state.Provisioned {
		c.result.ThrottledMinutes += c.stepMinutes
	}

	c.result.Points = append(c.result.Points, Point{
		Timestamp:   now,
		Provisioned: c.state.Provisioned,
	})
}

func (c *controller) utilization(consumed float64) float64 {
	if c.state.Provisioned == 0 {
		return math.Inf(1)
	}
	return consumed / c.state.Provisioned
}

// evaluateScaleOut reports whether a scale-out fired on this step
func (c *controller) evaluateScaleOut(now time.Time, consumed, u float64) bool {
	if u > c.policy.TargetUtilization {
		c.state.BreachHigh++
	} else {
		c.state.BreachHigh = 0
	}

	if c.state.BreachHigh < c.scaleOutSteps || !c.scaleOutAllowed(now) {
		return false
	}

	next := c.clamp(ceilUnits(consumed / c.policy.TargetUtilization))
	if next > c.state.Provisioned {
		c.state.Provisioned = next
		c.state.LastScaleOut = now
		c.result.ScaleOutEvents++
	}
	c.state.BreachHigh = 0
	c.state.BreachLow = 0
	return true
}

func (c *controller) evaluateScaleIn(now time.Time, i int, u float64) {
	if u < c.policy.ScaleInMargin && c.scaleInAllowed(now) {
		c.state.BreachLow++
	} else {
		c.state.BreachLow = 0
	}

	if c.state.BreachLow < c.scaleInSteps {
		return
	}

	next := c.clamp(ceilUnits(c.trailingPeak(i) / c.policy.TargetUtilization))
	if next < c.state.Provisioned {
		c.state.Provisioned = next
		c.recordScaleIn(now)
	}
	c.state.BreachHigh = 0
	c.state.BreachLow = 0
}

func (c *controller) recordScaleIn(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(c.state.scaleInDay) {
		c.state.scaleInDay = day
		c.state.scaleInsToday = 0
	}
	c.state.scaleInsToday++
	c.state.LastScaleIn = now
	c.result.ScaleInEvents++
}

func (c *controller) scaleInAllowed(now time.Time) bool {
	if c.state.LastScaleIn.IsZero() {
		return true
	}
	if c.policy.ScaleInDailyAllowance > 0 {
		day := now.UTC().Truncate(24 * time.Hour)
		if !day.Equal(c.state.scaleInDay) || c.state.scaleInsToday < c.policy.ScaleInDailyAllowance {
			return true
		}
	}
	return now.Sub(c.state.LastScaleIn).Minutes() >= c.policy.CooldownMinutes
}

func (c *controller) scaleOutAllowed(now time.Time) bool {
	if c.policy.ScaleOutCooldownMinutes == 0 || c.state.LastScaleOut.IsZero() {
		return true
	}
	return now.Sub(c.state.LastScaleOut).Minutes() >= c.policy.ScaleOutCooldownMinutes
}

// trailingPeak returns the highest consumption in the scale-in window ending at i
func (c *controller) trailingPeak(i int) float64 {
	start := i - c.scaleInSteps + 1
	if start < 0 {
		start = 0
	}
	var peak float64
	for _, v := range c.series.Values[start : i+1] {
		if v > peak {
			peak = v
		}
	}
	return peak
}

func (c *controller) clamp(units float64) float64 {
	return math.Min(math.Max(units, c.policy.MinCapacity), c.policy.MaxCapacity)
}

// sustainSteps converts a sustain duration into a step count of at least one
func sustainSteps(minutes, stepMinutes float64) int {
	steps := int(ceilUnits(minutes / stepMinutes))
	if steps < 1 {
		return 1
	}
	return steps
}

func ceilUnits(x float64) float64 {
	return math.Ceil(x - ceilTolerance)
}

package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"capacityeval/internal/autoscaling"
	"capacityeval/internal/timeseries"
)

const moneyPlaces = 4

// Thresholds decide how a cost comparison is classified
type Thresholds struct {
	// MinSavings is the monthly saving below which a recommendation is not actionable
	MinSavings float64 `json:"min_savings" mapstructure:"min_savings"`
	// MinDays is the shortest window that yields a confident recommendation
	MinDays float64 `json:"min_days" mapstructure:"min_days"`
	// ModifyThreshold is the fractional saving that flags a provisioned
	// resource whose autoscaling settings should be changed
	ModifyThreshold float64 `json:"modify_threshold" mapstructure:"modify_threshold"`
}

// DefaultThresholds returns a $1 savings floor, a 7 day window and a 15% modify threshold
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSavings:      1,
		MinDays:         7,
		ModifyThreshold: 0.15,
	}
}

// DimensionInput is the normalised consumption and simulated capacity of one dimension
type DimensionInput struct {
	Dimension   Dimension
	Consumption timeseries.Series
	Simulation  *autoscaling.Result
	// Observed is the capacity actually provisioned over the window, if known
	Observed *timeseries.Series
}

// Input is everything Recommend needs for one resource
type Input struct {
	Resource        ResourceDescriptor
	Dimensions      []DimensionInput
	Pricing         PricingTable
	RequestsPerUnit float64
	Thresholds      Thresholds
}

type dimensionCost struct {
	provisioned        decimal.Decimal
	currentProvisioned decimal.Decimal
	onDemand           decimal.Decimal
	current            decimal.Decimal
	requests           decimal.Decimal
	unitHours          decimal.Decimal
	observed           bool
}

// Recommend prices simulated provisioned capacity against on-demand
// requests for every dimension and classifies the resulting recommendation.
func Recommend(in Input) (*Recommendation, error) {
	if len(in.Dimensions) == 0 {
		return nil, errors.New("no dimensions to evaluate")
	}
	requestsPerUnit := in.RequestsPerUnit
	if requestsPerUnit <= 0 {
		requestsPerUnit = 1
	}

	window := in.Dimensions[0].Consumption.Window
	windowHours := window.Hours()
	if windowHours <= 0 {
		return nil, timeseries.ErrEmptyWindow
	}
	factor := MonthlyFactor(windowHours)

	rec := &Recommendation{
		ResourceID:         in.Resource.ResourceID,
		BaseTable:          in.Resource.BaseTable,
		IndexName:          in.Resource.IndexName,
		Region:             in.Resource.Region,
		TableClass:         in.Resource.TableClass,
		CurrentMode:        in.Resource.CurrentMode,
		AutoscalingEnabled: in.Resource.AutoscalingEnabled,
		DaysAnalyzed:       round(decimal.NewFromFloat(window.Days()), 2),
		GapPolicy:          string(in.Dimensions[0].Consumption.GapPolicy),
	}
	if rec.ResourceID == "" {
		rec.ResourceID = ResourceID(in.Resource.BaseTable, in.Resource.IndexName)
	}
	if rec.CurrentMode == "" {
		rec.CurrentMode = UnknownMode
	}

	var (
		totalProvisioned        = decimal.Zero
		totalCurrentProvisioned = decimal.Zero
		totalOnDemand           = decimal.Zero
		totalCurrent            = decimal.Zero
		coverageSum             float64
		anyObserved             bool
	)

	for _, dim := range in.Dimensions {
		if dim.Simulation == nil {
			return nil, fmt.Errorf("dimension %s has no simulation result", dim.Dimension)
		}
		rates, err := in.Pricing.RatesFor(dim.Dimension)
		if err != nil {
			return nil, err
		}

		cost := priceDimension(dim, rates, requestsPerUnit, factor, rec.CurrentMode)
		breakdown := breakdownFor(dim, cost, in.Resource)
		rec.Dimensions = append(rec.Dimensions, breakdown)

		totalProvisioned = totalProvisioned.Add(cost.provisioned)
		totalCurrentProvisioned = totalCurrentProvisioned.Add(cost.currentProvisioned)
		totalOnDemand = totalOnDemand.Add(cost.onDemand)
		totalCurrent = totalCurrent.Add(cost.current)
		coverageSum += dim.Consumption.Coverage
		anyObserved = anyObserved || cost.observed
		rec.UnderProvisionedMinutes += dim.Simulation.UnderProvisionedMinutes

		if rec.SimulatedTargetUtilization == 0 {
			rec.SimulatedMinCapacity = dim.Simulation.Policy.MinCapacity
			rec.SimulatedTargetUtilization = dim.Simulation.Policy.TargetUtilization
		}
		if rec.CurrentTargetUtilization == 0 && breakdown.CurrentTargetUtilization > 0 {
			rec.CurrentMinCapacity = breakdown.CurrentMinCapacity
			rec.CurrentTargetUtilization = breakdown.CurrentTargetUtilization
		}
	}

	rec.ProvisionedMonthlyCost = round(totalProvisioned, moneyPlaces)
	rec.CurrentProvisionedMonthlyCost = round(totalCurrentProvisioned, moneyPlaces)
	rec.OnDemandMonthlyCost = round(totalOnDemand, moneyPlaces)
	rec.CurrentMonthlyCost = round(totalCurrent, moneyPlaces)

	rec.RecommendedMode, rec.MonthlySavings, rec.SavingsPct = decide(totalProvisioned, totalOnDemand, totalCurrent)

	rec.ModifyProvisioned = rec.CurrentMode == Provisioned &&
		rec.RecommendedMode == Provisioned &&
		anyObserved &&
		totalProvisioned.LessThan(totalCurrentProvisioned.Mul(decimal.NewFromFloat(1-in.Thresholds.ModifyThreshold)))

	meanCoverage := coverageSum / float64(len(in.Dimensions))
	rec.Confidence = confidence(window.Days(), in.Thresholds.MinDays, meanCoverage, rec.UnderProvisionedMinutes)
	rec.Status = classify(rec, in.Thresholds)

	return rec, nil
}

func priceDimension(dim DimensionInput, rates Rates, requestsPerUnit float64, factor decimal.Decimal, mode Mode) dimensionCost {
	var c dimensionCost
	c.provisioned, c.unitHours = ProvisionedMonthlyCost(HourlyPeaks(dim.Simulation.Points, dim.Consumption.Step), rates, factor)
	c.requests = MonthlyRequests(dim.Consumption, requestsPerUnit, factor)
	c.onDemand = OnDemandMonthlyCost(c.requests, rates)

	if mode == Provisioned {
		if dim.Observed != nil && dim.Observed.Len() > 0 {
			c.currentProvisioned, _ = ProvisionedMonthlyCost(SeriesHourlyPeaks(*dim.Observed), rates, factor)
			c.observed = true
		} else {
			c.currentProvisioned = c.provisioned
		}
	}

	switch mode {
	case Provisioned:
		c.current = c.currentProvisioned
	case OnDemand:
		c.current = c.onDemand
	}
	return c
}

func breakdownFor(dim DimensionInput, cost dimensionCost, resource ResourceDescriptor) DimensionBreakdown {
	mode, savings, pct := decide(cost.provisioned, cost.onDemand, cost.current)
	b := DimensionBreakdown{
		Dimension:                     dim.Dimension,
		ProvisionedMonthlyCost:        round(cost.provisioned, moneyPlaces),
		CurrentProvisionedMonthlyCost: round(cost.currentProvisioned, moneyPlaces),
		OnDemandMonthlyCost:           round(cost.onDemand, moneyPlaces),
		CurrentMonthlyCost:            round(cost.current, moneyPlaces),
		MonthlyRequests:               round(cost.requests, 0),
		MonthlyUnitHours:              round(cost.unitHours, 2),
		PeakProvisioned:               dim.Simulation.Peak(),
		RecommendedMode:               mode,
		MonthlySavings:                savings,
		SavingsPct:                    pct,
		UnderProvisionedMinutes:       dim.Simulation.UnderProvisionedMinutes,
		ThrottledMinutes:              dim.Simulation.ThrottledMinutes,
		ScaleOutEvents:                dim.Simulation.ScaleOutEvents,
		ScaleInEvents:                 dim.Simulation.ScaleInEvents,
		Coverage:                      dim.Consumption.Coverage,
	}
	if current, ok := resource.Current[dim.Dimension]; ok {
		b.CurrentMinCapacity = current.MinCapacity
		b.CurrentTargetUtilization = current.TargetUtilization
	}
	return b
}

// decide picks the cheaper mode. Ties go to provisioned.
func decide(provisioned, onDemand, current decimal.Decimal) (Mode, float64, float64) {
	mode := Provisioned
	if onDemand.LessThan(provisioned) {
		mode = OnDemand
	}

	savings := provisioned.Sub(onDemand).Abs()
	denominator := decimal.Max(current, provisioned, onDemand)
	pct := decimal.Zero
	if denominator.IsPositive() {
		pct = savings.Div(denominator).Mul(decimal.NewFromInt(100))
	}
	return mode, round(savings, moneyPlaces), round(pct, 2)
}

func classify(rec *Recommendation, thresholds Thresholds) Status {
	switch {
	case rec.MonthlySavings < thresholds.MinSavings:
		return NotActionable
	case rec.DaysAnalyzed < thresholds.MinDays || rec.UnderProvisionedMinutes > 0:
		return LowConfidence
	case rec.RecommendedMode == rec.CurrentMode:
		return Optimized
	default:
		return NotOptimized
	}
}

func confidence(days, minDays, coverage, underProvisionedMinutes float64) float64 {
	windowFactor := 1.0
	if minDays > 0 && days < minDays {
		windowFactor = days / minDays
	}
	c := windowFactor * coverage
	if underProvisionedMinutes > 0 {
		c *= 0.5
	}
	return round(decimal.NewFromFloat(c), 3)
}

func round(d decimal.Decimal, places int32) float64 {
	return d.Round(places).InexactFloat64()
}

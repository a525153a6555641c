package billing

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capacityeval/internal/autoscaling"
	"capacityeval/internal/timeseries"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func scenarioPricing() PricingTable {
	rates := Rates{ProvisionedUnitHour: 0.00013, OnDemandPerMillion: 0.25}
	return PricingTable{
		Region:     "us-east-1",
		TableClass: "STANDARD",
		Dimensions: map[Dimension]Rates{Read: rates, Write: rates},
	}
}

// minutes generates one sample per minute from t0 using f
func minutes(n int, f func(i int) float64) []timeseries.Sample {
	samples := make([]timeseries.Sample, n)
	for i := range samples {
		samples[i] = timeseries.Sample{Timestamp: t0.Add(time.Duration(i) * time.Minute), Units: f(i)}
	}
	return samples
}

func constant(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func dailySpike(base, spike float64) func(int) float64 {
	return func(i int) float64 {
		if i%1440 == 12*60+30 {
			return spike
		}
		return base
	}
}

func buildDimension(t *testing.T, d Dimension, samples []timeseries.Sample, window timeseries.Window, policy autoscaling.Policy) DimensionInput {
	t.Helper()
	series, err := timeseries.Normalize(samples, window, timeseries.DefaultOptions())
	require.NoError(t, err)
	result, err := autoscaling.Simulate(series, policy)
	require.NoError(t, err)
	return DimensionInput{Dimension: d, Consumption: series, Simulation: result}
}

func windowOf(d time.Duration) timeseries.Window {
	return timeseries.Window{Start: t0, End: t0.Add(d)}
}

func scenarioA(t *testing.T) Input {
	window := windowOf(14 * 24 * time.Hour)
	samples := minutes(14*1440, constant(100))
	return Input{
		Resource: ResourceDescriptor{BaseTable: "orders", Region: "us-east-1", CurrentMode: Provisioned},
		Dimensions: []DimensionInput{
			buildDimension(t, Read, samples, window, autoscaling.DefaultPolicy()),
			buildDimension(t, Write, samples, window, autoscaling.DefaultPolicy()),
		},
		Pricing:    scenarioPricing(),
		Thresholds: DefaultThresholds(),
	}
}

func TestRecommendScenarioSteadyLowTraffic(t *testing.T) {
	rec, err := Recommend(scenarioA(t))
	require.NoError(t, err)

	require.Len(t, rec.Dimensions, 2)
	read := rec.Dimensions[0]
	assert.Equal(t, Read, read.Dimension)
	assert.Equal(t, 143.0, read.PeakProvisioned)
	assert.InDelta(t, 143*0.00013*730, read.ProvisionedMonthlyCost, 0.001)
	assert.InDelta(t, 13.58, read.ProvisionedMonthlyCost, 0.02)
	assert.InDelta(t, 100*60*730/1e6*0.25, read.OnDemandMonthlyCost, 0.001)
	assert.Equal(t, OnDemand, read.RecommendedMode)

	assert.Equal(t, "orders", rec.ResourceID)
	assert.Equal(t, OnDemand, rec.RecommendedMode)
	assert.InDelta(t, 2*13.5707, rec.ProvisionedMonthlyCost, 0.001)
	assert.InDelta(t, rec.ProvisionedMonthlyCost-rec.OnDemandMonthlyCost, rec.MonthlySavings, 0.0002)
	assert.Equal(t, rec.ProvisionedMonthlyCost, rec.CurrentMonthlyCost)
	assert.Equal(t, 14.0, rec.DaysAnalyzed)
	assert.Equal(t, 0.7, rec.SimulatedTargetUtilization)
	assert.Equal(t, 1.0, rec.SimulatedMinCapacity)
	assert.Equal(t, "zero_fill", rec.GapPolicy)
	assert.Equal(t, NotOptimized, rec.Status)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.False(t, rec.ModifyProvisioned)
}

func TestRecommendScenarioSpikyTraffic(t *testing.T) {
	window := windowOf(14 * 24 * time.Hour)
	samples := minutes(14*1440, dailySpike(10, 1000))
	policy := autoscaling.DefaultPolicy()
	policy.ScaleOutSustainedMinutes = 1

	rec, err := Recommend(Input{
		Resource:   ResourceDescriptor{BaseTable: "events", CurrentMode: OnDemand},
		Dimensions: []DimensionInput{buildDimension(t, Read, samples, window, policy)},
		Pricing:    scenarioPricing(),
		Thresholds: DefaultThresholds(),
	})
	require.NoError(t, err)

	read := rec.Dimensions[0]
	assert.Equal(t, 14, read.ScaleOutEvents)
	assert.Equal(t, 14, read.ScaleInEvents)
	assert.Equal(t, 1429.0, read.PeakProvisioned)
	assert.Greater(t, rec.ProvisionedMonthlyCost, 10*rec.OnDemandMonthlyCost)
	assert.Equal(t, OnDemand, rec.RecommendedMode)
	assert.Greater(t, rec.SavingsPct, 90.0)
	assert.Equal(t, Optimized, rec.Status)
}

func TestRecommendScenarioSaturatedSteadyTraffic(t *testing.T) {
	window := windowOf(14 * 24 * time.Hour)
	samples := minutes(14*1440, constant(70))

	rec, err := Recommend(Input{
		Resource: ResourceDescriptor{BaseTable: "sessions", CurrentMode: Provisioned},
		Dimensions: []DimensionInput{
			buildDimension(t, Read, samples, window, autoscaling.DefaultPolicy()),
			buildDimension(t, Write, samples, window, autoscaling.DefaultPolicy()),
		},
		Pricing: scenarioPricing(),
		// per-second capacity units sampled once a minute
		RequestsPerUnit: 60,
		Thresholds:      DefaultThresholds(),
	})
	require.NoError(t, err)

	for _, d := range rec.Dimensions {
		assert.Zero(t, d.ScaleOutEvents)
		assert.Zero(t, d.ScaleInEvents)
		assert.Equal(t, 100.0, d.PeakProvisioned)
		assert.InDelta(t, 9.49, d.ProvisionedMonthlyCost, 0.001)
		assert.InDelta(t, 45.99, d.OnDemandMonthlyCost, 0.001)
	}
	assert.Less(t, rec.ProvisionedMonthlyCost, rec.OnDemandMonthlyCost)
	assert.Equal(t, Provisioned, rec.RecommendedMode)
	assert.Equal(t, Optimized, rec.Status)
}

func TestRecommendZeroConsumption(t *testing.T) {
	window := windowOf(HoursPerMonth * time.Hour)
	samples := minutes(HoursPerMonth*60, constant(0))
	pricing := scenarioPricing()

	rec, err := Recommend(Input{
		Resource:   ResourceDescriptor{BaseTable: "idle", CurrentMode: Provisioned},
		Dimensions: []DimensionInput{buildDimension(t, Read, samples, window, autoscaling.DefaultPolicy())},
		Pricing:    pricing,
		Thresholds: Thresholds{MinSavings: 0, MinDays: 7, ModifyThreshold: 0.15},
	})
	require.NoError(t, err)

	assert.Zero(t, rec.OnDemandMonthlyCost)
	assert.InDelta(t, 1*pricing.Dimensions[Read].ProvisionedUnitHour*HoursPerMonth, rec.ProvisionedMonthlyCost, 1e-6)
	assert.Equal(t, OnDemand, rec.RecommendedMode)
	assert.Equal(t, 100.0, rec.SavingsPct)
}

func TestRecommendDeterministic(t *testing.T) {
	first, err := Recommend(scenarioA(t))
	require.NoError(t, err)
	second, err := Recommend(scenarioA(t))
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRecommendModifyProvisioned(t *testing.T) {
	window := windowOf(14 * 24 * time.Hour)
	samples := minutes(14*1440, constant(100))
	observed, err := timeseries.Normalize(minutes(14*1440, constant(200)), window, timeseries.DefaultOptions())
	require.NoError(t, err)

	dim := buildDimension(t, Read, samples, window, autoscaling.DefaultPolicy())
	dim.Observed = &observed

	rec, err := Recommend(Input{
		Resource: ResourceDescriptor{
			BaseTable:          "orders",
			IndexName:          "by-customer",
			CurrentMode:        Provisioned,
			AutoscalingEnabled: true,
			Current: map[Dimension]ScalingSettings{
				Read: {MinCapacity: 200, MaxCapacity: 400, TargetUtilization: 0.5},
			},
		},
		Dimensions:      []DimensionInput{dim},
		Pricing:         scenarioPricing(),
		RequestsPerUnit: 60,
		Thresholds:      DefaultThresholds(),
	})
	require.NoError(t, err)

	assert.Equal(t, "orders:by-customer", rec.ResourceID)
	assert.InDelta(t, 200*0.00013*730, rec.CurrentProvisionedMonthlyCost, 0.001)
	assert.Equal(t, rec.CurrentProvisionedMonthlyCost, rec.CurrentMonthlyCost)
	assert.Equal(t, Provisioned, rec.RecommendedMode)
	assert.True(t, rec.ModifyProvisioned)
	assert.Equal(t, 200.0, rec.CurrentMinCapacity)
	assert.Equal(t, 0.5, rec.CurrentTargetUtilization)
	assert.True(t, rec.AutoscalingEnabled)
}

func TestRecommendLowConfidence(t *testing.T) {
	t.Run("short window", func(t *testing.T) {
		window := windowOf(3 * 24 * time.Hour)
		samples := minutes(3*1440, constant(100))
		rec, err := Recommend(Input{
			Resource:   ResourceDescriptor{BaseTable: "orders", CurrentMode: Provisioned},
			Dimensions: []DimensionInput{buildDimension(t, Read, samples, window, autoscaling.DefaultPolicy())},
			Pricing:    scenarioPricing(),
			Thresholds: DefaultThresholds(),
		})
		require.NoError(t, err)
		assert.Equal(t, LowConfidence, rec.Status)
		assert.InDelta(t, 3.0/7.0, rec.Confidence, 0.001)
	})

	t.Run("capacity ceiling hit", func(t *testing.T) {
		window := windowOf(8 * 24 * time.Hour)
		samples := minutes(8*1440, constant(100))
		policy := autoscaling.DefaultPolicy()
		policy.MaxCapacity = 50
		rec, err := Recommend(Input{
			Resource:   ResourceDescriptor{BaseTable: "orders", CurrentMode: Provisioned},
			Dimensions: []DimensionInput{buildDimension(t, Read, samples, window, policy)},
			Pricing:    scenarioPricing(),
			Thresholds: DefaultThresholds(),
		})
		require.NoError(t, err)
		assert.Greater(t, rec.UnderProvisionedMinutes, 0.0)
		assert.Equal(t, LowConfidence, rec.Status)
		assert.Equal(t, 0.5, rec.Confidence)
	})
}

func TestRecommendPricingUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		pricing PricingTable
	}{
		{
			name: "missing dimension",
			pricing: PricingTable{Region: "eu-west-1", Dimensions: map[Dimension]Rates{
				Read: {ProvisionedUnitHour: 0.00013, OnDemandPerMillion: 0.25},
			}},
		},
		{
			name: "zero provisioned price",
			pricing: PricingTable{Region: "eu-west-1", Dimensions: map[Dimension]Rates{
				Read:  {ProvisionedUnitHour: 0.00013, OnDemandPerMillion: 0.25},
				Write: {ProvisionedUnitHour: 0, OnDemandPerMillion: 1.25},
			}},
		},
		{
			name: "negative on-demand price",
			pricing: PricingTable{Region: "eu-west-1", Dimensions: map[Dimension]Rates{
				Read:  {ProvisionedUnitHour: 0.00013, OnDemandPerMillion: 0.25},
				Write: {ProvisionedUnitHour: 0.00065, OnDemandPerMillion: -1},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := scenarioA(t)
			in.Pricing = tt.pricing

			_, err := Recommend(in)
			var unavailable *PricingUnavailableError
			require.True(t, errors.As(err, &unavailable))
			assert.Equal(t, Write, unavailable.Dimension)
			assert.Equal(t, "eu-west-1", unavailable.Region)
		})
	}
}

func TestRecommendRejectsEmptyInput(t *testing.T) {
	_, err := Recommend(Input{Pricing: scenarioPricing()})
	assert.Error(t, err)
}

func TestDecideSavingsPercent(t *testing.T) {
	tests := []struct {
		name                        string
		provisioned, onDemand, curr float64
		wantMode                    Mode
		wantSavings, wantPct        float64
	}{
		{"on-demand cheaper", 10, 4, 10, OnDemand, 6, 60},
		{"provisioned cheaper", 2, 8, 2, Provisioned, 6, 75},
		{"current dominates denominator", 10, 4, 20, OnDemand, 6, 30},
		{"tie keeps provisioned", 5, 5, 5, Provisioned, 0, 0},
		{"all zero", 0, 0, 0, Provisioned, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, savings, pct := decide(
				decimal.NewFromFloat(tt.provisioned),
				decimal.NewFromFloat(tt.onDemand),
				decimal.NewFromFloat(tt.curr),
			)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantSavings, savings)
			assert.Equal(t, tt.wantPct, pct)
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	thresholds := DefaultThresholds()

	tests := []struct {
		name string
		rec  Recommendation
		want Status
	}{
		{
			name: "small savings win over everything",
			rec:  Recommendation{MonthlySavings: 0.5, DaysAnalyzed: 2, UnderProvisionedMinutes: 10},
			want: NotActionable,
		},
		{
			name: "short window",
			rec:  Recommendation{MonthlySavings: 50, DaysAnalyzed: 6.9, CurrentMode: OnDemand, RecommendedMode: OnDemand},
			want: LowConfidence,
		},
		{
			name: "under provisioned",
			rec:  Recommendation{MonthlySavings: 50, DaysAnalyzed: 14, UnderProvisionedMinutes: 1},
			want: LowConfidence,
		},
		{
			name: "already optimal",
			rec:  Recommendation{MonthlySavings: 50, DaysAnalyzed: 14, CurrentMode: Provisioned, RecommendedMode: Provisioned},
			want: Optimized,
		},
		{
			name: "switch recommended",
			rec:  Recommendation{MonthlySavings: 50, DaysAnalyzed: 14, CurrentMode: Provisioned, RecommendedMode: OnDemand},
			want: NotOptimized,
		},
		{
			name: "unknown current mode",
			rec:  Recommendation{MonthlySavings: 50, DaysAnalyzed: 14, CurrentMode: UnknownMode, RecommendedMode: OnDemand},
			want: NotOptimized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(&tt.rec, thresholds))
		})
	}
}

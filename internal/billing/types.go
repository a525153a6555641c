package billing

import (
	"fmt"
	"strings"
)

// Dimension is a throughput dimension billed independently
type Dimension string

const (
	Read  Dimension = "READ"
	Write Dimension = "WRITE"
)

// Dimensions lists every dimension in evaluation order
var Dimensions = []Dimension{Read, Write}

// ParseDimension accepts READ/WRITE in any case
func ParseDimension(s string) (Dimension, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "READ", "R", "RCU":
		return Read, nil
	case "WRITE", "W", "WCU":
		return Write, nil
	default:
		return "", fmt.Errorf("unknown dimension %q", s)
	}
}

// Mode is a table billing mode
type Mode string

const (
	Provisioned Mode = "PROVISIONED"
	OnDemand    Mode = "ON_DEMAND"
	UnknownMode Mode = "UNKNOWN"
)

// ParseMode accepts both the engine names and the DynamoDB BillingMode values
func ParseMode(s string) Mode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PROVISIONED":
		return Provisioned
	case "ON_DEMAND", "ONDEMAND", "PAY_PER_REQUEST":
		return OnDemand
	default:
		return UnknownMode
	}
}

// Status classifies how actionable a recommendation is
type Status string

const (
	NotActionable Status = "NOT_ACTIONABLE"
	LowConfidence Status = "LOW_CONFIDENCE"
	Optimized     Status = "OPTIMIZED"
	NotOptimized  Status = "NOT_OPTIMIZED"
)

// Rates holds the prices and free tier for one dimension
type Rates struct {
	ProvisionedUnitHour     float64 `json:"provisioned_unit_hour" yaml:"provisioned_unit_hour" mapstructure:"provisioned_unit_hour"`
	OnDemandPerMillion      float64 `json:"on_demand_per_million" yaml:"on_demand_per_million" mapstructure:"on_demand_per_million"`
	FreeTierUnitHours       float64 `json:"free_tier_unit_hours" yaml:"free_tier_unit_hours" mapstructure:"free_tier_unit_hours"`
	FreeTierMonthlyRequests float64 `json:"free_tier_monthly_requests" yaml:"free_tier_monthly_requests" mapstructure:"free_tier_monthly_requests"`
}

// PricingTable is the price list for one region and table class.
// It is shared read-only across concurrent evaluations.
type PricingTable struct {
	Region     string              `json:"region" yaml:"region" mapstructure:"region"`
	TableClass string              `json:"table_class" yaml:"table_class" mapstructure:"table_class"`
	Dimensions map[Dimension]Rates `json:"dimensions" yaml:"dimensions" mapstructure:"dimensions"`
}

// RatesFor returns the rates of a dimension or a *PricingUnavailableError
func (p PricingTable) RatesFor(d Dimension) (Rates, error) {
	rates, ok := p.Dimensions[d]
	if !ok {
		return Rates{}, &PricingUnavailableError{Region: p.Region, TableClass: p.TableClass, Dimension: d, Reason: "no price entry"}
	}
	if rates.ProvisionedUnitHour <= 0 {
		return Rates{}, &PricingUnavailableError{Region: p.Region, TableClass: p.TableClass, Dimension: d, Reason: "provisioned unit-hour price must be positive"}
	}
	if rates.OnDemandPerMillion <= 0 {
		return Rates{}, &PricingUnavailableError{Region: p.Region, TableClass: p.TableClass, Dimension: d, Reason: "on-demand request price must be positive"}
	}
	if rates.FreeTierUnitHours < 0 || rates.FreeTierMonthlyRequests < 0 {
		return Rates{}, &PricingUnavailableError{Region: p.Region, TableClass: p.TableClass, Dimension: d, Reason: "free tier must not be negative"}
	}
	return rates, nil
}

// ScalingSettings describes autoscaling already configured on a resource
type ScalingSettings struct {
	MinCapacity       float64 `json:"min_capacity" yaml:"min_capacity"`
	MaxCapacity       float64 `json:"max_capacity" yaml:"max_capacity"`
	TargetUtilization float64 `json:"target_utilization" yaml:"target_utilization"`
}

// ResourceDescriptor identifies a table or global secondary index and its current billing setup
type ResourceDescriptor struct {
	ResourceID         string                        `json:"resource_id" yaml:"resource_id"`
	BaseTable          string                        `json:"base_table" yaml:"base_table"`
	IndexName          string                        `json:"index_name,omitempty" yaml:"index_name"`
	Region             string                        `json:"region" yaml:"region"`
	TableClass         string                        `json:"table_class" yaml:"table_class"`
	CurrentMode        Mode                          `json:"current_mode" yaml:"current_mode"`
	AutoscalingEnabled bool                          `json:"autoscaling_enabled" yaml:"autoscaling_enabled"`
	Current            map[Dimension]ScalingSettings `json:"current,omitempty" yaml:"current"`
}

// ResourceID builds the identifier of a table or of one of its indexes
func ResourceID(table, index string) string {
	if index == "" {
		return table
	}
	return table + ":" + index
}

// DimensionBreakdown carries the cost comparison of a single dimension
type DimensionBreakdown struct {
	Dimension                     Dimension `json:"dimension"`
	ProvisionedMonthlyCost        float64   `json:"provisioned_monthly_cost"`
	CurrentProvisionedMonthlyCost float64   `json:"current_provisioned_monthly_cost"`
	OnDemandMonthlyCost           float64   `json:"on_demand_monthly_cost"`
	CurrentMonthlyCost            float64   `json:"current_monthly_cost"`
	MonthlyRequests               float64   `json:"monthly_requests"`
	MonthlyUnitHours              float64   `json:"monthly_unit_hours"`
	PeakProvisioned               float64   `json:"peak_provisioned"`
	RecommendedMode               Mode      `json:"recommended_mode"`
	MonthlySavings                float64   `json:"monthly_savings"`
	// SavingsPct is MonthlySavings as a percentage (0-100) of the largest of
	// the current, provisioned and on-demand costs
	SavingsPct                    float64   `json:"savings_pct"`
	CurrentMinCapacity            float64   `json:"current_min_capacity"`
	CurrentTargetUtilization      float64   `json:"current_target_utilization"`
	UnderProvisionedMinutes       float64   `json:"under_provisioned_minutes"`
	ThrottledMinutes              float64   `json:"throttled_minutes"`
	ScaleOutEvents                int       `json:"scale_out_events"`
	ScaleInEvents                 int       `json:"scale_in_events"`
	Coverage                      float64   `json:"coverage"`
}

// Recommendation is the outcome of one resource evaluation. It is not
// modified after Recommend returns it.
type Recommendation struct {
	ResourceID                    string               `json:"resource_id"`
	BaseTable                     string               `json:"base_table"`
	IndexName                     string               `json:"index_name,omitempty"`
	Region                        string               `json:"region"`
	TableClass                    string               `json:"table_class"`
	Dimensions                    []DimensionBreakdown `json:"dimension_breakdown"`
	CurrentMode                   Mode                 `json:"current_mode"`
	RecommendedMode               Mode                 `json:"recommended_mode"`
	CurrentMonthlyCost            float64              `json:"current_monthly_cost"`
	OnDemandMonthlyCost           float64              `json:"on_demand_monthly_cost"`
	ProvisionedMonthlyCost        float64              `json:"provisioned_monthly_cost"`
	CurrentProvisionedMonthlyCost float64              `json:"current_provisioned_monthly_cost"`
	SimulatedMinCapacity          float64              `json:"simulated_min_capacity"`
	SimulatedTargetUtilization    float64              `json:"simulated_target_utilization"`
	CurrentMinCapacity            float64              `json:"current_min_capacity"`
	CurrentTargetUtilization      float64              `json:"current_target_utilization"`
	AutoscalingEnabled            bool                 `json:"autoscaling_enabled"`
	MonthlySavings                float64              `json:"monthly_savings"`
	// SavingsPct is a percentage (0-100), not a fraction
	SavingsPct                    float64              `json:"savings_pct"`
	DaysAnalyzed                  float64              `json:"days_analyzed"`
	UnderProvisionedMinutes       float64              `json:"under_provisioned_minutes"`
	GapPolicy                     string               `json:"gap_policy"`
	ModifyProvisioned             bool                 `json:"modify_provisioned"`
	Confidence                    float64              `json:"confidence"`
	Status                        Status               `json:"status"`
}

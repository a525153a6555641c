package autoscaling

import (
	"fmt"
	"strings"
)

// Policy describes the target-tracking controller being replayed.
// Durations are expressed in minutes.
type Policy struct {
	TargetUtilization        float64 `json:"target_utilization" mapstructure:"target_utilization"`
	ScaleOutSustainedMinutes float64 `json:"scale_out_sustained_minutes" mapstructure:"scale_out_sustained_minutes"`
	ScaleInSustainedMinutes  float64 `json:"scale_in_sustained_minutes" mapstructure:"scale_in_sustained_minutes"`
	ScaleInMargin            float64 `json:"scale_in_margin" mapstructure:"scale_in_margin"`
	// CooldownMinutes is the minimum gap between two scale-in events
	CooldownMinutes float64 `json:"cooldown_minutes" mapstructure:"cooldown_minutes"`
	// ScaleOutCooldownMinutes gates consecutive scale-outs. Zero disables the gate.
	ScaleOutCooldownMinutes float64 `json:"scale_out_cooldown_minutes" mapstructure:"scale_out_cooldown_minutes"`
	// ScaleInDailyAllowance is the number of scale-ins per UTC day that
	// ignore the cooldown. Zero disables the allowance.
	ScaleInDailyAllowance int     `json:"scale_in_daily_allowance" mapstructure:"scale_in_daily_allowance"`
	MinCapacity           float64 `json:"min_capacity" mapstructure:"min_capacity"`
	MaxCapacity           float64 `json:"max_capacity" mapstructure:"max_capacity"`
}

// DefaultPolicy mirrors the defaults of a freshly enabled DynamoDB target-tracking policy
func DefaultPolicy() Policy {
	return Policy{
		TargetUtilization:        0.70,
		ScaleOutSustainedMinutes: 2,
		ScaleInSustainedMinutes:  15,
		ScaleInMargin:            0.50,
		CooldownMinutes:          60,
		ScaleOutCooldownMinutes:  0,
		ScaleInDailyAllowance:    0,
		MinCapacity:              1,
		MaxCapacity:              40000,
	}
}

// InvalidPolicyError reports every out-of-domain policy field
type InvalidPolicyError struct {
	Problems []string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid scaling policy: %s", strings.Join(e.Problems, "; "))
}

// Validate checks every field and returns an *InvalidPolicyError listing all violations
func (p Policy) Validate() error {
	var problems []string

	if p.TargetUtilization <= 0 || p.TargetUtilization > 1 {
		problems = append(problems, fmt.Sprintf("target_utilization must be in (0,1], got %g", p.TargetUtilization))
	}
	if p.ScaleInMargin <= 0 || p.ScaleInMargin >= 1 {
		problems = append(problems, fmt.Sprintf("scale_in_margin must be in (0,1), got %g", p.ScaleInMargin))
	}
	if p.ScaleOutSustainedMinutes < 0 {
		problems = append(problems, fmt.Sprintf("scale_out_sustained_minutes must be >= 0, got %g", p.ScaleOutSustainedMinutes))
	}
	if p.ScaleInSustainedMinutes < 0 {
		problems = append(problems, fmt.Sprintf("scale_in_sustained_minutes must be >= 0, got %g", p.ScaleInSustainedMinutes))
	}
	if p.CooldownMinutes < 0 {
		problems = append(problems, fmt.Sprintf("cooldown_minutes must be >= 0, got %g", p.CooldownMinutes))
	}
	if p.ScaleOutCooldownMinutes < 0 {
		problems = append(problems, fmt.Sprintf("scale_out_cooldown_minutes must be >= 0, got %g", p.ScaleOutCooldownMinutes))
	}
	if p.ScaleInDailyAllowance < 0 {
		problems = append(problems, fmt.Sprintf("scale_in_daily_allowance must be >= 0, got %d", p.ScaleInDailyAllowance))
	}
	if p.MinCapacity < 1 {
		problems = append(problems, fmt.Sprintf("min_capacity must be >= 1, got %g", p.MinCapacity))
	}
	if p.MaxCapacity < p.MinCapacity {
		problems = append(problems, fmt.Sprintf("max_capacity (%g) must be >= min_capacity (%g)", p.MaxCapacity, p.MinCapacity))
	}

	if len(problems) > 0 {
		return &InvalidPolicyError{Problems: problems}
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"capacityeval/internal/autoscaling"
	"capacityeval/internal/billing"
	"capacityeval/internal/timeseries"
)

// EngineSettings is the full configuration surface of one evaluation run
type EngineSettings struct {
	Series          timeseries.Options
	Policy          autoscaling.Policy
	Thresholds      billing.Thresholds
	RequestsPerUnit float64
}

// DefaultEngineSettings returns the built-in defaults without consulting viper
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		Series:          timeseries.DefaultOptions(),
		Policy:          autoscaling.DefaultPolicy(),
		Thresholds:      billing.DefaultThresholds(),
		RequestsPerUnit: 1,
	}
}

// Validate rejects settings that would make every evaluation fail
func (s EngineSettings) Validate() error {
	if err := s.Policy.Validate(); err != nil {
		return err
	}
	if s.Series.Step <= 0 {
		return fmt.Errorf("series.step must be positive, got %s", s.Series.Step)
	}
	if s.Series.MinCoverage < 0 || s.Series.MinCoverage > 1 {
		return fmt.Errorf("series.min_coverage must be within [0,1], got %g", s.Series.MinCoverage)
	}
	if s.Thresholds.MinDays < 0 || s.Thresholds.MinSavings < 0 {
		return fmt.Errorf("recommendation.min_days and recommendation.min_savings must not be negative")
	}
	if s.Thresholds.ModifyThreshold < 0 || s.Thresholds.ModifyThreshold >= 1 {
		return fmt.Errorf("recommendation.modify_threshold must be within [0,1), got %g", s.Thresholds.ModifyThreshold)
	}
	if s.RequestsPerUnit <= 0 {
		return fmt.Errorf("evaluate.requests_per_unit must be positive, got %g", s.RequestsPerUnit)
	}
	return nil
}

// LoadEngineSettings builds EngineSettings from the simulation, series,
// recommendation and evaluate sections and validates them
func LoadEngineSettings() (EngineSettings, error) {
	gapPolicy, err := timeseries.ParseGapPolicy(viper.GetString("series.gap_policy"))
	if err != nil {
		return EngineSettings{}, fmt.Errorf("series.gap_policy: %w", err)
	}

	step, err := parseDuration(viper.Get("series.step"))
	if err != nil {
		return EngineSettings{}, fmt.Errorf("series.step: %w", err)
	}

	settings := EngineSettings{
		Series: timeseries.Options{
			Step:        step,
			GapPolicy:   gapPolicy,
			MinCoverage: viper.GetFloat64("series.min_coverage"),
		},
		Policy: autoscaling.Policy{
			TargetUtilization:        viper.GetFloat64("simulation.target_utilization"),
			ScaleOutSustainedMinutes: viper.GetFloat64("simulation.scale_out_sustained_minutes"),
			ScaleInSustainedMinutes:  viper.GetFloat64("simulation.scale_in_sustained_minutes"),
			ScaleInMargin:            viper.GetFloat64("simulation.scale_in_margin"),
			CooldownMinutes:          viper.GetFloat64("simulation.cooldown_minutes"),
			ScaleOutCooldownMinutes:  viper.GetFloat64("simulation.scale_out_cooldown_minutes"),
			ScaleInDailyAllowance:    viper.GetInt("simulation.scale_in_daily_allowance"),
			MinCapacity:              viper.GetFloat64("simulation.min_capacity"),
			MaxCapacity:              viper.GetFloat64("simulation.max_capacity"),
		},
		Thresholds: billing.Thresholds{
			MinSavings:      viper.GetFloat64("recommendation.min_savings"),
			MinDays:         viper.GetFloat64("recommendation.min_days"),
			ModifyThreshold: viper.GetFloat64("recommendation.modify_threshold"),
		},
		RequestsPerUnit: viper.GetFloat64("evaluate.requests_per_unit"),
	}

	if err := settings.Validate(); err != nil {
		return EngineSettings{}, err
	}
	return settings, nil
}

// parseDuration accepts "1m" style strings and bare numbers of minutes
func parseDuration(v interface{}) (time.Duration, error) {
	switch value := v.(type) {
	case nil:
		return timeseries.DefaultStep, nil
	case time.Duration:
		return value, nil
	case int, int64, float64:
		return time.Duration(cast.ToFloat64(value) * float64(time.Minute)), nil
	case string:
		// "5" from the environment is five minutes
		if minutes, err := cast.ToFloat64E(value); err == nil {
			return time.Duration(minutes * float64(time.Minute)), nil
		}
		return time.ParseDuration(value)
	default:
		return time.ParseDuration(cast.ToString(value))
	}
}

// FreeTier returns the configured free tier per dimension
func FreeTier() map[billing.Dimension]billing.Rates {
	return map[billing.Dimension]billing.Rates{
		billing.Read: {
			FreeTierUnitHours:       viper.GetFloat64("pricing.free_tier.read_unit_hours"),
			FreeTierMonthlyRequests: viper.GetFloat64("pricing.free_tier.read_requests"),
		},
		billing.Write: {
			FreeTierUnitHours:       viper.GetFloat64("pricing.free_tier.write_unit_hours"),
			FreeTierMonthlyRequests: viper.GetFloat64("pricing.free_tier.write_requests"),
		},
	}
}

// staticTable mirrors one entry of pricing.tables. Viper lower-cases map
// keys so dimensions are decoded as strings and parsed afterwards.
type staticTable struct {
	Region     string                   `mapstructure:"region"`
	TableClass string                   `mapstructure:"table_class"`
	Dimensions map[string]billing.Rates `mapstructure:"dimensions"`
}

// LoadStaticPricing decodes pricing.tables into pricing tables
func LoadStaticPricing() ([]billing.PricingTable, error) {
	var raw []staticTable
	if err := viper.UnmarshalKey("pricing.tables", &raw); err != nil {
		return nil, fmt.Errorf("error decoding pricing.tables: %w", err)
	}

	tables := make([]billing.PricingTable, 0, len(raw))
	for i, entry := range raw {
		if entry.Region == "" {
			return nil, fmt.Errorf("pricing.tables[%d]: region is required", i)
		}
		table := billing.PricingTable{
			Region:     entry.Region,
			TableClass: strings.ToUpper(entry.TableClass),
			Dimensions: make(map[billing.Dimension]billing.Rates, len(entry.Dimensions)),
		}
		if table.TableClass == "" {
			table.TableClass = "STANDARD"
		}
		for name, rates := range entry.Dimensions {
			dim, err := billing.ParseDimension(name)
			if err != nil {
				return nil, fmt.Errorf("pricing.tables[%d]: %w", i, err)
			}
			table.Dimensions[dim] = rates
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// PricingCacheFile returns the price cache location
func PricingCacheFile() string {
	if path := viper.GetString("pricing.cache_file"); path != "" {
		return path
	}
	return defaultCacheFile()
}

// StringList reads a key that may hold either a list or a comma separated string
func StringList(key string) []string {
	var out []string
	switch value := viper.Get(key).(type) {
	case nil:
		return nil
	case string:
		out = strings.Split(value, ",")
	default:
		out = cast.ToStringSlice(value)
	}

	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

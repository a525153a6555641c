package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"capacityeval/internal/logging"
)

// EnvPrefix is prepended to every environment variable override
const EnvPrefix = "CAPACITYEVAL"

// parameterSource tracks where each parameter value came from
type parameterSource struct {
	Key    string
	Value  interface{}
	Source string
}

// flagNames maps config keys to the flags that override them
var flagNames = map[string]string{
	"aws.profile":                   "profile",
	"aws.region":                    "region",
	"app.max_workers":               "max-workers",
	"app.log_format":                "log-format",
	"app.log_level":                 "log-level",
	"evaluate.tables":               "tables",
	"evaluate.input":                "input",
	"evaluate.lookback_days":        "days",
	"evaluate.output":               "output",
	"evaluate.output_format":        "output-format",
	"evaluate.output_dir":           "output-dir",
	"evaluate.bucket":               "bucket",
	"evaluate.bucket_region":        "bucket-region",
	"simulation.target_utilization": "target-utilization",
	"series.gap_policy":             "gap-policy",
	"recommendation.min_savings":    "min-savings",
	"pricing.source":                "pricing-source",
	"store.path":                    "store",
}

// trackedParameters are logged with their source at DEBUG level
var trackedParameters = []string{
	"aws.profile",
	"aws.region",
	"app.max_workers",
	"app.task_timeout",
	"app.log_format",
	"app.log_level",
	"evaluate.tables",
	"evaluate.input",
	"evaluate.lookback_days",
	"evaluate.requests_per_unit",
	"evaluate.output",
	"evaluate.output_format",
	"evaluate.output_dir",
	"evaluate.bucket",
	"evaluate.bucket_region",
	"simulation.target_utilization",
	"simulation.scale_out_sustained_minutes",
	"simulation.scale_in_sustained_minutes",
	"simulation.scale_in_margin",
	"simulation.cooldown_minutes",
	"simulation.scale_out_cooldown_minutes",
	"simulation.scale_in_daily_allowance",
	"simulation.min_capacity",
	"simulation.max_capacity",
	"series.step",
	"series.gap_policy",
	"series.min_coverage",
	"recommendation.min_days",
	"recommendation.min_savings",
	"recommendation.modify_threshold",
	"pricing.source",
	"pricing.cache_file",
	"store.path",
	"store.retention_days",
}

// getParameterSource determines where a parameter value came from (config file, env var, flag, or default)
func getParameterSource(key string, cmd *cobra.Command) parameterSource {
	value := viper.Get(key)
	envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))

	flagName := flagNames[key]
	if flagName == "" {
		flagName = strings.ReplaceAll(key, ".", "-")
	}

	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			return parameterSource{key, value, "command line flag"}
		}

		// Walk up the command chain checking persistent flags
		for current := cmd; current != nil; current = current.Parent() {
			if f := current.PersistentFlags().Lookup(flagName); f != nil && f.Changed {
				return parameterSource{key, value, "command line flag"}
			}
		}
	}

	if _, exists := os.LookupEnv(envKey); exists {
		return parameterSource{key, value, "environment variable"}
	}

	if viper.GetViper().InConfig(key) {
		return parameterSource{key, value, "config file"}
	}

	return parameterSource{key, value, "default value"}
}

// LogConfigurationSources logs the source of each configuration parameter
func LogConfigurationSources(shouldLog bool, cmd *cobra.Command) {
	if !shouldLog {
		return
	}

	logging.Debug("Configuration parameter sources:", nil)
	for _, param := range trackedParameters {
		source := getParameterSource(param, cmd)
		logging.Debug(fmt.Sprintf("  %s = %v (from %s)", source.Key, source.Value, source.Source), nil)
	}
}

// SetDefaults registers the default value of every configuration key
func SetDefaults() {
	viper.SetDefault("aws.profile", "default")
	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("app.max_workers", 8)
	viper.SetDefault("app.task_timeout", "5m")
	viper.SetDefault("app.log_format", "text")
	viper.SetDefault("app.log_level", "INFO")

	viper.SetDefault("evaluate.tables", "")
	viper.SetDefault("evaluate.input", "")
	viper.SetDefault("evaluate.lookback_days", 14)
	viper.SetDefault("evaluate.requests_per_unit", 1)
	viper.SetDefault("evaluate.output", "filesystem")
	viper.SetDefault("evaluate.output_format", "csv")
	viper.SetDefault("evaluate.output_dir", "output")
	viper.SetDefault("evaluate.bucket", "")
	viper.SetDefault("evaluate.bucket_region", "")

	viper.SetDefault("simulation.target_utilization", 0.70)
	viper.SetDefault("simulation.scale_out_sustained_minutes", 2)
	viper.SetDefault("simulation.scale_in_sustained_minutes", 15)
	viper.SetDefault("simulation.scale_in_margin", 0.50)
	viper.SetDefault("simulation.cooldown_minutes", 60)
	viper.SetDefault("simulation.scale_out_cooldown_minutes", 0)
	viper.SetDefault("simulation.scale_in_daily_allowance", 0)
	viper.SetDefault("simulation.min_capacity", 1)
	viper.SetDefault("simulation.max_capacity", 40000)

	viper.SetDefault("series.step", "1m")
	viper.SetDefault("series.gap_policy", "zero_fill")
	viper.SetDefault("series.min_coverage", 0.5)

	viper.SetDefault("recommendation.min_days", 7)
	viper.SetDefault("recommendation.min_savings", 1.0)
	viper.SetDefault("recommendation.modify_threshold", 0.15)

	viper.SetDefault("pricing.source", "api")
	viper.SetDefault("pricing.cache_file", defaultCacheFile())
	viper.SetDefault("pricing.free_tier.read_unit_hours", 0)
	viper.SetDefault("pricing.free_tier.write_unit_hours", 0)
	viper.SetDefault("pricing.free_tier.read_requests", 0)
	viper.SetDefault("pricing.free_tier.write_requests", 0)

	viper.SetDefault("store.path", "")
	viper.SetDefault("store.retention_days", 0)
}

func defaultCacheFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".capacityeval", "pricing-cache.json")
	}
	return filepath.Join(homeDir, ".capacityeval", "pricing-cache.json")
}

// InitConfig initializes the Viper configuration
func InitConfig(shouldLog bool, cmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if path, err := DefaultConfigPath(); err == nil {
		viper.AddConfigPath(filepath.Dir(path))
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	// Try to read config file but don't error if not found
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if shouldLog {
			logging.Debug("No config file found, using defaults and environment variables", nil)
		}
	} else if shouldLog {
		logging.Debug("Loaded config file", map[string]interface{}{
			"path": viper.ConfigFileUsed(),
		})
	}

	return nil
}

// BindFlags binds every flag of cmd that overrides a config key
func BindFlags(cmd *cobra.Command) error {
	for key, name := range flagNames {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("error binding flag --%s: %w", name, err)
		}
	}
	return nil
}

// LoadGlobalConfig refreshes Config from viper
func LoadGlobalConfig() error {
	timeout, err := parseDuration(viper.Get("app.task_timeout"))
	if err != nil {
		return fmt.Errorf("app.task_timeout: %w", err)
	}

	Config.Profile = viper.GetString("aws.profile")
	Config.Region = viper.GetString("aws.region")
	Config.MaxWorkers = viper.GetInt("app.max_workers")
	Config.TaskTimeout = timeout
	Config.LogFormat = viper.GetString("app.log_format")

	if Config.MaxWorkers <= 0 {
		return fmt.Errorf("app.max_workers must be greater than 0, got %d", Config.MaxWorkers)
	}
	return nil
}

// SetConfigFile sets a custom config file path and reloads the configuration
func SetConfigFile(configFile string) error {
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// DefaultConfigPath returns ~/.capacityeval/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".capacityeval", "config.yaml"), nil
}

// WriteDefaultConfig writes the annotated default configuration to path.
// An existing file is only replaced when force is set.
func WriteDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}

// DefaultConfig returns the annotated default configuration
func DefaultConfig() string {
	return defaultConfigYAML
}

const defaultConfigYAML = `# capacityeval configuration file

# AWS Configuration
aws:
  profile: default  # AWS profile to use (supports SSO profiles)
  region: us-east-1  # Region of the evaluated tables
  rate_limit:
    requests_per_second: 5
    max_retries: 10

# Application Configuration
app:
  max_workers: 8  # Maximum number of concurrent resource evaluations
  task_timeout: 5m  # Upper bound for a single resource evaluation
  log_format: text  # Log output format (text or json)
  log_level: INFO  # Set logging level (DEBUG, INFO, WARN, ERROR)

# Evaluate Command Configuration
evaluate:
  tables: []  # Tables to evaluate; their global secondary indexes are included
  input: ""  # Offline bundle file (yaml or json) used instead of CloudWatch
  lookback_days: 14  # Days of metrics to replay
  requests_per_unit: 1  # Requests billed per unit of a consumption sample (60 for CloudWatch per-second rates)
  output: filesystem  # Output type (filesystem or s3)
  output_format: csv  # Output format (csv or json)
  output_dir: output
  bucket: ""  # S3 bucket name (required when output=s3)
  bucket_region: ""  # S3 bucket region (required when output=s3)

# Autoscaling simulation
simulation:
  target_utilization: 0.70
  scale_out_sustained_minutes: 2
  scale_in_sustained_minutes: 15
  scale_in_margin: 0.50
  cooldown_minutes: 60  # Minimum time between scale-in events
  scale_out_cooldown_minutes: 0  # 0 disables cooldown gating of scale-out
  scale_in_daily_allowance: 0  # Scale-ins per UTC day exempt from the cooldown (DynamoDB allows 4)
  min_capacity: 1
  max_capacity: 40000

# Time series normalisation
series:
  step: 1m
  gap_policy: zero_fill  # zero_fill or carry_forward
  min_coverage: 0.5  # Minimum fraction of steps that must carry data; CloudWatch skips idle minutes, lower this for sparse tables

# Recommendation classification
recommendation:
  min_days: 7  # Shorter windows are reported as LOW_CONFIDENCE
  min_savings: 1.0  # Monthly savings below this are NOT_ACTIONABLE
  modify_threshold: 0.15  # Flag provisioned tables whose settings could save more than this fraction

# Pricing
pricing:
  source: api  # api (AWS Price List) or config (tables below)
  cache_file: ""  # Defaults to ~/.capacityeval/pricing-cache.json
  free_tier:
    read_unit_hours: 0  # The AWS always-free tier is 25
    write_unit_hours: 0
    read_requests: 0
    write_requests: 0
  tables: []
  # - region: us-east-1
  #   table_class: STANDARD
  #   dimensions:
  #     read:
  #       provisioned_unit_hour: 0.00013
  #       on_demand_per_million: 0.125
  #     write:
  #       provisioned_unit_hour: 0.00065
  #       on_demand_per_million: 0.625

# Recommendation history (sqlite); empty disables it
store:
  path: ""
  retention_days: 0  # Runs older than this are pruned after each evaluation; 0 keeps everything
`

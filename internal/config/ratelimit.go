package config

import (
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig holds configuration for rate limiting AWS API calls
type RateLimitConfig struct {
	// RequestsPerSecond is the number of requests allowed per second
	RequestsPerSecond float64
	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int
	// BaseDelay is the initial delay duration for backoff
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration for backoff
	MaxDelay time.Duration
}

var (
	// DefaultRateLimitConfig provides default values for rate limiting
	DefaultRateLimitConfig = RateLimitConfig{
		RequestsPerSecond: 5.0,
		MaxRetries:        10,
		BaseDelay:         time.Second,
		MaxDelay:          time.Second * 120,
	}
)

// LoadRateLimitConfig reads aws.rate_limit.* and falls back to the defaults
func LoadRateLimitConfig() RateLimitConfig {
	cfg := DefaultRateLimitConfig
	if v := viper.GetFloat64("aws.rate_limit.requests_per_second"); v > 0 {
		cfg.RequestsPerSecond = v
	}
	if v := viper.GetInt("aws.rate_limit.max_retries"); v > 0 {
		cfg.MaxRetries = v
	}
	if v := viper.GetDuration("aws.rate_limit.base_delay"); v > 0 {
		cfg.BaseDelay = v
	}
	if v := viper.GetDuration("aws.rate_limit.max_delay"); v > 0 {
		cfg.MaxDelay = v
	}
	return cfg
}

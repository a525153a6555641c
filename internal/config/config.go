package config

import (
	"runtime"
	"time"
)

// GlobalConfig holds the global configuration for the application
type GlobalConfig struct {
	// Profile is the AWS profile to use
	Profile string

	// Region is the default AWS region for metric and table lookups
	Region string

	// MaxWorkers defines the maximum number of concurrent evaluations
	MaxWorkers int

	// TaskTimeout bounds the evaluation of a single resource
	TaskTimeout time.Duration

	// LogFormat is the format for logging
	LogFormat string
}

// Config is the global configuration instance
var Config = &GlobalConfig{
	Profile:     "default",
	Region:      "us-east-1",
	MaxWorkers:  runtime.NumCPU(),
	TaskTimeout: 5 * time.Minute,
}

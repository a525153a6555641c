package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"capacityeval/internal/billing"
	"capacityeval/internal/config"
	"capacityeval/internal/evaluator"
	"capacityeval/internal/logging"
	"capacityeval/internal/timeseries"
	"capacityeval/internal/worker"
)

// TableSource describes tables
type TableSource interface {
	Describe(ctx context.Context, table string) ([]billing.ResourceDescriptor, error)
}

// MetricSource fetches the capacity metrics of a table or index
type MetricSource interface {
	Fetch(ctx context.Context, table, index string, window timeseries.Window) (ResourceMetrics, error)
}

// Collector builds evaluation bundles from live DynamoDB and CloudWatch data
type Collector struct {
	tables  TableSource
	metrics MetricSource
	pool    *worker.Pool
}

// NewCollector creates a Collector. A nil pool uses the shared worker pool.
func NewCollector(tables TableSource, metrics MetricSource, pool *worker.Pool) *Collector {
	return &Collector{tables: tables, metrics: metrics, pool: pool}
}

// NewRegionCollector wires a Collector to the AWS APIs of region
func NewRegionCollector(sess *session.Session, region string) (*Collector, error) {
	regional, err := GetSessionInRegion(sess, region)
	if err != nil {
		return nil, err
	}

	cfg := config.LoadRateLimitConfig()
	registry := GetGlobalRegistry()

	tables := NewTableDescriber(
		dynamodb.New(regional),
		applicationautoscaling.New(regional),
		registry.GetRateLimiter("dynamodb:"+region, &cfg),
		region,
	)
	metrics := NewMetricsClient(
		cloudwatch.New(regional),
		registry.GetRateLimiter("cloudwatch:"+region, &cfg),
	)
	return NewCollector(tables, metrics, nil), nil
}

// TableError records a table that could not be collected
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("table %s: %v", e.Table, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// ErrNoTables is returned when Collect is called without table names
var ErrNoTables = errors.New("no tables specified")

// Collect gathers one bundle per table and global secondary index. Tables
// that fail are reported in the returned errors and left out of the bundles.
func (c *Collector) Collect(ctx context.Context, tables []string, window timeseries.Window) ([]evaluator.Bundle, []error) {
	if len(tables) == 0 {
		return nil, []error{ErrNoTables}
	}

	perTable := make([][]evaluator.Bundle, len(tables))
	tasks := make([]worker.Task, len(tables))
	for i := range tables {
		table := tables[i]
		tasks[i] = func(ctx context.Context) error {
			bundles, err := c.collectTable(ctx, table, window)
			if err != nil {
				return err
			}
			perTable[i] = bundles
			return nil
		}
	}

	pool := c.pool
	if pool == nil {
		pool = worker.GetSharedPool()
	}

	start := time.Now()
	var failures []error
	for i, err := range pool.ExecuteTasks(ctx, tasks) {
		if err == nil {
			continue
		}
		logging.Error("Failed to collect table metrics", err, map[string]interface{}{
			"table": tables[i],
		})
		failures = append(failures, &TableError{Table: tables[i], Err: err})
	}

	var bundles []evaluator.Bundle
	for _, b := range perTable {
		bundles = append(bundles, b...)
	}

	logging.Info("Collected capacity metrics", map[string]interface{}{
		"tables":    len(tables),
		"resources": len(bundles),
		"failed":    len(failures),
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	})
	return bundles, failures
}

func (c *Collector) collectTable(ctx context.Context, table string, window timeseries.Window) ([]evaluator.Bundle, error) {
	descriptors, err := c.tables.Describe(ctx, table)
	if err != nil {
		return nil, err
	}

	bundles := make([]evaluator.Bundle, 0, len(descriptors))
	for _, desc := range descriptors {
		metrics, err := c.metrics.Fetch(ctx, desc.BaseTable, desc.IndexName, window)
		if err != nil {
			return nil, err
		}

		bundles = append(bundles, evaluator.Bundle{
			Descriptor:  desc,
			Window:      window,
			Step:        metrics.Period,
			Consumption: metrics.Consumption,
			Provisioned: metrics.Provisioned,
			// consumption is units per second averaged over each period
			RequestsPerUnit: metrics.Period.Seconds(),
		})
	}
	return bundles, nil
}

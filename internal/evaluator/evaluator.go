package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"capacityeval/internal/autoscaling"
	"capacityeval/internal/billing"
	"capacityeval/internal/config"
	"capacityeval/internal/logging"
	"capacityeval/internal/timeseries"
	"capacityeval/internal/worker"
)

// ErrNoConsumption is returned for a bundle without any consumption stream
var ErrNoConsumption = errors.New("bundle has no consumption samples")

// Bundle is the fully materialised input of one resource evaluation
type Bundle struct {
	Descriptor billing.ResourceDescriptor
	Window     timeseries.Window
	// Step overrides the configured resampling step when set
	Step        time.Duration
	Consumption map[billing.Dimension][]timeseries.Sample
	// Provisioned holds the capacity observed on the resource, if known
	Provisioned map[billing.Dimension][]timeseries.Sample
	// RequestsPerUnit overrides the configured conversion when set
	RequestsPerUnit float64
}

// ID returns the resource identifier of the bundle
func (b Bundle) ID() string {
	if b.Descriptor.ResourceID != "" {
		return b.Descriptor.ResourceID
	}
	return billing.ResourceID(b.Descriptor.BaseTable, b.Descriptor.IndexName)
}

// Outcome pairs a bundle with its recommendation or error
type Outcome struct {
	ResourceID     string
	Recommendation *billing.Recommendation
	Err            error
}

// Evaluator runs the normalise, simulate and recommend pipeline
type Evaluator struct {
	settings config.EngineSettings
	pricing  PricingSource
	pool     *worker.Pool
}

// New creates an Evaluator. A nil pool runs batches on the shared pool.
func New(settings config.EngineSettings, pricing PricingSource, pool *worker.Pool) *Evaluator {
	return &Evaluator{
		settings: settings,
		pricing:  pricing,
		pool:     pool,
	}
}

// Evaluate produces the recommendation of a single resource
func (e *Evaluator) Evaluate(ctx context.Context, bundle Bundle) (*billing.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	descriptor := bundle.Descriptor
	descriptor.ResourceID = bundle.ID()
	if descriptor.TableClass == "" {
		descriptor.TableClass = "STANDARD"
	}

	pricing, err := e.pricing.PricingTable(ctx, descriptor.Region, descriptor.TableClass)
	if err != nil {
		return nil, fmt.Errorf("error resolving pricing for %s: %w", descriptor.ResourceID, err)
	}

	opts := e.settings.Series
	if bundle.Step > 0 {
		opts.Step = bundle.Step
	}

	var dims []billing.DimensionInput
	for _, dim := range billing.Dimensions {
		samples, ok := bundle.Consumption[dim]
		if !ok {
			continue
		}

		input, err := e.prepareDimension(dim, samples, bundle.Provisioned[dim], bundle.Window, opts)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", descriptor.ResourceID, dim, err)
		}
		dims = append(dims, input)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%s: %w", descriptor.ResourceID, ErrNoConsumption)
	}

	requestsPerUnit := e.settings.RequestsPerUnit
	if bundle.RequestsPerUnit > 0 {
		requestsPerUnit = bundle.RequestsPerUnit
	}

	return billing.Recommend(billing.Input{
		Resource:        descriptor,
		Dimensions:      dims,
		Pricing:         pricing,
		RequestsPerUnit: requestsPerUnit,
		Thresholds:      e.settings.Thresholds,
	})
}

func (e *Evaluator) prepareDimension(dim billing.Dimension, samples, provisioned []timeseries.Sample, window timeseries.Window, opts timeseries.Options) (billing.DimensionInput, error) {
	series, err := timeseries.Normalize(samples, window, opts)
	if err != nil {
		return billing.DimensionInput{}, err
	}

	result, err := autoscaling.Simulate(series, e.settings.Policy)
	if err != nil {
		return billing.DimensionInput{}, err
	}

	input := billing.DimensionInput{
		Dimension:   dim,
		Consumption: series,
		Simulation:  result,
	}

	if len(provisioned) > 0 {
		// capacity is a level, not a volume: hold each reading until the next one
		observed, err := timeseries.Normalize(provisioned, window, timeseries.Options{
			Step:        opts.Step,
			GapPolicy:   timeseries.CarryForward,
			MinCoverage: 0,
		})
		if err != nil {
			return billing.DimensionInput{}, fmt.Errorf("observed capacity: %w", err)
		}
		input.Observed = &observed
	}
	return input, nil
}

// EvaluateBatch evaluates every bundle on the worker pool. Outcomes keep
// the order of bundles. Bundles not started before ctx is cancelled carry
// ctx.Err().
func (e *Evaluator) EvaluateBatch(ctx context.Context, bundles []Bundle) []Outcome {
	outcomes := make([]Outcome, len(bundles))
	tasks := make([]worker.Task, len(bundles))
	var done int64
	progress := func() {
		logging.Progress("Resources evaluated", map[string]interface{}{
			"done":  atomic.AddInt64(&done, 1),
			"total": len(bundles),
		})
	}

	for i := range bundles {
		bundle := bundles[i]
		outcomes[i].ResourceID = bundle.ID()

		tasks[i] = func(ctx context.Context) error {
			defer progress()
			logging.ResourceStart(bundle.ID(), bundle.Descriptor.Region)

			rec, err := e.Evaluate(ctx, bundle)
			if err != nil {
				logging.ResourceError(bundle.ID(), bundle.Descriptor.Region, err)
				outcomes[i].Err = err
				return err
			}

			logging.ResourceComplete(bundle.ID(), map[string]interface{}{
				"current_mode":     rec.CurrentMode,
				"recommended_mode": rec.RecommendedMode,
				"monthly_savings":  rec.MonthlySavings,
				"status":           rec.Status,
			})
			outcomes[i].Recommendation = rec
			return nil
		}
	}

	pool := e.pool
	if pool == nil {
		pool = worker.GetSharedPool()
	}
	logging.Debug("Dispatching evaluations", map[string]interface{}{
		"resources": len(bundles),
		"workers":   pool.Size(),
	})

	errs := pool.ExecuteTasks(ctx, tasks)
	for i, err := range errs {
		if err != nil && outcomes[i].Err == nil && outcomes[i].Recommendation == nil {
			outcomes[i].Err = err
		}
	}
	return outcomes
}

// Recommendations returns the successful recommendations and the number of failures
func Recommendations(outcomes []Outcome) ([]*billing.Recommendation, int) {
	var (
		recs   []*billing.Recommendation
		failed int
	)
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		recs = append(recs, o.Recommendation)
	}
	return recs, failed
}

package output

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"capacityeval/internal/billing"
	"capacityeval/internal/evaluator"
)

// Failure is a resource that could not be evaluated
type Failure struct {
	ResourceID string `json:"resource_id"`
	Error      string `json:"error"`
}

// Summary aggregates a run
type Summary struct {
	Evaluated          int     `json:"evaluated"`
	Failed             int     `json:"failed"`
	NotOptimized       int     `json:"not_optimized"`
	CurrentMonthlyCost float64 `json:"current_monthly_cost"`
	MonthlySavings     float64 `json:"monthly_savings"`
}

// Report is the document written at the end of an evaluation
type Report struct {
	RunID           string                    `json:"run_id"`
	GeneratedAt     time.Time                 `json:"generated_at"`
	Region          string                    `json:"region"`
	Source          string                    `json:"source"`
	Summary         Summary                   `json:"summary"`
	Recommendations []*billing.Recommendation `json:"recommendations"`
	Failures        []Failure                 `json:"failures,omitempty"`
}

// NewReport builds a report from batch outcomes. Recommendations are
// sorted by resource id.
func NewReport(runID, region, source string, generatedAt time.Time, outcomes []evaluator.Outcome) *Report {
	r := &Report{
		RunID:       runID,
		GeneratedAt: generatedAt.UTC(),
		Region:      region,
		Source:      source,
	}

	current, savings := decimal.Zero, decimal.Zero
	for _, o := range outcomes {
		if o.Err != nil {
			r.Failures = append(r.Failures, Failure{ResourceID: o.ResourceID, Error: o.Err.Error()})
			continue
		}
		rec := o.Recommendation
		r.Recommendations = append(r.Recommendations, rec)
		current = current.Add(decimal.NewFromFloat(rec.CurrentMonthlyCost))
		if rec.Status == billing.NotOptimized {
			r.Summary.NotOptimized++
			savings = savings.Add(decimal.NewFromFloat(rec.MonthlySavings))
		}
	}

	sort.SliceStable(r.Recommendations, func(i, j int) bool {
		return r.Recommendations[i].ResourceID < r.Recommendations[j].ResourceID
	})

	r.Summary.Evaluated = len(r.Recommendations)
	r.Summary.Failed = len(r.Failures)
	r.Summary.CurrentMonthlyCost = current.Round(4).InexactFloat64()
	r.Summary.MonthlySavings = savings.Round(4).InexactFloat64()
	return r
}

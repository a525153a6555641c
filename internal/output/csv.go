package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"capacityeval/internal/billing"
)

// TotalDimension labels the per-resource aggregate row
const TotalDimension = "TOTAL"

// CSVHeader lists the exported columns in order
var CSVHeader = []string{
	"resource_id",
	"base_table",
	"index_name",
	"dimension",
	"est_provisioned_cost",
	"current_provisioned_cost",
	"ondemand_cost",
	"recommended_mode",
	"current_mode",
	"status",
	"savings_percent",
	"monthly_savings",
	"number_of_days",
	"simulated_min_capacity",
	"simulated_target_utilization",
	"current_min_capacity",
	"current_target_utilization",
	"autoscaling_enabled",
	"confidence",
	"gap_policy",
}

// WriteCSV writes one row per dimension and a TOTAL row for every recommendation
func WriteCSV(w io.Writer, recs []*billing.Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, rec := range recs {
		for _, dim := range rec.Dimensions {
			if err := cw.Write(dimensionRow(rec, dim)); err != nil {
				return fmt.Errorf("failed to write csv row for %s: %w", rec.ResourceID, err)
			}
		}
		if err := cw.Write(totalRow(rec)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", rec.ResourceID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func dimensionRow(rec *billing.Recommendation, dim billing.DimensionBreakdown) []string {
	return []string{
		rec.ResourceID,
		rec.BaseTable,
		rec.IndexName,
		string(dim.Dimension),
		money(dim.ProvisionedMonthlyCost),
		money(dim.CurrentProvisionedMonthlyCost),
		money(dim.OnDemandMonthlyCost),
		string(dim.RecommendedMode),
		string(rec.CurrentMode),
		string(rec.Status),
		number(dim.SavingsPct),
		money(dim.MonthlySavings),
		number(rec.DaysAnalyzed),
		number(rec.SimulatedMinCapacity),
		number(rec.SimulatedTargetUtilization),
		number(dim.CurrentMinCapacity),
		number(dim.CurrentTargetUtilization),
		strconv.FormatBool(rec.AutoscalingEnabled),
		number(rec.Confidence),
		rec.GapPolicy,
	}
}

func totalRow(rec *billing.Recommendation) []string {
	return []string{
		rec.ResourceID,
		rec.BaseTable,
		rec.IndexName,
		TotalDimension,
		money(rec.ProvisionedMonthlyCost),
		money(rec.CurrentProvisionedMonthlyCost),
		money(rec.OnDemandMonthlyCost),
		string(rec.RecommendedMode),
		string(rec.CurrentMode),
		string(rec.Status),
		number(rec.SavingsPct),
		money(rec.MonthlySavings),
		number(rec.DaysAnalyzed),
		number(rec.SimulatedMinCapacity),
		number(rec.SimulatedTargetUtilization),
		number(rec.CurrentMinCapacity),
		number(rec.CurrentTargetUtilization),
		strconv.FormatBool(rec.AutoscalingEnabled),
		number(rec.Confidence),
		rec.GapPolicy,
	}
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"capacityeval/internal/autoscaling"
	"capacityeval/internal/timeseries"
)

// HoursPerMonth is the billing month used to normalise every window
const HoursPerMonth = 730

var (
	hoursPerMonth = decimal.NewFromInt(HoursPerMonth)
	oneMillion    = decimal.NewFromInt(1_000_000)
)

// HourlyPeak is the highest capacity in effect during one UTC hour
type HourlyPeak struct {
	Hour  time.Time `json:"hour"`
	Units float64   `json:"units"`
}

// HourlyPeaks buckets simulated points by UTC hour and keeps each bucket's
// maximum. A point holds until the next one and the last point for one
// step, so every hour a capacity is in effect gets billed.
func HourlyPeaks(points []autoscaling.Point, step time.Duration) []HourlyPeak {
	return hourlyPeaks(len(points), step, func(i int) (time.Time, float64) {
		return points[i].Timestamp, points[i].Provisioned
	})
}

// SeriesHourlyPeaks does the same for an observed capacity series
func SeriesHourlyPeaks(series timeseries.Series) []HourlyPeak {
	return hourlyPeaks(series.Len(), series.Step, func(i int) (time.Time, float64) {
		return series.TimeAt(i), series.Values[i]
	})
}

func hourlyPeaks(n int, step time.Duration, at func(int) (time.Time, float64)) []HourlyPeak {
	var peaks []HourlyPeak
	for i := 0; i < n; i++ {
		ts, units := at(i)
		ts = ts.UTC()

		end := ts.Add(step)
		if i+1 < n {
			next, _ := at(i + 1)
			end = next.UTC()
		}

		for hour := ts.Truncate(time.Hour); ; hour = hour.Add(time.Hour) {
			peaks = addPeak(peaks, hour, units)
			if !hour.Add(time.Hour).Before(end) {
				break
			}
		}
	}
	return peaks
}

// addPeak records units for hour. Hours arrive in non-decreasing order.
func addPeak(peaks []HourlyPeak, hour time.Time, units float64) []HourlyPeak {
	last := len(peaks) - 1
	if last >= 0 && peaks[last].Hour.Equal(hour) {
		if units > peaks[last].Units {
			peaks[last].Units = units
		}
		return peaks
	}
	return append(peaks, HourlyPeak{Hour: hour, Units: units})
}

// BilledUnitHours sums the hourly peaks after the per-hour free tier
func BilledUnitHours(peaks []HourlyPeak, freeTierUnitHours float64) decimal.Decimal {
	free := decimal.NewFromFloat(freeTierUnitHours)
	total := decimal.Zero
	for _, p := range peaks {
		billable := decimal.NewFromFloat(p.Units).Sub(free)
		if billable.IsPositive() {
			total = total.Add(billable)
		}
	}
	return total
}

// MonthlyFactor scales a window of the given length to a 730 hour month
func MonthlyFactor(windowHours float64) decimal.Decimal {
	return hoursPerMonth.Div(decimal.NewFromFloat(windowHours))
}

// ProvisionedMonthlyCost bills the hourly peaks of a capacity series
func ProvisionedMonthlyCost(peaks []HourlyPeak, rates Rates, factor decimal.Decimal) (cost, unitHours decimal.Decimal) {
	unitHours = BilledUnitHours(peaks, rates.FreeTierUnitHours).Mul(factor)
	cost = unitHours.Mul(decimal.NewFromFloat(rates.ProvisionedUnitHour))
	return cost, unitHours
}

// MonthlyRequests converts a consumption series into billed requests per month
func MonthlyRequests(consumption timeseries.Series, requestsPerUnit float64, factor decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range consumption.Values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Mul(decimal.NewFromFloat(requestsPerUnit)).Mul(factor)
}

// OnDemandMonthlyCost prices monthly requests after the monthly free tier
func OnDemandMonthlyCost(monthlyRequests decimal.Decimal, rates Rates) decimal.Decimal {
	billable := monthlyRequests.Sub(decimal.NewFromFloat(rates.FreeTierMonthlyRequests))
	if !billable.IsPositive() {
		return decimal.Zero
	}
	return billable.Div(oneMillion).Mul(decimal.NewFromFloat(rates.OnDemandPerMillion))
}

package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"capacityeval/internal/billing"
	"capacityeval/internal/timeseries"
)

const (
	dynamoDBNamespace = "AWS/DynamoDB"

	// CloudWatch keeps one minute datapoints for 15 days and five minute
	// datapoints for 63 days
	oneMinuteRetention = 15 * 24 * time.Hour
	provisionedPeriod  = 300
)

var (
	consumedMetrics = map[billing.Dimension]string{
		billing.Read:  "ConsumedReadCapacityUnits",
		billing.Write: "ConsumedWriteCapacityUnits",
	}
	provisionedMetrics = map[billing.Dimension]string{
		billing.Read:  "ProvisionedReadCapacityUnits",
		billing.Write: "ProvisionedWriteCapacityUnits",
	}
)

// ResourceMetrics holds the consumed and provisioned capacity of one table or index
type ResourceMetrics struct {
	// Period is the consumption sampling interval
	Period      time.Duration
	Consumption map[billing.Dimension][]timeseries.Sample
	Provisioned map[billing.Dimension][]timeseries.Sample
}

// MetricsClient retrieves DynamoDB capacity metrics from CloudWatch
type MetricsClient struct {
	cw      cloudwatchiface.CloudWatchAPI
	limiter *RateLimiter
	now     func() time.Time
}

// NewMetricsClient creates a MetricsClient. A nil limiter disables rate limiting.
func NewMetricsClient(cw cloudwatchiface.CloudWatchAPI, limiter *RateLimiter) *MetricsClient {
	return &MetricsClient{cw: cw, limiter: limiter, now: time.Now}
}

// ConsumedPeriod returns the finest CloudWatch period still retained for window
func ConsumedPeriod(window timeseries.Window, now time.Time) time.Duration {
	if now.Sub(window.Start) > oneMinuteRetention {
		return 5 * time.Minute
	}
	return time.Minute
}

// Fetch retrieves consumed and provisioned capacity for a table, or one of
// its global secondary indexes when index is set. Consumption is reported
// as the average units per second of each period. Periods without a
// datapoint are left out; the normalizer's gap policy decides how they are
// filled and they count against its coverage floor.
func (c *MetricsClient) Fetch(ctx context.Context, table, index string, window timeseries.Window) (ResourceMetrics, error) {
	period := ConsumedPeriod(window, c.now())
	periodSeconds := int64(period / time.Second)

	dimensions := []*cloudwatch.Dimension{{
		Name:  aws.String("TableName"),
		Value: aws.String(table),
	}}
	if index != "" {
		dimensions = append(dimensions, &cloudwatch.Dimension{
			Name:  aws.String("GlobalSecondaryIndexName"),
			Value: aws.String(index),
		})
	}

	var queries []*cloudwatch.MetricDataQuery
	for _, dim := range billing.Dimensions {
		queries = append(queries,
			metricQuery(queryID("consumed", dim), consumedMetrics[dim], dimensions, periodSeconds, cloudwatch.StatisticSum),
			metricQuery(queryID("provisioned", dim), provisionedMetrics[dim], dimensions, provisionedPeriod, cloudwatch.StatisticAverage),
		)
	}

	input := &cloudwatch.GetMetricDataInput{
		MetricDataQueries: queries,
		StartTime:         aws.Time(window.Start.UTC()),
		EndTime:           aws.Time(window.End.UTC()),
		ScanBy:            aws.String(cloudwatch.ScanByTimestampAscending),
	}

	series := make(map[string][]timeseries.Sample)
	collect := func(page *cloudwatch.GetMetricDataOutput, lastPage bool) bool {
		for _, result := range page.MetricDataResults {
			id := aws.StringValue(result.Id)
			for i, ts := range result.Timestamps {
				if i >= len(result.Values) || ts == nil || result.Values[i] == nil {
					continue
				}
				series[id] = append(series[id], timeseries.Sample{
					Timestamp: ts.UTC(),
					Units:     *result.Values[i],
				})
			}
		}
		return !lastPage
	}

	call := func() error {
		series = make(map[string][]timeseries.Sample)
		return c.cw.GetMetricDataPagesWithContext(ctx, input, collect)
	}

	var err error
	if c.limiter != nil {
		err = c.limiter.Execute(ctx, "GetMetricData", call)
	} else {
		err = call()
	}
	if err != nil {
		return ResourceMetrics{}, fmt.Errorf("failed to get metric data for %s: %w", billing.ResourceID(table, index), err)
	}

	out := ResourceMetrics{
		Period:      period,
		Consumption: make(map[billing.Dimension][]timeseries.Sample),
	}
	for _, dim := range billing.Dimensions {
		consumed := series[queryID("consumed", dim)]
		for i := range consumed {
			consumed[i].Units /= float64(periodSeconds)
		}
		out.Consumption[dim] = sortSamples(consumed)

		if provisioned := series[queryID("provisioned", dim)]; len(provisioned) > 0 {
			if out.Provisioned == nil {
				out.Provisioned = make(map[billing.Dimension][]timeseries.Sample)
			}
			out.Provisioned[dim] = sortSamples(provisioned)
		}
	}
	return out, nil
}

func metricQuery(id, metric string, dimensions []*cloudwatch.Dimension, period int64, stat string) *cloudwatch.MetricDataQuery {
	return &cloudwatch.MetricDataQuery{
		Id: aws.String(id),
		MetricStat: &cloudwatch.MetricStat{
			Metric: &cloudwatch.Metric{
				Namespace:  aws.String(dynamoDBNamespace),
				MetricName: aws.String(metric),
				Dimensions: dimensions,
			},
			Period: aws.Int64(period),
			Stat:   aws.String(stat),
		},
		ReturnData: aws.Bool(true),
	}
}

func queryID(kind string, dim billing.Dimension) string {
	if dim == billing.Write {
		return kind + "_wcu"
	}
	return kind + "_rcu"
}

func sortSamples(samples []timeseries.Sample) []timeseries.Sample {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	// CloudWatch can repeat a timestamp across pages
	out := samples[:0]
	for _, s := range samples {
		if len(out) > 0 && out[len(out)-1].Timestamp.Equal(s.Timestamp) {
			out[len(out)-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

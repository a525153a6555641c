package aws

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling/applicationautoscalingiface"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capacityeval/internal/billing"
	"capacityeval/internal/config"
	"capacityeval/internal/logging"
	"capacityeval/internal/timeseries"
	"capacityeval/internal/worker"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func quietLogs(t *testing.T) {
	t.Helper()
	previous := logging.SetOutput(io.Discard)
	t.Cleanup(func() { logging.SetOutput(previous) })
}

func fastLimiter(t *testing.T, retries int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(&config.RateLimitConfig{
		RequestsPerSecond: 1000,
		MaxRetries:        retries,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	})
	t.Cleanup(rl.Close)
	return rl
}

func TestIsThrottling(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttling code", awserr.New("ThrottlingException", "slow down", nil), true},
		{"limit exceeded code", awserr.New("LimitExceededException", "too fast", nil), true},
		{"access denied", awserr.New("AccessDeniedException", "no", nil), false},
		{"rate exceeded text", errors.New("Rate exceeded"), true},
		{"plain error", errors.New("table not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsThrottling(tt.err))
		})
	}
}

func TestRateLimiterExecute(t *testing.T) {
	quietLogs(t)
	throttled := awserr.New("ThrottlingException", "Rate exceeded", nil)

	t.Run("retries throttling", func(t *testing.T) {
		rl := fastLimiter(t, 3)
		calls := 0
		err := rl.Execute(context.Background(), "GetMetricData", func() error {
			calls++
			if calls == 1 {
				return throttled
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Zero(t, rl.failures())
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		rl := fastLimiter(t, 3)
		calls := 0
		boom := errors.New("boom")
		err := rl.Execute(context.Background(), "DescribeTable", func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		rl := fastLimiter(t, 3)
		calls := 0
		err := rl.Execute(context.Background(), "ListTables", func() error {
			calls++
			return throttled
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exceeded for ListTables")
		assert.Equal(t, 4, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		rl := fastLimiter(t, 3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := rl.Execute(ctx, "ListTables", func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRateLimiterRegistry(t *testing.T) {
	registry := &RateLimiterRegistry{}
	a := registry.GetRateLimiter("cloudwatch:us-east-1", nil)
	b := registry.GetRateLimiter("cloudwatch:us-east-1", nil)
	c := registry.GetRateLimiter("cloudwatch:eu-west-1", nil)
	t.Cleanup(func() {
		a.Close()
		c.Close()
	})

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestProfilesFromFiles(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials")
	cfg := filepath.Join(dir, "config")

	require.NoError(t, os.WriteFile(creds, []byte("[default]\naws_access_key_id = x\n\n[prod]\naws_access_key_id = y\n"), 0600))
	require.NoError(t, os.WriteFile(cfg, []byte("[default]\nregion = us-east-1\n\n[profile dev]\nregion = eu-west-1\n\n[sso-session corp]\nsso_region = us-east-1\n"), 0600))

	profiles, err := profilesFromFiles(creds, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "dev", "prod"}, profiles)

	profiles, err = profilesFromFiles(filepath.Join(dir, "missing"), filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

type fakeCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	pages []*cloudwatch.GetMetricDataOutput
	input *cloudwatch.GetMetricDataInput
	err   error
}

func (f *fakeCloudWatch) GetMetricDataPagesWithContext(_ aws.Context, input *cloudwatch.GetMetricDataInput, fn func(*cloudwatch.GetMetricDataOutput, bool) bool, _ ...request.Option) error {
	f.input = input
	if f.err != nil {
		return f.err
	}
	for i, page := range f.pages {
		if !fn(page, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func result(id string, points map[time.Duration]float64) *cloudwatch.MetricDataResult {
	r := &cloudwatch.MetricDataResult{Id: aws.String(id)}
	for offset, v := range points {
		r.Timestamps = append(r.Timestamps, aws.Time(t0.Add(offset)))
		r.Values = append(r.Values, aws.Float64(v))
	}
	return r
}

func TestMetricsFetch(t *testing.T) {
	cw := &fakeCloudWatch{pages: []*cloudwatch.GetMetricDataOutput{
		{MetricDataResults: []*cloudwatch.MetricDataResult{
			result("consumed_rcu", map[time.Duration]float64{0: 120}),
			result("provisioned_rcu", map[time.Duration]float64{0: 50}),
		}},
		{MetricDataResults: []*cloudwatch.MetricDataResult{
			result("consumed_rcu", map[time.Duration]float64{2 * time.Minute: 60}),
			result("consumed_wcu", map[time.Duration]float64{time.Minute: 30}),
		}},
	}}

	client := NewMetricsClient(cw, nil)
	client.now = func() time.Time { return t0.Add(time.Hour) }

	window := timeseries.Window{Start: t0, End: t0.Add(5 * time.Minute)}
	got, err := client.Fetch(context.Background(), "orders", "by-customer", window)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, got.Period)
	assert.Equal(t, []timeseries.Sample{
		{Timestamp: t0, Units: 2},
		{Timestamp: t0.Add(2 * time.Minute), Units: 1},
	}, got.Consumption[billing.Read])
	assert.Equal(t, []timeseries.Sample{{Timestamp: t0.Add(time.Minute), Units: 0.5}}, got.Consumption[billing.Write])

	require.Contains(t, got.Provisioned, billing.Read)
	assert.NotContains(t, got.Provisioned, billing.Write)
	assert.Equal(t, 50.0, got.Provisioned[billing.Read][0].Units)

	require.Len(t, cw.input.MetricDataQueries, 4)
	first := cw.input.MetricDataQueries[0].MetricStat
	assert.Equal(t, "ConsumedReadCapacityUnits", aws.StringValue(first.Metric.MetricName))
	assert.Equal(t, int64(60), aws.Int64Value(first.Period))
	assert.Equal(t, cloudwatch.StatisticSum, aws.StringValue(first.Stat))
	require.Len(t, first.Metric.Dimensions, 2)
	assert.Equal(t, "GlobalSecondaryIndexName", aws.StringValue(first.Metric.Dimensions[1].Name))
	assert.Equal(t, "by-customer", aws.StringValue(first.Metric.Dimensions[1].Value))
}

func TestMetricsFetchLeavesGapsToNormalizer(t *testing.T) {
	cw := &fakeCloudWatch{pages: []*cloudwatch.GetMetricDataOutput{
		{MetricDataResults: []*cloudwatch.MetricDataResult{
			result("consumed_rcu", map[time.Duration]float64{10 * time.Minute: 3000}),
		}},
	}}
	client := NewMetricsClient(cw, nil)
	client.now = func() time.Time { return t0.Add(2 * time.Hour) }

	window := timeseries.Window{Start: t0, End: t0.Add(time.Hour)}
	got, err := client.Fetch(context.Background(), "orders", "", window)
	require.NoError(t, err)
	require.Len(t, got.Consumption[billing.Read], 1)
	assert.Empty(t, got.Consumption[billing.Write])

	tests := []struct {
		policy timeseries.GapPolicy
		sum    float64
	}{
		{timeseries.ZeroFill, 50},
		{timeseries.CarryForward, 50 * 50},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			series, err := timeseries.Normalize(got.Consumption[billing.Read], window,
				timeseries.Options{Step: got.Period, GapPolicy: tt.policy, MinCoverage: 0})
			require.NoError(t, err)
			assert.Equal(t, tt.policy, series.GapPolicy)
			assert.InDelta(t, 1.0/60, series.Coverage, 1e-9)
			assert.InDelta(t, tt.sum, series.Sum(), 1e-9)
		})
	}

	_, err = timeseries.Normalize(got.Consumption[billing.Read], window, timeseries.Options{Step: got.Period, MinCoverage: 0.5})
	var insufficient *timeseries.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestMetricsFetchError(t *testing.T) {
	client := NewMetricsClient(&fakeCloudWatch{err: errors.New("denied")}, nil)
	_, err := client.Fetch(context.Background(), "orders", "", timeseries.Window{Start: t0, End: t0.Add(time.Hour)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orders")
}

func units(samples []timeseries.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Units
	}
	return out
}

func TestConsumedPeriod(t *testing.T) {
	now := t0.Add(30 * 24 * time.Hour)
	recent := timeseries.Window{Start: now.Add(-14 * 24 * time.Hour), End: now}
	old := timeseries.Window{Start: now.Add(-20 * 24 * time.Hour), End: now}

	assert.Equal(t, time.Minute, ConsumedPeriod(recent, now))
	assert.Equal(t, 5*time.Minute, ConsumedPeriod(old, now))
}

func TestSortSamples(t *testing.T) {
	got := sortSamples([]timeseries.Sample{
		{Timestamp: t0.Add(time.Minute), Units: 2},
		{Timestamp: t0, Units: 1},
		{Timestamp: t0.Add(time.Minute), Units: 3},
	})
	assert.Equal(t, []timeseries.Sample{{Timestamp: t0, Units: 1}, {Timestamp: t0.Add(time.Minute), Units: 3}}, got)
}

type fakeDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	tables map[string]*dynamodb.TableDescription
}

func (f *fakeDynamoDB) DescribeTableWithContext(_ aws.Context, input *dynamodb.DescribeTableInput, _ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	table, ok := f.tables[aws.StringValue(input.TableName)]
	if !ok {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "not found", nil)
	}
	return &dynamodb.DescribeTableOutput{Table: table}, nil
}

type fakeAutoScaling struct {
	applicationautoscalingiface.ApplicationAutoScalingAPI
	targets  []*applicationautoscaling.ScalableTarget
	policies map[string][]*applicationautoscaling.ScalingPolicy
}

func (f *fakeAutoScaling) DescribeScalableTargetsPagesWithContext(_ aws.Context, input *applicationautoscaling.DescribeScalableTargetsInput, fn func(*applicationautoscaling.DescribeScalableTargetsOutput, bool) bool, _ ...request.Option) error {
	wanted := make(map[string]bool)
	for _, id := range input.ResourceIds {
		wanted[aws.StringValue(id)] = true
	}
	page := &applicationautoscaling.DescribeScalableTargetsOutput{}
	for _, target := range f.targets {
		if wanted[aws.StringValue(target.ResourceId)] {
			page.ScalableTargets = append(page.ScalableTargets, target)
		}
	}
	fn(page, true)
	return nil
}

func (f *fakeAutoScaling) DescribeScalingPoliciesWithContext(_ aws.Context, input *applicationautoscaling.DescribeScalingPoliciesInput, _ ...request.Option) (*applicationautoscaling.DescribeScalingPoliciesOutput, error) {
	key := aws.StringValue(input.ResourceId) + "|" + aws.StringValue(input.ScalableDimension)
	return &applicationautoscaling.DescribeScalingPoliciesOutput{ScalingPolicies: f.policies[key]}, nil
}

func throughput(read, write int64) *dynamodb.ProvisionedThroughputDescription {
	return &dynamodb.ProvisionedThroughputDescription{
		ReadCapacityUnits:  aws.Int64(read),
		WriteCapacityUnits: aws.Int64(write),
	}
}

func newFakeDescriber() *TableDescriber {
	ddb := &fakeDynamoDB{tables: map[string]*dynamodb.TableDescription{
		"orders": {
			TableName:             aws.String("orders"),
			TableClassSummary:     &dynamodb.TableClassSummary{TableClass: aws.String("STANDARD_INFREQUENT_ACCESS")},
			ProvisionedThroughput: throughput(20, 10),
			GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndexDescription{{
				IndexName:             aws.String("by-customer"),
				ProvisionedThroughput: throughput(4, 2),
			}},
		},
		"sessions": {
			TableName:             aws.String("sessions"),
			BillingModeSummary:    &dynamodb.BillingModeSummary{BillingMode: aws.String("PAY_PER_REQUEST")},
			ProvisionedThroughput: throughput(0, 0),
		},
	}}

	scaling := &fakeAutoScaling{
		targets: []*applicationautoscaling.ScalableTarget{
			{
				ResourceId:        aws.String("table/orders"),
				ScalableDimension: aws.String("dynamodb:table:ReadCapacityUnits"),
				MinCapacity:       aws.Int64(5),
				MaxCapacity:       aws.Int64(100),
			},
			{
				ResourceId:        aws.String("table/orders/index/by-customer"),
				ScalableDimension: aws.String("dynamodb:index:WriteCapacityUnits"),
				MinCapacity:       aws.Int64(1),
				MaxCapacity:       aws.Int64(10),
			},
		},
		policies: map[string][]*applicationautoscaling.ScalingPolicy{
			"table/orders|dynamodb:table:ReadCapacityUnits": {{
				TargetTrackingScalingPolicyConfiguration: &applicationautoscaling.TargetTrackingScalingPolicyConfiguration{
					TargetValue: aws.Float64(70),
				},
			}},
		},
	}

	return NewTableDescriber(ddb, scaling, nil, "eu-west-1")
}

func TestDescribeProvisionedTable(t *testing.T) {
	quietLogs(t)
	descriptors, err := newFakeDescriber().Describe(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	table := descriptors[0]
	assert.Equal(t, "orders", table.ResourceID)
	assert.Equal(t, "eu-west-1", table.Region)
	assert.Equal(t, "STANDARD_INFREQUENT_ACCESS", table.TableClass)
	assert.Equal(t, billing.Provisioned, table.CurrentMode)
	assert.True(t, table.AutoscalingEnabled)
	assert.Equal(t, billing.ScalingSettings{MinCapacity: 5, MaxCapacity: 100, TargetUtilization: 0.7}, table.Current[billing.Read])
	assert.Equal(t, billing.ScalingSettings{MinCapacity: 10, MaxCapacity: 10}, table.Current[billing.Write])

	index := descriptors[1]
	assert.Equal(t, "orders:by-customer", index.ResourceID)
	assert.Equal(t, "by-customer", index.IndexName)
	assert.False(t, index.AutoscalingEnabled, "a target without a policy is not autoscaling")
	assert.Equal(t, billing.ScalingSettings{MinCapacity: 2, MaxCapacity: 2}, index.Current[billing.Write])
}

func TestDescribeOnDemandTable(t *testing.T) {
	descriptors, err := newFakeDescriber().Describe(context.Background(), "sessions")
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, billing.OnDemand, descriptors[0].CurrentMode)
	assert.Equal(t, "STANDARD", descriptors[0].TableClass)
	assert.Nil(t, descriptors[0].Current)
	assert.False(t, descriptors[0].AutoscalingEnabled)
}

func TestDescribeMissingTable(t *testing.T) {
	_, err := newFakeDescriber().Describe(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

type fakeMetrics struct{}

func (fakeMetrics) Fetch(_ context.Context, _, _ string, window timeseries.Window) (ResourceMetrics, error) {
	samples := []timeseries.Sample{{Timestamp: window.Start, Units: 1}}
	return ResourceMetrics{
		Period:      time.Minute,
		Consumption: map[billing.Dimension][]timeseries.Sample{billing.Read: samples, billing.Write: samples},
	}, nil
}

func TestCollector(t *testing.T) {
	quietLogs(t)
	pool := worker.NewPool(2, time.Minute)
	pool.Start()
	t.Cleanup(pool.Stop)

	collector := NewCollector(newFakeDescriber(), fakeMetrics{}, pool)
	window := timeseries.Window{Start: t0, End: t0.Add(time.Hour)}

	bundles, errs := collector.Collect(context.Background(), []string{"orders", "missing"}, window)
	require.Len(t, errs, 1)
	var tableErr *TableError
	require.ErrorAs(t, errs[0], &tableErr)
	assert.Equal(t, "missing", tableErr.Table)

	require.Len(t, bundles, 2)
	assert.Equal(t, "orders", bundles[0].ID())
	assert.Equal(t, "orders:by-customer", bundles[1].ID())
	assert.Equal(t, time.Minute, bundles[0].Step)
	assert.Equal(t, 60.0, bundles[0].RequestsPerUnit)
	assert.Equal(t, window, bundles[1].Window)

	none, errs := collector.Collect(context.Background(), nil, window)
	assert.Empty(t, none)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoTables)
}

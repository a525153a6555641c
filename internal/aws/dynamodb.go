package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling"
	"github.com/aws/aws-sdk-go/service/applicationautoscaling/applicationautoscalingiface"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"capacityeval/internal/billing"
	"capacityeval/internal/logging"
)

// TableDescriber discovers DynamoDB tables and their current capacity configuration
type TableDescriber struct {
	ddb     dynamodbiface.DynamoDBAPI
	scaling applicationautoscalingiface.ApplicationAutoScalingAPI
	limiter *RateLimiter
	region  string
}

// NewTableDescriber creates a TableDescriber for region. A nil limiter disables rate limiting.
func NewTableDescriber(ddb dynamodbiface.DynamoDBAPI, scaling applicationautoscalingiface.ApplicationAutoScalingAPI, limiter *RateLimiter, region string) *TableDescriber {
	return &TableDescriber{ddb: ddb, scaling: scaling, limiter: limiter, region: region}
}

func (d *TableDescriber) call(ctx context.Context, api string, fn func() error) error {
	if d.limiter == nil {
		return fn()
	}
	return d.limiter.Execute(ctx, api, fn)
}

// Describe returns one descriptor for the table and one per global secondary index
func (d *TableDescriber) Describe(ctx context.Context, table string) ([]billing.ResourceDescriptor, error) {
	var out *dynamodb.DescribeTableOutput
	err := d.call(ctx, "DescribeTable", func() error {
		var err error
		out, err = d.ddb.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	desc := out.Table

	tableClass := "STANDARD"
	if desc.TableClassSummary != nil && desc.TableClassSummary.TableClass != nil {
		tableClass = aws.StringValue(desc.TableClassSummary.TableClass)
	}

	mode := billing.Provisioned
	if desc.BillingModeSummary != nil && desc.BillingModeSummary.BillingMode != nil {
		mode = billing.ParseMode(aws.StringValue(desc.BillingModeSummary.BillingMode))
	}

	descriptors := []billing.ResourceDescriptor{{
		ResourceID:  table,
		BaseTable:   table,
		Region:      d.region,
		TableClass:  tableClass,
		CurrentMode: mode,
		Current:     throughputSettings(desc.ProvisionedThroughput),
	}}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		name := aws.StringValue(gsi.IndexName)
		descriptors = append(descriptors, billing.ResourceDescriptor{
			ResourceID:  billing.ResourceID(table, name),
			BaseTable:   table,
			IndexName:   name,
			Region:      d.region,
			TableClass:  tableClass,
			CurrentMode: mode,
			Current:     throughputSettings(gsi.ProvisionedThroughput),
		})
	}

	if mode != billing.Provisioned {
		for i := range descriptors {
			descriptors[i].Current = nil
		}
		return descriptors, nil
	}

	if err := d.applyAutoscaling(ctx, descriptors); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func throughputSettings(pt *dynamodb.ProvisionedThroughputDescription) map[billing.Dimension]billing.ScalingSettings {
	if pt == nil {
		return nil
	}
	read, write := aws.Int64Value(pt.ReadCapacityUnits), aws.Int64Value(pt.WriteCapacityUnits)
	if read == 0 && write == 0 {
		return nil
	}
	return map[billing.Dimension]billing.ScalingSettings{
		billing.Read:  {MinCapacity: float64(read), MaxCapacity: float64(read)},
		billing.Write: {MinCapacity: float64(write), MaxCapacity: float64(write)},
	}
}

// scalableResourceID is the Application Auto Scaling resource id of a table or index
func scalableResourceID(table, index string) string {
	if index == "" {
		return "table/" + table
	}
	return fmt.Sprintf("table/%s/index/%s", table, index)
}

func dimensionOf(scalableDimension string) (billing.Dimension, bool) {
	switch {
	case strings.HasSuffix(scalableDimension, ":ReadCapacityUnits"):
		return billing.Read, true
	case strings.HasSuffix(scalableDimension, ":WriteCapacityUnits"):
		return billing.Write, true
	}
	return "", false
}

func (d *TableDescriber) applyAutoscaling(ctx context.Context, descriptors []billing.ResourceDescriptor) error {
	byResource := make(map[string]int, len(descriptors))
	ids := make([]*string, 0, len(descriptors))
	for i, desc := range descriptors {
		id := scalableResourceID(desc.BaseTable, desc.IndexName)
		byResource[id] = i
		ids = append(ids, aws.String(id))
	}

	var targets []*applicationautoscaling.ScalableTarget
	err := d.call(ctx, "DescribeScalableTargets", func() error {
		targets = targets[:0]
		return d.scaling.DescribeScalableTargetsPagesWithContext(ctx, &applicationautoscaling.DescribeScalableTargetsInput{
			ServiceNamespace: aws.String(applicationautoscaling.ServiceNamespaceDynamodb),
			ResourceIds:      ids,
		}, func(page *applicationautoscaling.DescribeScalableTargetsOutput, lastPage bool) bool {
			targets = append(targets, page.ScalableTargets...)
			return !lastPage
		})
	})
	if err != nil {
		return fmt.Errorf("failed to describe scalable targets: %w", err)
	}

	for _, target := range targets {
		idx, ok := byResource[aws.StringValue(target.ResourceId)]
		if !ok {
			continue
		}
		dim, ok := dimensionOf(aws.StringValue(target.ScalableDimension))
		if !ok {
			continue
		}

		utilization, err := d.targetUtilization(ctx, target)
		if err != nil {
			return err
		}
		if utilization == 0 {
			logging.Debug("Scalable target has no target tracking policy", map[string]interface{}{
				"resource_id": aws.StringValue(target.ResourceId),
				"dimension":   dim,
			})
			continue
		}

		desc := &descriptors[idx]
		if desc.Current == nil {
			desc.Current = make(map[billing.Dimension]billing.ScalingSettings)
		}
		desc.Current[dim] = billing.ScalingSettings{
			MinCapacity:       float64(aws.Int64Value(target.MinCapacity)),
			MaxCapacity:       float64(aws.Int64Value(target.MaxCapacity)),
			TargetUtilization: utilization,
		}
		desc.AutoscalingEnabled = true
	}
	return nil
}

// targetUtilization returns the target tracking value of the first policy
// on target as a fraction, or zero when there is none
func (d *TableDescriber) targetUtilization(ctx context.Context, target *applicationautoscaling.ScalableTarget) (float64, error) {
	var out *applicationautoscaling.DescribeScalingPoliciesOutput
	err := d.call(ctx, "DescribeScalingPolicies", func() error {
		var err error
		out, err = d.scaling.DescribeScalingPoliciesWithContext(ctx, &applicationautoscaling.DescribeScalingPoliciesInput{
			ServiceNamespace:  aws.String(applicationautoscaling.ServiceNamespaceDynamodb),
			ResourceId:        target.ResourceId,
			ScalableDimension: target.ScalableDimension,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to describe scaling policies for %s: %w", aws.StringValue(target.ResourceId), err)
	}

	for _, policy := range out.ScalingPolicies {
		cfg := policy.TargetTrackingScalingPolicyConfiguration
		if cfg == nil || cfg.TargetValue == nil {
			continue
		}
		return aws.Float64Value(cfg.TargetValue) / 100, nil
	}
	return 0, nil
}

package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
)

// GetAvailableRegions returns the regions enabled for the account
func GetAvailableRegions(ctx context.Context, client ec2iface.EC2API) ([]string, error) {
	result, err := client.DescribeRegionsWithContext(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe regions: %w", err)
	}

	regions := make([]string, 0, len(result.Regions))
	for _, region := range result.Regions {
		regions = append(regions, aws.StringValue(region.RegionName))
	}
	sort.Strings(regions)
	return regions, nil
}

// ValidateRegion checks that region is enabled for the account
func ValidateRegion(ctx context.Context, client ec2iface.EC2API, region string) error {
	available, err := GetAvailableRegions(ctx, client)
	if err != nil {
		return err
	}

	for _, r := range available {
		if r == region {
			return nil
		}
	}
	return fmt.Errorf("region '%s' is not available in this account. Available regions: %s",
		region, strings.Join(available, ", "))
}

package pricing

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/pricing"
	"github.com/aws/aws-sdk-go/service/pricing/pricingiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capacityeval/internal/aws/pricing/cache"
	pricingconfig "capacityeval/internal/aws/pricing/config"
	"capacityeval/internal/billing"
	"capacityeval/internal/logging"
)

type fakePricing struct {
	pricingiface.PricingAPI
	products map[string][]awssdk.JSONValue
	calls    int
	err      error
}

func (f *fakePricing) GetProductsPagesWithContext(_ awssdk.Context, input *pricing.GetProductsInput, fn func(*pricing.GetProductsOutput, bool) bool, _ ...request.Option) error {
	f.calls++
	if f.err != nil {
		return f.err
	}

	var family, region string
	for _, filter := range input.Filters {
		switch awssdk.StringValue(filter.Field) {
		case "productFamily":
			family = awssdk.StringValue(filter.Value)
		case "regionCode":
			region = awssdk.StringValue(filter.Value)
		}
	}

	items := f.products[family+"|"+region]
	// one entry per page exercises pagination
	for i, item := range items {
		if !fn(&pricing.GetProductsOutput{PriceList: []awssdk.JSONValue{item}}, i == len(items)-1) {
			break
		}
	}
	if len(items) == 0 {
		fn(&pricing.GetProductsOutput{}, true)
	}
	return nil
}

func product(group string, prices ...string) awssdk.JSONValue {
	dims := map[string]interface{}{}
	for i, p := range prices {
		dims[string(rune('a'+i))] = map[string]interface{}{
			"pricePerUnit": map[string]interface{}{"USD": p},
		}
	}
	return awssdk.JSONValue{
		"product": map[string]interface{}{
			"attributes": map[string]interface{}{"group": group},
		},
		"terms": map[string]interface{}{
			"OnDemand": map[string]interface{}{
				"TERM": map[string]interface{}{"priceDimensions": dims},
			},
		},
	}
}

func usEast1Products() map[string][]awssdk.JSONValue {
	return map[string][]awssdk.JSONValue{
		provisionedFamily + "|us-east-1": {
			product("DDB-ReadUnits", "0.0000000000"),
			product("DDB-ReadUnits", "0.00013"),
			product("DDB-WriteUnits", "0.00065"),
			product("DDB-ReadUnitsIA", "0.00016"),
			product("DDB-WriteUnitsIA", "0.00081"),
		},
		onDemandFamily + "|us-east-1": {
			product("DDB-ReadUnits", "0.00000025"),
			product("DDB-WriteUnits", "0.00000125"),
			product("DDB-ReadUnitsIA", "0.00000031"),
			product("DDB-WriteUnitsIA", "0.00000156"),
		},
	}
}

func quietLogs(t *testing.T) {
	t.Helper()
	previous := logging.SetOutput(io.Discard)
	t.Cleanup(func() { logging.SetOutput(previous) })
}

func TestEstimatorPricingTable(t *testing.T) {
	quietLogs(t)
	tests := []struct {
		class         string
		readUnitHour  float64
		writePerMill  float64
		expectedClass string
	}{
		{"", 0.00013, 1.25, "STANDARD"},
		{"standard_infrequent_access", 0.00016, 1.56, "STANDARD_INFREQUENT_ACCESS"},
	}

	for _, tt := range tests {
		t.Run(tt.expectedClass, func(t *testing.T) {
			client := &fakePricing{products: usEast1Products()}
			est := NewEstimator(client, nil, nil)

			table, err := est.PricingTable(context.Background(), "US-EAST-1", tt.class)
			require.NoError(t, err)
			assert.Equal(t, "us-east-1", table.Region)
			assert.Equal(t, tt.expectedClass, table.TableClass)

			read, err := table.RatesFor(billing.Read)
			require.NoError(t, err)
			assert.InDelta(t, tt.readUnitHour, read.ProvisionedUnitHour, 1e-12)

			write, err := table.RatesFor(billing.Write)
			require.NoError(t, err)
			assert.InDelta(t, tt.writePerMill, write.OnDemandPerMillion, 1e-9)

			_, err = est.PricingTable(context.Background(), "us-east-1", tt.class)
			require.NoError(t, err)
			assert.Equal(t, 2, client.calls, "tables are memoised")
		})
	}
}

func TestEstimatorUsesCache(t *testing.T) {
	quietLogs(t)
	path := filepath.Join(t.TempDir(), "prices.json")

	pc, err := cache.NewPriceCache(path, time.Hour)
	require.NoError(t, err)
	first := NewEstimator(&fakePricing{products: usEast1Products()}, pc, nil)
	want, err := first.PricingTable(context.Background(), "us-east-1", "STANDARD")
	require.NoError(t, err)

	reloaded, err := cache.NewPriceCache(path, time.Hour)
	require.NoError(t, err)
	offline := &fakePricing{err: errors.New("no network")}
	second := NewEstimator(offline, reloaded, nil)

	got, err := second.PricingTable(context.Background(), "us-east-1", "STANDARD")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, offline.calls)
}

func TestEstimatorMissingRegion(t *testing.T) {
	quietLogs(t)
	est := NewEstimator(&fakePricing{products: usEast1Products()}, nil, nil)

	table, err := est.PricingTable(context.Background(), "xx-nowhere-1", "STANDARD")
	require.NoError(t, err)

	_, err = table.RatesFor(billing.Read)
	var unavailable *billing.PricingUnavailableError
	assert.True(t, errors.As(err, &unavailable))
}

func TestEstimatorAPIError(t *testing.T) {
	est := NewEstimator(&fakePricing{err: errors.New("denied")}, nil, nil)
	_, err := est.PricingTable(context.Background(), "us-east-1", "STANDARD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestParseProduct(t *testing.T) {
	group, price, ok := parseProduct(product("DDB-WriteUnits", "0", "0.00065"))
	require.True(t, ok)
	assert.Equal(t, "DDB-WriteUnits", group)
	assert.Equal(t, "0.00065", price.String())

	_, _, ok = parseProduct(product("DDB-WriteUnits", "0.0000000000"))
	assert.False(t, ok)

	_, _, ok = parseProduct(awssdk.JSONValue{"product": "broken"})
	assert.False(t, ok)
}

func TestEndpointRegion(t *testing.T) {
	assert.Equal(t, pricingconfig.AmericasEndpoint, pricingconfig.EndpointRegion("us-west-2"))
	assert.Equal(t, pricingconfig.AmericasEndpoint, pricingconfig.EndpointRegion("SA-EAST-1"))
	assert.Equal(t, pricingconfig.AsiaEndpoint, pricingconfig.EndpointRegion("eu-west-1"))
	assert.Equal(t, pricingconfig.AsiaEndpoint, pricingconfig.EndpointRegion("ap-southeast-2"))
}

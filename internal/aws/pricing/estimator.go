package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/pricing"
	"github.com/aws/aws-sdk-go/service/pricing/pricingiface"
	"github.com/shopspring/decimal"

	internalaws "capacityeval/internal/aws"
	"capacityeval/internal/aws/pricing/cache"
	pricingconfig "capacityeval/internal/aws/pricing/config"
	"capacityeval/internal/billing"
	"capacityeval/internal/config"
	"capacityeval/internal/logging"
)

const (
	serviceCode = "AmazonDynamoDB"

	provisionedFamily = "Provisioned IOPS"
	onDemandFamily    = "Amazon DynamoDB PayPerRequest Throughput"
)

var million = decimal.NewFromInt(1_000_000)

// Estimator resolves DynamoDB throughput prices from the AWS Price List API
type Estimator struct {
	client     pricingiface.PricingAPI
	priceCache *cache.PriceCache
	limiter    *internalaws.RateLimiter

	mu     sync.Mutex
	tables map[string]billing.PricingTable
}

// NewEstimator creates an Estimator. A nil cache or limiter disables that feature.
func NewEstimator(client pricingiface.PricingAPI, priceCache *cache.PriceCache, limiter *internalaws.RateLimiter) *Estimator {
	return &Estimator{
		client:     client,
		priceCache: priceCache,
		limiter:    limiter,
		tables:     make(map[string]billing.PricingTable),
	}
}

// NewEstimatorForRegion creates an Estimator talking to the Price List
// endpoint closest to region, caching prices in cacheFile
func NewEstimatorForRegion(sess *session.Session, region, cacheFile string) (*Estimator, error) {
	pc, err := cache.NewPriceCache(cacheFile, cache.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}

	endpoint := pricingconfig.EndpointRegion(region)
	cfg := config.LoadRateLimitConfig()
	client := pricing.New(sess, awssdk.NewConfig().WithRegion(endpoint))

	return NewEstimator(client, pc, internalaws.GetGlobalRegistry().GetRateLimiter("pricing:"+endpoint, &cfg)), nil
}

func cacheKey(region, tableClass string, dim billing.Dimension, family string) string {
	kind := "provisioned"
	if family == onDemandFamily {
		kind = "ondemand"
	}
	return fmt.Sprintf("dynamodb:%s:%s:%s:%s", region, tableClass, dim, kind)
}

// PricingTable implements evaluator.PricingSource
func (e *Estimator) PricingTable(ctx context.Context, region, tableClass string) (billing.PricingTable, error) {
	region = strings.ToLower(region)
	tableClass = strings.ToUpper(tableClass)
	if tableClass == "" {
		tableClass = "STANDARD"
	}
	memoKey := region + "/" + tableClass

	e.mu.Lock()
	defer e.mu.Unlock()

	if table, ok := e.tables[memoKey]; ok {
		return table, nil
	}

	table, fromCache := e.fromCache(region, tableClass)
	if !fromCache {
		var err error
		table, err = e.fetch(ctx, region, tableClass)
		if err != nil {
			return billing.PricingTable{}, err
		}
	}

	e.tables[memoKey] = table
	return table, nil
}

func (e *Estimator) fromCache(region, tableClass string) (billing.PricingTable, bool) {
	if e.priceCache == nil {
		return billing.PricingTable{}, false
	}

	table := newTable(region, tableClass)
	for _, dim := range billing.Dimensions {
		prov, ok := e.priceCache.Get(cacheKey(region, tableClass, dim, provisionedFamily))
		if !ok {
			return billing.PricingTable{}, false
		}
		od, ok := e.priceCache.Get(cacheKey(region, tableClass, dim, onDemandFamily))
		if !ok {
			return billing.PricingTable{}, false
		}
		table.Dimensions[dim] = billing.Rates{ProvisionedUnitHour: prov, OnDemandPerMillion: od}
	}

	logging.Debug("Using cached DynamoDB prices", map[string]interface{}{
		"region":      region,
		"table_class": tableClass,
	})
	return table, true
}

func newTable(region, tableClass string) billing.PricingTable {
	return billing.PricingTable{
		Region:     region,
		TableClass: tableClass,
		Dimensions: make(map[billing.Dimension]billing.Rates, len(billing.Dimensions)),
	}
}

func (e *Estimator) fetch(ctx context.Context, region, tableClass string) (billing.PricingTable, error) {
	provisioned, err := e.groupPrices(ctx, provisionedFamily, region)
	if err != nil {
		return billing.PricingTable{}, err
	}
	onDemand, err := e.groupPrices(ctx, onDemandFamily, region)
	if err != nil {
		return billing.PricingTable{}, err
	}

	table := newTable(region, tableClass)
	for _, dim := range billing.Dimensions {
		group := productGroup(dim, tableClass)
		prov, hasProv := provisioned[group]
		od, hasOD := onDemand[group]
		if !hasProv || !hasOD {
			logging.Warn("DynamoDB price missing from price list", map[string]interface{}{
				"region":      region,
				"table_class": tableClass,
				"group":       group,
			})
			continue
		}

		rates := billing.Rates{
			ProvisionedUnitHour: prov.InexactFloat64(),
			OnDemandPerMillion:  od.Mul(million).InexactFloat64(),
		}
		table.Dimensions[dim] = rates

		if e.priceCache != nil {
			e.priceCache.Set(cacheKey(region, tableClass, dim, provisionedFamily), rates.ProvisionedUnitHour)
			e.priceCache.Set(cacheKey(region, tableClass, dim, onDemandFamily), rates.OnDemandPerMillion)
		}
	}

	if e.priceCache != nil {
		if err := e.priceCache.Save(); err != nil {
			logging.Error("Failed to save price cache", err, nil)
		}
	}
	return table, nil
}

// productGroup is the price list group of a dimension and table class
func productGroup(dim billing.Dimension, tableClass string) string {
	group := "DDB-ReadUnits"
	if dim == billing.Write {
		group = "DDB-WriteUnits"
	}
	if pricingconfig.IsInfrequentAccess(tableClass) {
		group += "IA"
	}
	return group
}

// groupPrices returns the non-zero USD price of every product group in family
func (e *Estimator) groupPrices(ctx context.Context, family, region string) (map[string]decimal.Decimal, error) {
	input := &pricing.GetProductsInput{
		ServiceCode:   awssdk.String(serviceCode),
		FormatVersion: awssdk.String("aws_v1"),
		Filters: []*pricing.Filter{
			{
				Type:  awssdk.String(pricing.FilterTypeTermMatch),
				Field: awssdk.String("productFamily"),
				Value: awssdk.String(family),
			},
			{
				Type:  awssdk.String(pricing.FilterTypeTermMatch),
				Field: awssdk.String("regionCode"),
				Value: awssdk.String(region),
			},
		},
		MaxResults: awssdk.Int64(100),
	}

	prices := make(map[string]decimal.Decimal)
	call := func() error {
		return e.client.GetProductsPagesWithContext(ctx, input, func(page *pricing.GetProductsOutput, lastPage bool) bool {
			for _, item := range page.PriceList {
				group, price, ok := parseProduct(item)
				if ok {
					prices[group] = price
				}
			}
			return !lastPage
		})
	}

	var err error
	if e.limiter != nil {
		err = e.limiter.Execute(ctx, "GetProducts", call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s pricing for %s: %w", family, region, err)
	}
	return prices, nil
}

// parseProduct extracts the product group and first non-zero on-demand
// USD price of a price list entry. Zero entries are free tier ranges.
func parseProduct(item awssdk.JSONValue) (string, decimal.Decimal, bool) {
	product, ok := item["product"].(map[string]interface{})
	if !ok {
		return "", decimal.Zero, false
	}
	attributes, ok := product["attributes"].(map[string]interface{})
	if !ok {
		return "", decimal.Zero, false
	}
	group, ok := attributes["group"].(string)
	if !ok || group == "" {
		return "", decimal.Zero, false
	}

	terms, ok := item["terms"].(map[string]interface{})
	if !ok {
		return "", decimal.Zero, false
	}
	onDemand, ok := terms["OnDemand"].(map[string]interface{})
	if !ok {
		return "", decimal.Zero, false
	}

	for _, term := range onDemand {
		termData, ok := term.(map[string]interface{})
		if !ok {
			continue
		}
		dimensions, ok := termData["priceDimensions"].(map[string]interface{})
		if !ok {
			continue
		}
		for _, dimension := range dimensions {
			dimData, ok := dimension.(map[string]interface{})
			if !ok {
				continue
			}
			perUnit, ok := dimData["pricePerUnit"].(map[string]interface{})
			if !ok {
				continue
			}
			usd, ok := perUnit["USD"].(string)
			if !ok {
				continue
			}
			price, err := decimal.NewFromString(usd)
			if err != nil || !price.IsPositive() {
				continue
			}
			return group, price, true
		}
	}
	return "", decimal.Zero, false
}

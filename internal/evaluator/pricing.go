package evaluator

import (
	"context"
	"fmt"
	"strings"

	"capacityeval/internal/billing"
)

// PricingSource resolves the pricing table of a region and table class
type PricingSource interface {
	PricingTable(ctx context.Context, region, tableClass string) (billing.PricingTable, error)
}

// StaticPricing serves pricing tables supplied up front, typically from configuration
type StaticPricing struct {
	tables map[string]billing.PricingTable
}

// NewStaticPricing indexes tables by region and table class
func NewStaticPricing(tables []billing.PricingTable) *StaticPricing {
	s := &StaticPricing{tables: make(map[string]billing.PricingTable, len(tables))}
	for _, t := range tables {
		s.tables[pricingKey(t.Region, t.TableClass)] = t
	}
	return s
}

// PricingTable implements PricingSource
func (s *StaticPricing) PricingTable(_ context.Context, region, tableClass string) (billing.PricingTable, error) {
	table, ok := s.tables[pricingKey(region, tableClass)]
	if !ok {
		return billing.PricingTable{}, &billing.PricingUnavailableError{
			Region:     region,
			TableClass: tableClass,
			Dimension:  billing.Read,
			Reason:     "no pricing table configured",
		}
	}
	return table, nil
}

func pricingKey(region, tableClass string) string {
	if tableClass == "" {
		tableClass = "STANDARD"
	}
	return fmt.Sprintf("%s/%s", strings.ToLower(region), strings.ToUpper(tableClass))
}

// freeTierSource overlays configured free tier allowances on another source
type freeTierSource struct {
	next     PricingSource
	freeTier map[billing.Dimension]billing.Rates
}

// WithFreeTier applies the free tier fields of freeTier to every table
// returned by next, unless the table already carries a free tier.
func WithFreeTier(next PricingSource, freeTier map[billing.Dimension]billing.Rates) PricingSource {
	return &freeTierSource{next: next, freeTier: freeTier}
}

func (f *freeTierSource) PricingTable(ctx context.Context, region, tableClass string) (billing.PricingTable, error) {
	table, err := f.next.PricingTable(ctx, region, tableClass)
	if err != nil {
		return table, err
	}

	dims := make(map[billing.Dimension]billing.Rates, len(table.Dimensions))
	for dim, rates := range table.Dimensions {
		if tier, ok := f.freeTier[dim]; ok {
			if rates.FreeTierUnitHours == 0 {
				rates.FreeTierUnitHours = tier.FreeTierUnitHours
			}
			if rates.FreeTierMonthlyRequests == 0 {
				rates.FreeTierMonthlyRequests = tier.FreeTierMonthlyRequests
			}
		}
		dims[dim] = rates
	}
	table.Dimensions = dims
	return table, nil
}

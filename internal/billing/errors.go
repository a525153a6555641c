package billing

import "fmt"

// PricingUnavailableError is returned when a required price is missing or unusable
type PricingUnavailableError struct {
	Region     string
	TableClass string
	Dimension  Dimension
	Reason     string
}

func (e *PricingUnavailableError) Error() string {
	return fmt.Sprintf("pricing unavailable for %s capacity (region=%s, class=%s): %s",
		e.Dimension, e.Region, e.TableClass, e.Reason)
}

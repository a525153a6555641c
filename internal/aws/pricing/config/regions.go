package config

import "strings"

// The Price List API is only served from these endpoints
const (
	AmericasEndpoint = "us-east-1"
	AsiaEndpoint     = "ap-south-1"
)

// americanRegions are answered by the us-east-1 endpoint
var americanRegions = map[string]bool{
	"us-east-1":     true,
	"us-east-2":     true,
	"us-west-1":     true,
	"us-west-2":     true,
	"us-gov-east-1": true,
	"us-gov-west-1": true,
	"ca-central-1":  true,
	"ca-west-1":     true,
	"sa-east-1":     true,
	"mx-central-1":  true,
}

// EndpointRegion returns the Price List API endpoint closest to region
func EndpointRegion(region string) string {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" || americanRegions[region] {
		return AmericasEndpoint
	}
	return AsiaEndpoint
}

// IsInfrequentAccess reports whether tableClass is the infrequent access class
func IsInfrequentAccess(tableClass string) bool {
	return strings.EqualFold(tableClass, "STANDARD_INFREQUENT_ACCESS")
}

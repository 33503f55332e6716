// Package pricing turns catalog pricing leaves into hashed products and prices.
package pricing

import (
	"fmt"
	"strings"
)

// TierModel is the shape of a metric's pricing curve.
type TierModel string

const (
	TierModelLinear       TierModel = "Linear"
	TierModelProration    TierModel = "Proration"
	TierModelGranularTier TierModel = "GranularTier"
	TierModelStepTier     TierModel = "StepTier"
	TierModelBlockTier    TierModel = "BlockTier"
)

// Product is a normalized, storable catalog entry. ProductHash depends only
// on VendorName, Region and SKU.
type Product struct {
	ProductHash   string            `json:"productHash"`
	SKU           string            `json:"sku"`
	VendorName    string            `json:"vendorName"`
	Region        string            `json:"region"`
	Service       string            `json:"service"`
	ProductFamily string            `json:"productFamily"`
	Attributes    map[string]string `json:"attributes"`
	Prices        []Price           `json:"prices"`
}

// Price is one tier of one metric for one country and currency.
type Price struct {
	PriceHash          string    `json:"priceHash"`
	MetricID           string    `json:"metricId"`
	Unit               string    `json:"unit"`
	PurchaseOption     string    `json:"purchaseOption"`
	TierModel          TierModel `json:"tierModel"`
	USDAmount          string    `json:"usdAmount"`
	StartUsageAmount   string    `json:"startUsageAmount"`
	EndUsageAmount     string    `json:"endUsageAmount"`
	EffectiveDateStart string    `json:"effectiveDateStart,omitempty"`
	EffectiveDateEnd   string    `json:"effectiveDateEnd,omitempty"`
	Country            string    `json:"country"`
	Currency           string    `json:"currency"`
	PartNumber         string    `json:"partNumber,omitempty"`
}

// Geo selects one country/currency bucket of a pricing leaf.
type Geo struct {
	Country  string
	Currency string
}

// DefaultGeos is what a scrape extracts when nothing else is configured.
var DefaultGeos = []Geo{{Country: "USA", Currency: "USD"}}

// ParseGeo parses "COUNTRY:CURRENCY", e.g. "DEU:EUR".
func ParseGeo(s string) (Geo, error) {
	country, currency, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || country == "" || currency == "" {
		return Geo{}, fmt.Errorf("invalid geo %q, want COUNTRY:CURRENCY", s)
	}
	return Geo{Country: strings.ToUpper(country), Currency: strings.ToUpper(currency)}, nil
}

package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cloud-pricing/internal/catalog"
	perrors "cloud-pricing/pkg/errors"
)

// InfiniteUsage replaces tier boundaries that mean "no upper bound".
const InfiniteUsage = "Inf"

// The catalog encodes an open-ended tier as a quantity of nine 9s.
const unboundedTierDigits = 9

// ExtractPrices flattens the metrics of leaf into one Price per tier point
// for the given country and currency. Metrics without that bucket contribute
// nothing. A leaf with an unusable metric is rejected as a whole.
func ExtractPrices(leaf *catalog.PricingLeaf, country, currency string) ([]Price, error) {
	if leaf == nil {
		return nil, nil
	}

	var prices []Price
	for mi, m := range leaf.Metrics {
		if strings.TrimSpace(m.MetricID) == "" {
			return nil, perrors.NewMalformedPricingError(leaf.NodeID, fmt.Sprintf("metric %d has no metric_id", mi))
		}
		amount, ok := m.Amount(country, currency)
		if !ok || len(amount.Prices) == 0 {
			continue
		}

		model := TierModelLinear
		if len(amount.Prices) > 1 {
			model = TierModelStepTier
		}
		unit := m.ChargeUnitName
		if unit == "" {
			unit = m.ChargeUnit
		}

		start := "0"
		for pi, point := range amount.Prices {
			price, err := decimal.NewFromString(point.Price.String())
			if err != nil {
				return nil, perrors.NewMalformedPricingError(leaf.NodeID,
					fmt.Sprintf("metric %s point %d: bad price %q", m.MetricID, pi, point.Price))
			}
			tier, err := decimal.NewFromString(point.QuantityTier.String())
			if err != nil {
				return nil, perrors.NewMalformedPricingError(leaf.NodeID,
					fmt.Sprintf("metric %s point %d: bad quantity_tier %q", m.MetricID, pi, point.QuantityTier))
			}
			end := normalizeTierBoundary(tier)

			prices = append(prices, Price{
				MetricID:           m.MetricID,
				Unit:               unit,
				PurchaseOption:     leaf.Type,
				TierModel:          model,
				USDAmount:          price.String(),
				StartUsageAmount:   start,
				EndUsageAmount:     end,
				EffectiveDateStart: m.EffectiveFrom,
				EffectiveDateEnd:   m.EffectiveUntil,
				Country:            amount.Country,
				Currency:           amount.Currency,
				PartNumber:         m.PartRef,
			})
			start = end
		}
	}
	return prices, nil
}

func normalizeTierBoundary(d decimal.Decimal) string {
	s := d.String()
	if isUnboundedTier(s) {
		return InfiniteUsage
	}
	return s
}

func isUnboundedTier(s string) bool {
	return len(s) == unboundedTierDigits && strings.Trim(s, "9") == ""
}

package quota

import "github.com/shopspring/decimal"

// Unit pricing constants (USD per compute unit) by subscriber tier - can be
// configured externally. Costs are bookkeeping for billing callers and never
// influence the allow/deny decision.
var TierPricing = map[string]decimal.Decimal{
	"free":       decimal.NewFromFloat(0.0004),
	"starter":    decimal.NewFromFloat(0.00035),
	"pro":        decimal.NewFromFloat(0.0003),
	"enterprise": decimal.NewFromFloat(0.00025),
}

var defaultUnitPrice = decimal.NewFromFloat(0.0004)

// UnitCost returns the estimated cost of one consumed unit for the tier.
func UnitCost(tier string) decimal.Decimal {
	if price, ok := TierPricing[tier]; ok {
		return price
	}
	return defaultUnitPrice
}

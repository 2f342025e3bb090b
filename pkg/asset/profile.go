// Package asset provides process-wide asset identity: a symbol keyed
// singleton registry per concrete asset kind, carrying timezone, trading
// restriction, and tick sizes via a plain-data profile (composition, not
// inheritance, per the mixin-to-composition guidance for this port).
package asset

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore/engine/pkg/restriction"
)

// Profile is the plain-data bundle a concrete asset kind carries: the
// Python source's USStockMixin + AlpacaAsset mixin composition, reworked as
// composed data instead of inheritance.
type Profile struct {
	Symbol            string
	Timezone          *time.Location
	Restriction       restriction.Restriction
	MinPriceIncrement decimal.Decimal
	MinSizeIncrement  decimal.Decimal
}

// IsTrading reports whether the asset is tradable at `at` (or now, if at
// is the zero Time).
func (p Profile) IsTrading(at time.Time) bool {
	if p.Restriction == nil {
		return true
	}
	return p.Restriction.IsTrading(at)
}

// Localize converts a UTC instant into the asset's timezone.
func (p Profile) Localize(t time.Time) time.Time {
	return t.In(p.Timezone)
}

// Now returns the current instant localized to the asset's timezone.
func (p Profile) Now() time.Time {
	return time.Now().In(p.Timezone)
}

// TruncatePrice rounds price down to the nearest MinPriceIncrement using
// exact decimal arithmetic (avoid float rounding error on tick
// sizes).
func (p Profile) TruncatePrice(price float64) float64 {
	return truncateToIncrement(price, p.MinPriceIncrement)
}

// TruncateSize rounds size down to the nearest MinSizeIncrement.
func (p Profile) TruncateSize(size float64) float64 {
	return truncateToIncrement(size, p.MinSizeIncrement)
}

func truncateToIncrement(value float64, increment decimal.Decimal) float64 {
	if increment.IsZero() {
		return value
	}
	v := decimal.NewFromFloat(value)
	quotient := v.Div(increment).Truncate(0)
	result, _ := quotient.Mul(increment).Float64()
	return result
}

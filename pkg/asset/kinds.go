package asset

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore/engine/pkg/restriction"
)

var usEastern = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// tzdata is assumed present in production; fall back to a fixed
		// -5h offset only so package init never panics in a stripped
		// container image.
		return time.FixedZone(name, -5*60*60)
	}
	return loc
}

// USStock is a US-listed equity: Eastern timezone, restricted to regular
// trading hours on weekdays, grounded on quantrion/asset/base.py:USStock.
type USStock struct{ base }

// NewUSStock constructs a new US equity asset. Use
// GetOrCreate(registry, symbol, NewUSStock) to get singleton semantics;
// calling this directly bypasses the registry.
func NewUSStock(symbol string) *USStock {
	r := restriction.NewComposed(
		mustTimeOfDay("16:00", "09:30", usEastern),
		restriction.NewDayOfWeek([]time.Weekday{time.Saturday, time.Sunday}, usEastern),
	)
	return &USStock{base{profile: Profile{
		Symbol:            strings.ToUpper(symbol),
		Timezone:          usEastern,
		Restriction:       r,
		MinPriceIncrement: decimal.NewFromFloat(0.01),
		MinSizeIncrement:  decimal.NewFromInt(1),
	}}}
}

// Crypto is a crypto asset: UTC, no trading-hours restriction, fractional
// sizes, grounded on quantrion/asset/base.py:Crypto.
type Crypto struct{ base }

func NewCrypto(symbol string) *Crypto {
	return &Crypto{base{profile: Profile{
		Symbol:            strings.ToUpper(symbol),
		Timezone:          time.UTC,
		Restriction:       restriction.Empty{},
		MinPriceIncrement: decimal.NewFromFloat(0.01),
		MinSizeIncrement:  decimal.NewFromFloat(0.000001),
	}}}
}

func mustTimeOfDay(start, end string, loc *time.Location) *restriction.TimeOfDay {
	r, err := restriction.NewTimeOfDay(start, end, loc)
	if err != nil {
		panic(err)
	}
	return r
}

// Package restriction composes time-of-day and day-of-week trading
// windows into predicates an asset can test against "is trading now?" or
// use to filter a time-indexed bar series.
package restriction

import (
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

// Restriction is a predicate describing when an asset is tradable. It
// doubles as a series-level filter.
type Restriction interface {
	// IsTrading reports whether the asset is tradable at the given
	// instant.
	IsTrading(at time.Time) bool
	// Filter returns the subset of bars that fall inside the trading
	// window. Filter never reorders or mutates the bars it keeps, and is
	// idempotent: Filter(Filter(s)) == Filter(s).
	Filter(bars bartime.Series) bartime.Series
}

// Empty is the always-trading restriction.
type Empty struct{}

func (Empty) IsTrading(time.Time) bool                  { return true }
func (Empty) Filter(bars bartime.Series) bartime.Series { return bars }

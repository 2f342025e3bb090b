package restriction

import (
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

// DayOfWeek excludes a fixed set of weekdays from trading (e.g. weekends).
type DayOfWeek struct {
	excluded map[time.Weekday]struct{}
	loc      *time.Location
}

// NewDayOfWeek builds a DayOfWeek restriction excluding the given days.
func NewDayOfWeek(days []time.Weekday, loc *time.Location) *DayOfWeek {
	excluded := make(map[time.Weekday]struct{}, len(days))
	for _, d := range days {
		excluded[d] = struct{}{}
	}
	return &DayOfWeek{excluded: excluded, loc: loc}
}

func (r *DayOfWeek) IsTrading(at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	_, excluded := r.excluded[at.In(r.loc).Weekday()]
	return !excluded
}

func (r *DayOfWeek) Filter(bars bartime.Series) bartime.Series {
	out := make(bartime.Series, 0, len(bars))
	for _, b := range bars {
		if _, excluded := r.excluded[b.Start.In(r.loc).Weekday()]; !excluded {
			out = append(out, b)
		}
	}
	return out
}

// Composed ANDs its children for IsTrading and applies Filter in
// declaration order; the result is the same regardless of order since
// Filter only ever removes rows.
type Composed struct {
	Children []Restriction
}

func NewComposed(children ...Restriction) *Composed {
	return &Composed{Children: children}
}

func (r *Composed) IsTrading(at time.Time) bool {
	for _, c := range r.Children {
		if !c.IsTrading(at) {
			return false
		}
	}
	return true
}

func (r *Composed) Filter(bars bartime.Series) bartime.Series {
	for _, c := range r.Children {
		bars = c.Filter(bars)
	}
	return bars
}

package restriction

import (
	"fmt"
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

// TimeOfDay excludes trading from the wall-clock window running from
// start to end in a given timezone. The window is defined by two "HH:MM"
// strings compared lexically: if start > end the excluded window wraps
// midnight (trading holds for end <= now <= start); otherwise trading
// holds outside (start, end) (now <= start OR end <= now), matching the
// definition of TimeRestriction(start, end, tz).
type TimeOfDay struct {
	start, end   string
	startT, endT time.Duration // time-of-day offset since midnight
	wraps        bool
	loc          *time.Location
}

// NewTimeOfDay parses start/end as "HH:MM" or "HH:MM:SS" wall-clock times.
func NewTimeOfDay(start, end string, loc *time.Location) (*TimeOfDay, error) {
	st, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("restriction: invalid start %q: %w", start, err)
	}
	et, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("restriction: invalid end %q: %w", end, err)
	}
	return &TimeOfDay{
		start: start, end: end,
		startT: st, endT: et,
		wraps: start > end,
		loc:   loc,
	}, nil
}

func parseClock(s string) (time.Duration, error) {
	layouts := []string{"15:04:05", "15:04"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func clockOf(t time.Time, loc *time.Location) time.Duration {
	local := t.In(loc)
	h, m, s := local.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// IsTrading reports whether `at` falls inside the restriction's trading
// window. If at is the zero Time, the current instant is used.
func (r *TimeOfDay) IsTrading(at time.Time) bool {
	if at.IsZero() {
		at = time.Now()
	}
	c := clockOf(at, r.loc)
	if r.wraps {
		return r.endT <= c && c <= r.startT
	}
	return c <= r.startT || r.endT <= c
}

// Filter keeps bars whose Start falls inside the trading window.
func (r *TimeOfDay) Filter(bars bartime.Series) bartime.Series {
	out := make(bartime.Series, 0, len(bars))
	for _, b := range bars {
		c := clockOf(b.Start, r.loc)
		var keep bool
		if r.wraps {
			keep = r.endT <= c && c <= r.startT
		} else {
			keep = c <= r.startT || r.endT <= c
		}
		if keep {
			out = append(out, b)
		}
	}
	return out
}

package bartime

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultTimeframe is the native bar interval the system ingests when a
// Config does not override it.
const DefaultTimeframe = "1min"

var freqPattern = regexp.MustCompile(`(?i)^(\d+)(min|h|d)$`)

// Frequency is a parsed "<N><unit>" bar interval, unit in {min, h, d}.
type Frequency struct {
	raw      string
	Periods  int
	Unit     string // "min", "h", or "d"
	Duration time.Duration
}

// ParseFrequency parses a string like "5min", "1h", "1d".
func ParseFrequency(s string) (Frequency, error) {
	m := freqPattern.FindStringSubmatch(s)
	if m == nil {
		return Frequency{}, fmt.Errorf("bartime: invalid frequency %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Frequency{}, fmt.Errorf("bartime: invalid frequency %q", s)
	}
	unit := m[2]
	var unitDur time.Duration
	switch unit {
	case "min":
		unitDur = time.Minute
	case "h":
		unitDur = time.Hour
	case "d":
		unitDur = 24 * time.Hour
	default:
		return Frequency{}, fmt.Errorf("bartime: unknown unit %q", unit)
	}
	return Frequency{raw: s, Periods: n, Unit: unit, Duration: time.Duration(n) * unitDur}, nil
}

// MustParseFrequency panics on an invalid frequency string; intended for
// package-level constant initialization only.
func MustParseFrequency(s string) Frequency {
	f, err := ParseFrequency(s)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Frequency) String() string { return f.raw }

// IsMultipleOf reports whether f is an integer multiple of native -
// every usable freq must satisfy this.
func (f Frequency) IsMultipleOf(native Frequency) bool {
	if native.Duration == 0 {
		return false
	}
	return f.Duration%native.Duration == 0
}

// Ceil returns the smallest bar-start >= ts aligned to freq.
func Ceil(ts time.Time, freq Frequency) time.Time {
	floored := Floor(ts, freq)
	if floored.Equal(ts) {
		return floored
	}
	return floored.Add(freq.Duration)
}

// Floor returns the largest bar-start <= ts aligned to freq. Alignment is
// anchored to the Unix epoch (UTC day/hour/minute boundaries), then
// reported back in ts's own location.
func Floor(ts time.Time, freq Frequency) time.Time {
	loc := ts.Location()
	secs := int64(freq.Duration / time.Second)
	unix := ts.Unix()
	floored := (unix / secs) * secs
	if unix < 0 && unix%secs != 0 {
		floored -= secs
	}
	return time.Unix(floored, 0).In(loc)
}

// MaxEnd returns the last bar-start a query may return: floor(now, freq)
// minus one native interval. The currently-in-progress interval is never
// returned since it may still be mutating upstream.
func MaxEnd(now time.Time, freq, native Frequency) time.Time {
	return Floor(now, freq).Add(-native.Duration)
}

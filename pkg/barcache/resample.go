package barcache

import (
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

// vwapEpsilon is substituted for a zero volume-sum divisor in the VWAP
// reducer so a bucket with no trade volume never divides by zero (spec
// §4.3's resampling table).
const vwapEpsilon = 1e-9

// resample aggregates raw (native-timeframe, sorted, deduplicated) bars
// into freq-sized buckets per a fixed reducer table. Empty
// sub-intervals are dropped (the table's default), matching what every
// caller in this CORE actually needs; a fill mode would cost more than
// it buys until a caller requires it.
func resample(raw bartime.Series, freq, native bartime.Frequency) bartime.Series {
	if len(raw) == 0 {
		return bartime.Series{}
	}

	out := make(bartime.Series, 0, len(raw))
	var bucket bartime.Bar
	var bucketStart time.Time
	open := false

	flush := func() {
		if !open {
			return
		}
		if bucket.Volume != 0 {
			bucket.Price /= bucket.Volume
		} else {
			bucket.Price /= vwapEpsilon
		}
		out = append(out, bucket)
		open = false
	}

	for _, bar := range raw {
		bs := bartime.Floor(bar.Start, freq)
		if !open || !bs.Equal(bucketStart) {
			flush()
			bucketStart = bs
			bucket = bartime.Bar{
				Start:  bs,
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: bar.Volume,
				Price:  bar.Price * bar.Volume,
				Extras: cloneExtras(bar.Extras),
			}
			open = true
			continue
		}
		if bar.High > bucket.High {
			bucket.High = bar.High
		}
		if bar.Low < bucket.Low {
			bucket.Low = bar.Low
		}
		bucket.Close = bar.Close
		bucket.Volume += bar.Volume
		bucket.Price += bar.Price * bar.Volume
		addExtras(bucket.Extras, bar.Extras)
	}
	flush()
	return out
}

func cloneExtras(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func addExtras(dst, src map[string]float64) {
	if src == nil {
		return
	}
	if dst == nil {
		return
	}
	for k, v := range src {
		dst[k] += v
	}
}

// trimLag applies the lag warm-up cut: the returned frame starts
// at the lag-th resampled row before the first row with Start >= start,
// and never extends past end.
func trimLag(data bartime.Series, start, end time.Time, lag int) bartime.Series {
	cutoff := 0
	for cutoff < len(data) && data[cutoff].Start.Before(start) {
		cutoff++
	}
	from := cutoff - lag
	if from < 0 {
		from = 0
	}
	upto := cutoff
	for upto < len(data) && !data[upto].Start.After(end) {
		upto++
	}
	if from > upto {
		from = upto
	}
	return data[from:upto]
}

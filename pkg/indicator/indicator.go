// Package indicator computes technical indicators as pure functions of a
// bartime.Series already fetched via barcache.Cache.Get(..., lag=n).
// Structured around a sliding-window shape (SMA/ATR/Supertrend each walk
// the series once); the exact
// Supertrend state-transition formula follows
// quantrion/data/base.py:get_supertrend, NOT a simplified
// "lower if close>hl2 else upper" placeholder, and not the Python
// source's buggy variant.
package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

// SMA returns the simple moving average of Close over a sliding window of
// n bars, one value per input bar from index n-1 onward. Callers fetch
// their input series with lag=n-1 so the first returned value aligns
// with the series' intended start.
func SMA(bars bartime.Series, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("indicator: SMA period must be positive, got %d", n)
	}
	if len(bars) < n {
		return nil, fmt.Errorf("indicator: SMA needs %d bars, have %d", n, len(bars))
	}
	out := make([]float64, len(bars)-n+1)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += bars[i].Close
	}
	out[0] = sum / float64(n)
	for i := n; i < len(bars); i++ {
		sum += bars[i].Close - bars[i-n].Close
		out[i-n+1] = sum / float64(n)
	}
	return out, nil
}

// BollingerBand is one (lower, mid, upper) triple for a single bar.
type BollingerBand struct {
	Lower, Mid, Upper float64
}

// Bollinger computes (sma-k*sigma, sma, sma+k*sigma) over the same n-bar
// window as SMA, sigma being the sample standard deviation of Close.
// Requires lag=n-1, same as SMA.
func Bollinger(bars bartime.Series, n int, k float64) ([]BollingerBand, error) {
	if n <= 1 {
		return nil, fmt.Errorf("indicator: Bollinger period must be > 1, got %d", n)
	}
	if len(bars) < n {
		return nil, fmt.Errorf("indicator: Bollinger needs %d bars, have %d", n, len(bars))
	}
	sma, err := SMA(bars, n)
	if err != nil {
		return nil, err
	}
	out := make([]BollingerBand, len(sma))
	for i := range sma {
		window := bars[i : i+n]
		mean := sma[i]
		var sumSq float64
		for _, b := range window {
			d := b.Close - mean
			sumSq += d * d
		}
		sigma := math.Sqrt(sumSq / float64(n-1))
		out[i] = BollingerBand{Lower: mean - k*sigma, Mid: mean, Upper: mean + k*sigma}
	}
	return out, nil
}

// trueRange computes TR = max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(bar bartime.Bar, prevClose float64) float64 {
	tr := bar.High - bar.Low
	if d := math.Abs(bar.High - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(bar.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// ATR returns the n-bar simple moving average of true range, one value
// per input bar from index n onward (the first true-range value needs a
// previous close, consuming one extra bar). Requires lag=n.
func ATR(bars bartime.Series, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("indicator: ATR period must be positive, got %d", n)
	}
	if len(bars) < n+1 {
		return nil, fmt.Errorf("indicator: ATR needs %d bars, have %d", n+1, len(bars))
	}
	trs := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs[i-1] = trueRange(bars[i], bars[i-1].Close)
	}
	out := make([]float64, len(trs)-n+1)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += trs[i]
	}
	out[0] = sum / float64(n)
	for i := n; i < len(trs); i++ {
		sum += trs[i] - trs[i-n]
		out[i-n+1] = sum / float64(n)
	}
	return out, nil
}

// SupertrendPoint is one bar's Supertrend line value, keyed by the bar's
// start, plus the bullish/bearish regime it implies.
type SupertrendPoint struct {
	Start   time.Time
	Value   float64
	Bullish bool
}

// Supertrend computes the stateful Supertrend line over bars, using an
// n-bar ATR (so bars must hold at least n+2 entries: n+1 for the first
// ATR value, plus one more row to seed the iteration — the seed row's
// own zero-valued state is dropped from the output).
func Supertrend(bars bartime.Series, n int, k float64) ([]SupertrendPoint, error) {
	atr, err := ATR(bars, n)
	if err != nil {
		return nil, err
	}
	// atr[i] corresponds to bars[i+n] (ATR's output is offset by n from
	// the true-range series, which is itself offset by 1 from bars).
	atrOffset := n
	usable := bars[atrOffset:]
	if len(usable) < 2 {
		return nil, fmt.Errorf("indicator: Supertrend needs at least 2 ATR-aligned bars, have %d", len(usable))
	}

	hla := func(b bartime.Bar) float64 { return (b.High + b.Low) / 2 }

	finalUpper := hla(usable[0]) + k*atr[0]
	finalLower := hla(usable[0]) - k*atr[0]
	// Seeded at 0, matching quantrion/data/base.py:get_supertrend's
	// prev_supertrend for the dropped row 0: wasUpperTrend below must be
	// false on the first real row, not an accident of finalUpper's value.
	supertrend := 0.0

	out := make([]SupertrendPoint, 0, len(usable)-1)
	for i := 1; i < len(usable); i++ {
		bar := usable[i]
		prevClose := usable[i-1].Close
		basicUpper := hla(bar) + k*atr[i]
		basicLower := hla(bar) - k*atr[i]

		var newFinalUpper float64
		if basicUpper < finalUpper || prevClose > finalUpper {
			newFinalUpper = basicUpper
		} else {
			newFinalUpper = finalUpper
		}
		var newFinalLower float64
		if basicLower > finalLower || prevClose < finalLower {
			newFinalLower = basicLower
		} else {
			newFinalLower = finalLower
		}

		wasUpperTrend := supertrend == finalUpper
		var bullish bool
		if wasUpperTrend {
			bullish = bar.Close > newFinalUpper
		} else {
			bullish = bar.Close >= newFinalLower
		}

		finalUpper, finalLower = newFinalUpper, newFinalLower
		if bullish {
			supertrend = finalLower
		} else {
			supertrend = finalUpper
		}
		out = append(out, SupertrendPoint{Start: bar.Start, Value: supertrend, Bullish: bullish})
	}
	return out, nil
}

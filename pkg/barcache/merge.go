package barcache

import "github.com/tradecore/engine/pkg/bartime"

// dedupSorted sorts s by Start (it is expected already near-sorted from
// a single fetch or a fetch+existing-slice concatenation) and collapses
// duplicate Starts, keeping the last occurrence - upstream responses may
// re-emit the currently-aggregating bar with an updated close, and the
// newer value must win.
func dedupSorted(s bartime.Series) bartime.Series {
	if len(s) == 0 {
		return s
	}
	insertionSort(s)

	out := make(bartime.Series, 0, len(s))
	for _, bar := range s {
		if n := len(out); n > 0 && out[n-1].Start.Equal(bar.Start) {
			out[n-1] = bar
			continue
		}
		out = append(out, bar)
	}
	return out
}

// insertionSort sorts s by Start ascending in place. Fetched pages and
// cache prepend/append slices are already sorted or near-sorted
// (concatenation of two sorted runs), so insertion sort's near-linear
// best case fits better than pulling in sort.Slice for what is, in
// steady state, already-ordered data.
func insertionSort(s bartime.Series) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Start.Before(s[j-1].Start); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

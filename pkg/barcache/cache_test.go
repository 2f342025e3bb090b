package barcache

import (
	"context"
	"testing"
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

type fakeHistorical struct {
	calls []fetchCall
	bars  bartime.Series // full available history, native timeframe
}

type fetchCall struct{ start, end time.Time }

func (f *fakeHistorical) Fetch(_ context.Context, _ string, start, end time.Time) (bartime.Series, error) {
	f.calls = append(f.calls, fetchCall{start, end})
	return f.bars.Range(start, end).Clone(), nil
}

type fakeStream struct{}

func (fakeStream) Subscribe(context.Context, string, func(bartime.Bar)) error { return nil }

func minuteBars(start time.Time, n int, closeFrom float64) bartime.Series {
	out := make(bartime.Series, n)
	for i := 0; i < n; i++ {
		c := closeFrom + float64(i)
		out[i] = bartime.Bar{
			Start: start.Add(time.Duration(i) * time.Minute),
			Open:  c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: 10, Price: c,
		}
	}
	return out
}

func TestGetFetchesOnceThenReusesCoveredRange(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 120, 100)}
	c := New("AAPL", bartime.MustParseFrequency("1min"), hist, fakeStream{}, time.UTC)

	start := base.Add(10 * time.Minute)
	end := base.Add(20 * time.Minute)

	series, err := c.Get(context.Background(), start, end, bartime.Frequency{}, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(series) != 11 {
		t.Fatalf("expected 11 bars, got %d", len(series))
	}
	if len(hist.calls) != 1 {
		t.Fatalf("expected 1 upstream fetch, got %d", len(hist.calls))
	}

	// A second Get fully inside the covered range must not re-fetch.
	_, err = c.Get(context.Background(), start, end, bartime.Frequency{}, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(hist.calls) != 1 {
		t.Fatalf("expected still 1 upstream fetch after re-query, got %d", len(hist.calls))
	}
}

func TestGetExtendsCoveredRangeOnBothSides(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 120, 100)}
	c := New("AAPL", bartime.MustParseFrequency("1min"), hist, fakeStream{}, time.UTC)

	mid := base.Add(50 * time.Minute)
	if _, err := c.Get(context.Background(), mid, mid.Add(5*time.Minute), bartime.Frequency{}, 0); err != nil {
		t.Fatal(err)
	}

	// Now query a range that extends before and after what's covered.
	wide, err := c.Get(context.Background(), base.Add(40*time.Minute), base.Add(60*time.Minute), bartime.Frequency{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(wide) != 21 {
		t.Fatalf("expected 21 bars, got %d", len(wide))
	}
	if len(hist.calls) != 3 {
		t.Fatalf("expected 3 fetches (initial, prepend, append), got %d", len(hist.calls))
	}
}

func TestGetStartAfterEndReturnsEmpty(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 10, 100)}
	c := New("AAPL", bartime.MustParseFrequency("1min"), hist, fakeStream{}, time.UTC)

	series, err := c.Get(context.Background(), base.Add(5*time.Minute), base, bartime.Frequency{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 0 {
		t.Errorf("expected empty series, got %d bars", len(series))
	}
}

func TestGetResamplesToCoarserFrequency(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 10, 100)}
	c := New("AAPL", bartime.MustParseFrequency("1min"), hist, fakeStream{}, time.UTC)

	freq := bartime.MustParseFrequency("5min")
	series, err := c.Get(context.Background(), base, base.Add(9*time.Minute), freq, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 resampled buckets, got %d", len(series))
	}
	if series[0].Open != 100 {
		t.Errorf("bucket 0 open = %v, want 100 (first)", series[0].Open)
	}
	if series[0].Close != 104 {
		t.Errorf("bucket 0 close = %v, want 104 (last)", series[0].Close)
	}
	if series[0].Volume != 50 {
		t.Errorf("bucket 0 volume = %v, want 50 (sum)", series[0].Volume)
	}
}

func TestAddExtendsAndReplaces(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 3, 100)}
	c := New("AAPL", bartime.MustParseFrequency("1min"), hist, fakeStream{}, time.UTC)

	if _, err := c.Get(context.Background(), base, base.Add(2*time.Minute), bartime.Frequency{}, 0); err != nil {
		t.Fatal(err)
	}

	// Replace the currently-aggregating last bar.
	c.add(bartime.Bar{Start: base.Add(2 * time.Minute), Open: 1, High: 1, Low: 1, Close: 999, Volume: 1})
	if c.bars.Last().Equal(base.Add(2*time.Minute)) && c.bars[len(c.bars)-1].Close != 999 {
		t.Errorf("expected replace of duplicate start to update close")
	}

	// Extend with the next contiguous bar.
	next := base.Add(3 * time.Minute)
	c.add(bartime.Bar{Start: next, Open: 1, High: 1, Low: 1, Close: 5, Volume: 1})
	if !c.covered.last.Equal(next) {
		t.Errorf("expected covered.last to extend to %v, got %v", next, c.covered.last)
	}
}

// Package barcache is the central bar storage component: per-asset bar
// storage that stitches historical REST fetches with a live streaming
// subscription into one gap-free covered interval, and serves resampled
// range queries. Grounded line-for-line on
// quantrion/data/base.py:GenericBarsProvider/RealTimeMixin, translated
// from the Python source's asyncio.Lock + asyncio.Event pair into a
// sync.Mutex + broadcast-channel signal.
package barcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/feed"
	"github.com/tradecore/engine/pkg/logging"
)

// coveredRange is the closed native-timeframe interval [first, last] for
// which the cache holds every bar. Cache.covered is nil until the first
// fetch or streamed bar.
type coveredRange struct {
	first, last time.Time
}

// Cache is the per-asset bar store. One Cache
// exists per (symbol) pair; callers obtain warm-up history and live
// updates through the same Get/Subscribe/WaitForNext surface regardless
// of whether the data is historical, streamed, or both.
type Cache struct {
	symbol     string
	native     bartime.Frequency
	historical feed.HistoricalSource
	stream     feed.StreamSource
	loc        *time.Location
	logger     zerolog.Logger

	mu         sync.Mutex
	bars       bartime.Series
	covered    *coveredRange
	subscribed bool
	sig        *signal
}

// New constructs a Cache for symbol at the given native timeframe. loc is
// the asset's trading timezone; the Cache stores it but does not use it,
// since all internal bookkeeping is UTC.
func New(symbol string, native bartime.Frequency, historical feed.HistoricalSource, stream feed.StreamSource, loc *time.Location) *Cache {
	return &Cache{
		symbol:     symbol,
		native:     native,
		historical: historical,
		stream:     stream,
		loc:        loc,
		logger:     logging.GetLogger(logging.ComponentBarcache).With().Str("symbol", symbol).Logger(),
		sig:        newSignal(),
	}
}

// Get fetches bars over [start, end] (inclusive on both ends) resampled to freq, with lag extra
// warm-up bars prepended. end, if
// zero, defaults to max_end; freq, if zero, defaults to the native
// timeframe.
func (c *Cache) Get(ctx context.Context, start time.Time, end time.Time, freq bartime.Frequency, lag int) (bartime.Series, error) {
	if freq.Duration == 0 {
		freq = c.native
	}
	now := time.Now().UTC()
	maxEnd := bartime.MaxEnd(now, freq, c.native)
	if end.IsZero() {
		end = maxEnd
	} else if end.After(maxEnd) {
		end = maxEnd
	}
	if start.After(end) {
		return bartime.Series{}, nil
	}

	needStart := bartime.Ceil(start, freq).Add(-time.Duration(lag) * freq.Duration)
	needEnd := end

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureCoveredLocked(ctx, needStart, needEnd); err != nil {
		return nil, err
	}

	raw := c.bars.Range(needStart, needEnd).Clone()
	var data bartime.Series
	if freq.Duration == c.native.Duration {
		data = raw
	} else {
		data = resample(raw, freq, c.native)
	}
	return trimLag(data, start, end, lag), nil
}

// ensureCoveredLocked runs the range-stitching algorithm: it fetches only
// the gap between what's already covered and what's needed, prepending
// or appending as required. Caller holds c.mu; the lock is held across the upstream
// fetch so a concurrent Get never observes a partially-stitched series.
func (c *Cache) ensureCoveredLocked(ctx context.Context, needStart, needEnd time.Time) error {
	if c.covered == nil {
		fetched, err := c.historical.Fetch(ctx, c.symbol, needStart, needEnd)
		if err != nil {
			return fmt.Errorf("barcache: initial fetch: %w", err)
		}
		c.bars = dedupSorted(fetched)
		c.covered = &coveredRange{first: needStart, last: needEnd}
		return nil
	}

	if needStart.Before(c.covered.first) {
		prependEnd := c.covered.first.Add(-c.native.Duration)
		fetched, err := c.historical.Fetch(ctx, c.symbol, needStart, prependEnd)
		if err != nil {
			return fmt.Errorf("barcache: prepend fetch: %w", err)
		}
		c.bars = dedupSorted(append(fetched.Clone(), c.bars...))
		c.covered.first = needStart
	}
	if needEnd.After(c.covered.last) {
		appendStart := c.covered.last.Add(c.native.Duration)
		fetched, err := c.historical.Fetch(ctx, c.symbol, appendStart, needEnd)
		if err != nil {
			return fmt.Errorf("barcache: append fetch: %w", err)
		}
		c.bars = dedupSorted(append(c.bars, fetched...))
		c.covered.last = needEnd
	}
	return nil
}

// Subscribe activates the streaming adapter (idempotent) and closes any
// gap between the currently covered range and "now" before marking the
// cache subscribed.
func (c *Cache) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.stream.Subscribe(ctx, c.symbol, c.add); err != nil {
		return fmt.Errorf("barcache: subscribe: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	gapEnd := bartime.Floor(now, c.native).Add(-c.native.Duration)
	if c.covered != nil && c.covered.last.Before(gapEnd) {
		catchupStart := c.covered.last.Add(c.native.Duration)
		fetched, err := c.historical.Fetch(ctx, c.symbol, catchupStart, gapEnd)
		if err != nil {
			return fmt.Errorf("barcache: catch-up fetch: %w", err)
		}
		c.bars = dedupSorted(append(c.bars, fetched...))
		c.covered.last = gapEnd
	}
	c.subscribed = true
	return nil
}

// add merges one incoming bar (historical replay or live stream) into
// the series (extend, replace the last bar, or prepend), then signals waiters.
func (c *Cache) add(bar bartime.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.covered == nil {
		c.bars = bartime.Series{bar}
		c.covered = &coveredRange{first: bar.Start, last: bar.Start}
		c.sig.broadcast()
		return
	}

	switch {
	case bar.Start.Equal(c.covered.last.Add(c.native.Duration)):
		c.bars = append(c.bars, bar)
		c.covered.last = bar.Start
	case bar.Start.Equal(c.covered.last):
		c.bars[len(c.bars)-1] = bar
	case bar.Start.Before(c.covered.first):
		c.bars = append(bartime.Series{bar}, c.bars...)
		c.covered.first = bar.Start
	default:
		c.logger.Warn().Time("start", bar.Start).Msg("out-of-order bar dropped by stream merge")
		return
	}
	c.sig.broadcast()
}

// WaitForNext suspends until the next completed bar at freq is
// available, then returns it. freq, if zero, defaults to the
// native timeframe.
func (c *Cache) WaitForNext(ctx context.Context, freq bartime.Frequency) (bartime.Bar, error) {
	if freq.Duration == 0 {
		freq = c.native
	}

	c.mu.Lock()
	last := c.bars.Last()
	wait := c.sig.wait()
	c.mu.Unlock()

	bucketStart := bartime.Floor(last, freq)
	bucketEnd := bucketStart.Add(freq.Duration).Add(-c.native.Duration)

	for {
		select {
		case <-wait:
		case <-ctx.Done():
			return bartime.Bar{}, ctx.Err()
		}

		c.mu.Lock()
		newLast := c.bars.Last()
		wait = c.sig.wait()
		c.mu.Unlock()
		if !newLast.After(last) {
			continue
		}
		last = newLast
		if !last.Before(bucketEnd.Add(c.native.Duration)) {
			break
		}
	}

	result, err := c.Get(ctx, bucketStart, bucketEnd, freq, 0)
	if err != nil {
		return bartime.Bar{}, err
	}
	if len(result) == 0 {
		return bartime.Bar{}, fmt.Errorf("barcache: wait_for_next produced no bar for bucket starting %s", bucketStart)
	}
	return result[len(result)-1], nil
}

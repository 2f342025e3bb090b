// Package feed defines the market-data adapter boundary: a
// historical range fetch and a live streaming subscription, kept as two
// narrow interfaces so pkg/barcache never depends on a concrete vendor.
// Generalized from a
// backtest-only provider/feed split to also cover live streaming per
// quantrion/data/alpaca.py:AlpacaWebSocket.
package feed

import (
	"context"
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

// HistoricalSource fetches a closed range of native-timeframe bars for a
// symbol. Implementations may paginate internally; Fetch returns the full
// assembled range or an error.
type HistoricalSource interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) (bartime.Series, error)
}

// StreamSource delivers live bars for a symbol to sink as they close (or,
// for the currently-aggregating bar, as it updates — pkg/barcache treats a
// repeated Start as a replace). Subscribe registers sink and returns;
// delivery continues in the background until ctx is cancelled, and
// transient disconnects are retried internally by the implementation.
type StreamSource interface {
	Subscribe(ctx context.Context, symbol string, sink func(bartime.Bar)) error
}

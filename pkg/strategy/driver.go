package strategy

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/logging"
)

// Driver fans a fixed set of (Context, Strategy) pairs out to one
// goroutine each and runs them until ctx is cancelled. A policy error is logged and that asset's
// loop continues; it never brings down the other assets' loops.
type Driver struct {
	freq    bartime.Frequency
	entries []driverEntry
	logger  zerolog.Logger
}

type driverEntry struct {
	ctx      Context
	strategy Strategy
}

// New constructs a Driver polling at freq; Add each asset/strategy pair
// before calling Run.
func New(freq bartime.Frequency) *Driver {
	return &Driver{freq: freq, logger: logging.GetLogger(logging.ComponentStrategyDriver)}
}

// Add registers one asset's Context and the Strategy that should run
// against its bar stream.
func (d *Driver) Add(ctx Context, s Strategy) {
	d.entries = append(d.entries, driverEntry{ctx: ctx, strategy: s})
}

// Run spawns one goroutine per registered asset and blocks until ctx is
// cancelled and every goroutine has returned. One asset's failure must
// never stop the fleet: each goroutine runs against ctx directly (never
// a context derived from a sibling's error), so a cache error or policy
// error in one asset's loop only ends that asset's loop and is logged,
// not propagated to cancel the others. Only cancelling ctx itself
// brings every asset down together.
func (d *Driver) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, e := range d.entries {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runForAsset(ctx, e)
		}()
	}
	wg.Wait()
	return nil
}

func (d *Driver) runForAsset(ctx context.Context, e driverEntry) {
	symbol := e.ctx.Profile().Symbol
	log := logging.GetSubLogger(d.logger, symbol)
	for {
		bar, err := e.ctx.Cache().WaitForNext(ctx, d.freq)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("bar cache error, asset loop stopping")
			}
			return
		}
		if err := e.strategy.Next(ctx, e.ctx, bar); err != nil {
			log.Error().Err(err).Msg("strategy policy error, continuing")
		}
	}
}

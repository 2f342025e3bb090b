package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/broker"
	"github.com/tradecore/engine/pkg/indicator"
	"github.com/tradecore/engine/pkg/logging"
	"github.com/tradecore/engine/pkg/trade"
)

// DualSupertrendConfig parameterizes the reference policy,
// grounded on quantrion/strategy/supertrend.py:SupertrendStrategy.
type DualSupertrendConfig struct {
	Freq           bartime.Frequency
	ShortN         int
	ShortK         float64
	LongN          int
	LongK          float64
	RiskMultiplier float64
	Trade          trade.Config
}

// DualSupertrendCrossover is a reference policy: it requires
// the short- and long-period Supertrend lines to agree on regime before
// opening a position, sized by risk = risk_multiplier * long ATR, via
// the trade state machine.
type DualSupertrendCrossover struct {
	cfg    DualSupertrendConfig
	logger zerolog.Logger
}

// NewDualSupertrendCrossover constructs the reference policy.
func NewDualSupertrendCrossover(cfg DualSupertrendConfig) *DualSupertrendCrossover {
	return &DualSupertrendCrossover{cfg: cfg, logger: logging.GetLogger(logging.ComponentStrategySuper)}
}

// Next implements Strategy. It mirrors
// quantrion/strategy/supertrend.py:SupertrendStrategy.next: skip bars
// outside the asset's trading window, require at least long_n+2 bars of
// warm-up, require the short and long Supertrend lines to agree on
// bullish/bearish, then size and submit via pkg/trade.
func (s *DualSupertrendCrossover) Next(ctx context.Context, sctx Context, lastBar bartime.Bar) error {
	profile := sctx.Profile()
	if !profile.IsTrading(lastBar.Start) {
		return nil
	}

	bars, err := sctx.Cache().Get(ctx, lastBar.Start, lastBar.Start, s.cfg.Freq, s.cfg.LongN+2)
	if err != nil {
		return err
	}
	if len(bars) < s.cfg.LongN+2 {
		return nil
	}

	shortSt, err := indicator.Supertrend(bars, s.cfg.ShortN, s.cfg.ShortK)
	if err != nil || len(shortSt) == 0 {
		return err
	}
	longSt, err := indicator.Supertrend(bars, s.cfg.LongN, s.cfg.LongK)
	if err != nil || len(longSt) == 0 {
		return err
	}

	shortBullish := shortSt[len(shortSt)-1].Bullish
	longBullish := longSt[len(longSt)-1].Bullish
	if shortBullish != longBullish {
		return nil
	}

	atr, err := indicator.ATR(bars, s.cfg.LongN)
	if err != nil || len(atr) == 0 {
		return err
	}
	risk := s.cfg.RiskMultiplier * atr[len(atr)-1]

	side := broker.SideSell
	if shortBullish {
		side = broker.SideBuy
	}

	s.logger.Info().
		Str("symbol", profile.Symbol).
		Str("side", string(side)).
		Float64("price", lastBar.Close).
		Float64("risk", risk).
		Msg("dual supertrend concurrence, opening position")

	t := trade.New(profile, sctx.Broker(), s.cfg.Trade)
	return t.Run(ctx, side, lastBar.Close, risk)
}

// Package strategy is the strategy driver: a contract, not
// a policy. It fans a set of assets out to one goroutine each, each
// goroutine blocking on its bar cache's next bar and handing control to
// a pluggable Strategy. The Context/Strategy
// shape is repointed at
// pkg/barcache/pkg/indicator/pkg/trade, grounded on
// quantrion/strategy/base.py:Strategy.run/run_for_asset for the
// fan-out/cancellation control flow.
package strategy

import (
	"context"

	"github.com/tradecore/engine/pkg/asset"
	"github.com/tradecore/engine/pkg/barcache"
	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/broker"
)

// Context is what a Strategy sees for one asset: its identity/trading
// profile, its bar cache (for Get/historical indicator windows), and
// the broker it should route trades through.
type Context interface {
	Profile() asset.Profile
	Cache() *barcache.Cache
	Broker() broker.Broker
}

// Strategy is the pluggable policy invoked once per new bar per asset.
// Implementations should return promptly; a slow Strategy delays that
// asset's next bar, not other assets'.
type Strategy interface {
	Next(ctx context.Context, sctx Context, lastBar bartime.Bar) error
}

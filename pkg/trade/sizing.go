// Package trade implements the Trade Execution State Machine (spec
// §4.6): risk-based position sizing, bracket price computation, and the
// SIZING→...→CLOSED state machine driving a pkg/broker.Broker. Grounded
// on quantrion/strategy/func.py (sizing/bracket formulas) and
// quantrion/trading/mixins.py:BasicTradeMixin.trade (control flow).
package trade

import "github.com/tradecore/engine/pkg/broker"

// RiskOrderSize computes the share count with a three-way cap:
// risk budget, notional cap, and cash on hand. The caller truncates the
// result to the asset's min size increment.
func RiskOrderSize(portfolioValue, buyingPower, portfolioPerc, maxPortfolioPerc, risk, price float64) float64 {
	size := portfolioPerc / 100 * portfolioValue / risk
	maxSize := maxPortfolioPerc / 100 * portfolioValue / price
	return min3(size, maxSize, buyingPower)
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// BracketPrices computes the (stop, take) exit prices for an entry at
// price with the given per-share risk and win/loss ratio, per
// §4.6: stop = price - risk, take = (price + r*risk) * price / (price -
// risk) for a BUY entry; SELL swaps the two. The caller truncates both
// to the asset's min price increment.
func BracketPrices(side broker.Side, price, risk, winToLossRatio float64) broker.BracketPrice {
	stop := price - risk
	take := (price + winToLossRatio*risk) * price / (price - risk)
	if side == broker.SideBuy {
		return broker.BracketPrice{Stop: stop, Take: take}
	}
	return broker.BracketPrice{Stop: take, Take: stop}
}

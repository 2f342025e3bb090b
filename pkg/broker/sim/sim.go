// Package sim is an in-memory simulated broker implementing
// pkg/broker.Broker against bar data fed in by a caller (a backtest
// driver or a test). Same commission/
// slippage/SEC-fee/FINRA-TAF fee model and market/limit/stop fill
// logic as a backtest broker, generalized from a single-leg order shape to also
// fill OCO brackets (the "broker's responsibility" bracket variant) and
// reshaped around pkg/broker.Broker's CreateOrder/WaitForExecution
// surface instead of a bar-by-bar ExecuteOrder call.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/broker"
	"github.com/tradecore/engine/pkg/logging"
)

// CommissionType selects how CommissionConfig.Calculate prices a fill.
type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionFixed      CommissionType = "fixed"
)

// CommissionConfig prices commission per fill, same shape as the
// teacher's CommissionConfig.
type CommissionConfig struct {
	Type CommissionType
	Rate float64
}

// Calculate returns the commission owed on a fill of the given notional
// value.
func (c CommissionConfig) Calculate(tradeValue float64) float64 {
	switch c.Type {
	case CommissionFixed:
		return c.Rate
	default:
		return tradeValue * c.Rate
	}
}

// Config bundles the simulated broker's fee and slippage model.
type Config struct {
	Commission  CommissionConfig
	Slippage    float64 // base slippage, percent
	MaxSlippage float64 // additional randomized slippage, percent
}

type pendingOrder struct {
	order  broker.Order
	filled func(price float64, size float64)
}

// Broker is the simulated venue. Safe for concurrent use; OnBar, the
// public API, and WaitForExecution's polling loop all serialize through
// mu.
type Broker struct {
	cfg     Config
	rng     *rand.Rand
	logger  zerolog.Logger
	account broker.Account

	mu      sync.Mutex
	orders  map[string]broker.Order
	lastBar map[string]bartime.Bar
	fees    map[string]Fees
	sig     chan struct{}
}

// Fees is the cost breakdown of one fill: commission per the configured
// CommissionConfig, SEC Section 31 fee (sells only), and FINRA TAF.
type Fees struct {
	Commission float64
	SECFee     float64
	FINRATAF   float64
}

// Fees returns the cost breakdown recorded for a filled order, or false
// if the order hasn't filled (yet).
func (b *Broker) Fees(orderID string) (Fees, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fees[orderID]
	return f, ok
}

// New constructs a simulated broker seeded with account buying power and
// portfolio value (the sizing inputs a trade needs).
func New(cfg Config, account broker.Account) *Broker {
	return &Broker{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(1)),
		logger:  logging.GetLogger(logging.ComponentBrokerSim),
		account: account,
		orders:  make(map[string]broker.Order),
		lastBar: make(map[string]bartime.Bar),
		fees:    make(map[string]Fees),
		sig:     make(chan struct{}),
	}
}

func (b *Broker) randomizedSlippagePct() float64 {
	return b.cfg.Slippage + b.rng.Float64()*b.cfg.MaxSlippage
}

// OnBar feeds one new bar for symbol into the simulator, attempting to
// fill every pending order against it (in map iteration order, not
// submission order), same
// can-fill/fill-price logic as a reference CanExecuteOrder/
// ExecuteOrder pair.
func (b *Broker) OnBar(symbol string, bar bartime.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastBar[symbol] = bar

	for id, ord := range b.orders {
		if ord.Symbol != symbol || ord.Status.Terminal() {
			continue
		}
		price, ok := b.tryFill(ord, bar)
		if !ok {
			continue
		}
		ord.Status = broker.StatusFilled
		ord.FilledSize = ord.Size
		ord.FilledPrice = &price
		b.orders[id] = ord
		b.computeFees(id, ord.Side, ord.Size, price)
	}
	b.broadcastLocked()
}

// tryFill reports the fill price for ord against bar, or false if the
// order does not trigger this bar.
func (b *Broker) tryFill(ord broker.Order, bar bartime.Bar) (float64, bool) {
	slip := b.randomizedSlippagePct() / 100

	switch ord.Type {
	case broker.TypeMarket:
		if ord.Side == broker.SideBuy {
			return bar.Close * (1 + slip), true
		}
		return bar.Close * (1 - slip), true

	case broker.TypeLimit:
		limit := derefOrZero(ord.Price)
		if ord.Side == broker.SideBuy {
			if bar.Low <= limit {
				return limit, true
			}
			return 0, false
		}
		if bar.High >= limit {
			return limit, true
		}
		return 0, false

	case broker.TypeStop:
		stop := derefOrZero(ord.Price)
		if ord.Side == broker.SideBuy {
			if bar.High >= stop {
				return stop * (1 + slip), true
			}
			return 0, false
		}
		if bar.Low <= stop {
			return stop * (1 - slip), true
		}
		return 0, false

	case broker.TypeOCO:
		if ord.Bracket == nil {
			return 0, false
		}
		// Whichever leg the bar touches first fills the whole bracket;
		// cancellation of the other leg is implicit (OCO
		// variant: "the broker's responsibility").
		stopHit, takeHit := bracketHits(ord, bar)
		switch {
		case stopHit && takeHit:
			// Both touched within the same bar - conservatively assume
			// the adverse (stop) side filled first.
			return ord.Bracket.Stop, true
		case stopHit:
			return ord.Bracket.Stop, true
		case takeHit:
			return ord.Bracket.Take, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

func bracketHits(ord broker.Order, bar bartime.Bar) (stopHit, takeHit bool) {
	if ord.Side == broker.SideSell {
		// Exiting a long: stop below, take above.
		stopHit = bar.Low <= ord.Bracket.Stop
		takeHit = bar.High >= ord.Bracket.Take
		return
	}
	// Exiting a short: stop above, take below.
	stopHit = bar.High >= ord.Bracket.Stop
	takeHit = bar.Low <= ord.Bracket.Take
	return
}

func derefOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// computeFees prices the commission/SEC/FINRA costs of a fill, same
// formulas as a reference ExecuteOrder, and records them for later
// lookup via Fees(orderID). Caller holds b.mu.
func (b *Broker) computeFees(orderID string, side broker.Side, size, price float64) {
	tradeValue := size * price
	f := Fees{Commission: b.cfg.Commission.Calculate(tradeValue)}
	if side == broker.SideSell {
		f.SECFee = tradeValue * 0.0000278
	}
	f.FINRATAF = math.Min(size*0.000145, 7.27)
	b.fees[orderID] = f
}

// CreateOrder implements broker.Broker. Market orders against a symbol
// with no bar fed yet are rejected; everything else is queued and
// resolved by future OnBar calls.
func (b *Broker) CreateOrder(ctx context.Context, symbol string, size float64, side broker.Side, typ broker.Type, tif broker.TimeInForce, price *float64, bracket *broker.BracketPrice) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ord := broker.Order{
		ID:        broker.NewOrderID(),
		Symbol:    symbol,
		Size:      size,
		Side:      side,
		Type:      typ,
		TIF:       tif,
		Price:     price,
		Bracket:   bracket,
		Status:    broker.StatusPending,
		CreatedAt: time.Now(),
	}

	if bar, ok := b.lastBar[symbol]; ok {
		if fillPrice, filled := b.tryFill(ord, bar); filled {
			ord.Status = broker.StatusFilled
			ord.FilledSize = size
			ord.FilledPrice = &fillPrice
			b.computeFees(ord.ID, side, size, fillPrice)
		}
	} else if typ == broker.TypeMarket {
		return broker.Order{}, fmt.Errorf("sim: no price available yet for %s", symbol)
	}

	b.orders[ord.ID] = ord
	b.broadcastLocked()
	return ord, nil
}

// CancelOrder is idempotent: cancelling an already-terminal order is a
// no-op.
func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ord, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", id)
	}
	if ord.Status.Terminal() {
		return nil
	}
	ord.Status = broker.StatusCancelled
	b.orders[id] = ord
	b.broadcastLocked()
	return nil
}

func (b *Broker) GetOrder(ctx context.Context, id string) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ord, ok := b.orders[id]
	if !ok {
		return broker.Order{}, fmt.Errorf("sim: unknown order %s", id)
	}
	return ord, nil
}

// WaitForExecution blocks until the order reaches a terminal status or
// timeout elapses.
func (b *Broker) WaitForExecution(ctx context.Context, id string, timeout time.Duration) (broker.Order, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		ord, ok := b.orders[id]
		wait := b.sig
		b.mu.Unlock()
		if !ok {
			return broker.Order{}, fmt.Errorf("sim: unknown order %s", id)
		}
		if ord.Status.Terminal() {
			return ord, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return ord, nil
		}

		var timer <-chan time.Time
		if timeout > 0 {
			timer = time.After(time.Until(deadline))
		}
		select {
		case <-wait:
		case <-timer:
		case <-ctx.Done():
			return ord, ctx.Err()
		}
	}
}

func (b *Broker) GetAccount(ctx context.Context) (broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account, nil
}

// broadcastLocked wakes every WaitForExecution poller. Caller holds mu.
func (b *Broker) broadcastLocked() {
	close(b.sig)
	b.sig = make(chan struct{})
}

var _ broker.Broker = (*Broker)(nil)

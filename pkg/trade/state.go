package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradecore/engine/pkg/asset"
	"github.com/tradecore/engine/pkg/broker"
	"github.com/tradecore/engine/pkg/logging"
)

// State is one node of the bracketed-trade state machine.
type State string

const (
	StateSizing         State = "SIZING"
	StateEntrySubmitted State = "ENTRY_SUBMITTED"
	StateEntryPending   State = "ENTRY_PENDING"
	StateEntryFilled    State = "ENTRY_FILLED"
	StateBracketActive  State = "BRACKET_ACTIVE"
	StateOneSideDone    State = "ONE_SIDE_DONE"
	StateClosed         State = "CLOSED"
	StateFailedToEnter  State = "FAILED_TO_ENTER"
	StateLeakedPosition State = "LEAKED_POSITION"
)

// ReasonInsufficientBuyingPower is the abort reason when sizing yields a
// non-positive share count.
const ReasonInsufficientBuyingPower = "INSUFFICIENT_BUYING_POWER"

// BracketMode selects which of the two bracket implementations a
// Trade uses once the entry fills.
type BracketMode string

const (
	// BracketOCO uses a single broker-side one-cancels-other order; the
	// broker is responsible for cancelling the losing leg.
	BracketOCO BracketMode = "oco"
	// BracketTwin submits two independent exit orders and the state
	// machine itself races them and cancels the loser.
	BracketTwin BracketMode = "twin"
)

// entryTimeout is the fixed 60-second entry fill timeout.
const entryTimeout = 60 * time.Second

// Config parameterizes a Trade's sizing and bracket behavior.
type Config struct {
	PortfolioPerc    float64 // risk-budget cap, percent of portfolio value
	MaxPortfolioPerc float64 // notional cap, percent of portfolio value
	WinToLossRatio   float64
	Bracket          BracketMode
}

// Trade drives one bracketed position from sizing through close for a
// single asset, against one Broker.
type Trade struct {
	cfg     Config
	profile asset.Profile
	br      broker.Broker
	logger  zerolog.Logger

	State      State
	Reason     string
	EntryOrder broker.Order
	ExitOrders []broker.Order
}

// New constructs a Trade for profile's asset, driven by br.
func New(profile asset.Profile, br broker.Broker, cfg Config) *Trade {
	return &Trade{
		cfg:     cfg,
		profile: profile,
		br:      br,
		logger:  logging.GetLogger(logging.ComponentTrade).With().Str("symbol", profile.Symbol).Logger(),
		State:   StateSizing,
	}
}

// Run drives the full state machine for one entry at price with
// per-share risk, long if side is SideBuy. It returns once the trade
// reaches a terminal state (CLOSED, FAILED_TO_ENTER, or
// LEAKED_POSITION); callers can always read t.State/t.Reason afterward.
// Policy/transport errors are returned for the caller to log; on such an
// error Run returns early and the trade is left in its last known state,
// which need not be terminal.
func (t *Trade) Run(ctx context.Context, side broker.Side, price, risk float64) error {
	t.State = StateSizing
	account, err := t.br.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("trade: fetching account: %w", err)
	}

	size := RiskOrderSize(account.PortfolioValue, account.BuyingPower, t.cfg.PortfolioPerc, t.cfg.MaxPortfolioPerc, risk, price)
	size = t.profile.TruncateSize(size)
	if size <= 0 {
		t.State = StateFailedToEnter
		t.Reason = ReasonInsufficientBuyingPower
		t.logger.Warn().Msg("sizing produced a non-positive share count, aborting entry")
		return nil
	}

	t.State = StateEntrySubmitted
	entry, err := t.br.CreateOrder(ctx, t.profile.Symbol, size, side, broker.TypeMarket, broker.TIFDay, nil, nil)
	if err != nil {
		t.State = StateFailedToEnter
		t.Reason = err.Error()
		return fmt.Errorf("trade: submitting entry order: %w", err)
	}
	t.EntryOrder = entry

	t.State = StateEntryPending
	executed, err := t.br.WaitForExecution(ctx, entry.ID, entryTimeout)
	if err != nil {
		t.State = StateFailedToEnter
		t.Reason = err.Error()
		return fmt.Errorf("trade: awaiting entry execution: %w", err)
	}
	t.EntryOrder = executed

	if terminalNoFill(executed) {
		t.State = StateFailedToEnter
		t.Reason = string(executed.Status)
		return nil
	}
	if executed.Status == broker.StatusPending {
		if err := t.br.CancelOrder(ctx, executed.ID); err != nil {
			t.logger.Error().Err(err).Msg("failed to cancel timed-out entry order")
		}
		t.State = StateFailedToEnter
		t.Reason = "ENTRY_TIMEOUT"
		return nil
	}
	if executed.Status == broker.StatusPartiallyFilled {
		if err := t.br.CancelOrder(ctx, executed.ID); err != nil {
			t.logger.Error().Err(err).Msg("failed to cancel remainder of partially-filled entry")
		}
	}

	t.State = StateEntryFilled
	filledPrice := *executed.FilledPrice
	bracket := BracketPrices(side, filledPrice, risk, t.cfg.WinToLossRatio)
	bracket.Stop = t.profile.TruncatePrice(bracket.Stop)
	bracket.Take = t.profile.TruncatePrice(bracket.Take)
	exitSide := side.Opposite()

	t.State = StateBracketActive
	var winner broker.Order
	switch t.cfg.Bracket {
	case BracketTwin:
		winner, err = t.runTwinBracket(ctx, exitSide, executed.FilledSize, bracket)
	default:
		winner, err = t.runOCOBracket(ctx, exitSide, executed.FilledSize, bracket)
	}
	if err != nil {
		return err
	}

	t.State = StateOneSideDone
	if winner.FilledSize < executed.FilledSize {
		t.State = StateLeakedPosition
		t.logger.Error().
			Float64("entry_size", executed.FilledSize).
			Float64("exit_size", winner.FilledSize).
			Msg("bracket exit filled less than the entry - residual position requires manual close")
		return nil
	}
	t.State = StateClosed
	return nil
}

func terminalNoFill(o broker.Order) bool {
	return (o.Status == broker.StatusCancelled || o.Status == broker.StatusRejected) && o.FilledSize == 0
}

// runOCOBracket submits a single OCO exit order and waits on it; the
// broker is responsible for cancelling the losing leg.
func (t *Trade) runOCOBracket(ctx context.Context, exitSide broker.Side, size float64, bracket broker.BracketPrice) (broker.Order, error) {
	ord, err := t.br.CreateOrder(ctx, t.profile.Symbol, size, exitSide, broker.TypeOCO, broker.TIFGTC, nil, &bracket)
	if err != nil {
		return broker.Order{}, fmt.Errorf("trade: submitting OCO bracket: %w", err)
	}
	t.ExitOrders = []broker.Order{ord}

	done, err := t.br.WaitForExecution(ctx, ord.ID, 0)
	if err != nil {
		return broker.Order{}, fmt.Errorf("trade: awaiting OCO bracket execution: %w", err)
	}
	t.ExitOrders[0] = done
	return done, nil
}

// runTwinBracket submits independent stop and take-profit orders, races
// them to first completion, and cancels the loser itself (the
// twin-order variant).
func (t *Trade) runTwinBracket(ctx context.Context, exitSide broker.Side, size float64, bracket broker.BracketPrice) (broker.Order, error) {
	stopPrice, takePrice := bracket.Stop, bracket.Take
	stopOrd, err := t.br.CreateOrder(ctx, t.profile.Symbol, size, exitSide, broker.TypeStop, broker.TIFGTC, &stopPrice, nil)
	if err != nil {
		return broker.Order{}, fmt.Errorf("trade: submitting stop-loss leg: %w", err)
	}
	takeOrd, err := t.br.CreateOrder(ctx, t.profile.Symbol, size, exitSide, broker.TypeLimit, broker.TIFGTC, &takePrice, nil)
	if err != nil {
		return broker.Order{}, fmt.Errorf("trade: submitting take-profit leg: %w", err)
	}
	t.ExitOrders = []broker.Order{stopOrd, takeOrd}

	winner, loserID, err := t.waitFirstTerminal(ctx, stopOrd.ID, takeOrd.ID)
	if err != nil {
		return broker.Order{}, fmt.Errorf("trade: awaiting twin bracket execution: %w", err)
	}
	if err := t.br.CancelOrder(ctx, loserID); err != nil {
		t.logger.Error().Err(err).Str("order_id", loserID).Msg("failed to cancel losing twin-bracket leg")
	}
	return winner, nil
}

// waitFirstTerminal races WaitForExecution on a and b, cancelling
// neither itself (the caller cancels the loser once known), and returns
// the winning order plus the other's id.
func (t *Trade) waitFirstTerminal(ctx context.Context, a, b string) (broker.Order, string, error) {
	type result struct {
		order broker.Order
		other string
		err   error
	}
	results := make(chan result, 2)
	go func() {
		ord, err := t.br.WaitForExecution(ctx, a, 0)
		results <- result{ord, b, err}
	}()
	go func() {
		ord, err := t.br.WaitForExecution(ctx, b, 0)
		results <- result{ord, a, err}
	}()
	first := <-results
	return first.order, first.other, first.err
}

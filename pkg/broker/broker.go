// Package broker defines the broker adapter boundary: order
// CRUD, execution waiting, and account state, kept independent of any
// one venue so pkg/trade can drive either a live or simulated broker.
// Types are grounded on quantrion/trading/schemas.py's Order/Account
// pydantic models, translated into plain Go structs with string-typed
// string-const-enum shape commonly used for Order/Side/Type fields.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side, used when building the exit leg of a
// bracket from the entry's side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type is the order type.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeStop   Type = "stop"
	TypeOCO    Type = "oco"
)

// TimeInForce controls order lifetime.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// Status is an order's lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// Terminal reports whether the status will never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// BracketPrice is an (stop, take) or (take, stop) price pair for an OCO
// order, already oriented per the entry side.
type BracketPrice struct {
	Stop, Take float64
}

// Order mirrors quantrion's Order schema: size/side/type/tif plus a
// single optional price (limit/stop) or bracket price pair (OCO).
type Order struct {
	ID          string
	Symbol      string
	Size        float64
	Side        Side
	Type        Type
	TIF         TimeInForce
	Price       *float64
	Bracket     *BracketPrice
	Status      Status
	FilledSize  float64
	FilledPrice *float64
	CreatedAt   time.Time
}

// NewOrderID generates a client-side order identifier for adapters whose
// venue doesn't hand one back synchronously (e.g. the sim broker).
func NewOrderID() string { return uuid.NewString() }

// Account is the trading account's current risk-sizing inputs.
type Account struct {
	BuyingPower    float64
	PortfolioValue float64
}

// Broker is the adapter boundary: create/cancel/get,
// a blocking wait for terminal status, and account introspection.
type Broker interface {
	CreateOrder(ctx context.Context, symbol string, size float64, side Side, typ Type, tif TimeInForce, price *float64, bracket *BracketPrice) (Order, error)
	CancelOrder(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (Order, error)
	WaitForExecution(ctx context.Context, id string, timeout time.Duration) (Order, error)
	GetAccount(ctx context.Context) (Account, error)
}

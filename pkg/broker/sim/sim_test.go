package sim

import (
	"context"
	"testing"
	"time"

	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/broker"
)

func newTestBroker() *Broker {
	return New(Config{
		Commission:  CommissionConfig{Type: CommissionPercentage, Rate: 0.001},
		Slippage:    0,
		MaxSlippage: 0,
	}, broker.Account{BuyingPower: 10000, PortfolioValue: 10000})
}

func TestMarketOrderFillsAgainstFedBar(t *testing.T) {
	b := newTestBroker()
	b.OnBar("AAPL", bartime.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})

	ord, err := b.CreateOrder(context.Background(), "AAPL", 10, broker.SideBuy, broker.TypeMarket, broker.TIFDay, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != broker.StatusFilled {
		t.Fatalf("expected immediate fill, got status %s", ord.Status)
	}
	if ord.FilledSize != 10 {
		t.Errorf("filled size = %v, want 10", ord.FilledSize)
	}
	if _, ok := b.Fees(ord.ID); !ok {
		t.Error("expected fees recorded for filled order")
	}
}

func TestMarketOrderWithoutPriceErrors(t *testing.T) {
	b := newTestBroker()
	_, err := b.CreateOrder(context.Background(), "MSFT", 1, broker.SideBuy, broker.TypeMarket, broker.TIFDay, nil, nil)
	if err == nil {
		t.Error("expected error creating market order with no price history")
	}
}

func TestLimitOrderWaitsForTriggeringBar(t *testing.T) {
	b := newTestBroker()
	b.OnBar("AAPL", bartime.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})

	limit := 95.0
	ord, err := b.CreateOrder(context.Background(), "AAPL", 5, broker.SideBuy, broker.TypeLimit, broker.TIFDay, &limit, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ord.Status != broker.StatusPending {
		t.Fatalf("expected limit order to stay pending, got %s", ord.Status)
	}

	b.OnBar("AAPL", bartime.Bar{Open: 98, High: 99, Low: 94, Close: 96, Volume: 1000})

	got, err := b.GetOrder(context.Background(), ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != broker.StatusFilled {
		t.Fatalf("expected limit order filled once low <= limit, got %s", got.Status)
	}
}

func TestOCOBracketFillsOnTakeProfitTouch(t *testing.T) {
	b := newTestBroker()
	b.OnBar("AAPL", bartime.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})

	bracket := &broker.BracketPrice{Stop: 95, Take: 110}
	ord, err := b.CreateOrder(context.Background(), "AAPL", 10, broker.SideSell, broker.TypeOCO, broker.TIFGTC, nil, bracket)
	if err != nil {
		t.Fatal(err)
	}

	b.OnBar("AAPL", bartime.Bar{Open: 108, High: 112, Low: 107, Close: 111, Volume: 1000})

	got, err := b.GetOrder(context.Background(), ord.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != broker.StatusFilled {
		t.Fatalf("expected OCO fill on take-profit touch, got %s", got.Status)
	}
	if got.FilledPrice == nil || *got.FilledPrice != 110 {
		t.Errorf("expected fill at take price 110, got %+v", got.FilledPrice)
	}
}

func TestCancelIsIdempotentOnTerminalOrder(t *testing.T) {
	b := newTestBroker()
	b.OnBar("AAPL", bartime.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})
	ord, err := b.CreateOrder(context.Background(), "AAPL", 1, broker.SideBuy, broker.TypeMarket, broker.TIFDay, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.CancelOrder(context.Background(), ord.ID); err != nil {
		t.Fatalf("cancelling a filled (terminal) order should be a no-op, got %v", err)
	}
}

func TestWaitForExecutionTimesOutOnPendingOrder(t *testing.T) {
	b := newTestBroker()
	b.OnBar("AAPL", bartime.Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000})
	limit := 1.0
	ord, err := b.CreateOrder(context.Background(), "AAPL", 1, broker.SideBuy, broker.TypeLimit, broker.TIFDay, &limit, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := b.WaitForExecution(context.Background(), ord.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != broker.StatusPending {
		t.Fatalf("expected order to remain pending after timeout, got %s", got.Status)
	}
}

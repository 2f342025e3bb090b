package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tradecore/engine/pkg/asset"
	"github.com/tradecore/engine/pkg/barcache"
	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/broker"
)

type fakeHistorical struct{ bars bartime.Series }

func (f *fakeHistorical) Fetch(_ context.Context, _ string, start, end time.Time) (bartime.Series, error) {
	return f.bars.Range(start, end).Clone(), nil
}

// fakeStream captures the cache's sink so a test can manually push a
// new bar through it, simulating a live tick.
type fakeStream struct {
	mu    sync.Mutex
	sink  func(bartime.Bar)
	ready chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{ready: make(chan struct{})}
}

func (f *fakeStream) Subscribe(_ context.Context, _ string, sink func(bartime.Bar)) error {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	close(f.ready)
	return nil
}

func (f *fakeStream) push(bar bartime.Bar) {
	<-f.ready
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(bar)
}

type fakeBroker struct{}

func (fakeBroker) CreateOrder(context.Context, string, float64, broker.Side, broker.Type, broker.TimeInForce, *float64, *broker.BracketPrice) (broker.Order, error) {
	return broker.Order{}, errors.New("fakeBroker: not wired for this test")
}
func (fakeBroker) CancelOrder(context.Context, string) error              { return nil }
func (fakeBroker) GetOrder(context.Context, string) (broker.Order, error) { return broker.Order{}, nil }
func (fakeBroker) WaitForExecution(context.Context, string, time.Duration) (broker.Order, error) {
	return broker.Order{}, nil
}
func (fakeBroker) GetAccount(context.Context) (broker.Account, error) { return broker.Account{}, nil }

var _ broker.Broker = fakeBroker{}

type testContext struct {
	profile asset.Profile
	cache   *barcache.Cache
	br      broker.Broker
}

func (c testContext) Profile() asset.Profile { return c.profile }
func (c testContext) Cache() *barcache.Cache { return c.cache }
func (c testContext) Broker() broker.Broker  { return c.br }

var _ Context = testContext{}

// recordingStrategy counts invocations and cancels the driver after a
// target count, so TestDriverDeliversBarsUntilCancelled can assert on a
// bounded run without racing a live clock.
type recordingStrategy struct {
	calls  chan bartime.Bar
	cancel context.CancelFunc
	max    int
	n      int
}

func (r *recordingStrategy) Next(ctx context.Context, sctx Context, bar bartime.Bar) error {
	r.n++
	r.calls <- bar
	if r.n >= r.max {
		r.cancel()
	}
	return nil
}

func minuteBars(start time.Time, n int, closeFrom float64) bartime.Series {
	out := make(bartime.Series, n)
	for i := 0; i < n; i++ {
		c := closeFrom + float64(i)
		out[i] = bartime.Bar{
			Start: start.Add(time.Duration(i) * time.Minute),
			Open:  c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10, Price: c,
		}
	}
	return out
}

func TestDriverDeliversBarsUntilCancelled(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 5, 100)}
	freq := bartime.MustParseFrequency("1min")
	stream := newFakeStream()
	cache := barcache.New("AAPL", freq, hist, stream, time.UTC)

	// Activate streaming before any historical fetch so Subscribe's
	// catch-up fetch is skipped (covered range is still nil) and pushed
	// bars follow the deterministic "extend" merge case in add().
	if err := cache.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	stream.push(bartime.Bar{Start: base, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Price: 100})

	ctx, cancel := context.WithCancel(context.Background())
	driver := New(freq)
	rs := &recordingStrategy{calls: make(chan bartime.Bar, 8), cancel: cancel, max: 1}
	driver.Add(testContext{profile: asset.Profile{Symbol: "AAPL"}, cache: cache, br: fakeBroker{}}, rs)

	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	// Give the driver goroutine time to enter WaitForNext's wait before
	// pushing the bar that completes its first bucket.
	time.Sleep(50 * time.Millisecond)
	stream.push(bartime.Bar{Start: base.Add(time.Minute), Open: 101, High: 102, Low: 100, Close: 101, Volume: 10, Price: 101})

	select {
	case <-rs.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("strategy was never invoked")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("driver.Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop after cancellation")
	}
}

func TestDualSupertrendCrossoverSkipsOutsideTradingWindow(t *testing.T) {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	hist := &fakeHistorical{bars: minuteBars(base, 100, 100)}
	freq := bartime.MustParseFrequency("1min")
	cache := barcache.New("AAPL", freq, hist, newFakeStream(), time.UTC)

	profile := asset.Profile{Symbol: "AAPL", Restriction: alwaysClosed{}}
	sctx := testContext{profile: profile, cache: cache, br: fakeBroker{}}

	policy := NewDualSupertrendCrossover(DualSupertrendConfig{
		Freq: freq, ShortN: 3, ShortK: 1, LongN: 5, LongK: 2, RiskMultiplier: 1,
	})

	lastBar := bartime.Bar{Start: base.Add(50 * time.Minute), Close: 150}
	if err := policy.Next(context.Background(), sctx, lastBar); err != nil {
		t.Fatalf("Next returned error for an asset outside its trading window: %v", err)
	}
}

type alwaysClosed struct{}

func (alwaysClosed) IsTrading(time.Time) bool                  { return false }
func (alwaysClosed) Filter(bars bartime.Series) bartime.Series { return bartime.Series{} }

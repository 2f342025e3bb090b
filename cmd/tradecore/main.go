// Command tradecore is an illustrative wiring binary, not part of the
// CORE itself: it assembles a bar cache, broker, and the dual
// Supertrend reference policy per symbol and runs the strategy driver
// until interrupted. Options come from command-line flags, and
// credentials from the environment, optionally loaded from a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tradecore/engine/pkg/asset"
	"github.com/tradecore/engine/pkg/barcache"
	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/broker"
	brokerrestws "github.com/tradecore/engine/pkg/broker/restws"
	brokersim "github.com/tradecore/engine/pkg/broker/sim"
	"github.com/tradecore/engine/pkg/feed/restws"
	"github.com/tradecore/engine/pkg/logging"
	"github.com/tradecore/engine/pkg/strategy"
	"github.com/tradecore/engine/pkg/trade"
)

func main() {
	var (
		symbolsFlag = flag.String("symbols", "AAPL,MSFT", "comma-separated symbols to trade")
		timeframe   = flag.String("timeframe", "1min", "bar timeframe (e.g. 1min, 5min, 1h)")
		restBase    = flag.String("rest-base", "https://data.alpaca.markets", "market data REST base URL")
		streamURL   = flag.String("stream-url", "wss://stream.data.alpaca.markets/v2/iex", "market data stream URL")
		portfolio   = flag.Float64("portfolio-value", 100000, "starting simulated portfolio value")
		buyingPower = flag.Float64("buying-power", 100000, "starting simulated buying power")
		sim         = flag.Bool("sim", true, "use the simulated broker instead of a live venue")
	)
	flag.Parse()

	_ = godotenv.Load()
	logging.Initialize(logging.DefaultConfig())
	logger := logging.GetLogger(logging.ComponentCmdTradecore)

	freq, err := bartime.ParseFrequency(*timeframe)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timeframe")
	}

	keyID := os.Getenv("APCA_API_KEY_ID")
	secret := os.Getenv("APCA_API_SECRET_KEY")
	creds := restws.Credentials{KeyID: keyID, Secret: secret}
	historicalStream := restws.New(*restBase, *streamURL, creds, *timeframe)

	var br broker.Broker
	var simBroker *brokersim.Broker
	if *sim {
		simBroker = brokersim.New(brokersim.Config{
			Commission: brokersim.CommissionConfig{Type: brokersim.CommissionPercentage, Rate: 0.0},
		}, broker.Account{BuyingPower: *buyingPower, PortfolioValue: *portfolio})
		br = simBroker
	} else {
		tradingBase := os.Getenv("APCA_TRADING_BASE_URL")
		tradingStream := os.Getenv("APCA_TRADING_STREAM_URL")
		br = brokerrestws.New(tradingBase, tradingStream, brokerrestws.Credentials{KeyID: keyID, Secret: secret})
	}

	registry := asset.DefaultRegistry()
	symbols := strings.Split(*symbolsFlag, ",")

	driver := strategy.New(freq)
	policy := strategy.NewDualSupertrendCrossover(strategy.DualSupertrendConfig{
		Freq:           freq,
		ShortN:         20,
		ShortK:         3.0,
		LongN:          40,
		LongK:          5.0,
		RiskMultiplier: 1.0,
		Trade: trade.Config{
			PortfolioPerc:    2,
			MaxPortfolioPerc: 20,
			WinToLossRatio:   1.5,
			Bracket:          trade.BracketOCO,
		},
	})

	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		us := asset.GetOrCreate(registry, symbol, asset.NewUSStock)
		cache := barcache.New(symbol, freq, historicalStream, historicalStream, us.Profile().Timezone)
		if err := cache.Subscribe(context.Background()); err != nil {
			logger.Error().Err(err).Str("symbol", symbol).Msg("failed to subscribe to market data stream")
			continue
		}
		if simBroker != nil {
			wireSimFeed(cache, simBroker, symbol)
		}
		driver.Add(wiringContext{profile: us.Profile(), cache: cache, br: br}, policy)
		logger.Info().Str("symbol", symbol).Msg("registered asset with strategy driver")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("tradecore: running strategy driver for %d asset(s) at %s\n", len(symbols), *timeframe)
	if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("strategy driver exited with error")
	}
}

// wiringContext adapts a fixed (profile, cache, broker) triple to
// strategy.Context; the illustrative driver has no per-asset state
// beyond these three collaborators.
type wiringContext struct {
	profile asset.Profile
	cache   *barcache.Cache
	br      broker.Broker
}

func (w wiringContext) Profile() asset.Profile { return w.profile }
func (w wiringContext) Cache() *barcache.Cache { return w.cache }
func (w wiringContext) Broker() broker.Broker  { return w.br }

// wireSimFeed feeds every bar the cache observes into the simulated
// broker, so simulated orders can fill against live-replayed bars. This
// is illustrative glue specific to the sim broker; a live broker needs
// no such wiring since the venue itself tracks price.
func wireSimFeed(cache *barcache.Cache, sb *brokersim.Broker, symbol string) {
	go func() {
		for {
			bar, err := cache.WaitForNext(context.Background(), bartime.Frequency{})
			if err != nil {
				return
			}
			sb.OnBar(symbol, bar)
		}
	}()
}

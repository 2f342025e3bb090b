// Package restws implements feed.HistoricalSource and feed.StreamSource
// against a REST bars endpoint + a bars websocket, grounded on
// quantrion/data/alpaca.py: AlpacaBarsProvider._retrieve's page_token
// pagination loop becomes Fetch's for loop below, and
// AlpacaWebSocket.start's "reconnect forever, resubscribe on every new
// connection" loop becomes streamer.run. Paging and auth headers follow
// poorman-SynapseStrike/SynapseStrike/trader/alpaca_trader.go's
// APCA-API-KEY-ID/APCA-API-SECRET-KEY header pattern; retry is
// hashicorp/go-retryablehttp (internal/httpx) rather than a hand-rolled
// backoff loop, reconnect delay is github.com/jpillora/backoff.
package restws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/tradecore/engine/internal/httpx"
	"github.com/tradecore/engine/pkg/bartime"
	"github.com/tradecore/engine/pkg/logging"
)

// Credentials are the vendor API key pair, sent as headers on both the
// REST and the websocket auth frame.
type Credentials struct {
	KeyID  string
	Secret string
}

// Source is a combined feed.HistoricalSource + feed.StreamSource backed
// by a REST bars endpoint and a shared per-process bars websocket.
type Source struct {
	RESTBaseURL string
	StreamURL   string
	Creds       Credentials
	Timeframe   string

	client *retryablehttp.Client
	logger zerolog.Logger

	streamOnce sync.Once
	stream     *streamer
}

// New builds a Source with a retryablehttp client configured per
// internal/httpx's transient-error taxonomy.
func New(restBaseURL, streamURL string, creds Credentials, timeframe string) *Source {
	return &Source{
		RESTBaseURL: restBaseURL,
		StreamURL:   streamURL,
		Creds:       creds,
		Timeframe:   timeframe,
		client:      httpx.NewClient(5),
		logger:      logging.GetLogger(logging.ComponentFeedRESTWS),
	}
}

type barPage struct {
	Bars          []restBar `json:"bars"`
	NextPageToken *string   `json:"next_page_token"`
}

type restBar struct {
	T  time.Time `json:"t"`
	O  float64   `json:"o"`
	H  float64   `json:"h"`
	L  float64   `json:"l"`
	C  float64   `json:"c"`
	V  float64   `json:"v"`
	VW float64   `json:"vw"`
	N  float64   `json:"n"`
}

func (b restBar) toBar() bartime.Bar {
	return bartime.Bar{
		Start:  b.T.UTC(),
		Open:   b.O,
		High:   b.H,
		Low:    b.L,
		Close:  b.C,
		Volume: b.V,
		Price:  b.VW,
		Extras: map[string]float64{"n_trades": b.N},
	}
}

// Fetch implements feed.HistoricalSource, paging through next_page_token
// until exhausted, mirroring AlpacaBarsProvider._retrieve.
func (s *Source) Fetch(ctx context.Context, symbol string, start, end time.Time) (bartime.Series, error) {
	if start.After(end) {
		return bartime.Series{}, nil
	}

	var out bartime.Series
	var pageToken string
	for {
		page, err := s.fetchPage(ctx, symbol, start, end, pageToken)
		if err != nil {
			return nil, err
		}
		for _, b := range page.Bars {
			out = append(out, b.toBar())
		}
		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}
	return out, nil
}

func (s *Source) fetchPage(ctx context.Context, symbol string, start, end time.Time, pageToken string) (*barPage, error) {
	endpoint, err := url.Parse(s.RESTBaseURL)
	if err != nil {
		return nil, fmt.Errorf("restws: invalid base url: %w", err)
	}
	endpoint.Path = fmt.Sprintf("/v2/stocks/%s/bars", symbol)
	q := endpoint.Query()
	q.Set("timeframe", s.Timeframe)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	endpoint.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("restws: building request: %w", err)
	}
	s.setAuthHeaders(req.Header)

	resp, err := httpx.Do(s.client, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page barPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("restws: decoding bar page: %w", err)
	}
	return &page, nil
}

func (s *Source) setAuthHeaders(h http.Header) {
	h.Set("APCA-API-KEY-ID", s.Creds.KeyID)
	h.Set("APCA-API-SECRET-KEY", s.Creds.Secret)
}

// Subscribe implements feed.StreamSource. All symbols subscribed across
// the process share one websocket connection (quantrion's AlpacaWebSocket
// singleton); Subscribe lazily starts the connection loop on first use.
func (s *Source) Subscribe(ctx context.Context, symbol string, sink func(bartime.Bar)) error {
	s.streamOnce.Do(func() {
		s.stream = newStreamer(s.StreamURL, s.Creds, s.logger)
		go s.stream.run(ctx)
	})
	return s.stream.subscribe(ctx, symbol, sink)
}

// streamer owns a single websocket connection shared by every subscribed
// symbol, reconnecting with exponential backoff on disconnect and
// resubscribing every symbol once the new connection is authenticated.
// Grounded on quantrion/data/alpaca.py:AlpacaWebSocket.
type streamer struct {
	url    string
	creds  Credentials
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string][]func(bartime.Bar)
	conn *websocket.Conn
}

func newStreamer(url string, creds Credentials, logger zerolog.Logger) *streamer {
	return &streamer{
		url:    url,
		creds:  creds,
		logger: logger,
		subs:   make(map[string][]func(bartime.Bar)),
	}
}

func (s *streamer) subscribe(ctx context.Context, symbol string, sink func(bartime.Bar)) error {
	s.mu.Lock()
	_, already := s.subs[symbol]
	s.subs[symbol] = append(s.subs[symbol], sink)
	conn := s.conn
	s.mu.Unlock()

	if !already && conn != nil {
		return s.sendSubscribe(conn, []string{symbol})
	}
	return nil
}

func (s *streamer) sendSubscribe(conn *websocket.Conn, symbols []string) error {
	msg := map[string]interface{}{"action": "subscribe", "bars": symbols}
	return conn.WriteJSON(msg)
}

type wireMessage struct {
	S  string    `json:"S"`
	T  time.Time `json:"t"`
	O  float64   `json:"o"`
	H  float64   `json:"h"`
	L  float64   `json:"l"`
	C  float64   `json:"c"`
	V  float64   `json:"v"`
	VW float64   `json:"vw"`
}

// run loops forever until ctx is cancelled, reconnecting on every
// disconnect with jpillora/backoff exponential delay, matching the
// Python source's `async for sock in websockets.connect(...)`.
func (s *streamer) run(ctx context.Context) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.connectAndServe(ctx); err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", b.Duration()).Msg("bar stream disconnected, reconnecting")
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return
			}
			continue
		}
		b.Reset()
	}
}

func (s *streamer) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("restws: dial: %w", err)
	}
	defer conn.Close()

	auth := map[string]interface{}{"action": "auth", "key": s.creds.KeyID, "secret": s.creds.Secret}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("restws: auth: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	symbols := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()
	if len(symbols) > 0 {
		if err := s.sendSubscribe(conn, symbols); err != nil {
			return fmt.Errorf("restws: resubscribe: %w", err)
		}
	}

	for {
		var messages []wireMessage
		if err := conn.ReadJSON(&messages); err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return fmt.Errorf("restws: read: %w", err)
		}
		for _, m := range messages {
			if m.S == "" {
				continue
			}
			bar := bartime.Bar{Start: m.T.UTC(), Open: m.O, High: m.H, Low: m.L, Close: m.C, Volume: m.V, Price: m.VW}
			s.dispatch(m.S, bar)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *streamer) dispatch(symbol string, bar bartime.Bar) {
	s.mu.Lock()
	sinks := append([]func(bartime.Bar){}, s.subs[symbol]...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink(bar)
	}
}

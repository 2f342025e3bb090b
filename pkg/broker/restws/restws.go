// Package restws implements pkg/broker.Broker against a REST order
// endpoint plus an order-update websocket, grounded on
// quantrion/trading/alpaca.py:AlpacaTradingProvider. The OCO
// nested-sibling-leg lookup (_get_stop_order_from_oco) and the
// "wait_for_execution races itself against its OCO sibling" pattern are
// carried over; retry moves from the Python source's retry_request to
// hashicorp/go-retryablehttp (internal/httpx), the order-update stream to
// github.com/gorilla/websocket, and stream-reconnect backoff to
// github.com/jpillora/backoff. Order-status polling uses a fixed interval.
package restws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/tradecore/engine/internal/httpx"
	"github.com/tradecore/engine/pkg/broker"
	"github.com/tradecore/engine/pkg/logging"
)

// Credentials are the vendor API key pair.
type Credentials struct {
	KeyID  string
	Secret string
}

const defaultPollInterval = 250 * time.Millisecond

// Source is a combined REST order adapter and order-update stream
// consumer implementing pkg/broker.Broker.
type Source struct {
	BaseURL string
	Creds   Credentials

	client *retryablehttp.Client
	logger zerolog.Logger

	mu       sync.Mutex
	orders   map[string]broker.Order
	ocoLegOf map[string]string // OCO order id -> sibling (stop) leg order id

	streamOnce sync.Once
	stream     *orderStream
}

// New builds a Source. streamURL is the trading-update websocket
// endpoint (e.g. Alpaca's "wss://paper-api.alpaca.markets/stream").
func New(baseURL, streamURL string, creds Credentials) *Source {
	s := &Source{
		BaseURL:  baseURL,
		Creds:    creds,
		client:   httpx.NewClient(5),
		logger:   logging.GetLogger(logging.ComponentBrokerRESTWS),
		orders:   make(map[string]broker.Order),
		ocoLegOf: make(map[string]string),
	}
	s.stream = newOrderStream(streamURL, creds, s.logger, s.onUpdate)
	return s
}

func (s *Source) ensureStreamStarted(ctx context.Context) {
	s.streamOnce.Do(func() { go s.stream.run(ctx) })
}

// onUpdate is the order-update stream's callback: it refreshes the
// local order table so GetOrder/WaitForExecution never need a network
// round trip for an order already tracked here.
func (s *Source) onUpdate(ord broker.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[ord.ID] = ord
}

type orderDTO struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Qty         string     `json:"qty"`
	Side        string     `json:"side"`
	Status      string     `json:"status"`
	FilledQty   string     `json:"filled_qty"`
	FilledAvgPx *string    `json:"filled_avg_price"`
	TimeInForce string     `json:"time_in_force"`
	Legs        []orderDTO `json:"legs"`
}

var statusMap = map[string]broker.Status{
	"new":                  broker.StatusPending,
	"accepted":             broker.StatusPending,
	"pending_new":          broker.StatusPending,
	"accepted_for_bidding": broker.StatusPending,
	"stopped":              broker.StatusPending,
	"partially_filled":     broker.StatusPartiallyFilled,
	"filled":               broker.StatusFilled,
	"done_for_day":         broker.StatusCancelled,
	"canceled":             broker.StatusCancelled,
	"expired":              broker.StatusCancelled,
	"replaced":             broker.StatusCancelled,
	"pending_cancel":       broker.StatusCancelled,
	"pending_replace":      broker.StatusCancelled,
	"calculated":           broker.StatusCancelled,
	"rejected":             broker.StatusRejected,
	"suspended":            broker.StatusRejected,
}

func (dto orderDTO) toOrder(typ broker.Type, side broker.Side, price *float64, bracket *broker.BracketPrice) broker.Order {
	size, _ := strconv.ParseFloat(dto.Qty, 64)
	filledSize, _ := strconv.ParseFloat(dto.FilledQty, 64)
	var filledPrice *float64
	if dto.FilledAvgPx != nil {
		if v, err := strconv.ParseFloat(*dto.FilledAvgPx, 64); err == nil {
			filledPrice = &v
		}
	}
	status, ok := statusMap[dto.Status]
	if !ok {
		status = broker.StatusPending
	}
	return broker.Order{
		ID:          dto.ID,
		Symbol:      dto.Symbol,
		Size:        size,
		Side:        side,
		Type:        typ,
		Price:       price,
		Bracket:     bracket,
		Status:      status,
		FilledSize:  filledSize,
		FilledPrice: filledPrice,
	}
}

func (s *Source) setAuthHeaders(h http.Header) {
	h.Set("APCA-API-KEY-ID", s.Creds.KeyID)
	h.Set("APCA-API-SECRET-KEY", s.Creds.Secret)
}

func (s *Source) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	endpoint, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("restws: invalid base url: %w", err)
	}
	endpoint.Path = path

	var rawBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("restws: encoding request body: %w", err)
		}
		rawBody = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint.String(), rawBody)
	if err != nil {
		return fmt.Errorf("restws: building request: %w", err)
	}
	s.setAuthHeaders(req.Header)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpx.Do(s.client, req)
	if err != nil {
		if reject, ok := err.(*httpx.UpstreamRejectError); ok && reject.StatusCode == http.StatusUnprocessableEntity {
			return errUnprocessable
		}
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateOrder implements broker.Broker. For OCO orders it then looks up
// the broker-generated sibling (stop) leg, mirroring
// AlpacaTradingProvider.create_order's _get_stop_order_from_oco call.
func (s *Source) CreateOrder(ctx context.Context, symbol string, size float64, side broker.Side, typ broker.Type, tif broker.TimeInForce, price *float64, bracket *broker.BracketPrice) (broker.Order, error) {
	s.ensureStreamStarted(ctx)

	body := map[string]interface{}{
		"symbol":        symbol,
		"qty":           strconv.FormatFloat(size, 'f', -1, 64),
		"side":          string(side),
		"time_in_force": string(tif),
	}
	switch typ {
	case broker.TypeLimit:
		body["type"] = "limit"
		body["limit_price"] = strconv.FormatFloat(derefOrZero(price), 'f', -1, 64)
	case broker.TypeStop:
		body["type"] = "stop"
		body["stop_price"] = strconv.FormatFloat(derefOrZero(price), 'f', -1, 64)
	case broker.TypeOCO:
		if bracket == nil {
			return broker.Order{}, fmt.Errorf("restws: OCO order requires a bracket price")
		}
		body["type"] = "limit"
		body["order_class"] = "oco"
		body["take_profit"] = map[string]string{"limit_price": strconv.FormatFloat(bracket.Take, 'f', -1, 64)}
		body["stop_loss"] = map[string]string{"stop_price": strconv.FormatFloat(bracket.Stop, 'f', -1, 64)}
	default:
		body["type"] = "market"
	}

	var dto orderDTO
	if err := s.doJSON(ctx, http.MethodPost, "/v2/orders", body, &dto); err != nil {
		return broker.Order{}, fmt.Errorf("restws: creating order: %w", err)
	}
	ord := dto.toOrder(typ, side, price, bracket)

	s.mu.Lock()
	s.orders[ord.ID] = ord
	s.mu.Unlock()
	s.stream.subscribe(ord.ID)

	if typ == broker.TypeOCO {
		legID, err := s.stopLegFromOCO(ctx, dto)
		if err != nil {
			return ord, fmt.Errorf("restws: resolving OCO sibling leg: %w", err)
		}
		s.mu.Lock()
		s.ocoLegOf[ord.ID] = legID
		s.mu.Unlock()
		s.stream.subscribe(legID)
	}
	return ord, nil
}

// stopLegFromOCO finds the sibling leg of a just-created OCO order by
// re-fetching it nested, matching
// AlpacaTradingProvider._get_stop_order_from_oco.
func (s *Source) stopLegFromOCO(ctx context.Context, created orderDTO) (string, error) {
	endpoint, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", err
	}
	endpoint.Path = "/v2/orders"
	q := url.Values{}
	q.Set("nested", "true")
	q.Set("symbols", created.Symbol)
	endpoint.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", err
	}
	s.setAuthHeaders(req.Header)
	resp, err := httpx.Do(s.client, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var dtos []orderDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return "", err
	}
	for _, o := range dtos {
		if o.ID != created.ID {
			continue
		}
		for _, leg := range o.Legs {
			if leg.ID != created.ID {
				return leg.ID, nil
			}
		}
	}
	return "", fmt.Errorf("restws: no sibling leg found for OCO order %s", created.ID)
}

var errUnprocessable = fmt.Errorf("restws: order already terminal")

// CancelOrder is idempotent: a 422 (already-terminal) is treated as
// success, matching the Python source's cancel_order.
func (s *Source) CancelOrder(ctx context.Context, id string) error {
	path := "/v2/orders/" + id
	if err := s.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		if err == errUnprocessable {
			return nil
		}
		return fmt.Errorf("restws: cancelling order %s: %w", id, err)
	}
	return nil
}

func (s *Source) GetOrder(ctx context.Context, id string) (broker.Order, error) {
	s.mu.Lock()
	ord, ok := s.orders[id]
	s.mu.Unlock()
	if ok {
		return ord, nil
	}

	var dto orderDTO
	if err := s.doJSON(ctx, http.MethodGet, "/v2/orders/"+id, nil, &dto); err != nil {
		return broker.Order{}, fmt.Errorf("restws: fetching order %s: %w", id, err)
	}
	out := dto.toOrder(broker.Type(""), broker.Side(dto.Side), nil, nil)
	s.mu.Lock()
	s.orders[id] = out
	s.mu.Unlock()
	return out, nil
}

// WaitForExecution blocks until status is terminal or timeout elapses.
// For an OCO order it races itself against its sibling leg and returns
// whichever reaches a terminal status first, matching
// wait_for_execution's check_nested branch; it stops polling the other
// leg but does not cancel it (the broker cancels the losing OCO leg).
func (s *Source) WaitForExecution(ctx context.Context, id string, timeout time.Duration) (broker.Order, error) {
	s.mu.Lock()
	legID, isOCO := s.ocoLegOf[id]
	s.mu.Unlock()

	if isOCO {
		return s.waitFirstTerminal(ctx, id, legID, timeout)
	}
	return s.pollUntilTerminal(ctx, id, timeout)
}

func (s *Source) waitFirstTerminal(ctx context.Context, a, b string, timeout time.Duration) (broker.Order, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		order broker.Order
		err   error
	}
	results := make(chan result, 2)
	go func() {
		ord, err := s.pollUntilTerminal(raceCtx, a, timeout)
		results <- result{ord, err}
	}()
	go func() {
		ord, err := s.pollUntilTerminal(raceCtx, b, timeout)
		results <- result{ord, err}
	}()

	first := <-results
	cancel()
	return first.order, first.err
}

func (s *Source) pollUntilTerminal(ctx context.Context, id string, timeout time.Duration) (broker.Order, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ord, err := s.GetOrder(ctx, id)
		if err != nil {
			return broker.Order{}, err
		}
		if ord.Status.Terminal() {
			return ord, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return ord, nil
		}
		select {
		case <-time.After(defaultPollInterval):
		case <-ctx.Done():
			return ord, ctx.Err()
		}
	}
}

func (s *Source) GetAccount(ctx context.Context) (broker.Account, error) {
	var dto struct {
		BuyingPower    string `json:"buying_power"`
		PortfolioValue string `json:"portfolio_value"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/v2/account", nil, &dto); err != nil {
		return broker.Account{}, fmt.Errorf("restws: fetching account: %w", err)
	}
	bp, _ := strconv.ParseFloat(dto.BuyingPower, 64)
	pv, _ := strconv.ParseFloat(dto.PortfolioValue, 64)
	return broker.Account{BuyingPower: bp, PortfolioValue: pv}, nil
}

func derefOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

var _ broker.Broker = (*Source)(nil)

// orderStream is the singleton order-update websocket connection,
// grounded on AlpacaTradingWebSocket: authenticate, listen for
// trade_updates, dispatch updates for tracked order ids, and on
// disconnect reconnect with exponential backoff, re-authenticate and
// listen again; the set of tracked order ids is kept across reconnects.
type orderStream struct {
	url      string
	creds    Credentials
	logger   zerolog.Logger
	onUpdate func(broker.Order)

	mu   sync.Mutex
	subs map[string]struct{}
}

func newOrderStream(url string, creds Credentials, logger zerolog.Logger, onUpdate func(broker.Order)) *orderStream {
	return &orderStream{url: url, creds: creds, logger: logger, onUpdate: onUpdate, subs: make(map[string]struct{})}
}

func (o *orderStream) subscribe(orderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs[orderID] = struct{}{}
}

func (o *orderStream) run(ctx context.Context) {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := o.connectAndServe(ctx); err != nil {
			o.logger.Warn().Err(err).Dur("retry_in", b.Duration()).Msg("order update stream disconnected, reconnecting")
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

type tradeUpdateMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Order orderDTO `json:"order"`
	} `json:"data"`
}

func (o *orderStream) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, o.url, nil)
	if err != nil {
		return fmt.Errorf("restws: dial order stream: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{
		"action": "authenticate",
		"data":   map[string]string{"key_id": o.creds.KeyID, "secret_key": o.creds.Secret},
	}); err != nil {
		return fmt.Errorf("restws: authenticate order stream: %w", err)
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}); err != nil {
		return fmt.Errorf("restws: listen order stream: %w", err)
	}

	for {
		var msg tradeUpdateMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("restws: read order stream: %w", err)
		}
		if msg.Stream != "trade_updates" {
			continue
		}
		o.mu.Lock()
		_, tracked := o.subs[msg.Data.Order.ID]
		o.mu.Unlock()
		if !tracked {
			continue
		}
		o.onUpdate(msg.Data.Order.toOrder(broker.Type(""), broker.Side(msg.Data.Order.Side), nil, nil))
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Package binance implements market data, order placement and position
// queries against Binance USDⓈ-M futures, plus the mark-price websocket.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-botv1/internal/execution"
	"trading-botv1/internal/marketdata"
	"trading-botv1/internal/model"
)

const (
	MainnetBaseURL   = "https://fapi.binance.com"
	TestnetBaseURL   = "https://testnet.binancefuture.com"
	MainnetStreamURL = "wss://fstream.binance.com/ws"
	TestnetStreamURL = "wss://stream.binancefuture.com/ws"

	recvWindow = "5000"
)

var (
	_ marketdata.Source        = (*Client)(nil)
	_ execution.BracketGateway = (*Client)(nil)
	_ execution.PositionReader = (*Client)(nil)
)

// BaseURL returns the REST endpoint for the chosen environment.
func BaseURL(testnet bool) string {
	if testnet {
		return TestnetBaseURL
	}
	return MainnetBaseURL
}

// StreamURL returns the websocket endpoint for the chosen environment.
func StreamURL(testnet bool) string {
	if testnet {
		return TestnetStreamURL
	}
	return MainnetStreamURL
}

// APIError is the error body Binance returns with non-2xx responses.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Client implements the minimal REST bindings the bot needs.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client

	// Decimal places sent for prices and quantities. Negative rounds to the
	// symbol filters from LoadFilters, or sends the shortest representation
	// when none are loaded.
	PricePrecision int
	QtyPrecision   int

	filters SymbolFilters

	now func() time.Time
}

// New returns a ready-to-use client. An empty baseURL selects mainnet.
func New(apiKey, apiSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = MainnetBaseURL
	}
	return &Client{
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		PricePrecision: -1,
		QtyPrecision:   -1,
		now:            time.Now,
	}
}

// FetchCandles retrieves recent klines, oldest first.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.public(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, fmt.Errorf("get klines: %w", err)
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 6 {
			return nil, fmt.Errorf("kline %d: expected at least 6 fields, got %d", i, len(entry))
		}
		openMs, ok := entry[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline %d: bad open time %v", i, entry[0])
		}
		var vals [5]float64
		for j := range vals {
			v, err := parseAnyFloat(entry[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		candles = append(candles, model.Candle{
			OpenTime: time.UnixMilli(int64(openMs)).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}

// FetchMarkPrice returns the current mark price.
func (c *Client) FetchMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.public(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return 0, fmt.Errorf("get mark price: %w", err)
	}

	var resp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode mark price: %w", err)
	}
	price, err := strconv.ParseFloat(resp.MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse mark price %q: %w", resp.MarkPrice, err)
	}
	return price, nil
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	UpdateTime    int64  `json:"updateTime"`
}

// SubmitMarketOrder places a market order.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64, reduceOnly bool) (model.OrderAck, error) {
	params := c.orderParams(symbol, side, model.OrderTypeMarket, qty, reduceOnly)
	params.Set("newOrderRespType", "RESULT")
	op := "entry"
	if reduceOnly {
		op = "exit"
	}
	return c.placeOrder(ctx, op, side, params)
}

// SubmitStopOrder places a STOP_MARKET order triggered by the mark price.
func (c *Client) SubmitStopOrder(ctx context.Context, symbol string, side model.Side, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error) {
	params := c.orderParams(symbol, side, model.OrderTypeStopMarket, qty, reduceOnly)
	params.Set("stopPrice", c.formatPrice(stopPrice))
	params.Set("workingType", "MARK_PRICE")
	return c.placeOrder(ctx, "stop", side, params)
}

// SubmitTakeProfitOrder places a TAKE_PROFIT_MARKET order triggered by the mark price.
func (c *Client) SubmitTakeProfitOrder(ctx context.Context, symbol string, side model.Side, qty, stopPrice float64, reduceOnly bool) (model.OrderAck, error) {
	params := c.orderParams(symbol, side, model.OrderTypeTakeProfitMarket, qty, reduceOnly)
	params.Set("stopPrice", c.formatPrice(stopPrice))
	params.Set("workingType", "MARK_PRICE")
	return c.placeOrder(ctx, "take_profit", side, params)
}

func (c *Client) orderParams(symbol string, side model.Side, typ model.OrderType, qty float64, reduceOnly bool) url.Values {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(typ))
	params.Set("quantity", c.formatQty(qty))
	params.Set("newClientOrderId", uuid.NewString())
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	return params
}

func (c *Client) placeOrder(ctx context.Context, op string, side model.Side, params url.Values) (model.OrderAck, error) {
	symbol := params.Get("symbol")
	if !side.Valid() {
		return model.OrderAck{}, execution.NewOrderError(op, symbol, side, fmt.Errorf("invalid side %q", side))
	}

	body, err := c.signed(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return model.OrderAck{}, execution.NewOrderError(op, symbol, side, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.OrderAck{}, execution.NewOrderError(op, symbol, side, fmt.Errorf("decode order: %w", err))
	}

	ack := model.OrderAck{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:  resp.Symbol,
		Side:    model.Side(resp.Side),
		Type:    model.OrderType(resp.Type),
		Status:  resp.Status,
		At:      c.now(),
	}
	if resp.UpdateTime > 0 {
		ack.At = time.UnixMilli(resp.UpdateTime)
	}
	ack.Qty, _ = strconv.ParseFloat(resp.ExecutedQty, 64)
	if ack.Qty == 0 {
		ack.Qty, _ = strconv.ParseFloat(resp.OrigQty, 64)
	}
	ack.AvgPrice, _ = strconv.ParseFloat(resp.AvgPrice, 64)
	return ack, nil
}

// SymbolFilters are the price and quantity increments a symbol's orders must
// align to. Zero means unknown.
type SymbolFilters struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
}

// LoadFilters reads PRICE_FILTER and LOT_SIZE for symbol from exchangeInfo and
// uses them for every later order. Call before orders are placed.
func (c *Client) LoadFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	body, err := c.public(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return SymbolFilters{}, fmt.Errorf("get exchange info: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolFilters{}, fmt.Errorf("decode exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var f SymbolFilters
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				f.TickSize, err = decimal.NewFromString(flt.TickSize)
			case "LOT_SIZE":
				f.StepSize, err = decimal.NewFromString(flt.StepSize)
			}
			if err != nil {
				return SymbolFilters{}, fmt.Errorf("parse %s filter: %w", flt.FilterType, err)
			}
		}
		c.filters = f
		return f, nil
	}
	return SymbolFilters{}, fmt.Errorf("symbol %s not in exchange info", symbol)
}

func (c *Client) formatPrice(v float64) string {
	if c.PricePrecision < 0 && c.filters.TickSize.IsPositive() {
		return roundToStep(v, c.filters.TickSize)
	}
	return formatFloat(v, c.PricePrecision)
}

func (c *Client) formatQty(v float64) string {
	if c.QtyPrecision < 0 && c.filters.StepSize.IsPositive() {
		return roundToStep(v, c.filters.StepSize)
	}
	return formatFloat(v, c.QtyPrecision)
}

// CancelOpenOrders cancels every resting order for symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	if _, err := c.signed(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params); err != nil {
		return execution.NewOrderError("cancel", symbol, "", err)
	}
	return nil
}

// PositionAmount returns the signed one-way position size for symbol.
func (c *Client) PositionAmount(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return 0, fmt.Errorf("get position risk: %w", err)
	}

	var rows []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode position risk: %w", err)
	}

	total := 0.0
	for _, r := range rows {
		if r.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil {
			return 0, fmt.Errorf("parse position amount %q: %w", r.PositionAmt, err)
		}
		total += amt
	}
	return total, nil
}

func (c *Client) public(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("missing API credentials for %s", path)
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	endpoint := fmt.Sprintf("%s%s?%s&signature=%s", c.baseURL, path, query, sign(c.apiSecret, query))

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return data, nil
}

func parseAnyFloat(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// formatFloat renders v for an order parameter. A negative precision keeps
// the shortest exact representation.
func formatFloat(v float64, precision int) string {
	d := decimal.NewFromFloat(v)
	if precision < 0 {
		return d.String()
	}
	return d.Round(int32(precision)).StringFixed(int32(precision))
}

// roundToStep rounds v to the nearest multiple of step.
func roundToStep(v float64, step decimal.Decimal) string {
	return decimal.NewFromFloat(v).Div(step).Round(0).Mul(step).String()
}

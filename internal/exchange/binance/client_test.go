package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-botv1/internal/execution"
	"trading-botv1/internal/model"
)

const (
	testKey    = "key-123"
	testSecret = "secret-456"
)

// verifySigned checks the API key header and HMAC signature of a signed request.
func verifySigned(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("X-MBX-APIKEY"); got != testKey {
		t.Errorf("api key header = %q", got)
	}
	raw := r.URL.RawQuery
	idx := strings.LastIndex(raw, "&signature=")
	if idx < 0 {
		t.Errorf("missing signature in %q", raw)
		return
	}
	payload, sig := raw[:idx], raw[idx+len("&signature="):]
	if want := sign(testSecret, payload); sig != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}
	q := r.URL.Query()
	if q.Get("timestamp") == "" || q.Get("recvWindow") == "" {
		t.Errorf("missing timestamp/recvWindow: %v", q)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(testKey, testSecret, srv.URL)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSign_KnownVector(t *testing.T) {
	// Example from the Binance API documentation.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := sign(secret, payload); got != want {
		t.Errorf("sign = %s, want %s", got, want)
	}
}

func TestFetchCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "2" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`[
			[1700000000000,"100.0","101.5","99.5","101.0","12.5",1700000059999,"0",10,"0","0","0"],
			[1700000060000,"101.0","102.0","100.5","100.8","8.0",1700000119999,"0",8,"0","0","0"]
		]`))
	})

	candles, err := c.FetchCandles(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	first := candles[0]
	if !first.OpenTime.Equal(time.UnixMilli(1700000000000)) || first.Open != 100 || first.High != 101.5 ||
		first.Low != 99.5 || first.Close != 101 || first.Volume != 12.5 {
		t.Errorf("unexpected candle: %+v", first)
	}
}

func TestFetchCandles_MalformedRow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"abc","1","1","1","1"]]`))
	})
	if _, err := c.FetchCandles(context.Background(), "BTCUSDT", "1m", 1); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFetchMarkPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/premiumIndex" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"64250.10000000","indexPrice":"64251.0"}`))
	})

	price, err := c.FetchMarkPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchMarkPrice: %v", err)
	}
	if price != 64250.1 {
		t.Errorf("price = %v", price)
	}
}

func TestSubmitMarketOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/fapi/v1/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		verifySigned(t, r)
		q := r.URL.Query()
		if q.Get("side") != "SELL" || q.Get("type") != "MARKET" || q.Get("quantity") != "0.01" || q.Get("reduceOnly") != "true" {
			t.Errorf("unexpected order params: %v", q)
		}
		if len(q.Get("newClientOrderId")) != 36 {
			t.Errorf("expected uuid client order id, got %q", q.Get("newClientOrderId"))
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"avgPrice":"64000.5","executedQty":"0.010","status":"FILLED","type":"MARKET","side":"SELL","updateTime":1700000000500}`))
	})

	ack, err := c.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideSell, 0.01, true)
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if ack.OrderID != "42" || ack.AvgPrice != 64000.5 || ack.Qty != 0.01 || ack.Status != "FILLED" || ack.Side != model.SideSell {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestSubmitMarketOrder_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})

	_, err := c.SubmitMarketOrder(context.Background(), "BTCUSDT", model.SideBuy, 0.01, false)
	var oerr *execution.OrderError
	if !errors.As(err, &oerr) || oerr.Op != "entry" {
		t.Fatalf("expected entry OrderError, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2019 || apiErr.Status != 400 {
		t.Errorf("expected APIError -2019, got %v", err)
	}
}

func TestSubmitBrackets(t *testing.T) {
	var types []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verifySigned(t, r)
		q := r.URL.Query()
		types = append(types, q.Get("type"))
		if q.Get("stopPrice") != "64100.5" || q.Get("workingType") != "MARK_PRICE" || q.Get("reduceOnly") != "true" {
			t.Errorf("unexpected bracket params: %v", q)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":7,"avgPrice":"0","origQty":"0.01","status":"NEW","type":"` + q.Get("type") + `","side":"SELL"}`))
	})
	c.PricePrecision = 1

	if _, err := c.SubmitStopOrder(context.Background(), "BTCUSDT", model.SideSell, 0.01, 64100.47, true); err != nil {
		t.Fatalf("SubmitStopOrder: %v", err)
	}
	ack, err := c.SubmitTakeProfitOrder(context.Background(), "BTCUSDT", model.SideSell, 0.01, 64100.5, true)
	if err != nil {
		t.Fatalf("SubmitTakeProfitOrder: %v", err)
	}
	if ack.Qty != 0.01 {
		t.Errorf("ack qty should fall back to origQty, got %v", ack.Qty)
	}
	if len(types) != 2 || types[0] != "STOP_MARKET" || types[1] != "TAKE_PROFIT_MARKET" {
		t.Errorf("unexpected order types: %v", types)
	}
}

func TestLoadFilters_RoundsBrackets(t *testing.T) {
	var stopPrice, qty string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/exchangeInfo" {
			w.Write([]byte(`{"symbols":[
				{"symbol":"ETHUSDT","filters":[{"filterType":"PRICE_FILTER","tickSize":"0.01"}]},
				{"symbol":"BTCUSDT","filters":[
					{"filterType":"PRICE_FILTER","minPrice":"556.80","tickSize":"0.10"},
					{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`))
			return
		}
		q := r.URL.Query()
		stopPrice, qty = q.Get("stopPrice"), q.Get("quantity")
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":8,"status":"NEW","type":"STOP_MARKET","side":"SELL"}`))
	})

	f, err := c.LoadFilters(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadFilters: %v", err)
	}
	if f.TickSize.String() != "0.1" || f.StepSize.String() != "0.001" {
		t.Fatalf("filters = %s / %s", f.TickSize, f.StepSize)
	}

	if _, err := c.SubmitStopOrder(context.Background(), "BTCUSDT", model.SideSell, 0.0104, 64110.799999999996, true); err != nil {
		t.Fatalf("SubmitStopOrder: %v", err)
	}
	if stopPrice != "64110.8" || qty != "0.01" {
		t.Errorf("stopPrice=%s quantity=%s, want 64110.8 and 0.01", stopPrice, qty)
	}

	// An explicit precision still wins over the filters.
	c.PricePrecision = 2
	if _, err := c.SubmitStopOrder(context.Background(), "BTCUSDT", model.SideSell, 0.01, 64110.799999999996, true); err != nil {
		t.Fatalf("SubmitStopOrder: %v", err)
	}
	if stopPrice != "64110.80" {
		t.Errorf("stopPrice=%s, want 64110.80", stopPrice)
	}
}

func TestLoadFilters_UnknownSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[]}`))
	})
	if _, err := c.LoadFilters(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected error for a symbol missing from exchange info")
	}
}

func TestCancelOpenOrders(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodDelete || r.URL.Path != "/fapi/v1/allOpenOrders" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		verifySigned(t, r)
		w.Write([]byte(`{"code":200,"msg":"The operation of cancel all open order is done."}`))
	})
	if err := c.CancelOpenOrders(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("CancelOpenOrders: %v", err)
	}
	if !called {
		t.Error("server not called")
	}
}

func TestPositionAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v2/positionRisk" {
			t.Errorf("path = %s", r.URL.Path)
		}
		verifySigned(t, r)
		w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"64000"},{"symbol":"ETHUSDT","positionAmt":"1.0"}]`))
	})
	amt, err := c.PositionAmount(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("PositionAmount: %v", err)
	}
	if amt != -0.01 {
		t.Errorf("amount = %v", amt)
	}
}

func TestSigned_RequiresCredentials(t *testing.T) {
	c := New("", "", "http://127.0.0.1:0")
	if _, err := c.PositionAmount(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("expected credentials error")
	}
}

func TestFormatFloat(t *testing.T) {
	cases := []struct {
		v    float64
		prec int
		want string
	}{
		{0.01, -1, "0.01"},
		{96.89999999999, 1, "96.9"},
		{64100.47, 1, "64100.5"},
		{0.0123, 3, "0.012"},
	}
	for _, tc := range cases {
		if got := formatFloat(tc.v, tc.prec); got != tc.want {
			t.Errorf("formatFloat(%v, %d) = %s, want %s", tc.v, tc.prec, got, tc.want)
		}
	}
}

func TestEnvironmentURLs(t *testing.T) {
	if BaseURL(true) != TestnetBaseURL || BaseURL(false) != MainnetBaseURL {
		t.Error("unexpected REST base URLs")
	}
	if StreamURL(true) != TestnetStreamURL || StreamURL(false) != MainnetStreamURL {
		t.Error("unexpected stream URLs")
	}
}

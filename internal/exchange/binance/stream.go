package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trading-botv1/internal/marketdata"
	"trading-botv1/internal/model"
)

type markPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// MarkPriceStream delivers one tick per second from <symbol>@markPrice@1s,
// reconnecting with capped exponential backoff.
type MarkPriceStream struct {
	url     string
	symbol  string
	handler marketdata.TickHandler
	log     *slog.Logger

	// OnState is called with true after connecting and false after a disconnect.
	OnState func(connected bool)

	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	ReadTimeout time.Duration
}

// NewMarkPriceStream creates a stream for symbol. baseURL is the raw
// websocket root, e.g. StreamURL(testnet).
func NewMarkPriceStream(baseURL, symbol string, handler marketdata.TickHandler, log *slog.Logger) *MarkPriceStream {
	if log == nil {
		log = slog.Default()
	}
	return &MarkPriceStream{
		url:         fmt.Sprintf("%s/%s@markPrice@1s", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol)),
		symbol:      strings.ToUpper(symbol),
		handler:     handler,
		log:         log.With(slog.String("component", "markprice_stream"), slog.String("symbol", symbol)),
		MinBackoff:  time.Second,
		MaxBackoff:  30 * time.Second,
		ReadTimeout: 30 * time.Second,
	}
}

// Run consumes the stream until ctx is cancelled.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	backoff := s.MinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		received, err := s.consume(ctx)
		if s.OnState != nil {
			s.OnState(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			backoff = s.MinBackoff
		}
		s.log.Warn("mark price stream disconnected, retrying",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(s.MaxBackoff), float64(backoff)*2))
	}
}

// consume reads one connection until it fails. It returns the number of
// ticks delivered.
func (s *MarkPriceStream) consume(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	s.log.Info("connected mark price stream", slog.String("url", s.url))
	if s.OnState != nil {
		s.OnState(true)
	}

	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	received := 0
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))

		tick, err := parseMarkPrice(message)
		if err != nil {
			s.log.Warn("bad mark price message", slog.String("error", err.Error()))
			continue
		}
		if tick.Symbol != s.symbol {
			continue
		}
		received++
		s.handler(tick)
	}
}

func parseMarkPrice(message []byte) (model.Tick, error) {
	var ev markPriceEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return model.Tick{}, fmt.Errorf("decode: %w", err)
	}
	price, err := strconv.ParseFloat(ev.MarkPrice, 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("parse price %q: %w", ev.MarkPrice, err)
	}
	if price <= 0 {
		return model.Tick{}, fmt.Errorf("non-positive price %v", price)
	}
	ts := time.Now()
	if ev.EventTime > 0 {
		ts = time.UnixMilli(ev.EventTime)
	}
	return model.Tick{Symbol: strings.ToUpper(ev.Symbol), Price: price, TS: ts}, nil
}

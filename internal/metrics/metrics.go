package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-botv1/internal/model"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Candle refresh
	CandleRefreshes     prometheus.Counter
	CandleRefreshErrors prometheus.Counter
	BufferLen           prometheus.Gauge
	BufferAge           prometheus.Gauge

	// Price feed
	TicksTotal    prometheus.Counter
	TickOverflow   prometheus.Counter
	TicksCoalesced prometheus.Counter
	FeedConnected  prometheus.Gauge

	// Entry engine
	Evaluations *prometheus.CounterVec // labels: outcome
	Proposals   *prometheus.CounterVec // labels: side

	// Position lifecycle
	Entries        prometheus.Counter
	EntryFailures  prometheus.Counter
	BracketFails   prometheus.Counter
	Exits          *prometheus.CounterVec // labels: reason
	ExitFailures   prometheus.Counter
	StopRatchets   prometheus.Counter
	Breakevens     prometheus.Counter
	PositionOpen   prometheus.Gauge
	StopLoss       prometheus.Gauge
	TakeProfit     prometheus.Gauge
	Halted         prometheus.Gauge
	RealizedPnL    prometheus.Gauge
	TickToDecision prometheus.Histogram

	// Event mirror
	RedisEventsDropped       prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	AlertsDropped            prometheus.Counter
}

// NewMetrics registers and returns all metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandleRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_candle_refreshes_total",
			Help: "Successful candle buffer refreshes",
		}),
		CandleRefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_candle_refresh_errors_total",
			Help: "Candle refreshes that failed and kept the previous buffer",
		}),
		BufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_candle_buffer_len",
			Help: "Candles currently held in the buffer",
		}),
		BufferAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_candle_buffer_age_seconds",
			Help: "Seconds since the candle buffer was last replaced",
		}),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Mark price ticks received from the price feed",
		}),
		TickOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_tick_queue_overflow_total",
			Help: "Ticks that found the tick queue full and took the latest slot",
		}),
		TicksCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_ticks_coalesced_total",
			Help: "Stale queued ticks skipped in favour of the newest price",
		}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_price_feed_connected",
			Help: "Price feed connection state (0=down, 1=up)",
		}),

		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_evaluations_total",
			Help: "Entry engine evaluation steps by outcome",
		}, []string{"outcome"}),
		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_proposals_total",
			Help: "Trade proposals produced by the signal evaluator",
		}, []string{"side"}),

		Entries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_entries_total",
			Help: "Positions opened",
		}),
		EntryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_entry_failures_total",
			Help: "Entry orders rejected by the gateway",
		}),
		BracketFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_bracket_failures_total",
			Help: "Exchange-side stop or take-profit orders that could not be placed",
		}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_exits_total",
			Help: "Positions closed by reason",
		}, []string{"reason"}),
		ExitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_exit_failures_total",
			Help: "Exits that exhausted their retries and left the position open",
		}),
		StopRatchets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_stop_ratchets_total",
			Help: "Trailing stop tightenings",
		}),
		Breakevens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_breakevens_total",
			Help: "Breakeven stop moves",
		}),
		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_position_open",
			Help: "Position state (0=flat, 1=long, -1=short)",
		}),
		StopLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_position_stop_loss",
			Help: "Current stop loss of the open position",
		}),
		TakeProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_position_take_profit",
			Help: "Take profit of the open position",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_halted",
			Help: "Trading halted after an invariant violation (0=no, 1=yes)",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_realized_pnl",
			Help: "Realized PnL since start in quote currency",
		}),
		TickToDecision: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_tick_decision_duration_seconds",
			Help:    "Time from tick receipt to risk manager decision",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		RedisEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_redis_events_dropped_total",
			Help: "Trade events not mirrored to Redis (queue full or circuit open)",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_alerts_dropped_total",
			Help: "Operator alerts dropped because the queue was full",
		}),
	}

	reg.MustRegister(
		m.CandleRefreshes,
		m.CandleRefreshErrors,
		m.BufferLen,
		m.BufferAge,
		m.TicksTotal,
		m.TickOverflow,
		m.TicksCoalesced,
		m.FeedConnected,
		m.Evaluations,
		m.Proposals,
		m.Entries,
		m.EntryFailures,
		m.BracketFails,
		m.Exits,
		m.ExitFailures,
		m.StopRatchets,
		m.Breakevens,
		m.PositionOpen,
		m.StopLoss,
		m.TakeProfit,
		m.Halted,
		m.RealizedPnL,
		m.TickToDecision,
		m.RedisEventsDropped,
		m.RedisCircuitBreakerState,
		m.AlertsDropped,
	)

	return m
}

// ObserveEvent updates lifecycle counters and position gauges from a trade event.
func (m *Metrics) ObserveEvent(ev model.TradeEvent) {
	switch ev.Type {
	case model.EventEntry:
		m.Entries.Inc()
	case model.EventEntryFailed:
		m.EntryFailures.Inc()
	case model.EventBracketFailed:
		m.BracketFails.Inc()
	case model.EventStopRatchet:
		m.StopRatchets.Inc()
	case model.EventBreakeven:
		m.Breakevens.Inc()
	case model.EventExit, model.EventExchangeFlat:
		m.Exits.WithLabelValues(ev.Reason).Inc()
		m.RealizedPnL.Add(ev.PnL)
	case model.EventExitFailed:
		m.ExitFailures.Inc()
	case model.EventHalted:
		m.Halted.Set(1)
	}

	if !ev.Open {
		m.PositionOpen.Set(0)
		m.StopLoss.Set(0)
		m.TakeProfit.Set(0)
		return
	}
	if ev.Side == model.SideSell {
		m.PositionOpen.Set(-1)
	} else {
		m.PositionOpen.Set(1)
	}
	if ev.StopLoss != 0 {
		m.StopLoss.Set(ev.StopLoss)
	}
	if ev.TakeProfit != 0 {
		m.TakeProfit.Set(ev.TakeProfit)
	}
}

// ObserveRefresh records a candle refresh attempt.
func (m *Metrics) ObserveRefresh(n int, err error) {
	if err != nil {
		m.CandleRefreshErrors.Inc()
		return
	}
	m.CandleRefreshes.Inc()
	m.BufferLen.Set(float64(n))
	m.BufferAge.Set(0)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default Prometheus registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Mount adds h under pattern. Call before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

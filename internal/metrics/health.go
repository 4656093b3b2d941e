package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"trading-botv1/internal/model"
)

// Pinger is a dependency with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the bot health served on /healthz.
type HealthStatus struct {
	mu  sync.RWMutex
	now func() time.Time

	FeedConnected   bool
	LastTickTime    time.Time
	LastTickPrice   float64
	BufferLen       int
	BufferUpdatedAt time.Time
	StaleAfter      time.Duration

	PositionOpen bool
	Side         model.Side
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	RealizedPnL  float64
	Halted       bool
	HaltReason   string

	RedisEnabled    bool
	RedisConnected  bool
	RedisLatencyMs  float64
	SQLiteEnabled   bool
	SQLiteOK        bool
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status. staleAfter bounds the
// candle buffer age considered healthy.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		now:        time.Now,
		StaleAfter: staleAfter,
		StartedAt:  time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTick(t model.Tick) {
	h.mu.Lock()
	h.LastTickTime = t.TS
	h.LastTickPrice = t.Price
	h.mu.Unlock()
}

func (h *HealthStatus) SetBuffer(n int, updatedAt time.Time) {
	h.mu.Lock()
	h.BufferLen = n
	h.BufferUpdatedAt = updatedAt
	h.mu.Unlock()
}

// EnableStores marks which optional stores are configured; disabled stores
// never degrade health.
func (h *HealthStatus) EnableStores(redis, sqlite bool) {
	h.mu.Lock()
	h.RedisEnabled = redis
	h.SQLiteEnabled = sqlite
	h.mu.Unlock()
}

// ApplyEvent tracks the position and halt state carried by a trade event.
func (h *HealthStatus) ApplyEvent(ev model.TradeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case model.EventExit, model.EventExchangeFlat:
		h.RealizedPnL += ev.PnL
	case model.EventHalted:
		h.Halted = true
		h.HaltReason = ev.Reason
	}

	h.PositionOpen = ev.Open
	if !ev.Open {
		h.Side, h.EntryPrice, h.StopLoss, h.TakeProfit = "", 0, 0, 0
		return
	}
	h.Side = ev.Side
	if ev.EntryPrice != 0 {
		h.EntryPrice = ev.EntryPrice
	}
	if ev.StopLoss != 0 {
		h.StopLoss = ev.StopLoss
	}
	if ev.TakeProfit != 0 {
		h.TakeProfit = ev.TakeProfit
	}
}

// Check pings a dependency and records latency and connectivity.
func (h *HealthStatus) Check(ctx context.Context, redis, sqlite Pinger) {
	if redis != nil {
		start := time.Now()
		err := redis.Ping(ctx)
		latency := time.Since(start)

		h.mu.Lock()
		h.RedisConnected = err == nil
		h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
		h.LastCheckAt = h.now()
		h.mu.Unlock()
	}
	if sqlite != nil {
		start := time.Now()
		err := sqlite.Ping(ctx)
		latency := time.Since(start)

		h.mu.Lock()
		h.SQLiteOK = err == nil
		h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
		h.LastCheckAt = h.now()
		h.mu.Unlock()
	}
}

// StartLivenessChecker runs periodic dependency checks. Nil pingers are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, sqlite Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.Check(probeCtx, redis, sqlite)
			cancel()

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

type healthResponse struct {
	Status          string     `json:"status"`
	Uptime          string     `json:"uptime"`
	FeedConnected   bool       `json:"feed_connected"`
	LastTickTime    string     `json:"last_tick_time"`
	TickAge         string     `json:"tick_age"`
	LastPrice       float64    `json:"last_price"`
	BufferLen       int        `json:"buffer_len"`
	BufferAge       string     `json:"buffer_age"`
	BufferStale     bool       `json:"buffer_stale"`
	PositionOpen    bool       `json:"position_open"`
	Side            model.Side `json:"side,omitempty"`
	EntryPrice      float64    `json:"entry_price,omitempty"`
	StopLoss        float64    `json:"stop_loss,omitempty"`
	TakeProfit      float64    `json:"take_profit,omitempty"`
	RealizedPnL     float64    `json:"realized_pnl"`
	Halted          bool       `json:"halted"`
	HaltReason      string     `json:"halt_reason,omitempty"`
	RedisConnected  *bool      `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64    `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool      `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64    `json:"sqlite_latency_ms,omitempty"`
	LastCheckAt     string     `json:"last_check_at"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	stale := h.BufferUpdatedAt.IsZero() || (h.StaleAfter > 0 && now.Sub(h.BufferUpdatedAt) > h.StaleAfter)

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || stale ||
		(h.RedisEnabled && !h.RedisConnected) ||
		(h.SQLiteEnabled && !h.SQLiteOK) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if h.Halted {
		overallStatus = "halted"
		httpCode = http.StatusServiceUnavailable
	}

	resp := healthResponse{
		Status:        overallStatus,
		Uptime:        now.Sub(h.StartedAt).Round(time.Second).String(),
		FeedConnected: h.FeedConnected,
		LastPrice:     h.LastTickPrice,
		BufferLen:     h.BufferLen,
		BufferStale:   stale,
		PositionOpen:  h.PositionOpen,
		Side:          h.Side,
		EntryPrice:    h.EntryPrice,
		StopLoss:      h.StopLoss,
		TakeProfit:    h.TakeProfit,
		RealizedPnL:   h.RealizedPnL,
		Halted:        h.Halted,
		HaltReason:    h.HaltReason,
	}
	if !h.LastTickTime.IsZero() {
		resp.LastTickTime = h.LastTickTime.Format(time.RFC3339)
		resp.TickAge = now.Sub(h.LastTickTime).Round(time.Millisecond).String()
	}
	if !h.BufferUpdatedAt.IsZero() {
		resp.BufferAge = now.Sub(h.BufferUpdatedAt).Round(time.Millisecond).String()
	}
	if h.RedisEnabled {
		ok := h.RedisConnected
		resp.RedisConnected = &ok
		resp.RedisLatencyMs = h.RedisLatencyMs
	}
	if h.SQLiteEnabled {
		ok := h.SQLiteOK
		resp.SQLiteOK = &ok
		resp.SQLiteLatencyMs = h.SQLiteLatencyMs
	}
	if !h.LastCheckAt.IsZero() {
		resp.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(resp)
}

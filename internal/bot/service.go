// Package bot wires the market data, strategy, risk and storage components
// into one running process.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-botv1/config"
	"trading-botv1/internal/api"
	"trading-botv1/internal/exchange/binance"
	"trading-botv1/internal/execution"
	"trading-botv1/internal/marketdata"
	"trading-botv1/internal/metrics"
	"trading-botv1/internal/model"
	"trading-botv1/internal/notification"
	"trading-botv1/internal/portfolio"
	"trading-botv1/internal/ringbuf"
	redisstore "trading-botv1/internal/store/redis"
	sqlitestore "trading-botv1/internal/store/sqlite"
	"trading-botv1/internal/strategy"
)

// Deps overrides the external collaborators. Zero fields are built from the
// config: the Binance client for market data and live orders, the paper
// gateway when PAPER_TRADING is set.
type Deps struct {
	Source     marketdata.Source
	Gateway    execution.Gateway
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Service is the top-level orchestrator for the bot.
// It owns every component and runs each concurrent task under one context.
type Service struct {
	cfg  *config.Config
	base *slog.Logger
	log  *slog.Logger

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server

	source  marketdata.Source
	client  *binance.Client
	gateway execution.Gateway
	paper   *execution.PaperGateway

	buf       *marketdata.Buffer
	refresher *marketdata.Refresher
	ring      *ringbuf.Ring
	risk      *portfolio.RiskManager
	engine    *strategy.Engine

	archive   *sqlitestore.Archive
	publisher *redisstore.Publisher
	alerts    *notification.Dispatcher

	lastPrice atomic.Uint64 // float64 bits of the newest mark price
}

// New builds the service from cfg. Redis and SQLite failures are logged and
// the bot continues without them.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	return NewWithDeps(cfg, logger, Deps{})
}

// NewWithDeps builds the service with injected collaborators.
func NewWithDeps(cfg *config.Config, logger *slog.Logger, deps Deps) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		cfg:    cfg,
		base:   logger,
		log:    logger.With(slog.String("component", "bot"), slog.String("symbol", cfg.Symbol)),
		prom:   metrics.NewMetrics(deps.Registerer),
		health: metrics.NewHealthStatus(cfg.StaleAfter),
		buf:    marketdata.NewBuffer(),
		ring:   ringbuf.New(cfg.TickQueueSize),
	}

	svc.client = binance.New(cfg.BinanceAPIKey, cfg.BinanceAPISecret, binance.BaseURL(cfg.BinanceTestnet))
	svc.client.PricePrecision = cfg.PricePrecision
	svc.client.QtyPrecision = cfg.QtyPrecision

	svc.source = deps.Source
	if svc.source == nil {
		svc.source = svc.client
	}

	switch {
	case deps.Gateway != nil:
		svc.gateway = deps.Gateway
	case cfg.PaperTrading:
		svc.paper = execution.NewPaperGateway(cfg.PaperSlippageBps, svc.markPrice, logger)
		svc.gateway = svc.paper
	default:
		svc.gateway = svc.client
	}

	// ---- Open SQLite ----
	if cfg.SQLitePath != "" {
		archive, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			log.Printf("[bot] WARNING: sqlite archive init failed: %v (continuing without archive)", err)
		} else {
			svc.archive = archive
		}
	}

	// ---- Connect to Redis ----
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Symbol:   cfg.Symbol,
		})
		if err != nil {
			log.Printf("[bot] WARNING: redis init failed: %v (continuing without event mirror)", err)
		} else {
			pub.OnDrop = svc.prom.RedisEventsDropped.Inc
			svc.publisher = pub
		}
	}
	svc.health.EnableStores(svc.publisher != nil, svc.archive != nil)

	// ---- Alerts ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	svc.alerts = notification.NewDispatcher(notifiers, 64)
	svc.alerts.OnDrop = svc.prom.AlertsDropped.Inc

	// ---- Trading core ----
	svc.risk = portfolio.NewRiskManager(cfg.RiskConfig(), svc.gateway, svc.onEvent, logger)

	var archive model.CandleArchive
	if svc.archive != nil {
		archive = svc.archive
	}
	svc.refresher = marketdata.NewRefresher(marketdata.RefresherConfig{
		Symbol:   cfg.Symbol,
		Interval: cfg.CandleInterval,
		Limit:    cfg.CandleLimit,
		Every:    cfg.CandleRefreshInterval,
	}, svc.source, svc.buf, archive)
	svc.refresher.OnRefresh = svc.onRefresh

	svc.engine = strategy.NewEngine(cfg.EngineConfig(), svc.buf, svc.risk, logger)
	svc.engine.OnOutcome = func(o strategy.Outcome) {
		svc.prom.Evaluations.WithLabelValues(string(o)).Inc()
	}
	svc.engine.OnProposal = func(p model.TradeProposal) {
		svc.prom.Proposals.WithLabelValues(string(p.Side)).Inc()
	}

	if cfg.MetricsAddr != "" {
		svc.server = metrics.NewServer(cfg.MetricsAddr, svc.health, deps.Gatherer)
		svc.server.Mount("/api/", api.NewRouter(svc.risk))
	}
	return svc, nil
}

// Risk exposes the risk manager.
func (svc *Service) Risk() *portfolio.RiskManager { return svc.risk }

// Health exposes the health status.
func (svc *Service) Health() *metrics.HealthStatus { return svc.health }

// markPrice feeds paper fills: the newest tick, else the newest close.
func (svc *Service) markPrice() float64 {
	if p := math.Float64frombits(svc.lastPrice.Load()); p > 0 {
		return p
	}
	candles := svc.buf.Candles()
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}

// onEvent fans a lifecycle event out to metrics, health, Redis and alerts.
// It runs under the risk manager lock and must not block.
func (svc *Service) onEvent(ev model.TradeEvent) {
	svc.prom.ObserveEvent(ev)
	svc.health.ApplyEvent(ev)
	if svc.publisher != nil {
		svc.publisher.Publish(context.Background(), ev)
	}
	if alert, ok := notification.AlertFromEvent(ev); ok {
		svc.alerts.Notify(alert)
	}
}

func (svc *Service) onRefresh(n int, err error) {
	svc.prom.ObserveRefresh(n, err)
	if err == nil {
		svc.health.SetBuffer(n, svc.buf.UpdatedAt())
	}
}

// onTick is the price feed handler. It only enqueues.
func (svc *Service) onTick(t model.Tick) {
	svc.prom.TicksTotal.Inc()
	svc.health.SetLastTick(t)
	if !svc.ring.Push(t) {
		svc.prom.TickOverflow.Inc()
	}
}

// consumeTicks drains the tick queue into the risk manager in arrival order.
// Once the backlog passes TICK_COALESCE_AFTER only the newest tick is handled.
func (svc *Service) consumeTicks(ctx context.Context) {
	for {
		t, skipped, err := svc.ring.NextLatest(ctx, svc.cfg.TickCoalesceAfter)
		if err != nil {
			return
		}
		if skipped > 0 {
			svc.prom.TicksCoalesced.Add(float64(skipped))
			svc.log.Debug("tick backlog coalesced", slog.Int("skipped", skipped), slog.Float64("price", t.Price))
		}
		start := time.Now()
		svc.lastPrice.Store(math.Float64bits(t.Price))

		res, err := svc.risk.OnTick(ctx, t.Price)
		svc.prom.TickToDecision.Observe(time.Since(start).Seconds())
		if err != nil && ctx.Err() == nil {
			var oerr *execution.OrderError
			if errors.As(err, &oerr) {
				svc.log.Warn("exit pending", slog.String("op", oerr.Op), slog.String("error", err.Error()))
			} else {
				svc.log.Error("tick handling failed", slog.String("error", err.Error()))
			}
		}
		if res.Exited {
			svc.log.Info("position closed",
				slog.String("reason", res.Reason),
				slog.Float64("price", t.Price),
				slog.Float64("pnl", res.PnL),
			)
		}
	}
}

// runFeed starts the configured live price producer.
func (svc *Service) runFeed(ctx context.Context) {
	if svc.cfg.PriceFeed == config.FeedPoll {
		p := marketdata.NewPoller(svc.source, svc.cfg.Symbol, svc.cfg.PricePollInterval, func(t model.Tick) {
			svc.health.SetFeedConnected(true)
			svc.prom.FeedConnected.Set(1)
			svc.onTick(t)
		})
		p.OnError = func(error) {
			svc.health.SetFeedConnected(false)
			svc.prom.FeedConnected.Set(0)
		}
		p.Run(ctx)
		return
	}

	stream := binance.NewMarkPriceStream(binance.StreamURL(svc.cfg.BinanceTestnet), svc.cfg.Symbol, svc.onTick, svc.base)
	stream.OnState = func(connected bool) {
		svc.health.SetFeedConnected(connected)
		if connected {
			svc.prom.FeedConnected.Set(1)
		} else {
			svc.prom.FeedConnected.Set(0)
		}
	}
	if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
		svc.log.Error("price stream stopped", slog.String("error", err.Error()))
	}
}

// reconcileLoop compares local and venue position state.
func (svc *Service) reconcileLoop(ctx context.Context) {
	if svc.cfg.ReconcileInterval <= 0 {
		return
	}
	ticker := time.NewTicker(svc.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.risk.Reconcile(ctx); err != nil && ctx.Err() == nil {
				svc.log.Warn("reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// housekeeping refreshes the gauges that are not driven by events.
func (svc *Service) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.observeGauges(time.Now())
		}
	}
}

func (svc *Service) observeGauges(now time.Time) {
	if age, ok := svc.buf.Age(now); ok {
		svc.prom.BufferAge.Set(age.Seconds())
	}
	svc.prom.BufferLen.Set(float64(svc.buf.Len()))
	svc.health.SetBuffer(svc.buf.Len(), svc.buf.UpdatedAt())

	if svc.publisher != nil {
		svc.prom.RedisCircuitBreakerState.Set(float64(svc.publisher.Breaker().CurrentState()))
	}
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[bot] starting confluence futures bot...")

	// ---- Seed from archive ----
	if n, err := svc.refresher.Seed(); err != nil {
		log.Printf("[bot] WARNING: archive seed failed: %v", err)
	} else if n > 0 {
		log.Printf("[bot] seeded candle buffer with %d archived candles", n)
		svc.health.SetBuffer(n, svc.buf.UpdatedAt())
	}

	// ---- Symbol filters (live orders only) ----
	if svc.gateway == svc.client {
		if f, err := svc.client.LoadFilters(ctx, cfg.Symbol); err != nil {
			log.Printf("[bot] WARNING: symbol filters unavailable, prices sent unrounded: %v", err)
		} else {
			log.Printf("[bot] %s tick size %s, step size %s", cfg.Symbol, f.TickSize, f.StepSize)
		}
	}

	// ---- Liveness probes ----
	var redisPinger, sqlitePinger metrics.Pinger
	if svc.publisher != nil {
		redisPinger = svc.publisher
	}
	if svc.archive != nil {
		sqlitePinger = svc.archive
	}
	if redisPinger != nil || sqlitePinger != nil {
		svc.health.StartLivenessChecker(ctx, redisPinger, sqlitePinger, 15*time.Second)
	}

	if svc.server != nil {
		svc.server.Start()
	}

	// ---- Start subsystems ----
	var wg sync.WaitGroup
	start := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	start(svc.refresher.Run)
	start(svc.consumeTicks)
	start(svc.runFeed)
	start(svc.engine.Run)
	start(svc.reconcileLoop)
	start(svc.housekeeping)
	start(svc.alerts.Run)
	if svc.publisher != nil {
		start(svc.publisher.Run)
	}

	mode := "LIVE"
	if cfg.PaperTrading {
		mode = "PAPER"
	}
	venue := "mainnet"
	if cfg.BinanceTestnet {
		venue = "testnet"
	}
	log.Printf("[bot] %s %s on %s | %s candles x%d | feed=%s | qty=%v", mode, cfg.Symbol, venue, cfg.CandleInterval, cfg.CandleLimit, cfg.PriceFeed, cfg.TradeQty)
	log.Printf("[bot] trail %.2f%% (%s) | breakeven buffer %.2f%% | RR %.1f | native brackets=%v", cfg.TrailOffsetPct, cfg.TrailBasis, cfg.BreakevenBufferPct, cfg.RiskReward, cfg.NativeBrackets)
	log.Println("[bot] ✅ all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()
	wg.Wait()

	svc.shutdown()
	return nil
}

// shutdown reports the session and closes connections. An open position is
// left to the exchange-side brackets, if any, and is logged loudly.
func (svc *Service) shutdown() {
	log.Println("[bot] shutdown signal received...")

	if pos, open := svc.risk.Snapshot(); open {
		log.Printf("[bot] WARNING: exiting with open %s position %v @ %.4f (stop %.4f, target %.4f)",
			pos.Side, pos.Qty, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)
	}
	sum := svc.risk.Summary()
	log.Printf("[bot] session: %d trades, %d wins, %d losses, realized PnL %.4f",
		sum.TotalTrades, sum.Wins, sum.Losses, sum.RealizedPnL)
	if svc.paper != nil {
		log.Printf("[bot] paper fills: %d", len(svc.paper.GetFills()))
	}
	if n := svc.ring.Overflow(); n > 0 {
		log.Printf("[bot] tick queue full %d times (newest kept)", n)
	}

	if svc.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		svc.server.Stop(ctx)
		cancel()
	}
	if svc.publisher != nil {
		svc.publisher.Close()
	}
	if svc.archive != nil {
		svc.archive.Close()
	}

	log.Println("[bot] shutdown complete.")
}

// Check validates connectivity: one candle fetch, one mark price and, for
// live trading, the signed position endpoint.
func (svc *Service) Check(ctx context.Context) error {
	candles, err := svc.source.FetchCandles(ctx, svc.cfg.Symbol, svc.cfg.CandleInterval, svc.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("candles: %w", err)
	}
	if need := svc.cfg.MinCandles(); len(candles) < need {
		return fmt.Errorf("candles: got %d, indicators need %d", len(candles), need)
	}
	price, err := svc.source.FetchMarkPrice(ctx, svc.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("mark price: %w", err)
	}
	log.Printf("[bot] check: %d candles, mark price %.4f", len(candles), price)

	if pr, ok := svc.gateway.(execution.PositionReader); ok && !svc.cfg.PaperTrading {
		amt, err := pr.PositionAmount(ctx, svc.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		log.Printf("[bot] check: venue position %v", amt)
	}
	return nil
}

// Close releases stores when Run was never called.
func (svc *Service) Close() {
	if svc.publisher != nil {
		svc.publisher.Close()
	}
	if svc.archive != nil {
		svc.archive.Close()
	}
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-botv1/internal/indicator"
	"trading-botv1/internal/portfolio"
	"trading-botv1/internal/strategy"
)

// Config holds all application configuration. Values come from environment
// variables, then an optional YAML file named by CONFIG_FILE, then defaults.
type Config struct {
	// Market
	Symbol         string
	CandleInterval string
	CandleLimit    int
	TradeQty       float64

	// Indicators
	RSIPeriod int
	EMAPeriod int
	AvgWindow int
	EMAWindow string

	// Confluence
	BodyStrengthMult   float64
	VolumeStrengthMult float64
	RSIBuyMin          float64
	RSIBuyMax          float64
	RSISellMin         float64
	RSISellMax         float64
	RiskReward         float64
	StopAnchor         string
	StopMult           float64

	// Protection
	TrailOffsetPct     float64
	TrailBasis         string
	BreakevenBufferPct float64
	ExitRetries        int
	ExitBackoff        time.Duration
	NativeBrackets     bool
	StrictInvariants   bool

	// Scheduling
	EvalCadence           string
	EvalClosedOnly        bool
	CandleRefreshInterval time.Duration
	EvalInterval          time.Duration
	PricePollInterval     time.Duration
	StaleAfter            time.Duration
	ReconcileInterval     time.Duration
	PriceFeed             string
	TickQueueSize         int
	TickCoalesceAfter     int

	// Execution
	PaperTrading     bool
	PaperSlippageBps float64
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	PricePrecision   int
	QtyPrecision     int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string

	// Alerts
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Price feed kinds.
const (
	FeedStream = "stream"
	FeedPoll   = "poll"
)

// loader resolves keys against env, then file, then fallback, and collects
// parse errors so every bad key is reported at once.
type loader struct {
	file map[string]string
	errs []error
}

// Load reads an optional .env file, an optional CONFIG_FILE YAML overlay and
// the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	l := &loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		l.file = file
		log.Printf("[config] loaded %s", path)
	}

	cfg := l.load()
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile parses a flat YAML mapping of config keys. Keys are matched
// case-insensitively against the env names.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (l *loader) load() *Config {
	refresh := l.getDuration("CANDLE_REFRESH_INTERVAL", 15*time.Second)

	cfg := &Config{
		Symbol:         strings.ToUpper(l.getEnv("SYMBOL", "BTCUSDT")),
		CandleInterval: l.getEnv("CANDLE_INTERVAL", "1m"),
		CandleLimit:    l.getInt("CANDLE_LIMIT", 100),
		TradeQty:       l.getFloat("TRADE_QTY", 0.01),

		RSIPeriod: l.getInt("RSI_PERIOD", 14),
		EMAPeriod: l.getInt("EMA_PERIOD", 50),
		AvgWindow: l.getInt("AVG_WINDOW", 20),
		EMAWindow: strings.ToLower(l.getEnv("EMA_WINDOW", string(indicator.EMAWindowAll))),

		BodyStrengthMult:   l.getFloat("BODY_STRENGTH_MULT", 1.0),
		VolumeStrengthMult: l.getFloat("VOLUME_STRENGTH_MULT", 1.0),
		RSIBuyMin:          l.getFloat("RSI_BUY_MIN", 40),
		RSIBuyMax:          l.getFloat("RSI_BUY_MAX", 70),
		RSISellMin:         l.getFloat("RSI_SELL_MIN", 30),
		RSISellMax:         l.getFloat("RSI_SELL_MAX", 60),
		RiskReward:         l.getFloat("RISK_REWARD", 2.0),
		StopAnchor:         strings.ToLower(l.getEnv("STOP_ANCHOR", string(strategy.StopAnchorWick))),
		StopMult:           l.getFloat("STOP_MULT", 1.0),

		TrailOffsetPct:     l.getFloat("TRAIL_OFFSET_PCT", 0.5),
		TrailBasis:         strings.ToLower(l.getEnv("TRAIL_BASIS", string(portfolio.TrailBasisEntry))),
		BreakevenBufferPct: l.getFloat("BREAKEVEN_BUFFER_PCT", 0.2),
		ExitRetries:        l.getInt("EXIT_RETRIES", 3),
		ExitBackoff:        l.getDuration("EXIT_BACKOFF", 500*time.Millisecond),
		NativeBrackets:     l.getBool("NATIVE_BRACKETS", false),
		StrictInvariants:   l.getBool("STRICT_INVARIANTS", false),

		EvalCadence:           strings.ToLower(l.getEnv("EVAL_CADENCE", string(strategy.CadenceEvery))),
		EvalClosedOnly:        l.getBool("EVAL_CLOSED_ONLY", false),
		CandleRefreshInterval: refresh,
		EvalInterval:          l.getDuration("EVAL_INTERVAL", time.Second),
		PricePollInterval:     l.getDuration("PRICE_POLL_INTERVAL", time.Second),
		StaleAfter:            l.getDuration("STALE_AFTER", 3*refresh),
		ReconcileInterval:     l.getDuration("RECONCILE_INTERVAL", 30*time.Second),
		PriceFeed:             strings.ToLower(l.getEnv("PRICE_FEED", FeedStream)),
		TickQueueSize:         l.getInt("TICK_QUEUE_SIZE", 1024),
		TickCoalesceAfter:     l.getInt("TICK_COALESCE_AFTER", 8),

		PaperTrading:     l.getBool("PAPER_TRADING", true),
		PaperSlippageBps: l.getFloat("PAPER_SLIPPAGE_BPS", 5),
		BinanceTestnet:   l.getBool("BINANCE_TESTNET", true),
		PricePrecision:   l.getInt("PRICE_PRECISION", -1),
		QtyPrecision:     l.getInt("QTY_PRECISION", -1),

		RedisAddr:     l.getEnv("REDIS_ADDR", ""),
		RedisPassword: l.getEnv("REDIS_PASSWORD", ""),
		RedisDB:       l.getInt("REDIS_DB", 0),
		SQLitePath:    l.getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   l.getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      l.getEnv("LOG_LEVEL", "info"),

		TelegramBotToken: l.getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   l.getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  l.getEnv("ALERT_WEBHOOK_URL", ""),
	}

	// Paper trading needs no credentials.
	if cfg.PaperTrading {
		cfg.BinanceAPIKey = l.getEnv("BINANCE_API_KEY", "")
		cfg.BinanceAPISecret = l.getEnv("BINANCE_API_SECRET", "")
	} else {
		cfg.BinanceAPIKey = l.mustEnv("BINANCE_API_KEY")
		cfg.BinanceAPISecret = l.mustEnv("BINANCE_API_SECRET")
	}
	return cfg
}

// lookup returns the env value, then the file value. SQLITE_PATH and
// REDIS_ADDR may be set to "" explicitly to disable the store.
func (l *loader) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		if v != "" || key == "SQLITE_PATH" || key == "REDIS_ADDR" {
			return v, true
		}
	}
	if v, ok := l.file[key]; ok {
		return v, true
	}
	return "", false
}

func (l *loader) mustEnv(key string) string {
	v, _ := l.lookup(key)
	if v == "" {
		l.errs = append(l.errs, fmt.Errorf("config: required %s not set", key))
	}
	return v
}

func (l *loader) getEnv(key, fallback string) string {
	v, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func (l *loader) getInt(key string, fallback int) int {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %s=%q: not an integer", key, v))
		return fallback
	}
	return n
}

func (l *loader) getFloat(key string, fallback float64) float64 {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %s=%q: not a number", key, v))
		return fallback
	}
	return f
}

func (l *loader) getBool(key string, fallback bool) bool {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %s=%q: not a boolean", key, v))
		return fallback
	}
	return b
}

// duration accepts Go durations ("15s") or bare seconds ("15").
func (l *loader) getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("config: %s=%q: not a duration", key, v))
		return fallback
	}
	return d
}

// Validate rejects values the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}

	if c.Symbol == "" {
		bad("SYMBOL is empty")
	}
	if c.CandleInterval == "" {
		bad("CANDLE_INTERVAL is empty")
	}
	if c.TradeQty <= 0 {
		bad("TRADE_QTY must be positive, got %v", c.TradeQty)
	}
	for key, v := range map[string]int{
		"RSI_PERIOD": c.RSIPeriod, "EMA_PERIOD": c.EMAPeriod, "AVG_WINDOW": c.AvgWindow,
		"CANDLE_LIMIT": c.CandleLimit, "TICK_QUEUE_SIZE": c.TickQueueSize,
		"TICK_COALESCE_AFTER": c.TickCoalesceAfter,
	} {
		if v <= 0 {
			bad("%s must be positive, got %d", key, v)
		}
	}
	if need := c.MinCandles(); c.CandleLimit > 0 && c.CandleLimit < need {
		bad("CANDLE_LIMIT=%d is shorter than the %d candles the indicators need", c.CandleLimit, need)
	}
	for key, v := range map[string]time.Duration{
		"CANDLE_REFRESH_INTERVAL": c.CandleRefreshInterval, "EVAL_INTERVAL": c.EvalInterval,
		"PRICE_POLL_INTERVAL": c.PricePollInterval, "STALE_AFTER": c.StaleAfter,
	} {
		if v <= 0 {
			bad("%s must be positive, got %s", key, v)
		}
	}
	if c.ReconcileInterval < 0 {
		bad("RECONCILE_INTERVAL must not be negative")
	}
	if c.ExitRetries < 1 {
		bad("EXIT_RETRIES must be at least 1, got %d", c.ExitRetries)
	}
	if c.ExitBackoff < 0 {
		bad("EXIT_BACKOFF must not be negative")
	}
	if c.RSIBuyMin > c.RSIBuyMax {
		bad("RSI buy band inverted: %v > %v", c.RSIBuyMin, c.RSIBuyMax)
	}
	if c.RSISellMin > c.RSISellMax {
		bad("RSI sell band inverted: %v > %v", c.RSISellMin, c.RSISellMax)
	}
	if c.RiskReward <= 0 || c.StopMult <= 0 {
		bad("RISK_REWARD and STOP_MULT must be positive")
	}
	if c.BodyStrengthMult < 0 || c.VolumeStrengthMult < 0 {
		bad("strength multipliers must not be negative")
	}
	if c.TrailOffsetPct <= 0 || c.TrailOffsetPct >= 100 {
		bad("TRAIL_OFFSET_PCT must be in (0, 100), got %v", c.TrailOffsetPct)
	}
	if c.BreakevenBufferPct < 0 {
		bad("BREAKEVEN_BUFFER_PCT must not be negative")
	}
	if c.PaperSlippageBps < 0 {
		bad("PAPER_SLIPPAGE_BPS must not be negative")
	}
	if c.PriceFeed != FeedStream && c.PriceFeed != FeedPoll {
		bad("unknown PRICE_FEED %q (want stream|poll)", c.PriceFeed)
	}
	if _, err := indicator.ParseEMAWindow(c.EMAWindow); err != nil {
		errs = append(errs, fmt.Errorf("config: EMA_WINDOW: %w", err))
	}
	if _, err := strategy.ParseStopAnchor(c.StopAnchor); err != nil {
		errs = append(errs, fmt.Errorf("config: STOP_ANCHOR: %w", err))
	}
	if _, err := strategy.ParseCadence(c.EvalCadence); err != nil {
		errs = append(errs, fmt.Errorf("config: EVAL_CADENCE: %w", err))
	}
	if _, err := portfolio.ParseTrailBasis(c.TrailBasis); err != nil {
		errs = append(errs, fmt.Errorf("config: TRAIL_BASIS: %w", err))
	}
	if !c.PaperTrading && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		bad("BINANCE_API_KEY and BINANCE_API_SECRET are required when PAPER_TRADING=false")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		bad("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return errors.Join(errs...)
}

// MinCandles is the shortest CANDLE_LIMIT that can produce a snapshot. With
// EVAL_CLOSED_ONLY the forming candle is dropped, so one more is needed.
func (c *Config) MinCandles() int {
	n := c.IndicatorParams().MinCandles()
	if c.EvalClosedOnly {
		n++
	}
	return n
}

// IndicatorParams returns the indicator periods.
func (c *Config) IndicatorParams() indicator.Params {
	w, _ := indicator.ParseEMAWindow(c.EMAWindow)
	return indicator.Params{
		RSIPeriod: c.RSIPeriod,
		EMAPeriod: c.EMAPeriod,
		AvgWindow: c.AvgWindow,
		EMAWindow: w,
	}
}

// Thresholds returns the confluence parameters.
func (c *Config) Thresholds() strategy.Thresholds {
	anchor, _ := strategy.ParseStopAnchor(c.StopAnchor)
	return strategy.Thresholds{
		BodyStrengthMult:   c.BodyStrengthMult,
		VolumeStrengthMult: c.VolumeStrengthMult,
		RSIBuy:             strategy.Band{Min: c.RSIBuyMin, Max: c.RSIBuyMax},
		RSISell:            strategy.Band{Min: c.RSISellMin, Max: c.RSISellMax},
		RiskReward:         c.RiskReward,
		StopAnchor:         anchor,
		StopMult:           c.StopMult,
	}
}

// EngineConfig returns the entry loop configuration.
func (c *Config) EngineConfig() strategy.EngineConfig {
	cadence, _ := strategy.ParseCadence(c.EvalCadence)
	return strategy.EngineConfig{
		Params:     c.IndicatorParams(),
		Thresholds: c.Thresholds(),
		Cadence:    cadence,
		ClosedOnly: c.EvalClosedOnly,
		StaleAfter: c.StaleAfter,
		Every:      c.EvalInterval,
	}
}

// RiskConfig returns the position protection parameters.
func (c *Config) RiskConfig() portfolio.RiskConfig {
	basis, _ := portfolio.ParseTrailBasis(c.TrailBasis)
	return portfolio.RiskConfig{
		Symbol:             c.Symbol,
		Quantity:           c.TradeQty,
		TrailOffsetPct:     c.TrailOffsetPct,
		TrailBasis:         basis,
		BreakevenBufferPct: c.BreakevenBufferPct,
		NativeBrackets:     c.NativeBrackets,
		ExitRetries:        c.ExitRetries,
		ExitBackoff:        c.ExitBackoff,
		StrictInvariants:   c.StrictInvariants,
	}
}

// Redacted returns the configuration as sorted key=value lines with secrets masked.
func (c *Config) Redacted() []string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 4 {
			return "****"
		}
		return s[:2] + "****" + s[len(s)-2:]
	}
	kv := map[string]any{
		"SYMBOL":                  c.Symbol,
		"CANDLE_INTERVAL":         c.CandleInterval,
		"CANDLE_LIMIT":            c.CandleLimit,
		"TRADE_QTY":               c.TradeQty,
		"RSI_PERIOD":              c.RSIPeriod,
		"EMA_PERIOD":              c.EMAPeriod,
		"AVG_WINDOW":              c.AvgWindow,
		"EMA_WINDOW":              c.EMAWindow,
		"BODY_STRENGTH_MULT":      c.BodyStrengthMult,
		"VOLUME_STRENGTH_MULT":    c.VolumeStrengthMult,
		"RSI_BUY_MIN":             c.RSIBuyMin,
		"RSI_BUY_MAX":             c.RSIBuyMax,
		"RSI_SELL_MIN":            c.RSISellMin,
		"RSI_SELL_MAX":            c.RSISellMax,
		"RISK_REWARD":             c.RiskReward,
		"STOP_ANCHOR":             c.StopAnchor,
		"STOP_MULT":               c.StopMult,
		"TRAIL_OFFSET_PCT":        c.TrailOffsetPct,
		"TRAIL_BASIS":             c.TrailBasis,
		"BREAKEVEN_BUFFER_PCT":    c.BreakevenBufferPct,
		"EXIT_RETRIES":            c.ExitRetries,
		"EXIT_BACKOFF":            c.ExitBackoff,
		"NATIVE_BRACKETS":         c.NativeBrackets,
		"STRICT_INVARIANTS":       c.StrictInvariants,
		"EVAL_CADENCE":            c.EvalCadence,
		"EVAL_CLOSED_ONLY":        c.EvalClosedOnly,
		"CANDLE_REFRESH_INTERVAL": c.CandleRefreshInterval,
		"EVAL_INTERVAL":           c.EvalInterval,
		"PRICE_POLL_INTERVAL":     c.PricePollInterval,
		"STALE_AFTER":             c.StaleAfter,
		"RECONCILE_INTERVAL":      c.ReconcileInterval,
		"PRICE_FEED":              c.PriceFeed,
		"TICK_QUEUE_SIZE":         c.TickQueueSize,
		"TICK_COALESCE_AFTER":     c.TickCoalesceAfter,
		"PAPER_TRADING":           c.PaperTrading,
		"PAPER_SLIPPAGE_BPS":      c.PaperSlippageBps,
		"BINANCE_API_KEY":         mask(c.BinanceAPIKey),
		"BINANCE_API_SECRET":      mask(c.BinanceAPISecret),
		"BINANCE_TESTNET":         c.BinanceTestnet,
		"PRICE_PRECISION":         c.PricePrecision,
		"QTY_PRECISION":           c.QtyPrecision,
		"REDIS_ADDR":              c.RedisAddr,
		"REDIS_PASSWORD":          mask(c.RedisPassword),
		"REDIS_DB":                c.RedisDB,
		"SQLITE_PATH":             c.SQLitePath,
		"METRICS_ADDR":            c.MetricsAddr,
		"LOG_LEVEL":               c.LogLevel,
		"TELEGRAM_BOT_TOKEN":      mask(c.TelegramBotToken),
		"TELEGRAM_CHAT_ID":        c.TelegramChatID,
		"ALERT_WEBHOOK_URL":       c.AlertWebhookURL,
	}
	lines := make([]string, 0, len(kv))
	for k, v := range kv {
		lines = append(lines, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(lines)
	return lines
}

// Package redis mirrors trade lifecycle events to Redis for dashboards and
// external monitors. Nothing is read back: the bot never restores state
// from Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-botv1/internal/model"
)

const (
	defaultPositionTTL = 24 * time.Hour
	defaultQueueSize   = 256
	writeTimeout       = 2 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	Symbol      string
	PositionTTL time.Duration
	QueueSize   int
}

// EventsChannel is the pub/sub channel events are published on.
func EventsChannel(symbol string) string { return "bot:events:" + symbol }

// PositionKey holds the JSON of the current open position, absent when flat.
func PositionKey(symbol string) string { return "bot:position:" + symbol }

// commander is the subset of *goredis.Client the publisher uses.
type commander interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Close() error
}

// Publisher queues events and writes them to Redis from a single goroutine,
// so Publish never blocks the caller. Writes go through a circuit breaker;
// events that cannot be queued or written are dropped and counted.
type Publisher struct {
	client commander
	cb     *CircuitBreaker
	cfg    Config

	queue     chan model.TradeEvent
	closeOnce sync.Once
	done      chan struct{}

	dropped   atomic.Uint64
	published atomic.Uint64

	// Optional metrics hook, called for every dropped event.
	OnDrop func()
}

var _ model.EventPublisher = (*Publisher)(nil)

// New connects to Redis, pings it and returns a publisher. Call Run to
// start draining the queue.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newPublisher(client, cfg), nil
}

func newPublisher(client commander, cfg Config) *Publisher {
	if cfg.PositionTTL <= 0 {
		cfg.PositionTTL = defaultPositionTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Publisher{
		client: client,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		cfg:    cfg,
		queue:  make(chan model.TradeEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Breaker exposes the circuit breaker for metrics hooks.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Publish enqueues ev. It never blocks.
func (p *Publisher) Publish(ctx context.Context, ev model.TradeEvent) {
	select {
	case <-p.done:
		p.drop()
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		p.drop()
	}
}

func (p *Publisher) drop() {
	p.dropped.Add(1)
	if p.OnDrop != nil {
		p.OnDrop()
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case ev := <-p.queue:
			if err := p.write(ctx, ev); err != nil {
				p.drop()
				if !errors.Is(err, ErrCircuitOpen) {
					log.Printf("[redis] publish %s failed: %v", ev.Type, err)
				}
				continue
			}
			p.published.Add(1)
		}
	}
}

// write publishes ev and updates the position key.
func (p *Publisher) write(ctx context.Context, ev model.TradeEvent) error {
	payload := ev.JSON()
	return p.cb.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()

		if err := p.client.Publish(wctx, EventsChannel(ev.Symbol), payload).Err(); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		key := PositionKey(ev.Symbol)
		if ev.Open {
			if err := p.client.Set(wctx, key, payload, p.cfg.PositionTTL).Err(); err != nil {
				return fmt.Errorf("set position: %w", err)
			}
			return nil
		}
		if err := p.client.Del(wctx, key).Err(); err != nil {
			return fmt.Errorf("del position: %w", err)
		}
		return nil
	})
}

// Ping checks connectivity for health reporting.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Dropped returns how many events were not written.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Published returns how many events were written.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Close stops Run and closes the client.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.client.Close()
	})
	return err
}

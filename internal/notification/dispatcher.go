package notification

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Dispatcher queues alerts and delivers them from one goroutine so callers
// never wait on the network.
type Dispatcher struct {
	n       Notifier
	queue   chan Alert
	dropped atomic.Uint64
	timeout time.Duration

	// Optional metrics hook, called for every dropped alert.
	OnDrop func()
}

// NewDispatcher creates a dispatcher with room for size pending alerts.
func NewDispatcher(n Notifier, size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{n: n, queue: make(chan Alert, size), timeout: 15 * time.Second}
}

// Notify enqueues an alert, dropping it when the queue is full.
func (d *Dispatcher) Notify(a Alert) {
	select {
	case d.queue <- a:
	default:
		d.dropped.Add(1)
		if d.OnDrop != nil {
			d.OnDrop()
		}
		log.Printf("[notify] queue full, dropped alert: %s", a.Title)
	}
}

// Dropped returns how many alerts were dropped.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			sctx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.n.Send(sctx, a); err != nil {
				log.Printf("[notify] delivery failed for %q: %v", a.Title, err)
			}
			cancel()
		}
	}
}

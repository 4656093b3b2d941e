// Package ringbuf provides a lock-free, single-producer single-consumer (SPSC)
// ring buffer for model.Tick. The price feed is the only producer and the
// tick loop the only consumer. A one-slot notify channel lets the consumer
// sleep while the ring is empty instead of spinning.
//
// The newest price always survives. A tick that finds the ring full goes to
// a single latest slot, overwriting any tick already parked there, and while
// the slot is occupied every further tick goes there too. The consumer only
// empties the slot once the ring is drained, so it is always newer than
// anything still queued.
package ringbuf

import (
	"context"
	"sync/atomic"

	"trading-botv1/internal/model"
)

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a lock-free SPSC ring buffer for Tick values.
// Size must be a power of two for fast bitwise modulo.
type Ring struct {
	buf    []model.Tick
	mask   uint64
	notify chan struct{}

	// Separate cache lines to prevent false sharing between producer and consumer.
	_pad0 [cacheLine]byte
	head  atomic.Uint64 // written by producer
	_pad1 [cacheLine]byte
	tail  atomic.Uint64 // written by consumer
	_pad2 [cacheLine]byte

	latest atomic.Pointer[model.Tick]

	// Overflow counter (atomic, for metrics)
	overflow atomic.Uint64
}

// New creates a ring buffer. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Ring {
	size := nextPow2(capacity)
	if size < 2 {
		size = 2
	}
	return &Ring{
		buf:    make([]model.Tick, size),
		mask:   uint64(size - 1),
		notify: make(chan struct{}, 1),
	}
}

// Push appends a tick. It returns false when the ring is full; the tick is
// then parked in the latest slot and counted as overflow. Non-blocking.
func (r *Ring) Push(t model.Tick) bool {
	head := r.head.Load()
	tail := r.tail.Load()

	if r.latest.Load() != nil || head-tail >= uint64(len(r.buf)) {
		r.overflow.Add(1)
		r.latest.Store(&t)
		r.wake()
		return false
	}

	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
	r.wake()
	return true
}

func (r *Ring) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Pop retrieves the next tick in arrival order, falling back to the latest
// slot once the ring is empty. Returns false if nothing is waiting. Non-blocking.
func (r *Ring) Pop() (model.Tick, bool) {
	tail := r.tail.Load()
	// Once the slot is seen occupied the producer has stopped writing the
	// ring, so the head loaded after it is final.
	parked := r.latest.Load() != nil
	head := r.head.Load()

	if tail >= head {
		if !parked {
			return model.Tick{}, false
		}
		p := r.latest.Swap(nil)
		return *p, true
	}

	t := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return t, true
}

// Next blocks until a tick is available or ctx is done.
func (r *Ring) Next(ctx context.Context) (model.Tick, error) {
	t, _, err := r.NextLatest(ctx, -1)
	return t, err
}

// NextLatest blocks like Next. When more than maxBacklog ticks are waiting it
// discards all but the newest and reports how many were skipped. A negative
// maxBacklog never coalesces.
func (r *Ring) NextLatest(ctx context.Context, maxBacklog int) (model.Tick, int, error) {
	for {
		if maxBacklog >= 0 && r.Backlog() > maxBacklog {
			if t, skipped, ok := r.drain(); ok {
				return t, skipped, nil
			}
		}
		if t, ok := r.Pop(); ok {
			return t, 0, nil
		}
		select {
		case <-ctx.Done():
			return model.Tick{}, 0, ctx.Err()
		case <-r.notify:
		}
	}
}

// drain pops until empty and returns the last tick. Bounded so a fast
// producer cannot keep the consumer here forever.
func (r *Ring) drain() (model.Tick, int, bool) {
	var last model.Tick
	n := 0
	for n <= len(r.buf) {
		t, ok := r.Pop()
		if !ok {
			break
		}
		last = t
		n++
	}
	if n == 0 {
		return model.Tick{}, 0, false
	}
	return last, n - 1, true
}

// Backlog returns the number of ticks waiting, including the latest slot.
func (r *Ring) Backlog() int {
	n := r.Len()
	if r.latest.Load() != nil {
		n++
	}
	return n
}

// Len returns the current number of items in the buffer.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflow returns how many pushes found the ring full.
func (r *Ring) Overflow() uint64 {
	return r.overflow.Load()
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

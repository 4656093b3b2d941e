package ringbuf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trading-botv1/internal/model"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4)

	if !r.Push(model.Tick{Symbol: "BTCUSDT", Price: 100}) {
		t.Fatal("push 1 should succeed")
	}
	if !r.Push(model.Tick{Symbol: "BTCUSDT", Price: 101}) {
		t.Fatal("push 2 should succeed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Price != 100 {
		t.Fatalf("expected 100, got %v ok=%v", got.Price, ok)
	}
	got, ok = r.Pop()
	if !ok || got.Price != 101 {
		t.Fatalf("expected 101, got %v ok=%v", got.Price, ok)
	}
	if _, ok = r.Pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_OverflowKeepsNewest(t *testing.T) {
	r := New(2)

	r.Push(model.Tick{Price: 1})
	r.Push(model.Tick{Price: 2})

	if r.Push(model.Tick{Price: 3}) {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 || r.Backlog() != 3 {
		t.Fatalf("overflow=%d backlog=%d, want 1 and 3", r.Overflow(), r.Backlog())
	}

	// 4 replaces 3 in the latest slot.
	r.Push(model.Tick{Price: 4})
	if got, _ := r.Pop(); got.Price != 1 {
		t.Fatalf("expected 1, got %v", got.Price)
	}
	// Room in the ring, but the slot is occupied so 5 must not jump ahead of it.
	if r.Push(model.Tick{Price: 5}) {
		t.Fatal("push while latest slot is occupied should return false")
	}

	var got []float64
	for {
		tk, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, tk.Price)
	}
	if len(got) != 2 || got[0] != 2 || got[1] != 5 {
		t.Fatalf("expected [2 5], got %v", got)
	}
	if r.Overflow() != 3 {
		t.Fatalf("expected overflow=3, got %d", r.Overflow())
	}
}

func TestRing_NextLatestCoalescesBacklog(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		r.Push(model.Tick{Price: 95})
	}
	r.Push(model.Tick{Price: 105})

	tk, skipped, err := r.NextLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("NextLatest: %v", err)
	}
	if tk.Price != 105 || skipped != 4 {
		t.Fatalf("got price=%v skipped=%d, want 105 and 4", tk.Price, skipped)
	}
	if r.Backlog() != 0 {
		t.Fatalf("backlog should be empty, got %d", r.Backlog())
	}
}

func TestRing_NextLatestInOrderUnderThreshold(t *testing.T) {
	r := New(8)
	r.Push(model.Tick{Price: 1})
	r.Push(model.Tick{Price: 2})

	for _, want := range []float64{1, 2} {
		tk, skipped, err := r.NextLatest(context.Background(), 2)
		if err != nil || tk.Price != want || skipped != 0 {
			t.Fatalf("got %v skipped=%d err=%v, want %v", tk.Price, skipped, err, want)
		}
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(model.Tick{Price: float64(round*10 + i)}) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			tk, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if tk.Price != float64(round*10+i) {
				t.Fatalf("round %d pop %d: expected %d, got %v", round, i, round*10+i, tk.Price)
			}
		}
	}
}

func TestRing_NextBlocksUntilPush(t *testing.T) {
	r := New(8)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Push(model.Tick{Price: 42})
	}()

	tk, err := r.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tk.Price != 42 {
		t.Fatalf("expected 42, got %v", tk.Price)
	}
}

func TestRing_NextHonoursContext(t *testing.T) {
	r := New(8)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := r.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(64)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer never retries: a full ring parks the tick in the latest slot.
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			r.Push(model.Tick{Price: float64(i)})
		}
	}()

	received := make([]float64, 0, count)
	go func() {
		defer wg.Done()
		ctx := context.Background()
		for len(received) == 0 || received[len(received)-1] != count-1 {
			tk, err := r.Next(ctx)
			if err == nil {
				received = append(received, tk.Price)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	for i := 1; i < len(received); i++ {
		if received[i] <= received[i-1] {
			t.Fatalf("out of order at %d: %v after %v", i, received[i], received[i-1])
		}
	}
	if lost := count - len(received); uint64(lost) > r.Overflow() {
		t.Fatalf("lost %d ticks but only %d overflowed", lost, r.Overflow())
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

package clock

import (
	"context"
	"testing"
	"time"
)

func TestVirtualAdvanceWakesWaiters(t *testing.T) {
	start := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	clk := NewVirtual(start)

	woke := make(chan time.Time, 1)
	go func() {
		clk.SleepUntil(context.Background(), start.Add(10*time.Minute))
		woke <- clk.Now()
	}()

	if !clk.AwaitWaiters(1, time.Second) {
		t.Fatal("waiter never parked")
	}

	clk.Advance(5 * time.Minute)
	select {
	case <-woke:
		t.Fatal("waiter woke before its deadline")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(5 * time.Minute)
	select {
	case at := <-woke:
		if !at.Equal(start.Add(10 * time.Minute)) {
			t.Errorf("woke at %v, want %v", at, start.Add(10*time.Minute))
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after advance past deadline")
	}
}

func TestVirtualSleepPastDeadlineReturnsImmediately(t *testing.T) {
	start := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	clk := NewVirtual(start)

	if err := clk.SleepUntil(context.Background(), start.Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVirtualSleepHonoursCancellation(t *testing.T) {
	start := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	clk := NewVirtual(start)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- clk.SleepUntil(ctx, start.Add(time.Hour))
	}()

	if !clk.AwaitWaiters(1, time.Second) {
		t.Fatal("waiter never parked")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after cancel")
	}

	if clk.WaiterCount() != 0 {
		t.Errorf("cancelled waiter still registered: %d", clk.WaiterCount())
	}
}

func TestVirtualMonotonic(t *testing.T) {
	clk := NewVirtual(time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC))
	clk.Advance(90 * time.Second)
	if got := clk.Monotonic(); got != 90*time.Second {
		t.Errorf("monotonic = %v, want 90s", got)
	}
}

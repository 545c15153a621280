package ratelimit

import (
	"testing"
	"time"
)

// fakeClock drives the limiter's notion of time in whole seconds.
type fakeClock struct {
	sec int64
}

func (c *fakeClock) now() time.Time { return time.Unix(c.sec, 0) }

func newTestLimiter(capacity, refill float64) (*Limiter, *fakeClock) {
	l := New(capacity, refill)
	clk := &fakeClock{sec: 1_000_000}
	l.now = clk.now
	return l, clk
}

func TestBurstDrainsBucketWithinOneSecond(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(5, 1)

	for i := 0; i < 5; i++ {
		if ok, _ := l.TryAcquire("user:alice"); !ok {
			t.Fatalf("request %d should succeed", i+1)
		}
	}
	ok, retry := l.TryAcquire("user:alice")
	if ok {
		t.Fatal("sixth request inside one second should be limited")
	}
	if retry != 1 {
		t.Fatalf("retry = %d, want 1", retry)
	}
}

func TestWholeSecondRefill(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(5, 2)

	for i := 0; i < 5; i++ {
		l.TryAcquire("k")
	}
	if ok, _ := l.TryAcquire("k"); ok {
		t.Fatal("bucket should be empty")
	}

	// No partial refill within the same second.
	if ok, _ := l.TryAcquire("k"); ok {
		t.Fatal("no refill should happen within the same epoch second")
	}

	clk.sec++ // one whole second: +2 tokens
	if ok, _ := l.TryAcquire("k"); !ok {
		t.Fatal("first request after refill should succeed")
	}
	if ok, _ := l.TryAcquire("k"); !ok {
		t.Fatal("second request after refill should succeed")
	}
	if ok, _ := l.TryAcquire("k"); ok {
		t.Fatal("third request should exhaust the refill")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(3, 10)

	l.TryAcquire("k")
	clk.sec += 100 // far more refill than capacity

	granted := 0
	for i := 0; i < 10; i++ {
		if ok, _ := l.TryAcquire("k"); ok {
			granted++
		}
	}
	if granted != 3 {
		t.Fatalf("granted %d after long idle, want capacity 3", granted)
	}
}

func TestSlowRefillRetryAfter(t *testing.T) {
	t.Parallel()
	// One request allowed, then a 10-second wait: capacity 1, 0.1 tokens/sec.
	l, _ := newTestLimiter(1, 0.1)

	if ok, _ := l.TryAcquire("user:carol"); !ok {
		t.Fatal("first request should succeed")
	}
	ok, retry := l.TryAcquire("user:carol")
	if ok {
		t.Fatal("second request should be limited")
	}
	if retry != 10 {
		t.Fatalf("retry = %d, want 10", retry)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(1, 1)

	if ok, _ := l.TryAcquire("user:alice"); !ok {
		t.Fatal("alice's first request should succeed")
	}
	if ok, _ := l.TryAcquire("user:alice"); ok {
		t.Fatal("alice should be limited")
	}
	if ok, _ := l.TryAcquire("user:bob"); !ok {
		t.Fatal("bob has his own bucket and should succeed")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(1, 0.1)

	l.TryAcquire("k")
	if ok, _ := l.TryAcquire("k"); ok {
		t.Fatal("should be limited before reset")
	}
	l.Reset("k")
	if ok, _ := l.TryAcquire("k"); !ok {
		t.Fatal("should succeed after reset")
	}
}

func TestCleanupRemovesOnlyIdleFullBuckets(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(2, 1)

	l.TryAcquire("idle")   // will refill to full and go idle
	l.TryAcquire("active") // same, but touched again later

	clk.sec += 301
	l.TryAcquire("active") // refreshes lastSeen

	removed := l.Cleanup()
	if removed != 1 {
		t.Fatalf("removed %d buckets, want 1", removed)
	}

	l.mu.Lock()
	_, idleExists := l.buckets["idle"]
	_, activeExists := l.buckets["active"]
	l.mu.Unlock()
	if idleExists || !activeExists {
		t.Fatalf("cleanup kept idle=%v active=%v, want idle removed and active kept", idleExists, activeExists)
	}
}

func TestDefaultsApplied(t *testing.T) {
	t.Parallel()
	l := New(0, 0)
	if l.capacity != DefaultCapacity || l.refillRate != DefaultRefillRate {
		t.Fatalf("defaults not applied: capacity=%v refill=%v", l.capacity, l.refillRate)
	}
}

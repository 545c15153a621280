// Package ratelimit implements per-caller token-bucket rate limiting for the
// HTTP surface. Buckets refill on whole elapsed seconds, so a burst of
// requests inside one second draws down the bucket without any partial
// refill, and callers get a deterministic retry-after hint.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Defaults applied when the configuration leaves them unset.
const (
	DefaultCapacity   = 100.0
	DefaultRefillRate = 10.0 // tokens per second

	// cleanupIdleAfter is how long a full bucket must sit untouched before
	// the cleanup sweep removes it.
	cleanupIdleAfter = 300 * time.Second
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill int64 // epoch seconds of the last refill calculation
	lastSeen   int64 // epoch seconds of the last acquire attempt
}

// Limiter maintains one token bucket per key. Keys are opaque caller
// identities such as "user:alice" or "ip:10.0.0.1".
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time // injectable for tests
}

// New creates a limiter. Non-positive capacity or refill rate fall back to
// the defaults.
func New(capacity, refillRate float64) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if refillRate <= 0 {
		refillRate = DefaultRefillRate
	}
	return &Limiter{
		capacity:   capacity,
		refillRate: refillRate,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: l.now().Unix()}
		l.buckets[key] = b
	}
	return b
}

// refillLocked adds tokens for the whole seconds elapsed since the last
// refill. Caller holds b.mu.
func (l *Limiter) refillLocked(b *bucket, nowSec int64) {
	elapsed := nowSec - b.lastRefill
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(l.capacity, b.tokens+float64(elapsed)*l.refillRate)
	b.lastRefill = nowSec
}

// TryAcquire attempts to take one token for key. It never blocks: the second
// return is the whole-seconds retry hint when the bucket is empty, zero when
// the acquire succeeded.
func (l *Limiter) TryAcquire(key string) (bool, int) {
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	nowSec := l.now().Unix()
	b.lastSeen = nowSec
	l.refillLocked(b, nowSec)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	retry := int(math.Ceil((1 - b.tokens) / l.refillRate))
	if retry < 1 {
		retry = 1
	}
	return false, retry
}

// Reset restores the key's bucket to full capacity.
func (l *Limiter) Reset(key string) {
	b := l.bucketFor(key)
	b.mu.Lock()
	b.tokens = l.capacity
	b.lastRefill = l.now().Unix()
	b.mu.Unlock()
}

// Cleanup removes buckets that are back at full capacity and have not been
// touched for 5 minutes. Returns the number removed.
func (l *Limiter) Cleanup() int {
	nowSec := l.now().Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		l.refillLocked(b, nowSec)
		idle := nowSec-b.lastSeen > int64(cleanupIdleAfter.Seconds())
		full := b.tokens >= l.capacity
		b.mu.Unlock()

		if idle && full {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// RunCleanup sweeps idle buckets on the given interval until stop is closed.
func (l *Limiter) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

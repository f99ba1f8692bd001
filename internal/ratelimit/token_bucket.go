package ratelimit

import (
	"sync"
	"time"
)

// clientBucket is the in-process token bucket kept for one client key.
// It starts full and refills continuously at rate tokens per second.
type clientBucket struct {
	mu       sync.Mutex
	burst    float64
	rate     float64
	tokens   float64
	lastSeen time.Time
	now      func() time.Time
}

func newClientBucket(burst, rate float64, now func() time.Time) *clientBucket {
	return &clientBucket{
		burst:    burst,
		rate:     rate,
		tokens:   burst,
		lastSeen: now(),
		now:      now,
	}
}

// take spends one token when available and reports the balance afterwards,
// read under the same lock so concurrent requests never see a stale count.
func (b *clientBucket) take() (bool, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < 1 {
		return false, b.tokens
	}
	b.tokens--
	return true, b.tokens
}

// idle reports whether the bucket has refilled to at least frac of its burst.
func (b *clientBucket) idle(frac float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens >= b.burst*frac
}

func (b *clientBucket) refillLocked() {
	t := b.now()
	elapsed := t.Sub(b.lastSeen).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.burst, b.tokens+elapsed*b.rate)
	b.lastSeen = t
}

// retryAfter is the time until one token is available at the given rate.
func retryAfter(tokens, rate float64) time.Duration {
	if tokens >= 1 || rate <= 0 {
		return 0
	}
	return time.Duration((1 - tokens) / rate * float64(time.Second))
}

package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store defines the interface for rate limit storage backends.
// Implementations can be in-memory (for single instance) or distributed (Redis).
type Store interface {
	// Allow consumes one token for key if available.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// Close releases resources.
	Close() error
}

// Limiter applies one token bucket per client key using a pluggable storage backend.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64
	logger     *zap.Logger
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Storage backend (optional, defaults to MemoryStore)
	Store Store

	RequestsPerSecond float64 // Sustained rate
	BurstSize         float64 // Burst capacity

	Logger *zap.Logger
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      float64
	Remaining  float64
	RetryAfter time.Duration
}

// DefaultConfig returns the defaults used when rate limiting is enabled without tuning.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstSize:         10,
	}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:      store,
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
		logger:     logger,
	}
}

// Allow checks whether a request for key may proceed. An empty key is always
// allowed. Store errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	d := Decision{Allowed: true, Limit: l.capacity, Remaining: l.capacity}
	if key == "" {
		return d
	}
	allowed, remaining, err := l.store.Allow(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		l.logger.Warn("rate limit store error; allowing request", zap.Error(err))
		return d
	}
	d.Allowed = allowed
	d.Remaining = remaining
	if !allowed {
		d.RetryAfter = retryAfter(remaining, l.refillRate)
	}
	return d
}

// Close releases the storage backend.
func (l *Limiter) Close() error {
	return l.store.Close()
}

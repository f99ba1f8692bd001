package ratelimit

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps an HTTP handler with per-client rate limiting.
type Middleware struct {
	limiter *Limiter
	enabled bool
	logger  *zap.Logger
	keyFunc func(*http.Request) string
	// onReject is called once per rejected request.
	onReject func(key string)
}

// NewMiddleware creates a new rate limiting middleware keyed by client IP.
func NewMiddleware(limiter *Limiter, enabled bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		limiter: limiter,
		enabled: enabled && limiter != nil,
		logger:  logger,
		keyFunc: ClientIP,
	}
}

// OnReject registers fn to be called for every rejected request.
func (m *Middleware) OnReject(fn func(key string)) {
	m.onReject = fn
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.keyFunc(r)
		d := m.limiter.Allow(r.Context(), key)
		m.addRateLimitHeaders(w, d)

		if !d.Allowed {
			m.logger.Info("rate limit exceeded", zap.String("client", key), zap.String("path", r.URL.Path))
			if m.onReject != nil {
				m.onReject(key)
			}
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded, please try again later"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// addRateLimitHeaders adds standard rate limit headers to the response.
// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(d.Remaining)))

	// when the bucket will be full again
	if d.Remaining < d.Limit && m.limiter.refillRate > 0 {
		secs := (d.Limit - d.Remaining) / m.limiter.refillRate
		reset := time.Now().Add(time.Duration(secs * float64(time.Second)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarded headers are only
// reflected here when the server rewrote RemoteAddr for a trusted proxy.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

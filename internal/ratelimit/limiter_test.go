package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 10})
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if d := limiter.Allow(ctx, "10.0.0.1"); !d.Allowed {
			t.Errorf("request %d should be allowed", i)
		}
	}

	d := limiter.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Error("11th request should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 100*time.Millisecond+time.Millisecond {
		t.Errorf("unexpected retry after %v", d.RetryAfter)
	}

	if d := limiter.Allow(ctx, "10.0.0.2"); !d.Allowed {
		t.Error("different client should be allowed")
	}
}

func TestLimiter_EmptyKey(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	defer limiter.Close()

	for i := 0; i < 5; i++ {
		if d := limiter.Allow(context.Background(), ""); !d.Allowed {
			t.Fatal("empty key should always be allowed")
		}
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, float64, float64) (bool, float64, error) {
	return false, 0, errors.New("redis down")
}
func (failingStore) Close() error { return nil }

func TestLimiter_FailsOpen(t *testing.T) {
	limiter := NewLimiter(Config{Store: failingStore{}})
	d := limiter.Allow(context.Background(), "c")
	if !d.Allowed {
		t.Error("store errors should allow the request")
	}
	if d.Remaining != d.Limit {
		t.Errorf("expected full capacity reported on error, got %f of %f", d.Remaining, d.Limit)
	}
}

func TestDefaultConfig(t *testing.T) {
	limiter := NewLimiter(Config{})
	defer limiter.Close()
	if limiter.capacity != 10 || limiter.refillRate != 5 {
		t.Errorf("unexpected defaults burst=%f rate=%f", limiter.capacity, limiter.refillRate)
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStoreWithCleanup(50 * time.Millisecond)
	defer store.Close()

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		store.Allow(ctx, key, 100, 100)
	}
	if n := activeBuckets(store); n != 3 {
		t.Errorf("expected 3 active buckets, got %d", n)
	}

	time.Sleep(200 * time.Millisecond)

	if n := activeBuckets(store); n != 0 {
		t.Errorf("expected 0 active buckets after cleanup, got %d", n)
	}
	// Close is idempotent
	store.Close()
}

func activeBuckets(s *MemoryStore) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

func TestMemoryStore_ReportsBalance(t *testing.T) {
	store := NewMemoryStoreWithCleanup(0)
	defer store.Close()
	ctx := context.Background()

	for want := 2.0; want >= 0; want-- {
		allowed, remaining, err := store.Allow(ctx, "k", 3, 0)
		if err != nil || !allowed || remaining != want {
			t.Fatalf("Allow = %v %v %v, want true %v", allowed, remaining, err, want)
		}
	}
	if allowed, remaining, _ := store.Allow(ctx, "k", 3, 0); allowed || remaining != 0 {
		t.Fatalf("exhausted bucket: allowed=%v remaining=%v", allowed, remaining)
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.01, BurstSize: 2})
	defer limiter.Close()
	m := NewMiddleware(limiter, true, nil)
	var rejected []string
	m.OnReject(func(key string) { rejected = append(rejected, key) })
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/action", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("192.0.2.1:5000"); rec.Code != http.StatusNoContent || rec.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("first: code=%d remaining=%q", rec.Code, rec.Header().Get("X-RateLimit-Remaining"))
	}
	do("192.0.2.1:5001")
	rec := do("192.0.2.1:5002")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing rate limit headers: %v", rec.Header())
	}
	if len(rejected) != 1 || rejected[0] != "192.0.2.1" {
		t.Fatalf("reject hook calls = %v", rejected)
	}
	if rec := do("198.51.100.7:5000"); rec.Code != http.StatusNoContent {
		t.Fatalf("other client should pass, got %d", rec.Code)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	m := NewMiddleware(nil, true, nil)
	if h := m.Wrap(next); h == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"203.0.113.9":       "203.0.113.9",
	}
	for addr, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		if got := ClientIP(r); got != want {
			t.Errorf("ClientIP(%q) = %q, want %q", addr, got, want)
		}
	}
}

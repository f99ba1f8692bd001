package testutil

import (
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
)

// Provider is a stand-in model provider API listening on 127.0.0.1. Point an
// adapter's base URL at URL. The server is shut down when the test ends.
type Provider struct {
	URL string

	srv  *http.Server
	hits atomic.Int64
}

// NewProvider serves handler until the test finishes. Tests are skipped on
// hosts without IPv4 loopback.
func NewProvider(t testing.TB, handler http.Handler) *Provider {
	t.Helper()
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 loopback unavailable: %v", err)
	}
	p := &Provider{URL: "http://" + l.Addr().String()}
	p.srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		handler.ServeHTTP(w, r)
	})}
	go func() {
		if err := p.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fake provider: %v", err)
		}
	}()
	t.Cleanup(p.Close)
	return p
}

// Hits is the number of requests the provider has received.
func (p *Provider) Hits() int {
	return int(p.hits.Load())
}

// Close stops the listener and drops open streams. Calling it more than once
// is harmless, so a test may take the provider down early to simulate an outage.
func (p *Provider) Close() {
	_ = p.srv.Close()
}

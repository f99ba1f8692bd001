package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // upstream, cache
	CheckResult
}

// Upstream is a model provider endpoint probed for reachability.
type Upstream struct {
	Name    string
	BaseURL string
}

// Pinger is implemented by optional backing services such as the Redis rate limit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs health checks on system components.
type Checker struct {
	upstreams []Upstream
	caches    map[string]Pinger
	client    *http.Client

	httpTimeout time.Duration
	pingTimeout time.Duration
}

// Config holds health checker configuration.
type Config struct {
	Upstreams []Upstream
	Caches    map[string]Pinger

	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	PingTimeout time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Checker{
		upstreams:   cfg.Upstreams,
		caches:      cfg.Caches,
		client:      client,
		httpTimeout: cfg.HTTPTimeout,
		pingTimeout: cfg.PingTimeout,
	}
}

// Check probes every component concurrently and returns the overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	components := make([]Component, len(c.upstreams), len(c.upstreams)+len(c.caches))
	var g errgroup.Group
	for i, up := range c.upstreams {
		g.Go(func() error {
			components[i] = c.checkHTTPEndpoint(ctx, up.Name, up.BaseURL)
			return nil
		})
	}

	var mu sync.Mutex
	for name, p := range c.caches {
		g.Go(func() error {
			comp := c.checkPinger(ctx, name, p)
			mu.Lock()
			components = append(components, comp)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return c.calculateOverallStatus(components)
}

func (c *Checker) checkPinger(ctx context.Context, name string, p Pinger) Component {
	comp := Component{Name: name, Type: "cache", CheckResult: CheckResult{Timestamp: time.Now()}}

	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pingCtx)
	comp.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Unreachable"
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "Connected"
	return comp
}

// checkHTTPEndpoint sends a HEAD request to baseURL. No tokens are spent and
// no credentials are sent.
func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, baseURL string) Component {
	comp := Component{Name: name, Type: "upstream", CheckResult: CheckResult{Timestamp: time.Now()}}

	if baseURL == "" {
		comp.Status = StatusHealthy
		comp.Message = "Not configured"
		return comp
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}

	resp, err := c.client.Do(req)
	comp.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	resp.Body.Close()

	// Any HTTP answer (even 401/404) means the provider is reachable.
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// calculateOverallStatus is unhealthy when no upstream is reachable and
// degraded when any single component is not healthy.
func (c *Checker) calculateOverallStatus(components []Component) HealthStatus {
	overall := StatusHealthy
	upstreams, reachable := 0, 0

	for _, comp := range components {
		if comp.Type == "upstream" {
			upstreams++
			if comp.Status == StatusHealthy {
				reachable++
			}
		}
		if comp.Status != StatusHealthy {
			overall = StatusDegraded
		}
	}
	if upstreams > 0 && reachable == 0 {
		overall = StatusUnhealthy
	}

	return HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

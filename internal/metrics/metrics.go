package metrics

import (
	"sync"
	"time"
)

// Collector collects and exports metrics in Prometheus text format.
// Counters are kept in plain maps keyed by label value.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64

	rateLimitHits int64

	// Stream relay metrics
	streamsTotal       int64
	streamChunks       int64
	streamErrors       int64
	streamDisconnects  int64
	streamFirstTokenMs int64 // sum of time to first token
	streamFirstTokenN  int64

	// Classifier outcomes, keyed "kind/outcome" (e.g. action/send, suggestions/empty)
	classifierOutcomes map[string]int64

	// Upstream calls by logical call (chat, suggestions, action)
	upstreamRequests map[string]int64
	upstreamErrors   map[string]int64
	upstreamLatency  map[string]int64

	// Secrets caught in outbound messages, by type
	firewallDetections map[string]int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		classifierOutcomes: make(map[string]int64),
		upstreamRequests:   make(map[string]int64),
		upstreamErrors:     make(map[string]int64),
		upstreamLatency:    make(map[string]int64),
		firewallDetections: make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a finished request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error response for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// StreamOutcome summarises one relayed SSE stream.
type StreamOutcome struct {
	Chunks       int
	FirstToken   time.Duration // zero when no chunk arrived
	Errored      bool
	Disconnected bool
}

// RecordStream records a finished stream relay.
func (c *Collector) RecordStream(o StreamOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsTotal++
	c.streamChunks += int64(o.Chunks)
	if o.Errored {
		c.streamErrors++
	}
	if o.Disconnected {
		c.streamDisconnects++
	}
	if o.FirstToken > 0 {
		c.streamFirstTokenMs += o.FirstToken.Milliseconds()
		c.streamFirstTokenN++
	}
}

// RecordClassifierOutcome counts a parsed classifier result.
func (c *Collector) RecordClassifierOutcome(kind, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.classifierOutcomes[kind+"/"+outcome]++
}

// RecordUpstream records a call to the model provider.
func (c *Collector) RecordUpstream(call string, duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.upstreamRequests[call]++
	c.upstreamLatency[call] += duration.Milliseconds()
	if err != nil {
		c.upstreamErrors[call]++
	}
}

// RecordFirewallDetection counts a secret found in an outbound message.
func (c *Collector) RecordFirewallDetection(secretType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.firewallDetections[secretType]++
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64
	RateLimitHits      int64
	StreamsTotal       int64
	StreamChunks       int64
	StreamErrors       int64
	StreamDisconnects  int64
	StreamFirstTokenMs int64
	StreamFirstTokenN  int64
	ClassifierOutcomes map[string]int64
	UpstreamRequests   map[string]int64
	UpstreamErrors     map[string]int64
	UpstreamLatency    map[string]int64
	FirewallDetections map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:             int64(time.Since(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		RateLimitHits:      c.rateLimitHits,
		StreamsTotal:       c.streamsTotal,
		StreamChunks:       c.streamChunks,
		StreamErrors:       c.streamErrors,
		StreamDisconnects:  c.streamDisconnects,
		StreamFirstTokenMs: c.streamFirstTokenMs,
		StreamFirstTokenN:  c.streamFirstTokenN,
		ClassifierOutcomes: copyMap(c.classifierOutcomes),
		UpstreamRequests:   copyMap(c.upstreamRequests),
		UpstreamErrors:     copyMap(c.upstreamErrors),
		UpstreamLatency:    copyMap(c.upstreamLatency),
		FirewallDetections: copyMap(c.firewallDetections),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

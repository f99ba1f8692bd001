package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart("chat")
	c.RecordRequest("chat", 1500*time.Millisecond)
	c.RecordRequestEnd("chat")
	c.RecordError("action")
	c.RecordRateLimitHit()
	c.RecordStream(StreamOutcome{Chunks: 12, FirstToken: 300 * time.Millisecond})
	c.RecordStream(StreamOutcome{Errored: true})
	c.RecordStream(StreamOutcome{Chunks: 2, FirstToken: 100 * time.Millisecond, Disconnected: true})
	c.RecordClassifierOutcome("action", "send")
	c.RecordUpstream("suggestions", 200*time.Millisecond, nil)
	c.RecordUpstream("suggestions", 100*time.Millisecond, errors.New("503"))

	snap := c.GetSnapshot()
	if snap.TotalRequests["chat"] != 1 || snap.TotalRequestsDur["chat"] != 1500 {
		t.Fatalf("unexpected request counters %+v", snap)
	}
	if snap.RequestsInProgress["chat"] != 0 {
		t.Fatalf("in-progress should return to zero")
	}
	if snap.StreamsTotal != 3 || snap.StreamChunks != 14 || snap.StreamErrors != 1 || snap.StreamDisconnects != 1 {
		t.Fatalf("unexpected stream counters %+v", snap)
	}
	if snap.StreamFirstTokenN != 2 || snap.StreamFirstTokenMs != 400 {
		t.Fatalf("unexpected first token counters %+v", snap)
	}
	if snap.UpstreamRequests["suggestions"] != 2 || snap.UpstreamErrors["suggestions"] != 1 || snap.UpstreamLatency["suggestions"] != 300 {
		t.Fatalf("unexpected upstream counters %+v", snap)
	}

	// snapshot maps are copies
	snap.TotalRequests["chat"] = 99
	if c.GetSnapshot().TotalRequests["chat"] != 1 {
		t.Fatal("snapshot shares state with collector")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("suggestions", 10*time.Millisecond)
	c.RecordRequestStart("chat")
	c.RecordRequestStart("action")
	c.RecordRequestEnd("action")
	c.RecordClassifierOutcome("action", "none")
	c.RecordUpstream(`we"ird`, time.Millisecond, nil)
	c.RecordFirewallDetection("MNEMONIC")

	out := FormatPrometheus(c.GetSnapshot())
	for _, want := range []string{
		"# TYPE walletchat_uptime_seconds gauge",
		`walletchat_requests_total{endpoint="suggestions"} 1`,
		`walletchat_requests_in_progress{endpoint="chat"} 1`,
		`walletchat_classifier_outcomes_total{kind="action",outcome="none"} 1`,
		`walletchat_upstream_requests_total{call="we\"ird"} 1`,
		"walletchat_streams_total 0",
		`walletchat_firewall_detections_total{type="MNEMONIC"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, `walletchat_requests_in_progress{endpoint="action"}`) {
		t.Error("idle endpoints should not be listed as in progress")
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest("chat", time.Millisecond)
			c.RecordStream(StreamOutcome{Chunks: 1})
			_ = FormatPrometheus(c.GetSnapshot())
		}()
	}
	wg.Wait()
	if got := c.GetSnapshot().TotalRequests["chat"]; got != 50 {
		t.Fatalf("expected 50 requests, got %d", got)
	}
}

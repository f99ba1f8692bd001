package metrics

import (
	"fmt"
	"sort"
	"strings"
)

const namespace = "walletchat"

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	scalar(&sb, "uptime_seconds", "gauge", "Time since walletchat started", snap.Uptime)

	labelled(&sb, "requests_total", "counter", "Total number of requests by endpoint", "endpoint", snap.TotalRequests, false)
	labelled(&sb, "request_errors_total", "counter", "Total number of error responses by endpoint", "endpoint", snap.RequestErrors, false)
	labelled(&sb, "requests_in_progress", "gauge", "Current number of requests being processed", "endpoint", snap.RequestsInProgress, true)
	labelled(&sb, "request_duration_ms_total", "counter", "Total request duration in milliseconds", "endpoint", snap.TotalRequestsDur, false)

	scalar(&sb, "rate_limit_hits_total", "counter", "Total number of rate limit rejections", snap.RateLimitHits)

	scalar(&sb, "streams_total", "counter", "Chat streams relayed", snap.StreamsTotal)
	scalar(&sb, "stream_chunks_total", "counter", "Content chunks written to chat streams", snap.StreamChunks)
	scalar(&sb, "stream_errors_total", "counter", "Chat streams that ended with an error event", snap.StreamErrors)
	scalar(&sb, "stream_client_disconnects_total", "counter", "Chat streams cancelled by the client", snap.StreamDisconnects)
	scalar(&sb, "stream_first_token_ms_total", "counter", "Sum of time to first token in milliseconds", snap.StreamFirstTokenMs)
	scalar(&sb, "stream_first_token_count", "counter", "Streams that produced a first token", snap.StreamFirstTokenN)

	outcomes := make(map[string]int64, len(snap.ClassifierOutcomes))
	for k, v := range snap.ClassifierOutcomes {
		outcomes[k] = v
	}
	fmt.Fprintf(&sb, "# HELP %s_classifier_outcomes_total Classifier results by kind and outcome\n", namespace)
	fmt.Fprintf(&sb, "# TYPE %s_classifier_outcomes_total counter\n", namespace)
	for _, key := range sortedKeys(outcomes) {
		kind, outcome, _ := strings.Cut(key, "/")
		fmt.Fprintf(&sb, "%s_classifier_outcomes_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			namespace, escapeLabel(kind), escapeLabel(outcome), outcomes[key])
	}
	sb.WriteString("\n")

	labelled(&sb, "upstream_requests_total", "counter", "Model provider calls by logical call", "call", snap.UpstreamRequests, false)
	labelled(&sb, "upstream_errors_total", "counter", "Failed model provider calls by logical call", "call", snap.UpstreamErrors, false)
	labelled(&sb, "upstream_latency_ms_total", "counter", "Model provider latency in milliseconds", "call", snap.UpstreamLatency, false)

	labelled(&sb, "firewall_detections_total", "counter", "Wallet secrets detected in outbound messages by type", "type", snap.FirewallDetections, false)

	return sb.String()
}

func scalar(sb *strings.Builder, name, kind, help string, value int64) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
	fmt.Fprintf(sb, "%s_%s %d\n\n", namespace, name, value)
}

func labelled(sb *strings.Builder, name, kind, help, label string, values map[string]int64, positiveOnly bool) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
	for _, key := range sortedKeys(values) {
		v := values[key]
		if positiveOnly && v <= 0 {
			continue
		}
		fmt.Fprintf(sb, "%s_%s{%s=\"%s\"} %d\n", namespace, name, label, escapeLabel(key), v)
	}
	sb.WriteString("\n")
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

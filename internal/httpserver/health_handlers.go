package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/walletchat/internal/health"
	"github.com/tokligence/walletchat/internal/metrics"
)

// HandleHealth is the liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime_s":   int64(time.Since(s.startedAt).Seconds()),
		"chat_model": s.assistant.ChatModel(),
	}
	if s.version != "" {
		payload["version"] = s.version
	}
	if s.routes != nil {
		payload["adapters"] = s.routes.ListAdapters()
		payload["routes"] = s.routes.ListRoutes()
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// HandleReady probes upstream providers and caches. It answers 503 only when
// no upstream is reachable.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, health.HealthStatus{Status: health.StatusHealthy, Timestamp: time.Now()})
		return
	}
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

// HandleMetrics serves counters in the Prometheus text exposition format.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}

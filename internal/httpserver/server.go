package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/assistant"
	"github.com/tokligence/walletchat/internal/health"
	"github.com/tokligence/walletchat/internal/httpserver/protocol"
	"github.com/tokligence/walletchat/internal/metrics"
	"github.com/tokligence/walletchat/internal/ratelimit"
)

var defaultEndpointKeys = []string{"wallet", "health", "metrics"}

// DefaultMaxBodyBytes caps request bodies when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 1 << 20

// Assistant describes the wallet chat operations required by the HTTP layer.
type Assistant interface {
	StreamChat(ctx context.Context, in assistant.ChatInput) (<-chan adapter.StreamEvent, error)
	Suggest(ctx context.Context, in assistant.SuggestionInput) ([]string, error)
	DetectAction(ctx context.Context, in assistant.ActionInput) (assistant.Action, error)
	ChatModel() string
}

// RouteLister exposes the model routing table for the liveness payload.
type RouteLister interface {
	ListAdapters() []string
	ListRoutes() map[string]string
}

// Config wires a Server.
type Config struct {
	Assistant Assistant
	Metrics   *metrics.Collector
	Health    *health.Checker
	RateLimit *ratelimit.Middleware
	Routes    RouteLister
	Logger    *zap.Logger

	Version            string
	MaxBodyBytes       int64
	SSEPingInterval    time.Duration
	CORSAllowedOrigins []string
	// TrustedProxies lists peers whose X-Forwarded-For / X-Real-IP headers are
	// honoured. Requests from any other peer are identified by their socket address.
	TrustedProxies []netip.Prefix
	// EndpointKeys selects endpoint groups; empty means all of them.
	EndpointKeys []string
}

// Server exposes the wallet chat REST and SSE endpoints.
type Server struct {
	assistant Assistant
	metrics   *metrics.Collector
	health    *health.Checker
	rateLimit *ratelimit.Middleware
	routes    RouteLister
	logger    *zap.Logger

	version         string
	maxBodyBytes    int64
	ssePingInterval time.Duration
	corsOrigins     []string
	trustedProxies  []netip.Prefix
	endpointKeys    []string
	startedAt       time.Time
}

// New builds a Server. Assistant is required.
func New(cfg Config) (*Server, error) {
	if cfg.Assistant == nil {
		return nil, errors.New("httpserver: assistant required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.SSEPingInterval < 0 {
		cfg.SSEPingInterval = 0
	}
	s := &Server{
		assistant:       cfg.Assistant,
		metrics:         cfg.Metrics,
		health:          cfg.Health,
		rateLimit:       cfg.RateLimit,
		routes:          cfg.Routes,
		logger:          cfg.Logger,
		version:         cfg.Version,
		maxBodyBytes:    cfg.MaxBodyBytes,
		ssePingInterval: cfg.SSEPingInterval,
		corsOrigins:     cfg.CORSAllowedOrigins,
		trustedProxies:  cfg.TrustedProxies,
		endpointKeys:    normalizeEndpointKeys(cfg.EndpointKeys, defaultEndpointKeys),
		startedAt:       time.Now(),
	}
	if s.rateLimit != nil {
		s.rateLimit.OnReject(func(string) { s.metrics.RecordRateLimitHit() })
	}
	return s, nil
}

// Router returns the HTTP handler serving every selected endpoint.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.realIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: zap.NewStdLog(s.logger), NoColor: true}))
	r.Use(middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			MaxAge:         300,
		}))
	}
	return r
}

// realIP applies chi's RealIP only to requests arriving from a trusted proxy,
// so clients cannot pick their own rate-limit key with forwarded headers.
func (s *Server) realIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.fromTrustedProxy(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fromTrustedProxy(remoteAddr string) bool {
	if len(s.trustedProxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.logger.Debug("registering endpoint", zap.String("endpoint", ep.Name()))
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	for _, key := range keys {
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.logger.Debug("endpoint unavailable, skipping registration", zap.String("endpoint", key))
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "wallet", "api":
		return newWalletEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		return append([]string(nil), defaults...)
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, key := range list {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	if len(out) == 0 {
		return append([]string(nil), defaults...)
	}
	return out
}

// instrument records request count, latency and errors for a named endpoint.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RecordRequestStart(name)
		defer s.metrics.RecordRequestEnd(name)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.metrics.RecordRequest(name, time.Since(start))
		if ww.Status() >= http.StatusBadRequest {
			s.metrics.RecordError(name)
		}
	})
}

// limited applies the per-client rate limit when one is configured.
func (s *Server) limited(next http.Handler) http.Handler {
	if s.rateLimit == nil {
		return next
	}
	return s.rateLimit.Wrap(next)
}

// compressed gzips JSON responses for clients that accept it. Never wrap SSE routes.
func compressed(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// decodeJSON reads a size-capped JSON body into v. The returned status is
// meaningful only when err is non-nil.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return http.StatusBadRequest, errors.New("invalid JSON body: " + err.Error())
	}
	return 0, nil
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, assistant.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, assistant.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/walletchat.ini"
	envPrefix        = "WALLETCHAT_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the walletchat daemon.
type Config struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// Upstream providers
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIOrg     string
	GeminiAPIKey  string
	GeminiBaseURL string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string

	// Models used for the three logical calls
	ChatModel       string
	SuggestionModel string
	ActionModel     string
	ChatTemperature *float64
	ChatMaxTokens   int

	// Routing rules in declaration order (pattern => adapter)
	Routes            []RouteRule
	RequestTimeout    time.Duration
	ClassifierRetries int

	PromptsFile  string
	PromptsWatch bool

	MaxSuggestions     int
	MaxHistoryMessages int
	MaxBodyBytes       int64
	SSEPingInterval    time.Duration

	ShutdownTimeout  time.Duration
	ForceExitTimeout time.Duration

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitStore   string // memory|redis
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	CORSAllowedOrigins []string

	// TrustedProxies are the peers allowed to set X-Forwarded-For / X-Real-IP (IPs or CIDRs)
	TrustedProxies []netip.Prefix

	// FirewallMode controls secret screening of outbound messages: monitor|redact|enforce|disabled
	FirewallMode string
}

// RouteRule captures an ordered pattern => target mapping while preserving declaration order.
type RouteRule struct {
	Pattern string
	Target  string
}

// Load reads the current environment and layers setting.ini, the environment
// file and WALLETCHAT_* variables, in that order. A .env file in root is
// loaded into the process environment first without overriding existing vars.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string) string {
		return firstNonEmpty(os.Getenv(envPrefix+strings.ToUpper(key)), merged[key])
	}

	cfg := Config{
		Environment:        s.Environment,
		HTTPAddress:        firstNonEmpty(get("http_address"), ":8080"),
		LogFile:            get("log_file"),
		LogLevel:           strings.ToLower(firstNonEmpty(get("log_level"), "info")),
		OpenAIAPIKey:       firstNonEmpty(get("openai_api_key"), os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      get("openai_base_url"),
		OpenAIOrg:          get("openai_org"),
		GeminiAPIKey:       firstNonEmpty(get("gemini_api_key"), os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:      get("gemini_base_url"),
		AnthropicAPIKey:    firstNonEmpty(get("anthropic_api_key"), os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicBaseURL:   get("anthropic_base_url"),
		AnthropicVersion:   get("anthropic_version"),
		ChatModel:          firstNonEmpty(get("chat_model"), "gpt-4o-mini"),
		Routes:             parseRouteList(get("routes")),
		PromptsFile:        get("prompts_file"),
		PromptsWatch:       parseBool(get("prompts_watch")),
		RateLimitEnabled:   parseBool(get("rate_limit_enabled")),
		RateLimitStore:     strings.ToLower(firstNonEmpty(get("rate_limit_store"), "memory")),
		RedisAddr:          firstNonEmpty(get("redis_addr"), "localhost:6379"),
		RedisPassword:      get("redis_password"),
		CORSAllowedOrigins: parseCSV(get("cors_allowed_origins")),
		FirewallMode:       strings.ToLower(firstNonEmpty(get("firewall_mode"), "redact")),
	}
	cfg.SuggestionModel = firstNonEmpty(get("suggestion_model"), cfg.ChatModel)
	cfg.ActionModel = firstNonEmpty(get("action_model"), cfg.ChatModel)

	var errs []error
	if v := get("chat_temperature"); v != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || parsed < 0 || parsed > 2 {
			errs = append(errs, fmt.Errorf("invalid chat_temperature %q", v))
		} else {
			cfg.ChatTemperature = &parsed
		}
	}
	if v := get("rate_limit_rps"); v != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || parsed <= 0 {
			errs = append(errs, fmt.Errorf("invalid rate_limit_rps %q", v))
		} else {
			cfg.RateLimitRPS = parsed
		}
	} else {
		cfg.RateLimitRPS = 5
	}

	ints := []struct {
		key      string
		dst      *int
		fallback int
		min      int
	}{
		{"chat_max_tokens", &cfg.ChatMaxTokens, 0, 0},
		{"classifier_retries", &cfg.ClassifierRetries, 2, 0},
		{"max_suggestions", &cfg.MaxSuggestions, 3, 1},
		{"max_history_messages", &cfg.MaxHistoryMessages, 50, 1},
		{"rate_limit_burst", &cfg.RateLimitBurst, 10, 1},
		{"redis_db", &cfg.RedisDB, 0, 0},
	}
	for _, it := range ints {
		v, err := parseStrictInt(get(it.key), it.fallback)
		if err != nil || v < it.min {
			errs = append(errs, fmt.Errorf("invalid %s %q", it.key, get(it.key)))
			continue
		}
		*it.dst = v
	}
	bodyBytes, err := parseStrictInt(get("max_body_bytes"), 1<<20)
	if err != nil || bodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid max_body_bytes %q", get("max_body_bytes")))
	}
	cfg.MaxBodyBytes = int64(bodyBytes)

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"request_timeout", &cfg.RequestTimeout, 60 * time.Second},
		{"sse_ping_interval", &cfg.SSEPingInterval, 15 * time.Second},
		{"shutdown_timeout", &cfg.ShutdownTimeout, 10 * time.Second},
		{"force_exit_timeout", &cfg.ForceExitTimeout, 15 * time.Second},
	}
	for _, d := range durations {
		v, err := parseDuration(get(d.key), d.fallback)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", d.key, get(d.key), err))
			continue
		}
		*d.dst = v
	}

	switch cfg.RateLimitStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("invalid rate_limit_store %q (want memory or redis)", cfg.RateLimitStore))
	}
	proxies, err := parsePrefixes(get("trusted_proxies"))
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid trusted_proxies: %w", err))
	}
	cfg.TrustedProxies = proxies

	switch cfg.FirewallMode {
	case "monitor", "redact", "enforce", "disabled":
	default:
		errs = append(errs, fmt.Errorf("invalid firewall_mode %q (want monitor, redact, enforce or disabled)", cfg.FirewallMode))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HasProvider reports whether at least one hosted provider key is configured.
func (c Config) HasProvider() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != "" ||
		strings.TrimSpace(c.GeminiAPIKey) != "" ||
		strings.TrimSpace(c.AnthropicAPIKey) != ""
}

func loadSettings(root string) (Settings, error) {
	path := filepath.Join(root, settingsFile)
	values, err := parseINI(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			values = map[string]string{}
		} else {
			return Settings{}, err
		}
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseStrictInt(v string, fallback int) (int, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

func parseDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parsePrefixes reads a comma separated list of CIDRs or bare addresses.
func parsePrefixes(input string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range parseCSV(input) {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

// parseRouteList preserves ordering for pattern=>target rules (comma or newline separated).
// Format examples:
//
//	gpt-* = openai, gemini-* = gemini, loopback = loopback
//	gpt-*=>openai\ngemini-2.0-flash=>gemini
func parseRouteList(input string) []RouteRule {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var rules []RouteRule
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			var kv []string
			if strings.Contains(entry, "=>") {
				kv = strings.SplitN(entry, "=>", 2)
			} else {
				kv = strings.SplitN(entry, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			pattern := strings.TrimSpace(kv[0])
			target := strings.TrimSpace(kv[1])
			if pattern == "" || target == "" {
				continue
			}
			rules = append(rules, RouteRule{Pattern: pattern, Target: target})
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

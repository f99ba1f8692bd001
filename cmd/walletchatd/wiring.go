package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/adapter"
	adapteranthropic "github.com/tokligence/walletchat/internal/adapter/anthropic"
	"github.com/tokligence/walletchat/internal/adapter/fallback"
	adaptergemini "github.com/tokligence/walletchat/internal/adapter/gemini"
	"github.com/tokligence/walletchat/internal/adapter/loopback"
	adapteropenai "github.com/tokligence/walletchat/internal/adapter/openai"
	adapterrouter "github.com/tokligence/walletchat/internal/adapter/router"
	"github.com/tokligence/walletchat/internal/config"
	"github.com/tokligence/walletchat/internal/health"
	"github.com/tokligence/walletchat/internal/ratelimit"
)

// providers is the adapter graph built from config.
type providers struct {
	router     *adapterrouter.Router
	classifier adapter.ChatAdapter
	upstreams  []health.Upstream
}

func buildProviders(ctx context.Context, cfg config.Config, logger *zap.Logger) (*providers, error) {
	r := adapterrouter.New()
	if err := r.RegisterAdapter("loopback", loopback.New()); err != nil {
		return nil, err
	}

	var upstreams []health.Upstream
	var openaiRegistered, geminiRegistered, anthropicRegistered bool
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		oa, err := adapteropenai.New(adapteropenai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Organization:   cfg.OpenAIOrg,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := r.RegisterAdapter("openai", oa); err != nil {
			return nil, err
		}
		openaiRegistered = true
		upstreams = append(upstreams, health.Upstream{Name: "openai", BaseURL: oa.BaseURL()})
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		ga, err := adaptergemini.New(ctx, adaptergemini.Config{
			APIKey:         cfg.GeminiAPIKey,
			BaseURL:        cfg.GeminiBaseURL,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := r.RegisterAdapter("gemini", ga); err != nil {
			return nil, err
		}
		geminiRegistered = true
		upstreams = append(upstreams, health.Upstream{Name: "gemini", BaseURL: ga.BaseURL()})
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		aa, err := adapteranthropic.New(adapteranthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			BaseURL:        cfg.AnthropicBaseURL,
			Version:        cfg.AnthropicVersion,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := r.RegisterAdapter("anthropic", aa); err != nil {
			return nil, err
		}
		anthropicRegistered = true
		upstreams = append(upstreams, health.Upstream{Name: "anthropic", BaseURL: aa.BaseURL()})
	}

	if len(cfg.Routes) > 0 {
		for _, rule := range cfg.Routes {
			if err := r.RegisterRoute(rule.Pattern, rule.Target); err != nil {
				return nil, fmt.Errorf("route %q=>%q: %w", rule.Pattern, rule.Target, err)
			}
		}
	} else {
		_ = r.RegisterRoute("loopback*", "loopback")
		if openaiRegistered {
			for _, p := range []string{"gpt-*", "o1*", "o3*", "o4*", "chatgpt-*"} {
				_ = r.RegisterRoute(p, "openai")
			}
		}
		if geminiRegistered {
			_ = r.RegisterRoute("gemini-*", "gemini")
		}
		if anthropicRegistered {
			_ = r.RegisterRoute("claude-*", "anthropic")
		}
	}

	// Unrouted models go to the first hosted provider; loopback only when none is configured.
	fallbackName := "loopback"
	switch {
	case openaiRegistered:
		fallbackName = "openai"
	case geminiRegistered:
		fallbackName = "gemini"
	case anthropicRegistered:
		fallbackName = "anthropic"
	}
	if !cfg.HasProvider() {
		logger.Warn("no provider key configured; replies come from the loopback adapter")
	}
	if err := r.SetFallback(fallbackName); err != nil {
		return nil, err
	}

	// Each task model must land on a registered adapter.
	served := make(map[string]string, 3)
	for task, model := range map[string]string{
		"chat":       cfg.ChatModel,
		"suggestion": cfg.SuggestionModel,
		"action":     cfg.ActionModel,
	} {
		if strings.TrimSpace(model) == "" {
			continue
		}
		name, err := r.AdapterFor(model)
		if err != nil {
			return nil, fmt.Errorf("%s model %q: %w", task, model, err)
		}
		served[task] = model + " => " + name
	}

	retries := cfg.ClassifierRetries
	if retries == 0 {
		retries = -1
	}
	classifier, err := fallback.New(fallback.Config{
		Adapters:   []adapter.ChatAdapter{r},
		RetryCount: retries,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("model routing configured",
		zap.Strings("adapters", r.ListAdapters()),
		zap.Any("routes", r.ListRoutes()),
		zap.String("fallback", fallbackName),
		zap.Any("models", served),
	)
	return &providers{router: r, classifier: classifier, upstreams: upstreams}, nil
}

func buildRateLimitStore(ctx context.Context, cfg config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimitStore {
	case "redis":
		return ratelimit.NewRedisStore(ctx, ratelimit.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return ratelimit.NewMemoryStore(), nil
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/assistant"
	"github.com/tokligence/walletchat/internal/config"
	"github.com/tokligence/walletchat/internal/firewall"
	"github.com/tokligence/walletchat/internal/health"
	"github.com/tokligence/walletchat/internal/httpserver"
	"github.com/tokligence/walletchat/internal/logging"
	"github.com/tokligence/walletchat/internal/metrics"
	"github.com/tokligence/walletchat/internal/prompt"
	"github.com/tokligence/walletchat/internal/ratelimit"
	"github.com/tokligence/walletchat/internal/version"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configRoot)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.LogLevel, resolvePath(configRoot, cfg.LogFile))
	if err != nil {
		return err
	}
	defer closer.Close()
	defer zap.RedirectStdLog(logger)()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting walletchatd",
		zap.String("version", version.Info()),
		zap.String("environment", cfg.Environment),
		zap.String("addr", cfg.HTTPAddress),
	)

	prompts, err := prompt.NewStore(resolvePath(configRoot, cfg.PromptsFile), logger.Named("prompt"))
	if err != nil {
		return err
	}

	prov, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc, err := assistant.New(assistant.Config{
		ChatModel:          cfg.ChatModel,
		SuggestionModel:    cfg.SuggestionModel,
		ActionModel:        cfg.ActionModel,
		ChatTemperature:    cfg.ChatTemperature,
		ChatMaxTokens:      cfg.ChatMaxTokens,
		MaxSuggestions:     cfg.MaxSuggestions,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
	}, prompts, prov.router, prov.classifier, logger.Named("assistant"))
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	mode, err := firewall.ParseMode(cfg.FirewallMode)
	if err != nil {
		return err
	}
	if mode != firewall.ModeDisabled {
		guard := firewall.NewDefaultPipeline(mode, logger.Named("firewall"))
		guard.OnDetect(func(d firewall.Detection) { collector.RecordFirewallDetection(d.Type) })
		svc.SetGuard(guard)
		logger.Info("secret firewall enabled", zap.String("mode", string(mode)), zap.Strings("filters", guard.Filters()))
	}

	caches := map[string]health.Pinger{}
	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		store, err := buildRateLimitStore(ctx, cfg)
		if err != nil {
			return err
		}
		if p, ok := store.(health.Pinger); ok {
			caches["redis"] = p
		}
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			Store:             store,
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         float64(cfg.RateLimitBurst),
			Logger:            logger.Named("ratelimit"),
		})
		defer limiter.Close()
		logger.Info("rate limiting enabled",
			zap.String("store", cfg.RateLimitStore),
			zap.Float64("rps", cfg.RateLimitRPS),
			zap.Int("burst", cfg.RateLimitBurst),
		)
	}

	srv, err := httpserver.New(httpserver.Config{
		Assistant:          svc,
		Metrics:            collector,
		Health:             health.New(health.Config{Upstreams: prov.upstreams, Caches: caches}),
		RateLimit:          ratelimit.NewMiddleware(limiter, cfg.RateLimitEnabled, logger.Named("ratelimit")),
		Routes:             prov.router,
		Logger:             logger.Named("http"),
		Version:            version.Info(),
		MaxBodyBytes:       cfg.MaxBodyBytes,
		SSEPingInterval:    cfg.SSEPingInterval,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: chat streams stay open for as long as the model talks.
		IdleTimeout: 120 * time.Second,
		ErrorLog:    zap.NewStdLog(logger.Named("http")),
	}

	var background []func(context.Context) error
	if cfg.PromptsWatch && prompts.Path() != "" {
		background = append(background, prompts.Watch)
	}

	return serve(ctx, httpSrv, lifecycleConfig{
		ShutdownTimeout:  cfg.ShutdownTimeout,
		ForceExitTimeout: cfg.ForceExitTimeout,
		Logger:           logger,
		Exit:             func(code int) { _ = closer.Close(); os.Exit(code) },
	}, background...)
}

// resolvePath anchors relative paths at root. Empty and "-" pass through.
func resolvePath(root, path string) string {
	if path == "" || path == "-" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

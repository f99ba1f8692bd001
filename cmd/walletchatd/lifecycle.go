package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type lifecycleConfig struct {
	ShutdownTimeout  time.Duration
	ForceExitTimeout time.Duration
	Logger           *zap.Logger
	// Exit terminates the process when shutdown overruns ForceExitTimeout.
	Exit func(code int)
}

// serve runs srv plus any background tasks until ctx is cancelled or one of
// them fails, then shuts the server down. In-flight requests get
// ShutdownTimeout to finish before their contexts are cancelled. If the whole
// teardown exceeds ForceExitTimeout, cfg.Exit(1) is called.
func serve(ctx context.Context, srv *http.Server, cfg lifecycleConfig, background ...func(context.Context) error) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, srv, ln, cfg, background...)
}

func serveListener(ctx context.Context, srv *http.Server, ln net.Listener, cfg lifecycleConfig, background ...func(context.Context) error) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Request contexts derive from baseCtx so streams can be cut once the grace period ends.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	g, gctx := errgroup.WithContext(ctx)

	stopForce := make(chan struct{})
	defer close(stopForce)
	if cfg.ForceExitTimeout > 0 && cfg.Exit != nil {
		go func() {
			select {
			case <-stopForce:
				return
			case <-gctx.Done():
			}
			timer := time.NewTimer(cfg.ForceExitTimeout)
			defer timer.Stop()
			select {
			case <-stopForce:
			case <-timer.C:
				logger.Error("shutdown exceeded force exit timeout", zap.Duration("timeout", cfg.ForceExitTimeout))
				cfg.Exit(1)
			}
		}()
	}

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	for _, task := range background {
		g.Go(func() error { return task(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("graceful shutdown timed out; cancelling in-flight requests")
			cancelRequests()
			return srv.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
)

// FallbackAdapter wraps multiple adapters and provides automatic fallback and retry logic.
type FallbackAdapter struct {
	adapters   []adapter.ChatAdapter
	retryCount int
	retryDelay time.Duration
}

// Config holds configuration for the FallbackAdapter.
type Config struct {
	Adapters   []adapter.ChatAdapter
	RetryCount int           // retries per adapter; 0 means default (2), negative disables retries
	RetryDelay time.Duration // delay between retries (default: 1s)
}

// New creates a new FallbackAdapter.
func New(cfg Config) (*FallbackAdapter, error) {
	if len(cfg.Adapters) == 0 {
		return nil, errors.New("fallback: at least one adapter required")
	}
	for i, a := range cfg.Adapters {
		if a == nil {
			return nil, fmt.Errorf("fallback: adapter[%d] is nil", i)
		}
	}

	retryCount := cfg.RetryCount
	switch {
	case retryCount < 0:
		retryCount = 0
	case retryCount == 0:
		retryCount = 2
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &FallbackAdapter{
		adapters:   cfg.Adapters,
		retryCount: retryCount,
		retryDelay: retryDelay,
	}, nil
}

// CreateCompletion attempts to create a completion using the primary adapter,
// falling back to subsequent adapters on failure.
func (f *FallbackAdapter) CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error) {
	var lastErr error
	attempts := 0

	for adapterIdx, a := range f.adapters {
		for attempt := 0; attempt <= f.retryCount; attempt++ {
			if err := ctx.Err(); err != nil {
				return chat.Response{}, err
			}

			resp, err := a.CreateCompletion(ctx, req)
			if err == nil {
				return resp, nil
			}
			attempts++
			lastErr = fmt.Errorf("adapter[%d] attempt[%d]: %w", adapterIdx, attempt, err)

			if ctx.Err() != nil {
				return chat.Response{}, ctx.Err()
			}
			if !isRetryableError(err) || attempt == f.retryCount {
				break
			}

			select {
			case <-ctx.Done():
				return chat.Response{}, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}
	}

	return chat.Response{}, fmt.Errorf("fallback: all adapters failed: %w (attempts: %d)", lastErr, attempts)
}

// CreateCompletionStream opens a stream on the first adapter that accepts it.
// Only opening is retried; once events flow the stream belongs to that adapter.
func (f *FallbackAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	var lastErr error
	for adapterIdx, a := range f.adapters {
		sa, ok := a.(adapter.StreamingChatAdapter)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, err := sa.CreateCompletionStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = fmt.Errorf("adapter[%d]: %w", adapterIdx, err)
	}
	if lastErr == nil {
		return nil, errors.New("fallback: no streaming adapter configured")
	}
	return nil, fmt.Errorf("fallback: all adapters failed: %w", lastErr)
}

var retryableMarkers = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"no such host",
	"temporary failure",
	"eof",
	"rate limit",
	"429",
	"too many requests",
	"500",
	"502",
	"503",
	"504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"overloaded",
}

// isRetryableError determines if an error should trigger a retry.
// Client errors (4xx except 429) are not retryable.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

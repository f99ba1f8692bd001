package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
)

// Ensure LoopbackAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*LoopbackAdapter)(nil)

// LoopbackAdapter echoes the last user message back to the caller.
type LoopbackAdapter struct {
	// ChunkDelay spaces out streamed words; zero streams as fast as the reader consumes.
	ChunkDelay time.Duration
}

// New creates a LoopbackAdapter instance.
func New() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

// CreateCompletion fabricates a deterministic completion for exercising the pipeline without a provider.
// In JSON mode it returns an empty JSON object so classifier parsing stays well-formed.
func (a *LoopbackAdapter) CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error) {
	if len(req.Messages) == 0 {
		return chat.Response{}, errors.New("no messages provided")
	}

	content := reply(req)
	if req.JSONMode {
		content = "{}"
	}

	return chat.Response{
		ID:           "cmpl-loopback",
		Model:        req.Model,
		Content:      content,
		FinishReason: "stop",
		Usage: chat.Usage{
			PromptTokens:     len(req.Messages) * 10,
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(req.Messages)*10 + len(content)/4,
		},
	}, nil
}

// CreateCompletionStream emits the echoed reply one word per chunk.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("no messages provided")
	}

	words := strings.SplitAfter(reply(req), " ")
	ch := make(chan adapter.StreamEvent)

	go func() {
		defer close(ch)
		for i, w := range words {
			if a.ChunkDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(a.ChunkDelay):
				}
			}
			chunk := &chat.Chunk{ID: "cmpl-loopback", Model: req.Model, Delta: w}
			if i == len(words)-1 {
				chunk.FinishReason = "stop"
			}
			if !adapter.Send(ctx, ch, adapter.StreamEvent{Chunk: chunk}) {
				return
			}
		}
	}()

	return ch, nil
}

func reply(req chat.Request) string {
	return "[loopback] " + strings.TrimSpace(req.LastUserMessage().Content)
}

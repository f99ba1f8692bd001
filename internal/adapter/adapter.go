package adapter

import (
	"context"

	"github.com/tokligence/walletchat/internal/chat"
)

// ChatAdapter sends provider-neutral chat requests to a model provider.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error)
}

// StreamingChatAdapter is implemented by adapters that can stream completions.
//
// The returned channel is closed when the stream ends. A stream that stops
// because of an error emits exactly one event with Error set before closing.
// Cancelling ctx stops the producer and releases the upstream connection.
type StreamingChatAdapter interface {
	ChatAdapter
	CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan StreamEvent, error)
}

// StreamEvent carries either a chunk or a terminal error.
type StreamEvent struct {
	Chunk *chat.Chunk
	Error error
}

// IsError reports whether the event terminates the stream with an error.
func (e StreamEvent) IsError() bool {
	return e.Error != nil
}

// Send delivers ev unless ctx is cancelled first. It reports whether the event was delivered.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

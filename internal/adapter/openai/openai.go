package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
)

// Ensure OpenAIAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter sends requests to the OpenAI API (or any compatible endpoint).
type OpenAIAdapter struct {
	client         *goopenai.Client
	baseURL        string
	requestTimeout time.Duration
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Organization   string // optional
	RequestTimeout time.Duration
	// HTTPClient overrides the transport; streaming requests must not carry a client-level timeout.
	HTTPClient *http.Client
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.OrgID = cfg.Organization
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{}
	}

	return &OpenAIAdapter{
		client:         goopenai.NewClientWithConfig(clientCfg),
		baseURL:        baseURL,
		requestTimeout: timeout,
	}, nil
}

// BaseURL returns the upstream endpoint, used by readiness probes.
func (a *OpenAIAdapter) BaseURL() string { return a.baseURL }

// CreateCompletion sends a non-streaming chat completion request.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error) {
	if len(req.Messages) == 0 {
		return chat.Response{}, errors.New("openai: no messages provided")
	}

	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, buildRequest(req, false))
	if err != nil {
		return chat.Response{}, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return chat.Response{}, errors.New("openai: response contained no choices")
	}

	return chat.Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// CreateCompletionStream opens a streaming chat completion and relays chunks on the returned channel.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages provided")
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, buildRequest(req, true))
	if err != nil {
		return nil, wrapError(err)
	}

	eventChan := make(chan adapter.StreamEvent, 10)

	go func() {
		defer close(eventChan)
		defer stream.Close()

		finished := false
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				// The SDK reports a dropped connection as EOF too.
				if !finished {
					adapter.Send(ctx, eventChan, adapter.StreamEvent{Error: fmt.Errorf("openai: stream ended before finish_reason: %w", io.ErrUnexpectedEOF)})
				}
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					adapter.Send(ctx, eventChan, adapter.StreamEvent{Error: ctx.Err()})
					return
				}
				adapter.Send(ctx, eventChan, adapter.StreamEvent{Error: wrapError(err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			chunk := &chat.Chunk{
				ID:           resp.ID,
				Model:        resp.Model,
				Delta:        resp.Choices[0].Delta.Content,
				FinishReason: string(resp.Choices[0].FinishReason),
			}
			if chunk.FinishReason != "" {
				finished = true
			}
			if !adapter.Send(ctx, eventChan, adapter.StreamEvent{Chunk: chunk}) {
				return
			}
		}
	}()

	return eventChan, nil
}

func buildRequest(req chat.Request, stream bool) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    strings.ToLower(m.Role),
			Content: m.Content,
		})
	}

	out := goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.JSONMode {
		out.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// wrapError flattens SDK errors into messages that keep the HTTP status visible,
// so the fallback adapter can classify them.
func wrapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %s (status=%d, type=%s)", apiErr.Message, apiErr.HTTPStatusCode, apiErr.Type)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai: http %d: %w", reqErr.HTTPStatusCode, reqErr.Err)
	}
	if strings.HasPrefix(err.Error(), "openai:") {
		return err
	}
	return fmt.Errorf("openai: %w", err)
}

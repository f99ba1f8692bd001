package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
)

// Ensure AnthropicAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*AnthropicAdapter)(nil)

const (
	defaultMaxTokens  = 1024 // the Messages API requires max_tokens
	jsonInstruction   = "Respond with a single JSON object and nothing else."
	maxStreamLineSize = 1 << 20
)

// AnthropicAdapter sends requests to the Anthropic Messages API (Claude).
type AnthropicAdapter struct {
	apiKey         string
	baseURL        string
	version        string // API version header
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Version        string // optional, defaults to 2023-06-01
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// New creates an AnthropicAdapter instance.
func New(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	// No client timeout: it would cut long streams. Non-streaming calls use a context deadline.
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &AnthropicAdapter{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		version:        version,
		httpClient:     client,
		requestTimeout: timeout,
	}, nil
}

// BaseURL returns the upstream endpoint, used by readiness probes.
func (a *AnthropicAdapter) BaseURL() string { return a.baseURL }

// CreateCompletion sends a non-streaming Messages request.
func (a *AnthropicAdapter) CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	resp, err := a.send(ctx, req, false)
	if err != nil {
		return chat.Response{}, err
	}
	defer resp.Body.Close()

	var msg messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return chat.Response{}, fmt.Errorf("anthropic: unmarshal response: %w", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return chat.Response{
		ID:           msg.ID,
		Model:        req.Model,
		Content:      content.String(),
		FinishReason: mapStopReason(msg.StopReason),
		Usage: chat.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

// CreateCompletionStream sends a streaming Messages request and relays text deltas as chunks.
func (a *AnthropicAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	resp, err := a.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var id string
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "{}" {
				continue
			}

			var evt streamEvent
			if err := json.Unmarshal([]byte(payload), &evt); err != nil {
				adapter.Send(ctx, ch, adapter.StreamEvent{Error: fmt.Errorf("anthropic: parse stream: %w", err)})
				return
			}

			switch evt.Type {
			case "message_start":
				id = evt.Message.ID
			case "content_block_delta":
				if evt.Delta.Type != "text_delta" || evt.Delta.Text == "" {
					continue
				}
				if !adapter.Send(ctx, ch, adapter.StreamEvent{Chunk: &chat.Chunk{ID: id, Model: req.Model, Delta: evt.Delta.Text}}) {
					return
				}
			case "message_delta":
				if evt.Delta.StopReason == "" {
					continue
				}
				if !adapter.Send(ctx, ch, adapter.StreamEvent{Chunk: &chat.Chunk{ID: id, Model: req.Model, FinishReason: mapStopReason(evt.Delta.StopReason)}}) {
					return
				}
			case "message_stop":
				return
			case "error":
				adapter.Send(ctx, ch, adapter.StreamEvent{Error: fmt.Errorf("anthropic: %s (type=%s)", evt.Error.Message, evt.Error.Type)})
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			adapter.Send(ctx, ch, adapter.StreamEvent{Error: fmt.Errorf("anthropic: read stream: %w", err)})
			return
		}
		// message_stop returns above, so reaching here means the body was cut short.
		if ctx.Err() == nil {
			adapter.Send(ctx, ch, adapter.StreamEvent{Error: errors.New("anthropic: stream ended before message_stop")})
		}
	}()
	return ch, nil
}

// send posts a Messages request and returns the response when the status is 200.
func (a *AnthropicAdapter) send(ctx context.Context, req chat.Request, stream bool) (*http.Response, error) {
	payload, err := buildRequest(req, stream)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var errResp struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("anthropic: http %d: %s (type=%s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("anthropic: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func buildRequest(req chat.Request, stream bool) (messagesRequest, error) {
	if strings.TrimSpace(req.Model) == "" {
		return messagesRequest{}, errors.New("anthropic: model name required")
	}
	var system []string
	var messages []message
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case chat.RoleSystem:
			system = append(system, m.Content)
		case chat.RoleAssistant:
			messages = append(messages, message{Role: chat.RoleAssistant, Content: []contentBlock{{Type: "text", Text: m.Content}}})
		default:
			messages = append(messages, message{Role: chat.RoleUser, Content: []contentBlock{{Type: "text", Text: m.Content}}})
		}
	}
	if len(messages) == 0 {
		return messagesRequest{}, errors.New("anthropic: no messages provided")
	}
	if req.JSONMode {
		system = append(system, jsonInstruction)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return messagesRequest{
		Model:       req.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// streamEvent is the subset of the streaming schema the relay needs.
type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

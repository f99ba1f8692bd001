package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
)

// Ensure GeminiAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter sends chat requests to Google Gemini through the genai SDK.
type GeminiAdapter struct {
	client         *genai.Client
	baseURL        string
	requestTimeout time.Duration
}

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// New creates a GeminiAdapter instance.
func New(ctx context.Context, cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second // Gemini may need more time for generation
	}

	clientCfg := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL + "/"},
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &GeminiAdapter{
		client:         client,
		baseURL:        baseURL,
		requestTimeout: timeout,
	}, nil
}

// BaseURL returns the upstream endpoint, used by readiness probes.
func (a *GeminiAdapter) BaseURL() string { return a.baseURL }

// CreateCompletion sends a generateContent request.
func (a *GeminiAdapter) CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return chat.Response{}, errors.New("gemini: model name required")
	}
	contents, config := buildContents(req)
	if len(contents) == 0 {
		return chat.Response{}, errors.New("gemini: no messages provided")
	}

	ctx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return chat.Response{}, fmt.Errorf("gemini: %w", err)
	}

	out := chat.Response{
		ID:           "gen-" + uuid.NewString(),
		Model:        req.Model,
		Content:      resp.Text(),
		FinishReason: finishReason(resp),
	}
	if resp.UsageMetadata != nil {
		out.Usage = chat.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// CreateCompletionStream sends a streamGenerateContent request and relays text parts as chunks.
func (a *GeminiAdapter) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("gemini: model name required")
	}
	contents, config := buildContents(req)
	if len(contents) == 0 {
		return nil, errors.New("gemini: no messages provided")
	}

	streamID := "gen-" + uuid.NewString()
	eventChan := make(chan adapter.StreamEvent, 10)

	go func() {
		defer close(eventChan)

		for resp, err := range a.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					adapter.Send(ctx, eventChan, adapter.StreamEvent{Error: ctx.Err()})
					return
				}
				adapter.Send(ctx, eventChan, adapter.StreamEvent{Error: fmt.Errorf("gemini: read stream: %w", err)})
				return
			}
			chunk := &chat.Chunk{
				ID:           streamID,
				Model:        req.Model,
				Delta:        resp.Text(),
				FinishReason: finishReason(resp),
			}
			if !adapter.Send(ctx, eventChan, adapter.StreamEvent{Chunk: chunk}) {
				return
			}
		}
	}()

	return eventChan, nil
}

// buildContents maps the neutral request onto Gemini contents; the system
// message becomes SystemInstruction and assistant turns use the "model" role.
func buildContents(req chat.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if sys := strings.TrimSpace(req.SystemPrompt()); sys != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sys}}}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	var contents []*genai.Content
	for _, m := range req.Conversation() {
		role := genai.RoleUser
		if strings.EqualFold(m.Role, chat.RoleAssistant) {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return contents, config
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	return strings.ToLower(string(resp.Candidates[0].FinishReason))
}

// Package assistant implements the three wallet chat operations on top of the
// model adapters: streamed chat, follow-up suggestions and action detection.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
	"github.com/tokligence/walletchat/internal/prompt"
)

var (
	// ErrInvalidRequest marks client input problems (HTTP 400).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstream marks model provider failures (HTTP 502).
	ErrUpstream = errors.New("upstream model error")
)

// Config selects models and limits for the three calls.
type Config struct {
	ChatModel          string
	SuggestionModel    string
	ActionModel        string
	ChatTemperature    *float64
	ChatMaxTokens      int
	MaxSuggestions     int
	MaxHistoryMessages int
}

// PromptSource yields the active prompt set.
type PromptSource interface {
	Current() prompt.Set
}

// ChatInput is the body of a chat request.
type ChatInput struct {
	Messages    []chat.Message
	WalletState json.RawMessage
}

// SuggestionInput is the body of a suggestion request.
type SuggestionInput struct {
	Messages    []chat.Message
	WalletState json.RawMessage
}

// ActionInput is the body of an action request.
type ActionInput struct {
	Message     string
	WalletState json.RawMessage
}

// Action is the detected wallet intent.
type Action struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Guard screens outbound messages before they reach a provider. It may
// return rewritten messages or an error refusing the request.
type Guard interface {
	Screen(ctx context.Context, messages []chat.Message) ([]chat.Message, error)
}

// Service runs the wallet chat operations.
type Service struct {
	cfg        Config
	prompts    PromptSource
	chat       adapter.StreamingChatAdapter
	classifier adapter.ChatAdapter
	guard      Guard
	logger     *zap.Logger
}

// New wires a Service. classifier serves the suggestion and action calls.
func New(cfg Config, prompts PromptSource, chatAdapter adapter.StreamingChatAdapter, classifier adapter.ChatAdapter, logger *zap.Logger) (*Service, error) {
	if prompts == nil {
		return nil, errors.New("assistant: prompt source required")
	}
	if chatAdapter == nil || classifier == nil {
		return nil, errors.New("assistant: adapters required")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return nil, errors.New("assistant: chat model required")
	}
	if cfg.SuggestionModel == "" {
		cfg.SuggestionModel = cfg.ChatModel
	}
	if cfg.ActionModel == "" {
		cfg.ActionModel = cfg.ChatModel
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, prompts: prompts, chat: chatAdapter, classifier: classifier, logger: logger}, nil
}

// SetGuard installs g on every outbound call. A nil guard disables screening.
func (s *Service) SetGuard(g Guard) {
	s.guard = g
}

// ChatModel returns the model used for streamed chat.
func (s *Service) ChatModel() string { return s.cfg.ChatModel }

// StreamChat validates the input and opens the upstream stream. Errors opening
// the stream wrap ErrUpstream; events on the channel carry mid-stream errors.
func (s *Service) StreamChat(ctx context.Context, in ChatInput) (<-chan adapter.StreamEvent, error) {
	msgs, err := normalizeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	system, err := s.prompts.Current().ChatSystemPrompt(in.WalletState)
	if err != nil {
		return nil, invalid(err)
	}
	history, err := s.screen(ctx, s.trimHistory(msgs))
	if err != nil {
		return nil, err
	}

	req := chat.Request{
		Model:       s.cfg.ChatModel,
		Messages:    append([]chat.Message{{Role: chat.RoleSystem, Content: system}}, history...),
		Temperature: s.cfg.ChatTemperature,
		MaxTokens:   s.cfg.ChatMaxTokens,
	}
	ch, err := s.chat.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w: %w", ErrUpstream, err)
	}
	return ch, nil
}

// Suggest asks the model for follow-up questions. Output that cannot be
// parsed yields an empty list.
func (s *Service) Suggest(ctx context.Context, in SuggestionInput) ([]string, error) {
	msgs, err := normalizeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	system, err := s.prompts.Current().SuggestionSystemPrompt(in.WalletState, s.cfg.MaxSuggestions)
	if err != nil {
		return nil, invalid(err)
	}
	history, err := s.screen(ctx, s.trimHistory(msgs))
	if err != nil {
		return nil, err
	}

	resp, err := s.classifier.CreateCompletion(ctx, chat.Request{
		Model: s.cfg.SuggestionModel,
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: system},
			{Role: chat.RoleUser, Content: "Conversation so far:\n" + prompt.Transcript(history)},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("suggestions: %w: %w", ErrUpstream, err)
	}

	suggestions, ok := parseSuggestions(resp.Content, s.cfg.MaxSuggestions)
	if !ok {
		s.logger.Warn("unparseable suggestion output", zap.String("model", resp.Model), zap.Int("bytes", len(resp.Content)))
	}
	return suggestions, nil
}

// DetectAction classifies a single user message into a catalog action.
func (s *Service) DetectAction(ctx context.Context, in ActionInput) (Action, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return Action{}, invalid(errors.New("message is required"))
	}
	set := s.prompts.Current()
	system, err := set.ActionSystemPrompt(in.WalletState)
	if err != nil {
		return Action{}, invalid(err)
	}
	screened, err := s.screen(ctx, []chat.Message{{Role: chat.RoleUser, Content: message}})
	if err != nil {
		return Action{}, err
	}

	resp, err := s.classifier.CreateCompletion(ctx, chat.Request{
		Model: s.cfg.ActionModel,
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: system},
			screened[0],
		},
		Temperature: chat.Float64(0),
		JSONMode:    true,
	})
	if err != nil {
		return Action{}, fmt.Errorf("action: %w: %w", ErrUpstream, err)
	}

	action, ok := parseAction(resp.Content, set)
	if !ok {
		s.logger.Warn("unrecognised action output", zap.String("model", resp.Model), zap.Int("bytes", len(resp.Content)))
	}
	return action, nil
}

// screen runs the guard over msgs. Refusals are client errors.
func (s *Service) screen(ctx context.Context, msgs []chat.Message) ([]chat.Message, error) {
	if s.guard == nil {
		return msgs, nil
	}
	out, err := s.guard.Screen(ctx, msgs)
	if err != nil {
		return nil, invalid(err)
	}
	return out, nil
}

func (s *Service) trimHistory(msgs []chat.Message) []chat.Message {
	if limit := s.cfg.MaxHistoryMessages; limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// normalizeMessages checks that messages is non-empty, that every role is user or
// assistant and that no content is blank. Roles are lower-cased.
func normalizeMessages(messages []chat.Message) ([]chat.Message, error) {
	if len(messages) == 0 {
		return nil, invalid(errors.New("messages is required"))
	}
	out := make([]chat.Message, len(messages))
	for i, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != chat.RoleUser && role != chat.RoleAssistant {
			return nil, invalid(fmt.Errorf("messages[%d].role must be user or assistant", i))
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, invalid(fmt.Errorf("messages[%d].content is required", i))
		}
		out[i] = chat.Message{Role: role, Content: m.Content}
	}
	return out, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}

package chat

import "strings"

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the provider-neutral completion request passed to adapters.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool
}

// Message follows the role/content schema shared by the supported providers.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is a non-streaming completion result.
type Response struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is a single incremental piece of a streamed completion.
type Chunk struct {
	ID           string
	Model        string
	Delta        string
	FinishReason string
}

// SystemPrompt returns the content of the leading system message, if any.
func (r Request) SystemPrompt() string {
	if len(r.Messages) > 0 && r.Messages[0].Role == RoleSystem {
		return r.Messages[0].Content
	}
	return ""
}

// Conversation returns the messages after the leading system message.
func (r Request) Conversation() []Message {
	if len(r.Messages) > 0 && r.Messages[0].Role == RoleSystem {
		return r.Messages[1:]
	}
	return r.Messages
}

// LastUserMessage returns the most recent user message, falling back to the final message.
func (r Request) LastUserMessage() Message {
	if len(r.Messages) == 0 {
		return Message{}
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(r.Messages[i].Role, RoleUser) {
			return r.Messages[i]
		}
	}
	return r.Messages[len(r.Messages)-1]
}

// Float64 returns a pointer to v, for optional sampling parameters.
func Float64(v float64) *float64 { return &v }

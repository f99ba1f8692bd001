// Package prompt builds the system prompts sent to the model: the wallet
// persona for chat and the two classifier instructions.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tokligence/walletchat/internal/chat"
)

// NoWalletState replaces the JSON block when the client sent no state.
const NoWalletState = "No wallet state was provided."

// ActionNone is the catch-all action name.
const ActionNone = "none"

// ErrInvalidWalletState is returned when walletState is not valid JSON.
var ErrInvalidWalletState = errors.New("walletState must be valid JSON")

//go:embed defaults.yaml
var defaultsYAML []byte

// Action describes one wallet intent the classifier may return.
type Action struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Parameters  []string `yaml:"parameters"`
}

// Set is the full collection of prompt texts.
type Set struct {
	Persona    string   `yaml:"persona"`
	Suggestion string   `yaml:"suggestion"`
	Action     string   `yaml:"action"`
	Actions    []Action `yaml:"actions"`
}

// Default returns the compiled-in prompt set.
func Default() Set {
	var s Set
	if err := yaml.Unmarshal(defaultsYAML, &s); err != nil {
		panic(fmt.Sprintf("prompt: embedded defaults: %v", err))
	}
	return s
}

// DefaultYAML returns a copy of the compiled-in prompt file, for scaffolding overrides.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultsYAML...)
}

// Parse overlays YAML data on top of base. Fields absent from data keep the base value.
func Parse(data []byte, base Set) (Set, error) {
	var override Set
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Set{}, fmt.Errorf("prompt: parse yaml: %w", err)
	}
	out := base
	if strings.TrimSpace(override.Persona) != "" {
		out.Persona = override.Persona
	}
	if strings.TrimSpace(override.Suggestion) != "" {
		out.Suggestion = override.Suggestion
	}
	if strings.TrimSpace(override.Action) != "" {
		out.Action = override.Action
	}
	if len(override.Actions) > 0 {
		out.Actions = override.Actions
	}
	if err := out.Validate(); err != nil {
		return Set{}, err
	}
	return out, nil
}

// Validate checks that every prompt is present and action names are unique.
func (s Set) Validate() error {
	if strings.TrimSpace(s.Persona) == "" {
		return errors.New("prompt: persona is empty")
	}
	if strings.TrimSpace(s.Suggestion) == "" {
		return errors.New("prompt: suggestion instruction is empty")
	}
	if strings.TrimSpace(s.Action) == "" {
		return errors.New("prompt: action instruction is empty")
	}
	seen := make(map[string]bool, len(s.Actions))
	for _, a := range s.Actions {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			return errors.New("prompt: action with empty name")
		}
		if seen[name] {
			return fmt.Errorf("prompt: duplicate action %q", name)
		}
		seen[name] = true
	}
	return nil
}

// HasAction reports whether name is in the catalog. "none" is always known.
func (s Set) HasAction(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == ActionNone {
		return true
	}
	for _, a := range s.Actions {
		if strings.ToLower(strings.TrimSpace(a.Name)) == name {
			return true
		}
	}
	return false
}

// ChatSystemPrompt joins the persona with the indented wallet state.
func (s Set) ChatSystemPrompt(walletState json.RawMessage) (string, error) {
	state, err := FormatWalletState(walletState)
	if err != nil {
		return "", err
	}
	return s.Persona + "\n\n" + state, nil
}

// SuggestionSystemPrompt builds the follow-up suggestion instruction.
func (s Set) SuggestionSystemPrompt(walletState json.RawMessage, limit int) (string, error) {
	state, err := FormatWalletState(walletState)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(s.Suggestion)
	fmt.Fprintf(&b, "\n\nReturn at most %d suggestions as a JSON object of the form {\"suggestions\": [\"...\"]}. Return JSON only.", limit)
	b.WriteString("\n\n")
	b.WriteString(state)
	return b.String(), nil
}

// ActionSystemPrompt builds the intent instruction with the action catalog.
func (s Set) ActionSystemPrompt(walletState json.RawMessage) (string, error) {
	state, err := FormatWalletState(walletState)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(s.Action)
	b.WriteString("\n\nAvailable actions:\n")
	for _, a := range s.Actions {
		fmt.Fprintf(&b, "- %s: %s", a.Name, a.Description)
		if len(a.Parameters) > 0 {
			fmt.Fprintf(&b, " Parameters: %s.", strings.Join(a.Parameters, ", "))
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nRespond with a single JSON object: {\"action\": \"<name>\", \"parameters\": {}}. Return JSON only.\n\n")
	b.WriteString(state)
	return b.String(), nil
}

// FormatWalletState renders the state block shared by all prompts.
// Key order from the client is preserved.
func FormatWalletState(walletState json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(walletState)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NoWalletState, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWalletState, err)
	}
	return "Current wallet state (JSON):\n" + buf.String(), nil
}

// Transcript renders messages as "role: content" lines.
func Transcript(messages []chat.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToLower(m.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}

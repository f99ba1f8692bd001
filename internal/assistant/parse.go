package assistant

import (
	"encoding/json"
	"strings"

	"github.com/tokligence/walletchat/internal/prompt"
)

// stripFences removes a surrounding ``` or ```json block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the outermost object or array found in s.
func extractJSON(s string) string {
	s = stripFences(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

// parseSuggestions accepts {"suggestions":[...]} or a bare array. Blank and
// duplicate entries are dropped and the list is capped at limit. ok is false
// when nothing could be decoded.
func parseSuggestions(raw string, limit int) (out []string, ok bool) {
	out = []string{}
	body := extractJSON(raw)
	if body == "" {
		return out, false
	}

	var items []any
	if body[0] == '[' {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return out, false
		}
	} else {
		var obj struct {
			Suggestions []any `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return out, false
		}
		items = obj.Suggestions
	}

	seen := make(map[string]bool)
	for _, item := range items {
		text, isString := item.(string)
		if !isString {
			continue
		}
		text = strings.TrimSpace(text)
		key := strings.ToLower(text)
		if text == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, text)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, true
}

// parseAction decodes {"action","parameters"}. Unknown or undecodable
// actions become "none" with empty parameters; ok reports a clean decode.
func parseAction(raw string, set prompt.Set) (Action, bool) {
	none := Action{Action: prompt.ActionNone, Parameters: map[string]any{}}

	body := extractJSON(raw)
	if body == "" || body[0] != '{' {
		return none, false
	}
	var decoded struct {
		Action     string         `json:"action"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return none, false
	}

	name := strings.ToLower(strings.TrimSpace(decoded.Action))
	if name == "" || !set.HasAction(name) {
		return none, false
	}
	if name == prompt.ActionNone {
		return none, true
	}
	params := decoded.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return Action{Action: name, Parameters: params}, true
}

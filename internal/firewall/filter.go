package firewall

import (
	"fmt"
	"strings"
)

// FirewallMode determines how the firewall behaves when secrets are detected.
type FirewallMode string

const (
	// ModeMonitor logs detections but forwards messages unchanged
	ModeMonitor FirewallMode = "monitor"
	// ModeRedact replaces detected secrets with a mask before forwarding
	ModeRedact FirewallMode = "redact"
	// ModeEnforce rejects requests that contain a secret
	ModeEnforce FirewallMode = "enforce"
	// ModeDisabled disables the firewall entirely
	ModeDisabled FirewallMode = "disabled"
)

// ParseMode maps a config value to a FirewallMode. Empty means redact.
func ParseMode(v string) (FirewallMode, error) {
	switch m := FirewallMode(strings.ToLower(strings.TrimSpace(v))); m {
	case "":
		return ModeRedact, nil
	case ModeMonitor, ModeRedact, ModeEnforce, ModeDisabled:
		return m, nil
	default:
		return "", fmt.Errorf("unknown firewall mode %q", v)
	}
}

// Filter scans message text for sensitive content.
type Filter interface {
	// Name returns a unique identifier for this filter
	Name() string

	// Priority determines execution order (lower = earlier)
	Priority() int

	// Scan returns the non-overlapping findings in text, ordered by position.
	Scan(text string) []Finding
}

// Finding is one sensitive span inside a message.
type Finding struct {
	Type    string
	Pattern string
	Start   int
	End     int
	Mask    string
}

// Detection represents a finding attributed to a message of a request.
type Detection struct {
	FilterName   string `json:"filter_name"`
	Type         string `json:"type"`
	Pattern      string `json:"pattern"`
	MessageIndex int    `json:"message_index"`
}

// Redact replaces every finding in text with its mask. Findings must be
// ordered and non-overlapping, as returned by Filter.Scan.
func Redact(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, f := range findings {
		sb.WriteString(text[last:f.Start])
		sb.WriteString(f.Mask)
		last = f.End
	}
	sb.WriteString(text[last:])
	return sb.String()
}

package firewall

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tokligence/walletchat/internal/chat"
)

func testMessages() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "hi, how can I help?"},
		{Role: chat.RoleUser, Content: "my seed phrase is " + testPhrase + " is it safe?"},
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]FirewallMode{
		"":          ModeRedact,
		"monitor":   ModeMonitor,
		" Enforce ": ModeEnforce,
		"REDACT":    ModeRedact,
		"disabled":  ModeDisabled,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseMode("block"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestPipeline_Redact(t *testing.T) {
	p := NewDefaultPipeline(ModeRedact, nil)
	var detections []Detection
	p.OnDetect(func(d Detection) { detections = append(detections, d) })

	in := testMessages()
	out, err := p.Screen(context.Background(), in)
	if err != nil {
		t.Fatalf("Screen() error = %v", err)
	}
	if out[2].Content != "my seed phrase is [MNEMONIC] is it safe?" {
		t.Fatalf("unexpected redacted content %q", out[2].Content)
	}
	if out[0].Content != "hello" {
		t.Fatalf("clean message changed: %q", out[0].Content)
	}
	if !strings.Contains(in[2].Content, testPhrase) {
		t.Fatalf("input slice was modified")
	}
	if len(detections) != 1 || detections[0].Type != "MNEMONIC" || detections[0].MessageIndex != 2 {
		t.Fatalf("unexpected detections %+v", detections)
	}
}

func TestPipeline_Monitor(t *testing.T) {
	p := NewDefaultPipeline(ModeMonitor, nil)
	count := 0
	p.OnDetect(func(Detection) { count++ })

	in := testMessages()
	out, err := p.Screen(context.Background(), in)
	if err != nil {
		t.Fatalf("Screen() error = %v", err)
	}
	if out[2].Content != in[2].Content {
		t.Fatalf("monitor mode must not modify content")
	}
	if count != 1 {
		t.Fatalf("expected 1 detection, got %d", count)
	}
}

func TestPipeline_Enforce(t *testing.T) {
	p := NewDefaultPipeline(ModeEnforce, nil)

	_, err := p.Screen(context.Background(), testMessages())
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}

	clean := []chat.Message{{Role: chat.RoleUser, Content: "what is my balance?"}}
	out, err := p.Screen(context.Background(), clean)
	if err != nil {
		t.Fatalf("clean messages should pass, got %v", err)
	}
	if len(out) != 1 || out[0].Content != clean[0].Content {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestPipeline_Disabled(t *testing.T) {
	p := NewDefaultPipeline(ModeDisabled, nil)
	called := false
	p.OnDetect(func(Detection) { called = true })

	in := testMessages()
	out, err := p.Screen(context.Background(), in)
	if err != nil {
		t.Fatalf("Screen() error = %v", err)
	}
	if out[2].Content != in[2].Content || called {
		t.Fatalf("disabled pipeline should be a no-op")
	}
}

func TestPipeline_FiltersRunInPriorityOrder(t *testing.T) {
	p := NewDefaultPipeline(ModeMonitor, nil)
	if names := p.Filters(); len(names) != 1 || names[0] != "wallet_secrets" {
		t.Fatalf("unexpected default filters %v", names)
	}
	p.AddFilter(stubFilter{name: "first", priority: -1})
	p.AddFilter(stubFilter{name: "last", priority: 1000})
	got := p.Filters()
	want := []string{"first", "wallet_secrets", "last"}
	if len(got) != len(want) {
		t.Fatalf("Filters() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Filters() = %v, want %v", got, want)
		}
	}
}

type stubFilter struct {
	name     string
	priority int
}

func (f stubFilter) Name() string          { return f.name }
func (f stubFilter) Priority() int         { return f.priority }
func (f stubFilter) Scan(string) []Finding { return nil }

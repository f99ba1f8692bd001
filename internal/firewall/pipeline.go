package firewall

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/chat"
)

// ErrBlocked is returned in enforce mode when a message carries a secret.
var ErrBlocked = errors.New("message appears to contain a wallet secret; never share private keys or recovery phrases")

// Pipeline runs filters over outbound chat messages. The mode is fixed at
// construction.
type Pipeline struct {
	mode     FirewallMode
	filters  []Filter
	logger   *zap.Logger
	onDetect func(Detection)
	mu       sync.RWMutex
}

// NewPipeline creates a new filter pipeline.
func NewPipeline(mode FirewallMode, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{mode: mode, logger: logger}
}

// NewDefaultPipeline returns a pipeline with the wallet secret filter installed.
func NewDefaultPipeline(mode FirewallMode, logger *zap.Logger) *Pipeline {
	p := NewPipeline(mode, logger)
	p.AddFilter(NewSecretFilter(SecretFilterConfig{}))
	return p
}

// OnDetect registers fn to be called for every detection.
func (p *Pipeline) OnDetect(fn func(Detection)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDetect = fn
}

// AddFilter registers a new filter to the pipeline.
func (p *Pipeline) AddFilter(filter Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filters = append(p.filters, filter)
	sort.SliceStable(p.filters, func(i, j int) bool {
		return p.filters[i].Priority() < p.filters[j].Priority()
	})
}

// Screen applies the current mode to messages. The input slice is never modified.
// In enforce mode a detection yields an error wrapping ErrBlocked.
func (p *Pipeline) Screen(ctx context.Context, messages []chat.Message) ([]chat.Message, error) {
	mode := p.mode
	p.mu.RLock()
	filters := p.filters
	onDetect := p.onDetect
	p.mu.RUnlock()

	if mode == ModeDisabled || len(filters) == 0 {
		return messages, nil
	}

	var out []chat.Message
	var detections []Detection
	for i, m := range messages {
		text := m.Content
		for _, f := range filters {
			findings := f.Scan(text)
			if len(findings) == 0 {
				continue
			}
			for _, fd := range findings {
				detections = append(detections, Detection{FilterName: f.Name(), Type: fd.Type, Pattern: fd.Pattern, MessageIndex: i})
			}
			if mode == ModeRedact {
				text = Redact(text, findings)
			}
		}
		if text != m.Content {
			if out == nil {
				out = append([]chat.Message(nil), messages...)
			}
			out[i].Content = text
		}
	}

	for _, d := range detections {
		p.logger.Warn("wallet secret detected",
			zap.String("mode", string(mode)),
			zap.String("filter", d.FilterName),
			zap.String("type", d.Type),
			zap.Int("message_index", d.MessageIndex),
		)
		if onDetect != nil {
			onDetect(d)
		}
	}

	if mode == ModeEnforce && len(detections) > 0 {
		return nil, fmt.Errorf("firewall: %w", ErrBlocked)
	}
	if out == nil {
		return messages, nil
	}
	return out, nil
}

// Filters names the installed filters in the order Screen runs them.
func (p *Pipeline) Filters() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.filters))
	for i, f := range p.filters {
		names[i] = f.Name()
	}
	return names
}

package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/chat"
)

// Ensure Router can stand in for a streaming adapter.
var _ adapter.StreamingChatAdapter = (*Router)(nil)

// Router routes requests to the appropriate adapter based on model name.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]adapter.ChatAdapter
	routes   []route // evaluated in registration order
	fallback string
}

type route struct {
	pattern string
	adapter string
}

// New creates a new Router instance.
func New() *Router {
	return &Router{
		adapters: make(map[string]adapter.ChatAdapter),
	}
}

// RegisterAdapter registers an adapter with a name.
func (r *Router) RegisterAdapter(name string, a adapter.ChatAdapter) error {
	if name == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	if a == nil {
		return errors.New("router: adapter cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[name] = a
	return nil
}

// RegisterRoute registers a model pattern to adapter mapping.
// Model patterns support:
// - Exact match: "gpt-4o"
// - Prefix match: "gpt-*" (matches gpt-4o, gpt-4o-mini, etc.)
// - Suffix match: "*-flash"
// - Contains match: "*mini*"
//
// A "*" anywhere else, such as "gpt-*-mini", is rejected.
// Exact matches always win; wildcard patterns are tried in registration order.
// Re-registering a pattern replaces its target in place.
func (r *Router) RegisterRoute(modelPattern, adapterName string) error {
	if modelPattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}
	if adapterName == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	if inner := strings.TrimSuffix(strings.TrimPrefix(modelPattern, "*"), "*"); strings.Contains(inner, "*") {
		return fmt.Errorf("router: pattern %q: wildcard allowed only at the start or end", modelPattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}

	pattern := strings.ToLower(strings.TrimSpace(modelPattern))
	for i := range r.routes {
		if r.routes[i].pattern == pattern {
			r.routes[i].adapter = adapterName
			return nil
		}
	}
	r.routes = append(r.routes, route{pattern: pattern, adapter: adapterName})
	return nil
}

// SetFallback names the adapter used for models no route matches.
func (r *Router) SetFallback(adapterName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapterName]; !exists {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	r.fallback = adapterName
	return nil
}

// CreateCompletion routes the request to the appropriate adapter.
func (r *Router) CreateCompletion(ctx context.Context, req chat.Request) (chat.Response, error) {
	selected, err := r.resolve(req.Model)
	if err != nil {
		return chat.Response{}, err
	}
	return selected.CreateCompletion(ctx, req)
}

// CreateCompletionStream routes a streaming request; the selected adapter must support streaming.
func (r *Router) CreateCompletionStream(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	selected, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	sa, ok := selected.(adapter.StreamingChatAdapter)
	if !ok {
		return nil, fmt.Errorf("router: adapter for model %q does not support streaming", req.Model)
	}
	return sa.CreateCompletionStream(ctx, req)
}

func (r *Router) resolve(model string) (adapter.ChatAdapter, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("router: model name required")
	}

	adapterName, err := r.findAdapter(model)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	selected, exists := r.adapters[adapterName]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("router: adapter %q not found", adapterName)
	}
	return selected, nil
}

// findAdapter finds the appropriate adapter for a given model.
func (r *Router) findAdapter(model string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.ToLower(strings.TrimSpace(model))

	for _, rt := range r.routes {
		if rt.pattern == model {
			return rt.adapter, nil
		}
	}
	for _, rt := range r.routes {
		if matchPattern(model, rt.pattern) {
			return rt.adapter, nil
		}
	}

	if r.fallback != "" {
		return r.fallback, nil
	}

	return "", fmt.Errorf("router: no adapter found for model %q", model)
}

// matchPattern checks if a model matches a pattern.
func matchPattern(model, pattern string) bool {
	model = strings.ToLower(model)
	pattern = strings.ToLower(pattern)

	if model == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(model, strings.Trim(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

// AdapterFor names the adapter a request for model would be sent to.
func (r *Router) AdapterFor(model string) (string, error) {
	return r.findAdapter(model)
}

// ListAdapters returns all registered adapter names, sorted.
func (r *Router) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns all registered routes.
func (r *Router) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]string, len(r.routes))
	for _, rt := range r.routes {
		routes[rt.pattern] = rt.adapter
	}
	return routes
}

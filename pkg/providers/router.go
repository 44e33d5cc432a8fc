package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// CodeUnknownAction marks an action kind no adapter is registered for.
const CodeUnknownAction = "UNKNOWN_ACTION"

// Router dispatches actions to adapters by kind prefix. An adapter
// registered for "s3" serves "s3.create_bucket" and "s3.put_object"; the
// longest matching prefix wins.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]engine.ServiceAdapter
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{adapters: make(map[string]engine.ServiceAdapter)}
}

// Register routes every kind equal to prefix or starting with prefix+"."
// to adapter.
func (r *Router) Register(prefix string, adapter engine.ServiceAdapter) error {
	if prefix == "" {
		return fmt.Errorf("adapter prefix is required")
	}
	if adapter == nil {
		return fmt.Errorf("adapter for %s is nil", prefix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[prefix]; exists {
		return fmt.Errorf("adapter already registered for %s", prefix)
	}
	r.adapters[prefix] = adapter
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Router) MustRegister(prefix string, adapter engine.ServiceAdapter) *Router {
	if err := r.Register(prefix, adapter); err != nil {
		panic(err)
	}
	return r
}

// Prefixes returns the registered prefixes, sorted.
func (r *Router) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefixes := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}

func (r *Router) route(kind string) (engine.ServiceAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    engine.ServiceAdapter
		bestLen = -1
	)
	for prefix, adapter := range r.adapters {
		if kind != prefix && !strings.HasPrefix(kind, prefix+".") {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = adapter, len(prefix)
		}
	}
	return best, best != nil
}

// Invoke implements engine.ServiceAdapter.
func (r *Router) Invoke(ctx context.Context, action engine.Action) (*engine.Outcome, error) {
	adapter, ok := r.route(action.Kind)
	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("no adapter handles action kind %q", action.Kind), nil).
			WithCode(CodeUnknownAction).
			WithOperation(action.Kind).
			WithRemediation(fmt.Sprintf("Use one of the supported action kinds (%s)", strings.Join(r.Prefixes(), ", ")))
	}
	return adapter.Invoke(ctx, action)
}

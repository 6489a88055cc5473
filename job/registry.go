package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased queue handler that accepts a raw JSON
// payload and returns the serialized result. The typed Definition[T] is
// converted to a HandlerFunc at registration time by closing over JSON
// unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps queue names to type-erased handler functions. Exactly
// one handler serves each queue; registering again for the same queue
// replaces the previous handler. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	defaults map[string]Options
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		defaults: make(map[string]Options),
	}
}

// RegisterDefinition registers a typed handler definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler and JSON-marshals its result after.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for queue %q: %w", def.Queue, err)
			}
		}
		out, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for queue %q: %w", def.Queue, err)
		}
		return result, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Queue] = handler
	r.defaults[def.Queue] = def.Opts
}

// RegisterFunc registers a raw handler for a queue. Prefer the typed
// RegisterDefinition for application handlers.
func (r *Registry) RegisterFunc(queue string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = h
}

// Get returns the handler for the given queue.
// Returns false if no handler is registered.
func (r *Registry) Get(queue string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// Defaults returns the default enqueue options registered for a queue.
func (r *Registry) Defaults(queue string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[queue]
}

// Queues returns all queue names with a registered handler.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queues := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		queues = append(queues, q)
	}
	return queues
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw JSON
// payload of a run.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Definition is a typed handler for one job key. T is the payload type
// and must be JSON-serializable.
type Definition[T any] struct {
	// Key is the job key this handler executes.
	Key string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](key string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Key: key, Handler: handler}
}

// Handlers maps job keys to handlers. It is safe for concurrent use.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlers creates an empty handler registry.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]HandlerFunc)}
}

// Register adds a typed definition. The payload is JSON-decoded into T
// before the handler runs.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](h *Handlers, def *Definition[T]) {
	h.Handle(def.Key, func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", def.Key, err)
			}
		}
		return def.Handler(ctx, t)
	})
}

// Handle adds a raw handler.
func (h *Handlers) Handle(key string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[key] = fn
}

// Get returns the handler for a job key.
func (h *Handlers) Get(key string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.handlers[key]
	return fn, ok
}

// Keys returns the registered job keys, sorted.
func (h *Handlers) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.handlers))
	for k := range h.handlers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

package queue

import (
	"fmt"
	"sync"
)

// HandlerKind records how a registered handler executes.
type HandlerKind int

const (
	// KindConcurrent handlers cooperate through contexts and channels; any
	// number may be in flight at once, each on its own goroutine.
	KindConcurrent HandlerKind = iota

	// KindBlocking handlers run to completion without yielding; they execute
	// on a fixed-size worker pool and cannot enter a guarded region.
	KindBlocking
)

func (k HandlerKind) String() string {
	switch k {
	case KindBlocking:
		return "blocking"
	default:
		return "concurrent"
	}
}

type registryEntry struct {
	handler Handler
	kind    HandlerKind
}

// Registry binds entrypoint names to handlers and their execution kind.
// Rebinding a name is refused rather than silently replacing the handler.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty entrypoint registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register binds a concurrent handler to an entrypoint name.
func (r *Registry) Register(name string, h Handler) error {
	return r.register(name, h, KindConcurrent)
}

// RegisterBlocking binds a blocking handler to an entrypoint name.
func (r *Registry) RegisterBlocking(name string, h Handler) error {
	return r.register(name, h, KindBlocking)
}

func (r *Registry) register(name string, h Handler, kind HandlerKind) error {
	if name == "" {
		return ErrEntrypointEmpty
	}
	if h == nil {
		return ErrHandlerNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEntrypoint, name)
	}
	r.entries[name] = registryEntry{handler: h, kind: kind}
	return nil
}

// Resolve returns the handler and kind bound to name.
func (r *Registry) Resolve(name string) (Handler, HandlerKind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, KindConcurrent, fmt.Errorf("%w: %q", ErrUnknownEntrypoint, name)
	}
	return entry.handler, entry.kind, nil
}

// Len returns the number of registered entrypoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Package sender defines the remote delivery interface used by the spool and
// a registry of sender factories keyed by type name.
//
// Concrete senders live in subpackages (http, kafka, mqtt, s3, memory). Each
// exposes NewFactory() returning a Factory that builds the sender from
// string parameters, the same way every sender is configured.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"eventtracker/internal/event"
)

// Batch is a unit of delivery: the events of one committed spool file.
type Batch struct {
	// ID is stable across retries of the same spool file.
	ID     string
	Events []event.Event
}

// Sender delivers batches to a remote collector.
// Implementations must be safe for concurrent use.
type Sender interface {
	// Send delivers a batch. A nil error means the remote accepted it.
	Send(ctx context.Context, b Batch) error

	// Close releases the transport. Send after Close returns an error.
	Close() error

	// Name identifies the sender in logs.
	Name() string
}

// Factory builds a sender from parameters.
type Factory func(params map[string]string, logger *slog.Logger) (Sender, error)

// Registry maps sender type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering the same type twice replaces the first.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// New builds a sender of the given type.
func (r *Registry) New(typ string, params map[string]string, logger *slog.Logger) (Sender, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sender type %q (known: %v)", typ, r.Types())
	}
	s, err := f(params, logger)
	if err != nil {
		return nil, fmt.Errorf("%s sender: %w", typ, err)
	}
	return s, nil
}

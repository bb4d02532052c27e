// Package memory provides an in-process sender that keeps delivered batches.
// It backs dry runs (--sender memory) and tests.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"eventtracker/internal/sender"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("memory sender closed")

// Sender records every batch it receives.
type Sender struct {
	mu      sync.Mutex
	batches []sender.Batch
	failing error
	closed  bool
}

// New returns an empty memory sender.
func New() *Sender {
	return &Sender{}
}

// NewFactory returns a sender.Factory for memory senders. It takes no params.
func NewFactory() sender.Factory {
	return func(map[string]string, *slog.Logger) (sender.Sender, error) {
		return New(), nil
	}
}

// Send stores the batch, or returns the error set by FailWith.
func (s *Sender) Send(_ context.Context, b sender.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.failing != nil {
		return s.failing
	}
	s.batches = append(s.batches, b)
	return nil
}

// FailWith makes subsequent sends fail with err. nil restores normal delivery.
func (s *Sender) FailWith(err error) {
	s.mu.Lock()
	s.failing = err
	s.mu.Unlock()
}

// Batches returns a copy of the delivered batches in arrival order.
func (s *Sender) Batches() []sender.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.batches)
}

// EventCount returns the total number of delivered events.
func (s *Sender) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b.Events)
	}
	return n
}

// Closed reports whether Close has been called.
func (s *Sender) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the sender closed.
func (s *Sender) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Name implements sender.Sender.
func (s *Sender) Name() string { return "memory" }

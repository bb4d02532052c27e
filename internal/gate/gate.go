// Package gate provides the acceptance gate consulted by the ingestion path.
//
// A Gate starts open and can only be closed. Closing is terminal for the
// lifetime of the process: the drain closes it and nothing reopens it.
package gate

import "sync/atomic"

// Gate is a one-way open/closed switch, safe for concurrent use.
// The zero value is closed; use New for an open gate.
type Gate struct {
	open atomic.Bool
}

// New returns an open gate.
func New() *Gate {
	g := &Gate{}
	g.open.Store(true)
	return g
}

// Close stops accepting. Idempotent.
func (g *Gate) Close() {
	g.open.Store(false)
}

// IsAccepting reports whether new events may enter the pipeline. Never blocks.
func (g *Gate) IsAccepting() bool {
	return g.open.Load()
}

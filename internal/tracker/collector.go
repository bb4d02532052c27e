// Package tracker is the hot ingestion path: it admits events through the
// acceptance gate into the spool.
package tracker

import (
	"errors"
	"log/slog"
	"maps"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/metrics"
)

// ErrNotAccepting is returned by Track once the gate has closed.
var ErrNotAccepting = errors.New("not accepting events")

// Gate is the read side of the acceptance gate.
type Gate interface {
	IsAccepting() bool
}

// Spool receives admitted events.
type Spool interface {
	Write(ev event.Event) error
}

// Config holds collector configuration.
type Config struct {
	Gate  Gate
	Spool Spool

	// Attrs are stamped on every event that doesn't already set them
	// (for example node_id).
	Attrs map[string]string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Collector admits events into the pipeline. Safe for concurrent use.
type Collector struct {
	gate    Gate
	spool   Spool
	attrs   map[string]string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a collector.
func New(cfg Config) *Collector {
	return &Collector{
		gate:    cfg.Gate,
		spool:   cfg.Spool,
		attrs:   maps.Clone(cfg.Attrs),
		metrics: cfg.Metrics,
		logger:  logging.Default(cfg.Logger).With("component", "collector"),
	}
}

// Accepting reports whether Track would currently admit events.
func (c *Collector) Accepting() bool {
	return c.gate.IsAccepting()
}

// Track admits one event. It returns ErrNotAccepting without touching the
// spool when the gate is closed.
func (c *Collector) Track(ev event.Event) error {
	if !c.gate.IsAccepting() {
		c.metrics.EventRejected("gate_closed")
		return ErrNotAccepting
	}

	if len(c.attrs) > 0 {
		merged := maps.Clone(c.attrs)
		maps.Copy(merged, ev.Attrs)
		ev.Attrs = merged
	}

	if err := c.spool.Write(ev); err != nil {
		if errors.Is(err, event.ErrInvalid) {
			c.metrics.EventRejected("invalid")
		} else {
			c.metrics.EventRejected("spool_error")
		}
		return err
	}
	c.metrics.EventAccepted()
	return nil
}

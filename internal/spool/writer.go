// Package spool implements the disk-backed event buffer.
//
// Events are appended to a single open buffer file. Committing seals that
// buffer into pending/ as a zstd-compressed msgpack stream. Flush delivers
// pending files to the remote sender, deleting each on success and moving it
// to quarantine/ on failure; after a send failure the rest wait in pending/.
// ProcessQuarantinedFiles moves quarantined files back to pending/ so the
// next Flush retries them.
//
//	Write ──► open/<id>.msgpack ──commit──► pending/<id>.msgpack.zst ──flush──► sender
//	                                              ▲                     │
//	                                              └──── promote ── quarantine/
package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/metrics"
	"eventtracker/internal/sender"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("spool writer closed")

// Defaults.
const (
	DefaultMaxEvents   = 10000
	DefaultSendTimeout = 10 * time.Second
)

// Config holds spool writer configuration.
type Config struct {
	// Dir is the spool root. Subdirectories are created as needed.
	Dir string

	// MaxEvents is the number of events after which the open buffer is
	// committed automatically. Zero means DefaultMaxEvents.
	MaxEvents int

	// Sender receives committed files on Flush. Required.
	Sender sender.Sender

	// SendTimeout bounds each Send call. Zero means DefaultSendTimeout.
	SendTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Stats is a point-in-time view of the spool.
type Stats struct {
	OpenEvents  int
	OpenFiles   int
	Pending     int
	Quarantined int
}

type openBuffer struct {
	f     *os.File
	enc   *event.Encoder
	path  string
	count int
}

// Writer is the disk spool. It is safe for concurrent use.
type Writer struct {
	dirs        layout
	maxEvents   int
	sender      sender.Sender
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// mu guards the open buffer and closed.
	mu     sync.Mutex
	open   *openBuffer
	closed bool

	// moves serializes Flush and ProcessQuarantinedFiles so the periodic
	// flush job and the drain never move the same file concurrently.
	// Acquisition honours the caller's ctx.
	moves *semaphore.Weighted
}

// New opens (or creates) a spool at cfg.Dir. Buffers left open by a previous
// process are committed so they become eligible for delivery.
func New(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("spool dir is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("spool sender is required")
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}

	w := &Writer{
		dirs:        newLayout(cfg.Dir),
		maxEvents:   maxEvents,
		sender:      cfg.Sender,
		sendTimeout: sendTimeout,
		metrics:     cfg.Metrics,
		logger:      logging.Default(cfg.Logger).With("component", "spool", "dir", cfg.Dir),
		moves:       semaphore.NewWeighted(1),
	}
	if err := w.dirs.ensure(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	err := w.commitLeftoversLocked()
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("could not commit leftover buffers", "error", err)
	}
	return w, nil
}

// Write appends an event to the open buffer, committing it once it holds
// MaxEvents events.
func (w *Writer) Write(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.open == nil {
		if err := w.openBufferLocked(); err != nil {
			return err
		}
	}
	if err := w.open.enc.Encode(ev); err != nil {
		return fmt.Errorf("append to %s: %w", filepath.Base(w.open.path), err)
	}
	w.open.count++

	if w.open.count >= w.maxEvents {
		if err := w.commitLocked(); err != nil {
			w.logger.Warn("rotation commit failed", "error", err)
		}
	}
	return nil
}

func (w *Writer) openBufferLocked() error {
	name := uuid.Must(uuid.NewV7()).String() + openSuffix
	path := filepath.Join(w.dirs.open, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // G304: path built from spool dir + generated name
	if err != nil {
		return fmt.Errorf("open spool buffer: %w", err)
	}
	w.open = &openBuffer{f: f, enc: event.NewEncoder(f), path: path}
	return nil
}

// ForceCommit seals the open buffer (and any buffer a previous attempt failed
// to seal) into pending/. It is a no-op when nothing is buffered.
func (w *Writer) ForceCommit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commitLocked()
}

// commitLocked closes the current buffer and commits every file in open/.
func (w *Writer) commitLocked() error {
	var errs []error
	if w.open != nil {
		if err := w.open.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", filepath.Base(w.open.path), err))
		}
		w.open = nil
	}
	if err := w.commitLeftoversLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *Writer) commitLeftoversLocked() error {
	names, err := listFiles(w.dirs.open, openSuffix)
	if err != nil {
		return fmt.Errorf("list open buffers: %w", err)
	}

	var errs []error
	for _, name := range names {
		src := filepath.Join(w.dirs.open, name)
		info, err := os.Stat(src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.Size() == 0 {
			_ = os.Remove(src)
			continue
		}
		dst, err := commitFile(src, w.dirs.pending)
		if err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", name, err))
			continue
		}
		w.metrics.SpoolFile(metrics.FileCommitted)
		w.logger.Debug("buffer committed", "file", filepath.Base(dst), "bytes", info.Size())
	}
	return errors.Join(errs...)
}

// acquireMoves takes the file-move lock, giving up when ctx is done.
func (w *Writer) acquireMoves(ctx context.Context) error {
	if err := w.moves.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("spool busy: %w", err)
	}
	return nil
}

// ProcessQuarantinedFiles moves every quarantined file back to pending/ so
// the next Flush retries it. It fails without moving anything if the move
// lock cannot be taken before ctx is done.
func (w *Writer) ProcessQuarantinedFiles(ctx context.Context) error {
	if err := w.acquireMoves(ctx); err != nil {
		return err
	}
	defer w.moves.Release(1)

	names, err := listFiles(w.dirs.quarantine, committedSuffix)
	if err != nil {
		return fmt.Errorf("list quarantine: %w", err)
	}

	var errs []error
	for _, name := range names {
		src := filepath.Join(w.dirs.quarantine, name)
		dst := filepath.Join(w.dirs.pending, name)
		if err := os.Rename(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("promote %s: %w", name, err))
			continue
		}
		w.metrics.SpoolFile(metrics.FilePromoted)
	}
	if len(names) > 0 {
		w.logger.Info("quarantined files promoted", "files", len(names)-len(errs), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// Flush delivers pending files to the sender, oldest first. Delivered files
// are deleted; a file that fails to decode or send is quarantined.
//
// Flush fails fast: after the first send failure the remaining files stay in
// pending/ for a later attempt, and once ctx is done no further file is
// started. Each Send is bounded by the smaller of ctx and SendTimeout.
func (w *Writer) Flush(ctx context.Context) error {
	if err := w.acquireMoves(ctx); err != nil {
		return err
	}
	defer w.moves.Release(1)

	names, err := listFiles(w.dirs.pending, committedSuffix)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	var errs []error
	sent, quarantined := 0, 0
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("flush stopped with %d file(s) left pending: %w", len(names)-i, err))
			break
		}
		sendFailed, err := w.deliver(ctx, name)
		if err == nil {
			sent++
			continue
		}
		errs = append(errs, fmt.Errorf("deliver %s: %w", name, err))
		w.quarantine(name)
		quarantined++
		if !sendFailed {
			continue
		}
		if left := len(names) - i - 1; left > 0 {
			errs = append(errs, fmt.Errorf("sender %s failing, %d file(s) left pending", w.sender.Name(), left))
		}
		break
	}
	if len(names) > 0 {
		w.logger.Info("spool flushed",
			"sent", sent,
			"quarantined", quarantined,
			"pending", len(names)-sent-quarantined,
			"sender", w.sender.Name())
	}
	return errors.Join(errs...)
}

// deliver sends one pending file. sendFailed distinguishes a transport
// failure from a file that could not be read.
func (w *Writer) deliver(ctx context.Context, name string) (sendFailed bool, err error) {
	path := filepath.Join(w.dirs.pending, name)
	events, err := readCommitted(path)
	if err != nil {
		return false, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()
	if err := w.sender.Send(sendCtx, sender.Batch{ID: batchID(name), Events: events}); err != nil {
		return true, err
	}

	if err := os.Remove(path); err != nil {
		// Delivered but not removed: it will be sent again. Batch IDs are
		// stable so the collector can deduplicate.
		w.logger.Warn("could not remove delivered file", "file", name, "error", err)
	}
	w.metrics.SpoolFile(metrics.FileSent)
	return false, nil
}

func (w *Writer) quarantine(name string) {
	src := filepath.Join(w.dirs.pending, name)
	dst := filepath.Join(w.dirs.quarantine, name)
	if err := os.Rename(src, dst); err != nil {
		w.logger.Warn("could not quarantine file", "file", name, "error", err)
		return
	}
	w.metrics.SpoolFile(metrics.FileQuarantined)
}

// Stats reports the current spool contents.
func (w *Writer) Stats() (Stats, error) {
	var st Stats

	w.mu.Lock()
	if w.open != nil {
		st.OpenEvents = w.open.count
	}
	w.mu.Unlock()

	for _, c := range []struct {
		dir    string
		suffix string
		dst    *int
	}{
		{w.dirs.open, openSuffix, &st.OpenFiles},
		{w.dirs.pending, committedSuffix, &st.Pending},
		{w.dirs.quarantine, committedSuffix, &st.Quarantined},
	} {
		names, err := listFiles(c.dir, c.suffix)
		if err != nil {
			return st, err
		}
		*c.dst = len(names)
	}
	return st, nil
}

// Close rejects further writes and releases the open buffer handle without
// committing it; the buffer is recovered by the next New on the same dir.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.open == nil {
		return nil
	}
	err := w.open.f.Close()
	w.open = nil
	return err
}

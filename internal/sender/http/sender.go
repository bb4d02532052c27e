// Package http provides a sender that POSTs batches to an HTTP collector.
//
// The body is the batch as a msgpack array, zstd-compressed:
//
//	POST <url>
//	Content-Type: application/msgpack
//	Content-Encoding: zstd
//	X-Batch-Id: <batch id>
//
// Any 2xx response counts as delivered.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/sender"
)

// zstdEnc is a package-level encoder; EncodeAll is concurrent-safe.
var zstdEnc *zstd.Encoder

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("zstd: init encoder: " + err.Error())
	}
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("http sender closed")

// Config holds HTTP sender configuration.
type Config struct {
	URL       string
	AuthToken string //nolint:gosec // G117: config field, not a hardcoded credential
	Timeout   time.Duration
	Client    *http.Client // optional; a client with Timeout is built when nil
	Logger    *slog.Logger
}

// Sender posts batches to a collector endpoint.
type Sender struct {
	cfg    Config
	client *http.Client
	closed atomic.Bool
	logger *slog.Logger
}

// New creates an HTTP sender.
func New(cfg Config) *Sender {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sender{
		cfg:    cfg,
		client: client,
		logger: logging.Default(cfg.Logger).With("component", "sender", "type", "http"),
	}
}

// Send implements sender.Sender.
func (s *Sender) Send(ctx context.Context, b sender.Batch) error {
	if s.closed.Load() {
		return ErrClosed
	}

	raw, err := event.MarshalBatch(b.Events)
	if err != nil {
		return err
	}
	body := zstdEnc.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/msgpack")
	req.Header.Set("Content-Encoding", "zstd")
	req.Header.Set("X-Batch-Id", b.ID)
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch %s: %w", b.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post batch %s: collector returned %s", b.ID, resp.Status)
	}
	s.logger.Debug("batch delivered", "batch", b.ID, "events", len(b.Events), "bytes", len(body))
	return nil
}

// Close stops accepting sends and drops idle connections.
func (s *Sender) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.client.CloseIdleConnections()
	return nil
}

// Name implements sender.Sender.
func (s *Sender) Name() string { return "http" }

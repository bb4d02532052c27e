// Package ingest exposes the tracker over HTTP.
//
// Endpoints:
//
//	POST /v1/events  JSON event or array of events (gzip, zstd or identity)
//	GET  /ready      200 while accepting, 503 once the drain has started
//	GET  /metrics    Prometheus exposition (when a Gatherer is configured)
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/tracker"
)

// Attribute limits to prevent abuse.
const (
	maxAttrs        = 32
	maxAttrKeyLen   = 64
	maxAttrValueLen = 256
)

const (
	shutdownTimeout   = 5 * time.Second
	limiterCleanup    = time.Minute
	limiterStaleAfter = 10 * time.Minute
)

// Tracker admits events into the pipeline.
type Tracker interface {
	Track(ev event.Event) error
	Accepting() bool
}

// Config holds ingest server configuration.
type Config struct {
	// Addr is the address to listen on (e.g. ":8080", "127.0.0.1:0").
	Addr string

	Tracker Tracker

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// RateLimit is the per-client request rate in requests per second.
	// Zero or less disables rate limiting.
	RateLimit float64
	Burst     int

	Logger *slog.Logger
}

// Server is the HTTP front end of the tracker.
type Server struct {
	cfg     Config
	limiter *rateLimiter
	handler http.Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server. Call Run to start listening, or use Handler
// directly with an existing http.Server.
func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "ingest"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newRateLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	var events http.Handler = http.HandlerFunc(s.handleEvents)
	if s.limiter != nil {
		events = s.limiter.middleware(events)
	}
	mux.Handle("POST /v1/events", events)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("ingest server starting", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer func() {
		stopCleanup()
		wg.Wait()
	}()
	if s.limiter != nil {
		wg.Go(func() { s.limiter.runCleanup(cleanupCtx, limiterCleanup, limiterStaleAfter) })
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("ingest server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ingest server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// wireEvent is the JSON shape of an event on POST /v1/events.
type wireEvent struct {
	ID        string            `json:"id,omitempty"`
	Type      string            `json:"type"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

// response is the JSON body of every /v1/events reply.
type response struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Tracker.Accepting() {
		writeJSON(w, http.StatusServiceUnavailable, response{Error: tracker.ErrNotAccepting.Error()})
		return
	}

	body, err := readBody(r.Body, r.Header.Get("Content-Encoding"), maxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, response{Error: err.Error()})
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}

	accepted := 0
	for _, ev := range events {
		if err := s.cfg.Tracker.Track(ev); err != nil {
			if errors.Is(err, tracker.ErrNotAccepting) {
				writeJSON(w, http.StatusServiceUnavailable, response{Accepted: accepted, Error: err.Error()})
				return
			}
			s.logger.Error("track event failed", "type", ev.Type, "error", err)
			writeJSON(w, http.StatusInternalServerError, response{Accepted: accepted, Error: "failed to store event"})
			return
		}
		accepted++
	}
	writeJSON(w, http.StatusAccepted, response{Accepted: accepted})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.cfg.Tracker.Accepting() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// decodeEvents parses a single event object or an array of them. Every
// event is validated before any is returned, so a request is all or nothing
// at the parsing stage.
func decodeEvents(body []byte) ([]event.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	var wire []wireEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		var one wireEvent
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		wire = []wireEvent{one}
	}

	events := make([]event.Event, 0, len(wire))
	for i, we := range wire {
		ev, err := we.toEvent()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (we wireEvent) toEvent() (event.Event, error) {
	if len(we.Attrs) > maxAttrs {
		return event.Event{}, fmt.Errorf("too many attrs (%d > %d)", len(we.Attrs), maxAttrs)
	}
	for k, v := range we.Attrs {
		if k == "" || len(k) > maxAttrKeyLen {
			return event.Event{}, fmt.Errorf("attr key %q: length must be 1..%d", k, maxAttrKeyLen)
		}
		if len(v) > maxAttrValueLen {
			return event.Event{}, fmt.Errorf("attr %q: value longer than %d", k, maxAttrValueLen)
		}
	}

	var payload []byte
	if len(we.Payload) > 0 && !bytes.Equal(we.Payload, []byte("null")) {
		payload = []byte(we.Payload)
	}
	ev := event.New(we.Type, payload, we.Attrs)
	if we.ID != "" {
		id, err := uuid.Parse(we.ID)
		if err != nil {
			return event.Event{}, fmt.Errorf("invalid id: %w", err)
		}
		ev.ID = id
	}
	if we.Timestamp != nil {
		ev.Timestamp = we.Timestamp.UTC()
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

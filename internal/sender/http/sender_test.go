package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"eventtracker/internal/event"
	"eventtracker/internal/sender"
)

type collector struct {
	mu      sync.Mutex
	batches [][]event.Event
	headers []http.Header
	status  int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	dec, _ := zstd.NewReader(nil)
	defer dec.Close()
	raw, err := dec.DecodeAll(body, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := event.UnmarshalBatch(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.batches = append(c.batches, events)
	c.headers = append(c.headers, r.Header.Clone())
	status := c.status
	c.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func TestSendDeliversBatch(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	s := New(Config{URL: srv.URL + "/collect", AuthToken: "tok"})
	b := sender.Batch{ID: "batch-1", Events: []event.Event{event.New("a", []byte("1"), nil), event.New("b", nil, nil)}}
	if err := s.Send(context.Background(), b); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) != 1 || len(c.batches[0]) != 2 {
		t.Fatalf("unexpected batches: %+v", c.batches)
	}
	if c.batches[0][0].ID != b.Events[0].ID {
		t.Error("event id mismatch")
	}
	h := c.headers[0]
	if h.Get("X-Batch-Id") != "batch-1" {
		t.Errorf("X-Batch-Id = %q", h.Get("X-Batch-Id"))
	}
	if h.Get("Authorization") != "Bearer tok" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("Content-Encoding") != "zstd" {
		t.Errorf("Content-Encoding = %q", h.Get("Content-Encoding"))
	}
}

func TestSendNon2xxFails(t *testing.T) {
	c := &collector{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(c)
	defer srv.Close()

	s := New(Config{URL: srv.URL})
	err := s.Send(context.Background(), sender.Batch{ID: "x", Events: []event.Event{event.New("a", nil, nil)}})
	if err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestSendAfterClose(t *testing.T) {
	s := New(Config{URL: "http://127.0.0.1:1"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal("second Close should be a no-op")
	}
	err := s.Send(context.Background(), sender.Batch{ID: "x"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFactory(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name    string
		params  map[string]string
		wantErr bool
	}{
		{"missing url", map[string]string{}, true},
		{"bad scheme", map[string]string{"url": "ftp://x/y"}, true},
		{"bad timeout", map[string]string{"url": "http://x/y", "timeout": "soon"}, true},
		{"negative timeout", map[string]string{"url": "http://x/y", "timeout": "-1s"}, true},
		{"minimal", map[string]string{"url": "https://collector.example.com/v1/batches"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := factory(tt.params, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.Name() != "http" {
				t.Errorf("Name() = %q", s.Name())
			}
		})
	}
}

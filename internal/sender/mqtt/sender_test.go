package mqtt

import (
	"context"
	"strings"
	"testing"
	"time"

	"eventtracker/internal/event"
	"eventtracker/internal/sender"
)

func TestFactoryValidation(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name    string
		params  map[string]string
		wantErr bool
	}{
		{"missing broker", map[string]string{"topic": "t"}, true},
		{"missing topic", map[string]string{"broker": "tcp://localhost:1883"}, true},
		{"bad qos", map[string]string{"broker": "tcp://localhost:1883", "topic": "t", "qos": "3"}, true},
		{"bad timeout", map[string]string{"broker": "tcp://localhost:1883", "topic": "t", "connect_timeout": "x"}, true},
		{"minimal", map[string]string{"broker": "tcp://localhost:1883", "topic": "t"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory(tt.params, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFactoryDefaults(t *testing.T) {
	s, err := NewFactory()(map[string]string{"broker": "tcp://localhost:1883", "topic": "events"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ms := s.(*Sender)
	if ms.cfg.QoS != 1 {
		t.Errorf("default qos = %d, want 1", ms.cfg.QoS)
	}
	if !strings.HasPrefix(ms.cfg.ClientID, "eventtracker-") {
		t.Errorf("default client id = %q", ms.cfg.ClientID)
	}
}

func TestSendUnreachableBrokerFails(t *testing.T) {
	s := New(Config{
		Broker:         "tcp://127.0.0.1:1",
		Topic:          "events",
		ClientID:       "test",
		ConnectTimeout: 200 * time.Millisecond,
	})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Send(ctx, sender.Batch{ID: "b", Events: []event.Event{event.New("a", nil, nil)}})
	if err == nil {
		t.Fatal("expected error for unreachable broker")
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	s := New(Config{Broker: "tcp://127.0.0.1:1", Topic: "events", ClientID: "test"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

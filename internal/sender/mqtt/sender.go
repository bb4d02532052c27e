// Package mqtt provides a sender that publishes each batch as one MQTT
// message (msgpack array payload) using the Eclipse Paho client.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/sender"
)

// disconnectQuiesce is how long Close lets in-flight publishes finish, in ms.
const disconnectQuiesce = 250

// Config holds MQTT sender configuration.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	Topic          string
	ClientID       string
	QoS            byte
	Username       string
	Password       string //nolint:gosec // G117: config field, not a hardcoded credential
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Sender publishes batches to an MQTT topic.
type Sender struct {
	cfg    Config
	client paho.Client
	logger *slog.Logger
}

// New creates an MQTT sender. The connection is established on first Send
// and re-established automatically by the client afterwards.
func New(cfg Config) *Sender {
	logger := logging.Default(cfg.Logger).With("component", "sender", "type", "mqtt")

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	return &Sender{
		cfg:    cfg,
		client: paho.NewClient(opts),
		logger: logger,
	}
}

// Send implements sender.Sender.
func (s *Sender) Send(ctx context.Context, b sender.Batch) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	payload, err := event.MarshalBatch(b.Events)
	if err != nil {
		return err
	}

	tok := s.client.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)
	if err := waitToken(ctx, tok); err != nil {
		return fmt.Errorf("publish batch %s: %w", b.ID, err)
	}
	s.logger.Debug("batch published", "batch", b.ID, "events", len(b.Events), "topic", s.cfg.Topic)
	return nil
}

func (s *Sender) ensureConnected(ctx context.Context) error {
	if s.client.IsConnectionOpen() {
		return nil
	}
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	s.logger.Info("mqtt connected", "broker", s.cfg.Broker)
	return nil
}

// Close disconnects from the broker.
func (s *Sender) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

// Name implements sender.Sender.
func (s *Sender) Name() string { return "mqtt" }

// waitToken waits for a paho token or ctx, whichever comes first.
func waitToken(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return errors.Join(ctx.Err(), errors.New("mqtt operation still pending"))
	}
}

// Package kafka provides a Kafka producer sender using franz-go.
// Each event becomes one record keyed by its event ID, valued with the
// msgpack-encoded event.
package kafka

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/sender"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // G117: config field, not a hardcoded credential
}

// Config holds Kafka sender configuration.
type Config struct {
	Brokers []string
	Topic   string
	TLS     bool
	SASL    *SASLConfig
	Logger  *slog.Logger
}

// Sender produces events to a Kafka topic.
type Sender struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger
}

// New creates a Kafka sender. The client connects lazily on first produce.
func New(cfg Config) (*Sender, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}

	if cfg.SASL != nil {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	return &Sender{
		cfg:    cfg,
		client: client,
		logger: logging.Default(cfg.Logger).With("component", "sender", "type", "kafka"),
	}, nil
}

// Send produces every event of the batch and waits for all acks.
func (s *Sender) Send(ctx context.Context, b sender.Batch) error {
	records := make([]*kgo.Record, 0, len(b.Events))
	for _, ev := range b.Events {
		var buf bytes.Buffer
		if err := event.NewEncoder(&buf).Encode(ev); err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(ev.ID.String()),
			Value: buf.Bytes(),
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(ev.Type)},
				{Key: "batch_id", Value: []byte(b.ID)},
			},
		})
	}
	if len(records) == 0 {
		return nil
	}

	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce batch %s: %w", b.ID, err)
	}
	s.logger.Debug("batch produced", "batch", b.ID, "records", len(records), "topic", s.cfg.Topic)
	return nil
}

// Close flushes nothing further and closes the client.
func (s *Sender) Close() error {
	s.client.Close()
	return nil
}

// Name implements sender.Sender.
func (s *Sender) Name() string { return "kafka" }

// saslMechanisms maps the accepted mechanism names to their constructors.
var saslMechanisms = map[string]func(user, pass string) sasl.Mechanism{
	"plain": func(u, p string) sasl.Mechanism {
		return plain.Auth{User: u, Pass: p}.AsMechanism()
	},
	"scram-sha-256": func(u, p string) sasl.Mechanism {
		return scram.Auth{User: u, Pass: p}.AsSha256Mechanism()
	},
	"scram-sha-512": func(u, p string) sasl.Mechanism {
		return scram.Auth{User: u, Pass: p}.AsSha512Mechanism()
	},
}

func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	build, ok := saslMechanisms[cfg.Mechanism]
	if !ok {
		return nil, fmt.Errorf("unsupported SASL mechanism: %q", cfg.Mechanism)
	}
	return build(cfg.User, cfg.Password), nil
}

package kafka

import (
	"fmt"
	"log/slog"
	"strings"

	"eventtracker/internal/sender"
)

// NewFactory returns a sender.Factory for Kafka senders.
//
// Params: brokers (comma-separated, required), topic (required), tls,
// sasl_mechanism, sasl_user, sasl_password.
func NewFactory() sender.Factory {
	return func(params map[string]string, logger *slog.Logger) (sender.Sender, error) {
		brokers := params["brokers"]
		if brokers == "" {
			return nil, fmt.Errorf("brokers param is required")
		}

		topic := params["topic"]
		if topic == "" {
			return nil, fmt.Errorf("topic param is required")
		}

		var sasl *SASLConfig
		if mech := params["sasl_mechanism"]; mech != "" {
			if _, ok := saslMechanisms[strings.ToLower(mech)]; !ok {
				return nil, fmt.Errorf("unsupported sasl_mechanism %q (supported: plain, scram-sha-256, scram-sha-512)", mech)
			}
			sasl = &SASLConfig{
				Mechanism: strings.ToLower(mech),
				User:      params["sasl_user"],
				Password:  params["sasl_password"],
			}
		}

		brokerList := strings.Split(brokers, ",")
		for i := range brokerList {
			brokerList[i] = strings.TrimSpace(brokerList[i])
		}

		return New(Config{
			Brokers: brokerList,
			Topic:   topic,
			TLS:     params["tls"] == "true",
			SASL:    sasl,
			Logger:  logger,
		})
	}
}

package mqtt

import (
	"cmp"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"eventtracker/internal/sender"
)

// NewFactory returns a sender.Factory for MQTT senders.
//
// Params: broker (required), topic (required), client_id, qos (0-2),
// username, password, connect_timeout.
func NewFactory() sender.Factory {
	return func(params map[string]string, logger *slog.Logger) (sender.Sender, error) {
		broker := params["broker"]
		if broker == "" {
			return nil, fmt.Errorf("broker param is required")
		}
		topic := params["topic"]
		if topic == "" {
			return nil, fmt.Errorf("topic param is required")
		}

		qos, err := strconv.Atoi(cmp.Or(params["qos"], "1"))
		if err != nil || qos < 0 || qos > 2 {
			return nil, fmt.Errorf("invalid qos %q: must be 0, 1 or 2", params["qos"])
		}

		timeout, err := time.ParseDuration(cmp.Or(params["connect_timeout"], "10s"))
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("invalid connect_timeout %q", params["connect_timeout"])
		}

		clientID := cmp.Or(params["client_id"], "eventtracker-"+uuid.NewString()[:8])

		return New(Config{
			Broker:         broker,
			Topic:          topic,
			ClientID:       clientID,
			QoS:            byte(qos),
			Username:       params["username"],
			Password:       params["password"],
			ConnectTimeout: timeout,
			Logger:         logger,
		}), nil
	}
}

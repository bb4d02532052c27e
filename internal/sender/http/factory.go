package http

import (
	"cmp"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"eventtracker/internal/sender"
)

// ParamDefaults returns the default parameter values for an HTTP sender.
func ParamDefaults() map[string]string {
	return map[string]string{
		"timeout": "10s",
	}
}

// NewFactory returns a sender.Factory for HTTP senders.
//
// Params: url (required), timeout, auth_token.
func NewFactory() sender.Factory {
	return func(params map[string]string, logger *slog.Logger) (sender.Sender, error) {
		raw := params["url"]
		if raw == "" {
			return nil, fmt.Errorf("url param is required")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid url %q: must be http(s)://host/path", raw)
		}

		timeout, err := time.ParseDuration(cmp.Or(params["timeout"], ParamDefaults()["timeout"]))
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", params["timeout"])
		}

		return New(Config{
			URL:       raw,
			AuthToken: params["auth_token"],
			Timeout:   timeout,
			Logger:    logger,
		}), nil
	}
}

package main

import (
	"log/slog"

	"eventtracker/internal/config"
	"eventtracker/internal/sender"
	senderhttp "eventtracker/internal/sender/http"
	senderkafka "eventtracker/internal/sender/kafka"
	sendermemory "eventtracker/internal/sender/memory"
	sendermqtt "eventtracker/internal/sender/mqtt"
	senders3 "eventtracker/internal/sender/s3"
)

// buildRegistry registers every sender type the binary ships with.
func buildRegistry() *sender.Registry {
	r := sender.NewRegistry()
	r.Register("http", senderhttp.NewFactory())
	r.Register("kafka", senderkafka.NewFactory())
	r.Register("mqtt", sendermqtt.NewFactory())
	r.Register("s3", senders3.NewFactory())
	r.Register("memory", sendermemory.NewFactory())
	return r
}

func openSender(cfg config.SenderConfig, logger *slog.Logger) (sender.Sender, error) {
	return buildRegistry().New(cfg.Type, cfg.Params, logger)
}

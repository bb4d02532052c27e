package s3

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"eventtracker/internal/sender"
)

// NewFactory returns a sender.Factory for S3 senders.
//
// Params: bucket (required), prefix, region, endpoint, access_key,
// secret_key, path_style.
func NewFactory() sender.Factory {
	return func(params map[string]string, logger *slog.Logger) (sender.Sender, error) {
		bucket := params["bucket"]
		if bucket == "" {
			return nil, fmt.Errorf("bucket param is required")
		}
		if (params["access_key"] == "") != (params["secret_key"] == "") {
			return nil, fmt.Errorf("access_key and secret_key must be set together")
		}

		return New(context.Background(), Config{
			Bucket:    bucket,
			Prefix:    strings.Trim(params["prefix"], "/"),
			Region:    params["region"],
			Endpoint:  params["endpoint"],
			AccessKey: params["access_key"],
			SecretKey: params["secret_key"],
			PathStyle: params["path_style"] == "true",
			Logger:    logger,
		})
	}
}

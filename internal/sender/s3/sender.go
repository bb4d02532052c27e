// Package s3 provides a sender that archives each batch as an S3 object.
//
// Objects are written to <prefix>/<yyyy>/<mm>/<dd>/<batch-id>.msgpack, so a
// spool file retried on the same day overwrites its earlier upload.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"eventtracker/internal/event"
	"eventtracker/internal/logging"
	"eventtracker/internal/sender"
)

// PutObjectAPI is the subset of the S3 client used by the sender.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3 sender configuration.
type Config struct {
	Bucket string
	Prefix string

	// Region, Endpoint and static credentials are optional; the default AWS
	// credential chain is used when AccessKey is empty.
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string //nolint:gosec // G117: config field, not a hardcoded credential
	PathStyle bool

	Logger *slog.Logger
}

// Sender uploads batches to S3.
type Sender struct {
	cfg    Config
	client PutObjectAPI
	now    func() time.Time
	logger *slog.Logger
}

// New loads AWS configuration and creates an S3 sender.
func New(ctx context.Context, cfg Config) (*Sender, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewWithClient(cfg, client), nil
}

// NewWithClient creates a sender around an existing client.
func NewWithClient(cfg Config, client PutObjectAPI) *Sender {
	return &Sender{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		logger: logging.Default(cfg.Logger).With("component", "sender", "type", "s3"),
	}
}

// Send implements sender.Sender.
func (s *Sender) Send(ctx context.Context, b sender.Batch) error {
	body, err := event.MarshalBatch(b.Events)
	if err != nil {
		return err
	}
	key := s.objectKey(b.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/msgpack"),
		Metadata: map[string]string{
			"batch-id":    b.ID,
			"event-count": fmt.Sprint(len(b.Events)),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	s.logger.Debug("batch archived", "bucket", s.cfg.Bucket, "key", key, "events", len(b.Events))
	return nil
}

func (s *Sender) objectKey(batchID string) string {
	day := s.now().UTC().Format("2006/01/02")
	return path.Join(s.cfg.Prefix, day, batchID+".msgpack")
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Sender) Close() error { return nil }

// Name implements sender.Sender.
func (s *Sender) Name() string { return "s3" }

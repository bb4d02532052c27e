package s3

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"eventtracker/internal/event"
	"eventtracker/internal/sender"
)

type fakePut struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestSendPutsObject(t *testing.T) {
	fake := &fakePut{}
	s := NewWithClient(Config{Bucket: "events", Prefix: "tracker"}, fake)
	s.now = func() time.Time { return time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC) }

	evs := []event.Event{event.New("a", nil, nil), event.New("b", nil, nil)}
	if err := s.Send(context.Background(), sender.Batch{ID: "batch-7", Events: evs}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if aws.ToString(in.Bucket) != "events" {
		t.Errorf("bucket = %q", aws.ToString(in.Bucket))
	}
	if got := aws.ToString(in.Key); got != "tracker/2025/03/04/batch-7.msgpack" {
		t.Errorf("key = %q", got)
	}
	if in.Metadata["event-count"] != "2" {
		t.Errorf("metadata = %v", in.Metadata)
	}

	decoded, err := event.UnmarshalBatch(fake.bodies[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0].ID != evs[0].ID {
		t.Errorf("unexpected body: %+v", decoded)
	}
}

func TestSendPropagatesError(t *testing.T) {
	s := NewWithClient(Config{Bucket: "events"}, &fakePut{err: errors.New("access denied")})
	err := s.Send(context.Background(), sender.Batch{ID: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFactoryValidation(t *testing.T) {
	factory := NewFactory()
	if _, err := factory(map[string]string{}, nil); err == nil {
		t.Error("expected error when bucket is missing")
	}
	if _, err := factory(map[string]string{"bucket": "b", "access_key": "AK"}, nil); err == nil {
		t.Error("expected error for access_key without secret_key")
	}
}

func TestFactoryStaticCredentials(t *testing.T) {
	s, err := NewFactory()(map[string]string{
		"bucket":     "b",
		"prefix":     "/raw/",
		"region":     "us-east-1",
		"endpoint":   "http://localhost:9000",
		"access_key": "AK",
		"secret_key": "SK",
		"path_style": "true",
	}, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if got := s.(*Sender).cfg.Prefix; got != "raw" {
		t.Errorf("prefix = %q, want trimmed", got)
	}
}

// Package event defines the tracked event type and its msgpack stream codec.
//
// Spool files and remote payloads are sequences of msgpack-encoded Events
// written back to back, with no framing beyond msgpack itself.
package event

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Event is a single tracked event.
type Event struct {
	ID        uuid.UUID         `msgpack:"id" json:"id"`
	Type      string            `msgpack:"type" json:"type"`
	Timestamp time.Time         `msgpack:"ts" json:"timestamp"`
	Attrs     map[string]string `msgpack:"attrs,omitempty" json:"attrs,omitempty"`
	Payload   []byte            `msgpack:"payload,omitempty" json:"payload,omitempty"`
}

// ErrInvalid is returned by Validate for events that cannot be spooled.
var ErrInvalid = errors.New("invalid event")

// New creates an event with a fresh UUIDv7 and the current time.
// The attrs map is copied.
func New(typ string, payload []byte, attrs map[string]string) Event {
	return Event{
		ID:        uuid.Must(uuid.NewV7()),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Attrs:     maps.Clone(attrs),
		Payload:   payload,
	}
}

// Validate checks the fields required for spooling.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalid)
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	return nil
}

// Encoder writes events to a stream.
type Encoder struct {
	enc *msgpack.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: msgpack.NewEncoder(w)}
}

// Encode appends one event to the stream.
func (e *Encoder) Encode(ev Event) error {
	return e.enc.Encode(&ev)
}

// Decoder reads events from a stream.
type Decoder struct {
	dec *msgpack.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: msgpack.NewDecoder(r)}
}

// Decode reads the next event. It returns io.EOF at the clean end of the stream.
func (d *Decoder) Decode() (Event, error) {
	var ev Event
	if err := d.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// DecodeAll reads events until the end of the stream.
func DecodeAll(r io.Reader) ([]Event, error) {
	dec := NewDecoder(r)
	var events []Event
	for {
		ev, err := dec.Decode()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// MarshalBatch encodes events as a single msgpack array.
func MarshalBatch(events []Event) ([]byte, error) {
	return msgpack.Marshal(events)
}

// UnmarshalBatch decodes a msgpack array produced by MarshalBatch.
func UnmarshalBatch(data []byte) ([]Event, error) {
	var events []Event
	if err := msgpack.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return events, nil
}

package contracts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// DefaultContentType is used when an envelope does not name one
const DefaultContentType = "application/json"

// Envelope wraps a serialized message with its delivery metadata
type Envelope struct {
	ID            string
	MessageType   string
	CorrelationID string
	Destination   *url.URL
	ReplyURI      *url.URL
	Status        EnvelopeStatus
	OwnerID       string
	ScheduledTime *time.Time
	SentAt        time.Time
	Headers       map[string]string
	ContentType   string
	Data          []byte
}

// NewEnvelope creates an envelope with a fresh ID
func NewEnvelope(messageType string, data []byte) *Envelope {
	return &Envelope{
		ID:          uuid.NewString(),
		MessageType: messageType,
		ContentType: DefaultContentType,
		Headers:     make(map[string]string),
		Data:        data,
	}
}

// SetHeader sets a header value, allocating the header map if needed
func (e *Envelope) SetHeader(key, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
}

// Header returns a header value or the empty string
func (e *Envelope) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}

// IsScheduledForLater reports whether the envelope should not be delivered before now
func (e *Envelope) IsScheduledForLater(now time.Time) bool {
	return e.ScheduledTime != nil && e.ScheduledTime.After(now)
}

// String identifies the envelope in log records
func (e *Envelope) String() string {
	if e.Destination == nil {
		return fmt.Sprintf("%s#%s", e.MessageType, e.ID)
	}
	return fmt.Sprintf("%s#%s to %s", e.MessageType, e.ID, e.Destination)
}

// LogValue implements slog.LogValuer so log records carry metadata and not the body
func (e *Envelope) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", e.ID),
		slog.String("message_type", e.MessageType),
	}
	if e.Destination != nil {
		attrs = append(attrs, slog.String("destination", e.Destination.String()))
	}
	if e.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", e.CorrelationID))
	}
	return slog.GroupValue(attrs...)
}

// envelopeJSON is the wire form used by JSON-bodied transports
type envelopeJSON struct {
	ID            string            `json:"id"`
	MessageType   string            `json:"messageType"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Destination   string            `json:"destination,omitempty"`
	ReplyURI      string            `json:"replyUri,omitempty"`
	Status        EnvelopeStatus    `json:"status"`
	OwnerID       string            `json:"ownerId,omitempty"`
	ScheduledTime *time.Time        `json:"scheduledTime,omitempty"`
	SentAt        *time.Time        `json:"sentAt,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	ContentType   string            `json:"contentType,omitempty"`
	Data          json.RawMessage   `json:"data,omitempty"` // read only, for producers embedding the body
	RawData       []byte            `json:"rawData,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (e *Envelope) MarshalJSON() ([]byte, error) {
	wire := envelopeJSON{
		ID:            e.ID,
		MessageType:   e.MessageType,
		CorrelationID: e.CorrelationID,
		Status:        e.Status,
		OwnerID:       e.OwnerID,
		ScheduledTime: e.ScheduledTime,
		Headers:       e.Headers,
		ContentType:   e.ContentType,
	}
	if e.Destination != nil {
		wire.Destination = e.Destination.String()
	}
	if e.ReplyURI != nil {
		wire.ReplyURI = e.ReplyURI.String()
	}
	if !e.SentAt.IsZero() {
		sentAt := e.SentAt
		wire.SentAt = &sentAt
	}

	// Bodies travel base64 encoded so the bytes arrive exactly as sent; an embedded
	// json.RawMessage would be compacted by the encoder.
	if len(e.Data) > 0 {
		wire.RawData = e.Data
	}

	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	destination, err := parseOptionalURI(wire.Destination)
	if err != nil {
		return fmt.Errorf("contracts: invalid destination: %w", err)
	}
	replyURI, err := parseOptionalURI(wire.ReplyURI)
	if err != nil {
		return fmt.Errorf("contracts: invalid reply uri: %w", err)
	}

	*e = Envelope{
		ID:            wire.ID,
		MessageType:   wire.MessageType,
		CorrelationID: wire.CorrelationID,
		Destination:   destination,
		ReplyURI:      replyURI,
		Status:        wire.Status,
		OwnerID:       wire.OwnerID,
		ScheduledTime: wire.ScheduledTime,
		Headers:       wire.Headers,
		ContentType:   wire.ContentType,
	}
	if wire.SentAt != nil {
		e.SentAt = *wire.SentAt
	}
	if len(wire.Data) > 0 {
		e.Data = []byte(wire.Data)
	} else {
		e.Data = wire.RawData
	}

	return nil
}

func parseOptionalURI(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// MustParseURI parses a URI and panics on error. Intended for static configuration.
func MustParseURI(raw string) *url.URL {
	uri, err := url.Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid uri %q: %v", raw, err))
	}
	return uri
}

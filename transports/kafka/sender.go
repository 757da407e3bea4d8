package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/messaging"
	kafkago "github.com/segmentio/kafka-go"
)

// Scheme is the URI scheme handled by this transport
const Scheme = "kafka"

// Header names carrying envelope metadata
const (
	HeaderMessageType   = "mmate-message-type"
	HeaderCorrelationID = "mmate-correlation-id"
	HeaderReplyURI      = "mmate-reply-uri"
	HeaderOwnerID       = "mmate-owner-id"
	HeaderContentType   = "content-type"
)

var ErrInvalidTopic = errors.New("kafka: invalid topic")

// DefaultBatchTimeout bounds how long a single-message write waits for its batch to flush
const DefaultBatchTimeout = 5 * time.Millisecond

// Writer is the subset of *kafka.Writer used for sending
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// WriterConfig configures NewWriter
type WriterConfig struct {
	Brokers      []string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
	RequiredAcks kafkago.RequiredAcks
}

// NewWriter creates a kafka-go writer without a fixed topic so one writer can serve every
// kafka:// destination
func NewWriter(config WriterConfig) (*kafkago.Writer, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}
	if config.RequiredAcks == 0 {
		config.RequiredAcks = kafkago.RequireAll
	}

	return &kafkago.Writer{
		Addr:         kafkago.TCP(config.Brokers...),
		Balancer:     &kafkago.Hash{},
		WriteTimeout: config.WriteTimeout,
		BatchTimeout: config.BatchTimeout,
		RequiredAcks: config.RequiredAcks,
	}, nil
}

// TopicFromURI extracts the topic from kafka://topic/<topic>
func TopicFromURI(uri *url.URL) (string, error) {
	if uri == nil || uri.Scheme != Scheme {
		return "", fmt.Errorf("%w: expected %s:// uri, got %v", ErrInvalidTopic, Scheme, uri)
	}
	if uri.Host != "topic" {
		return "", fmt.Errorf("%w: expected kafka://topic/<name>, got %s", ErrInvalidTopic, uri)
	}
	topic := strings.Trim(uri.Path, "/")
	if topic == "" || strings.Contains(topic, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return topic, nil
}

// Sender writes envelopes to one kafka topic. The envelope id is the message key.
type Sender struct {
	uri    *url.URL
	topic  string
	writer Writer
}

// NewSender creates a sender for uri
func NewSender(uri *url.URL, writer Writer) (*Sender, error) {
	topic, err := TopicFromURI(uri)
	if err != nil {
		return nil, err
	}
	return &Sender{uri: uri, topic: topic, writer: writer}, nil
}

// NewFactory returns a factory creating senders that share writer
func NewFactory(writer Writer) messaging.SenderFactory {
	return func(uri *url.URL) (messaging.Sender, error) {
		return NewSender(uri, writer)
	}
}

func (s *Sender) Destination() *url.URL {
	return s.uri
}

func (s *Sender) SupportsNativeScheduledSend() bool {
	return false
}

func (s *Sender) Send(ctx context.Context, env *contracts.Envelope) error {
	if err := s.writer.WriteMessages(ctx, toMessage(s.topic, env)); err != nil {
		return messaging.NewSendError(s.uri, err)
	}
	return nil
}

// Close closes the writer when it owns resources
func (s *Sender) Close() error {
	if closer, ok := s.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func toMessage(topic string, env *contracts.Envelope) kafkago.Message {
	headers := make([]kafkago.Header, 0, len(env.Headers)+5)
	for k, v := range env.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	add := func(key, value string) {
		if value != "" {
			headers = append(headers, kafkago.Header{Key: key, Value: []byte(value)})
		}
	}
	add(HeaderMessageType, env.MessageType)
	add(HeaderCorrelationID, env.CorrelationID)
	add(HeaderOwnerID, env.OwnerID)
	add(HeaderContentType, env.ContentType)
	if env.ReplyURI != nil {
		add(HeaderReplyURI, env.ReplyURI.String())
	}

	return kafkago.Message{
		Topic:   topic,
		Key:     []byte(env.ID),
		Value:   env.Data,
		Headers: headers,
		Time:    env.SentAt,
	}
}

package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Header names written alongside the envelope headers
const (
	HeaderOwnerID = "mmate-owner-id"
	HeaderDelay   = "x-delay"
)

// Sender publishes envelopes to one rabbitmq:// destination
type Sender struct {
	uri             *url.URL
	address         Address
	publisher       Publisher
	delayedExchange string
	logger          *slog.Logger
	now             func() time.Time
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithDelayedExchange routes envelopes scheduled for later through an exchange of type
// x-delayed-message, with the delay carried in the x-delay header
func WithDelayedExchange(exchange string) SenderOption {
	return func(s *Sender) {
		s.delayedExchange = exchange
	}
}

// WithSenderLogger sets the logger
func WithSenderLogger(logger *slog.Logger) SenderOption {
	return func(s *Sender) {
		s.logger = logger
	}
}

// NewSender creates a sender for uri publishing through publisher
func NewSender(uri *url.URL, publisher Publisher, options ...SenderOption) (*Sender, error) {
	address, err := ParseAddress(uri)
	if err != nil {
		return nil, err
	}

	s := &Sender{
		uri:       uri,
		address:   address,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// NewFactory returns a factory creating senders that share publisher
func NewFactory(publisher Publisher, options ...SenderOption) messaging.SenderFactory {
	return func(uri *url.URL) (messaging.Sender, error) {
		return NewSender(uri, publisher, options...)
	}
}

func (s *Sender) Destination() *url.URL {
	return s.uri
}

func (s *Sender) SupportsNativeScheduledSend() bool {
	return s.delayedExchange != ""
}

func (s *Sender) Send(ctx context.Context, env *contracts.Envelope) error {
	msg := toPublishing(env)
	exchange := s.address.Exchange

	if s.delayedExchange != "" && env.IsScheduledForLater(s.now()) {
		exchange = s.delayedExchange
		msg.Headers[HeaderDelay] = env.ScheduledTime.Sub(s.now()).Milliseconds()
	}

	if err := s.publisher.Publish(ctx, exchange, s.address.RoutingKey, msg); err != nil {
		return messaging.NewSendError(s.uri, err)
	}

	s.logger.Debug("published envelope",
		"exchange", exchange,
		"routing_key", s.address.RoutingKey,
		"message_id", env.ID,
	)
	return nil
}

// Close closes the publisher when it owns resources
func (s *Sender) Close() error {
	if closer, ok := s.publisher.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func toPublishing(env *contracts.Envelope) amqp.Publishing {
	headers := make(amqp.Table, len(env.Headers)+1)
	for k, v := range env.Headers {
		headers[k] = v
	}
	if env.OwnerID != "" {
		headers[HeaderOwnerID] = env.OwnerID
	}

	msg := amqp.Publishing{
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Type:          env.MessageType,
		Timestamp:     env.SentAt,
		ContentType:   env.ContentType,
		DeliveryMode:  amqp.Persistent,
		Headers:       headers,
		Body:          env.Data,
	}
	if env.ReplyURI != nil {
		msg.ReplyTo = env.ReplyURI.String()
	}
	return msg
}

package nats

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/messaging"
	natsgo "github.com/nats-io/nats.go"
)

// Scheme is the URI scheme handled by this transport
const Scheme = "nats"

// Header names carrying envelope metadata
const (
	HeaderMessageType   = "Mmate-Message-Type"
	HeaderCorrelationID = "Mmate-Correlation-Id"
	HeaderOwnerID       = "Mmate-Owner-Id"
	HeaderContentType   = "Content-Type"
)

var ErrInvalidSubject = errors.New("nats: invalid subject")

// Conn is the subset of *nats.Conn used for sending
type Conn interface {
	PublishMsg(msg *natsgo.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Connect opens a NATS connection that keeps reconnecting in the background
func Connect(url, name string) (*natsgo.Conn, error) {
	return natsgo.Connect(url,
		natsgo.Name(name),
		natsgo.MaxReconnects(-1),
	)
}

// SubjectFromURI extracts the subject from nats://subject/<subject>
func SubjectFromURI(uri *url.URL) (string, error) {
	if uri == nil || uri.Scheme != Scheme {
		return "", fmt.Errorf("%w: expected %s:// uri, got %v", ErrInvalidSubject, Scheme, uri)
	}
	if uri.Host != "subject" {
		return "", fmt.Errorf("%w: expected nats://subject/<name>, got %s", ErrInvalidSubject, uri)
	}
	subject := strings.Trim(uri.Path, "/")
	if subject == "" || strings.ContainsAny(subject, " \t\r\n/*>") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	return subject, nil
}

// Sender publishes envelopes to one NATS subject. Reply addresses that are themselves NATS
// subjects become the message reply subject.
type Sender struct {
	uri     *url.URL
	subject string
	conn    Conn
	flush   bool
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithFlush makes Send wait for the server to acknowledge the publish with a flush round trip
func WithFlush(enabled bool) SenderOption {
	return func(s *Sender) {
		s.flush = enabled
	}
}

// NewSender creates a sender for uri
func NewSender(uri *url.URL, conn Conn, options ...SenderOption) (*Sender, error) {
	subject, err := SubjectFromURI(uri)
	if err != nil {
		return nil, err
	}
	s := &Sender{uri: uri, subject: subject, conn: conn}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// NewFactory returns a factory creating senders that share conn
func NewFactory(conn Conn, options ...SenderOption) messaging.SenderFactory {
	return func(uri *url.URL) (messaging.Sender, error) {
		return NewSender(uri, conn, options...)
	}
}

func (s *Sender) Destination() *url.URL {
	return s.uri
}

func (s *Sender) SupportsNativeScheduledSend() bool {
	return false
}

func (s *Sender) Send(ctx context.Context, env *contracts.Envelope) error {
	if err := s.conn.PublishMsg(toMsg(s.subject, env)); err != nil {
		return messaging.NewSendError(s.uri, err)
	}
	if s.flush {
		if err := s.conn.FlushWithContext(ctx); err != nil {
			return messaging.NewSendError(s.uri, err)
		}
	}
	return nil
}

// Close drains the connection when it is a nats.go connection
func (s *Sender) Close() error {
	if nc, ok := s.conn.(*natsgo.Conn); ok {
		// Senders share one connection
		if nc.IsClosed() || nc.IsDraining() {
			return nil
		}
		return nc.Drain()
	}
	return nil
}

func toMsg(subject string, env *contracts.Envelope) *natsgo.Msg {
	msg := natsgo.NewMsg(subject)
	msg.Data = env.Data

	for k, v := range env.Headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(natsgo.MsgIdHdr, env.ID)
	if env.MessageType != "" {
		msg.Header.Set(HeaderMessageType, env.MessageType)
	}
	if env.CorrelationID != "" {
		msg.Header.Set(HeaderCorrelationID, env.CorrelationID)
	}
	if env.OwnerID != "" {
		msg.Header.Set(HeaderOwnerID, env.OwnerID)
	}
	if env.ContentType != "" {
		msg.Header.Set(HeaderContentType, env.ContentType)
	}
	if env.ReplyURI != nil && env.ReplyURI.Scheme == Scheme {
		if reply, err := SubjectFromURI(env.ReplyURI); err == nil {
			msg.Reply = reply
		}
	}
	return msg
}

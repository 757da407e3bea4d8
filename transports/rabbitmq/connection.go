package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes a single message and reports whether the broker accepted it
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// channel is the subset of *amqp.Channel used for confirmed publishing
type channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type connection interface {
	openChannel() (channel, error)
	IsClosed() bool
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) openChannel() (channel, error) {
	ch, err := c.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// ConfirmPublisher publishes over one lazily opened channel in confirm mode. A broken connection
// or channel is reopened on the next publish, so reconnecting is driven by the caller's retries.
// Publishes are serialized.
type ConfirmPublisher struct {
	url            string
	logger         *slog.Logger
	confirmTimeout time.Duration
	dial           func(url string) (connection, error)

	mu       sync.Mutex
	conn     connection
	ch       channel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
	closed   bool
}

// ConfirmPublisherOption configures a ConfirmPublisher
type ConfirmPublisherOption func(*ConfirmPublisher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConfirmPublisherOption {
	return func(p *ConfirmPublisher) {
		p.logger = logger
	}
}

// WithConfirmTimeout sets how long to wait for a broker confirmation
func WithConfirmTimeout(timeout time.Duration) ConfirmPublisherOption {
	return func(p *ConfirmPublisher) {
		p.confirmTimeout = timeout
	}
}

// NewConfirmPublisher creates a publisher for the AMQP URL. No connection is made until the
// first publish.
func NewConfirmPublisher(url string, options ...ConfirmPublisherOption) *ConfirmPublisher {
	p := &ConfirmPublisher{
		url:            url,
		logger:         slog.Default(),
		confirmTimeout: 5 * time.Second,
		dial:           dialAMQP,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends a mandatory message and waits for its confirmation. Unroutable messages are
// reported as ErrMessageReturned.
func (p *ConfirmPublisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if err := p.ensureChannelLocked(); err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(ctx, exchange, routingKey, true, false, msg); err != nil {
		p.resetLocked()
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok || !confirm.Ack {
			p.resetLocked()
			return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: ErrPublishNotConfirmed}
		}
		// A return for a mandatory message is delivered before its ack
		select {
		case ret, ok := <-p.returns:
			if ok {
				return &PublishError{Exchange: exchange, RoutingKey: routingKey,
					Err: fmt.Errorf("%w: %s", ErrMessageReturned, ret.ReplyText)}
			}
		default:
		}
		return nil

	case <-timer.C:
		p.resetLocked()
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: ErrPublishTimeout}

	case <-ctx.Done():
		p.resetLocked()
		return ctx.Err()
	}
}

// Close closes the channel and connection
func (p *ConfirmPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.resetLocked()

	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *ConfirmPublisher) ensureChannelLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial(p.url)
		if err != nil {
			return &ConnectionError{Op: "connect", URL: SanitizeURL(p.url), Err: err, Timestamp: time.Now()}
		}
		p.conn = conn
		p.logger.Info("connected to RabbitMQ", "url", SanitizeURL(p.url))
	}

	ch, err := p.conn.openChannel()
	if err != nil {
		return &ConnectionError{Op: "open channel", URL: SanitizeURL(p.url), Err: err, Timestamp: time.Now()}
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return &ConnectionError{Op: "enable confirms", URL: SanitizeURL(p.url), Err: err, Timestamp: time.Now()}
	}

	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

// resetLocked drops the channel so late confirmations cannot be matched to the next publish
func (p *ConfirmPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
	p.returns = nil
}

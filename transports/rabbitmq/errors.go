package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrInvalidAddress      = errors.New("rabbitmq: invalid address")
	ErrPublisherClosed     = errors.New("rabbitmq: publisher is closed")
	ErrPublishNotConfirmed = errors.New("rabbitmq: publish not confirmed")
	ErrPublishTimeout      = errors.New("rabbitmq: publish timeout")
	ErrMessageReturned     = errors.New("rabbitmq: message returned")
)

// ConnectionError represents a failure to reach the broker
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError represents a failed publish of one message
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: exchange=%q routing_key=%q: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SanitizeURL removes the password from an AMQP URL for logging
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

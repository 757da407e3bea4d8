package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/glimte/mmate-outbound/contracts"
)

var (
	ErrNilSender   = errors.New("messaging: sender is nil")
	ErrNilEnvelope = errors.New("messaging: envelope is nil")
)

// Sender delivers envelopes to a single destination over some transport
type Sender interface {
	// Destination is the address this sender delivers to
	Destination() *url.URL

	// SupportsNativeScheduledSend reports whether the transport can hold an envelope until its
	// scheduled time
	SupportsNativeScheduledSend() bool

	// Send transmits the envelope. Any returned error is treated as retryable.
	Send(ctx context.Context, env *contracts.Envelope) error
}

// SenderFactory builds the Sender for a destination URI
type SenderFactory func(uri *url.URL) (Sender, error)

// SenderFunc adapts a function to a Sender bound to a fixed destination
type SenderFunc struct {
	URI  *url.URL
	Func func(ctx context.Context, env *contracts.Envelope) error
}

func (s SenderFunc) Destination() *url.URL { return s.URI }

func (s SenderFunc) SupportsNativeScheduledSend() bool { return false }

func (s SenderFunc) Send(ctx context.Context, env *contracts.Envelope) error {
	return s.Func(ctx, env)
}

// SendError wraps a transport failure with the destination it was bound for
type SendError struct {
	Destination string
	Err         error
}

// NewSendError wraps err for the given destination
func NewSendError(destination *url.URL, err error) *SendError {
	dest := ""
	if destination != nil {
		dest = destination.String()
	}
	return &SendError{Destination: dest, Err: err}
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Destination, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

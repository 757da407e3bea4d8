package messaging

import (
	"context"
	"fmt"
	"io"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/internal/reliability"
)

// CircuitBreakingSender fails sends fast while its breaker is open. The failure goes back to the
// retry block like any other, so the envelope waits out its pause instead of hitting the broker.
type CircuitBreakingSender struct {
	Sender
	breaker *reliability.CircuitBreaker
}

func NewCircuitBreakingSender(sender Sender, breaker *reliability.CircuitBreaker) *CircuitBreakingSender {
	return &CircuitBreakingSender{Sender: sender, breaker: breaker}
}

func (s *CircuitBreakingSender) Send(ctx context.Context, env *contracts.Envelope) error {
	if err := s.breaker.Allow(); err != nil {
		return NewSendError(s.Destination(), err)
	}
	// Every allowed call must be recorded, panics included
	defer func() {
		if r := recover(); r != nil {
			s.breaker.Record(fmt.Errorf("send panicked: %v", r))
			panic(r)
		}
	}()

	err := s.Sender.Send(ctx, env)
	s.breaker.Record(err)
	return err
}

func (s *CircuitBreakingSender) Breaker() *reliability.CircuitBreaker {
	return s.breaker
}

// Close closes the wrapped sender when it holds a connection
func (s *CircuitBreakingSender) Close() error {
	if closer, ok := s.Sender.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

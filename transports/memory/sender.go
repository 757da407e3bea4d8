// Package memory provides an in-process Sender that records envelopes instead of delivering
// them. It backs tests and local runs of the CLI.
package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/messaging"
)

// Scheme is the URI scheme handled by this transport
const Scheme = "memory"

var ErrInjectedFailure = errors.New("memory: injected failure")

// Sender keeps every envelope it accepts
type Sender struct {
	uri *url.URL

	mu        sync.Mutex
	envelopes []*contracts.Envelope
	attempts  int
	failFirst int
	failWith  error
	notify    chan struct{}
}

// NewSender creates a sender for any memory:// uri
func NewSender(uri *url.URL) (*Sender, error) {
	if uri == nil || uri.Scheme != Scheme {
		return nil, fmt.Errorf("memory: expected %s:// uri, got %v", Scheme, uri)
	}
	return &Sender{uri: uri, notify: make(chan struct{}, 1)}, nil
}

// Registry hands out one Sender per destination so tests can inspect them after sending
type Registry struct {
	mu      sync.Mutex
	senders map[string]*Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]*Sender)}
}

// Factory returns the registry's SenderFactory
func (r *Registry) Factory() messaging.SenderFactory {
	return func(uri *url.URL) (messaging.Sender, error) {
		return r.Sender(uri)
	}
}

// Sender returns the sender for uri, creating it on first use
func (r *Registry) Sender(uri *url.URL) (*Sender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := uri.String()
	if s, ok := r.senders[key]; ok {
		return s, nil
	}
	s, err := NewSender(uri)
	if err != nil {
		return nil, err
	}
	r.senders[key] = s
	return s, nil
}

// FailFirst makes the next n sends fail with err, or ErrInjectedFailure when err is nil
func (s *Sender) FailFirst(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFirst = n
	s.failWith = err
}

func (s *Sender) Destination() *url.URL {
	return s.uri
}

func (s *Sender) SupportsNativeScheduledSend() bool {
	return false
}

func (s *Sender) Send(ctx context.Context, env *contracts.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failFirst > 0 {
		s.failFirst--
		err := s.failWith
		if err == nil {
			err = ErrInjectedFailure
		}
		return messaging.NewSendError(s.uri, err)
	}

	s.envelopes = append(s.envelopes, env)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Envelopes returns the envelopes sent so far
func (s *Sender) Envelopes() []*contracts.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*contracts.Envelope(nil), s.envelopes...)
}

// Attempts returns the number of Send calls, failed ones included
func (s *Sender) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Notify receives a value after a successful send
func (s *Sender) Notify() <-chan struct{} {
	return s.notify
}

package messaging

import (
	"context"
	"net/url"

	"github.com/glimte/mmate-outbound/contracts"
)

// SendingAgent accepts outgoing envelopes for one destination and owns their delivery
type SendingAgent interface {
	Destination() *url.URL
	ReplyURI() *url.URL
	SetReplyURI(uri *url.URL)

	// Latched reports whether the agent has stopped accepting envelopes after repeated failures
	Latched() bool

	// IsDurable reports whether accepted envelopes survive a process restart
	IsDurable() bool

	SupportsNativeScheduledSend() bool
	Endpoint() *Endpoint

	// EnqueueOutgoing stamps the envelope and accepts it for delivery. It returns once the
	// envelope is accepted, not once it is sent.
	EnqueueOutgoing(ctx context.Context, env *contracts.Envelope) error

	// StoreAndForward accepts an envelope that must be persisted before sending, when the
	// agent is durable
	StoreAndForward(ctx context.Context, env *contracts.Envelope) error

	// Drain stops accepting envelopes and waits for accepted ones to finish
	Drain(ctx context.Context) error

	// Close stops the agent without waiting
	Close()
}

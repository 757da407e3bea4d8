package messaging

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/internal/reliability"
	"github.com/glimte/mmate-outbound/internal/tracing"
)

// InlineSendingAgent sends envelopes straight to its Sender through an in-memory retry block.
// Nothing is persisted: envelopes still queued when the process stops are lost.
type InlineSendingAgent struct {
	sender        Sender
	endpoint      *Endpoint
	settings      NodeSettings
	logger        *slog.Logger
	messageLogger MessageLogger
	metrics       reliability.Metrics
	directSend    bool
	deadLetter    Sender

	mu       sync.RWMutex
	replyURI *url.URL

	sending *reliability.RetryBlock[*contracts.Envelope]
}

// AgentOption configures an InlineSendingAgent
type AgentOption func(*InlineSendingAgent)

// WithAgentLogger sets the logger
func WithAgentLogger(logger *slog.Logger) AgentOption {
	return func(a *InlineSendingAgent) {
		a.logger = logger
	}
}

// WithMessageLogger sets the logger notified of sent envelopes
func WithMessageLogger(logger MessageLogger) AgentOption {
	return func(a *InlineSendingAgent) {
		a.messageLogger = logger
	}
}

// WithNodeSettings sets the node identity stamped on envelopes
func WithNodeSettings(settings NodeSettings) AgentOption {
	return func(a *InlineSendingAgent) {
		a.settings = settings
	}
}

// WithReplyURI sets the default reply address
func WithReplyURI(uri *url.URL) AgentOption {
	return func(a *InlineSendingAgent) {
		a.replyURI = uri
	}
}

// WithAgentMetrics sets the retry block metrics recorder
func WithAgentMetrics(metrics reliability.Metrics) AgentOption {
	return func(a *InlineSendingAgent) {
		a.metrics = metrics
	}
}

// WithDirectSend makes EnqueueOutgoing attempt the send on the calling goroutine first and
// fall back to the queue on failure
func WithDirectSend(enabled bool) AgentOption {
	return func(a *InlineSendingAgent) {
		a.directSend = enabled
	}
}

// WithDeadLetter forwards envelopes that exhaust their attempts to sender
func WithDeadLetter(sender Sender) AgentOption {
	return func(a *InlineSendingAgent) {
		a.deadLetter = sender
	}
}

// NewInlineSendingAgent creates an agent for sender. A nil endpoint is derived from the sender's
// destination. The agent stops when ctx is done.
func NewInlineSendingAgent(ctx context.Context, sender Sender, endpoint *Endpoint, options ...AgentOption) (*InlineSendingAgent, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if endpoint == nil {
		endpoint = &Endpoint{URI: sender.Destination()}
	}

	a := &InlineSendingAgent{
		sender:        sender,
		endpoint:      endpoint,
		logger:        slog.Default(),
		messageLogger: NoOpMessageLogger{},
		metrics:       reliability.NopMetrics{},
	}
	for _, opt := range options {
		opt(a)
	}

	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.messageLogger == nil {
		a.messageLogger = NoOpMessageLogger{}
	}
	if a.settings.UniqueNodeID == "" {
		a.settings = NewNodeSettings()
	}

	blockOpts := append(endpoint.retryOptions(),
		reliability.WithLogger(a.logger),
		reliability.WithMetrics(a.metrics),
	)
	if a.deadLetter != nil {
		blockOpts = append(blockOpts,
			reliability.WithDiscardHandler(NewDeadLetterForwarder(a.deadLetter, a.logger).Forward))
	}
	a.sending = reliability.NewRetryBlockFunc(ctx, a.sendViaTransport, blockOpts...)

	return a, nil
}

// Destination returns the sender's destination
func (a *InlineSendingAgent) Destination() *url.URL {
	return a.sender.Destination()
}

// ReplyURI returns the default reply address
func (a *InlineSendingAgent) ReplyURI() *url.URL {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.replyURI
}

// SetReplyURI changes the default reply address for envelopes enqueued afterwards
func (a *InlineSendingAgent) SetReplyURI(uri *url.URL) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replyURI = uri
}

// Latched is always false; an inline agent never stops accepting envelopes on failure
func (a *InlineSendingAgent) Latched() bool { return false }

// IsDurable is always false
func (a *InlineSendingAgent) IsDurable() bool { return false }

func (a *InlineSendingAgent) SupportsNativeScheduledSend() bool {
	return a.sender.SupportsNativeScheduledSend()
}

func (a *InlineSendingAgent) Endpoint() *Endpoint {
	return a.endpoint
}

// NodeID returns the id stamped as owner on enqueued envelopes
func (a *InlineSendingAgent) NodeID() string {
	return a.settings.UniqueNodeID
}

// EnqueueOutgoing stamps the envelope and hands it to the retry block. Send failures are
// retried and logged but never returned here; an error means the envelope was not accepted.
func (a *InlineSendingAgent) EnqueueOutgoing(ctx context.Context, env *contracts.Envelope) error {
	if env == nil {
		return ErrNilEnvelope
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.applyDefaults(env)

	if a.directSend {
		_, err := a.sending.PostDirect(env)
		return err
	}
	return a.sending.Post(env)
}

// StoreAndForward behaves like EnqueueOutgoing since nothing is stored
func (a *InlineSendingAgent) StoreAndForward(ctx context.Context, env *contracts.Envelope) error {
	return a.EnqueueOutgoing(ctx, env)
}

// Drain waits for accepted envelopes to be sent or discarded
func (a *InlineSendingAgent) Drain(ctx context.Context) error {
	return a.sending.Drain(ctx)
}

// Close stops the agent; queued envelopes are dropped
func (a *InlineSendingAgent) Close() {
	a.sending.Close()
}

// Stats returns a snapshot of the agent's retry block
func (a *InlineSendingAgent) Stats() reliability.BlockStats {
	return a.sending.Stats()
}

func (a *InlineSendingAgent) applyDefaults(env *contracts.Envelope) {
	env.Status = contracts.StatusOutgoing
	env.OwnerID = a.settings.UniqueNodeID
	if env.ReplyURI == nil {
		env.ReplyURI = a.ReplyURI()
	}
}

// sendViaTransport is the retry block handler: one traced send attempt
func (a *InlineSendingAgent) sendViaTransport(ctx context.Context, env *contracts.Envelope) error {
	ctx, span := tracing.StartSending(ctx, env)
	defer span.End()

	tracing.Inject(ctx, env)
	env.SentAt = time.Now().UTC()

	if err := a.sender.Send(ctx, env); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	a.messageLogger.Sent(env)
	return nil
}

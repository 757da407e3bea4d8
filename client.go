// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/internal/metrics"
	"github.com/glimte/mmate-outbound/internal/reliability"
	"github.com/glimte/mmate-outbound/messaging"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrNoDestination = errors.New("envelope has no destination")
	ErrUnknownScheme = errors.New("no transport registered for scheme")
	ErrClientClosed  = errors.New("client is closed")
)

// Client provides the main entry point for mmate-outbound. It keeps one sending agent per
// destination, created on first use from the transport registered for the destination's scheme.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *clientConfig

	mu         sync.Mutex
	agents     map[string]*messaging.InlineSendingAgent
	senders    []messaging.Sender
	deadLetter messaging.Sender
	closed     bool
}

// NewClient creates a client. Agents it creates stop when ctx is done.
func NewClient(ctx context.Context, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:     slog.Default(),
		transports: make(map[string]messaging.SenderFactory),
	}
	for _, opt := range options {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.settings.UniqueNodeID == "" {
		cfg.settings = messaging.NewNodeSettings()
	}
	if cfg.registerer != nil {
		if err := metrics.Register(cfg.registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		cfg.messageLogger = addMessageLogger(cfg.messageLogger, metrics.SentLogger{})
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		agents: make(map[string]*messaging.InlineSendingAgent),
	}, nil
}

// NodeID returns the id stamped as owner on every envelope the client sends
func (c *Client) NodeID() string {
	return c.cfg.settings.UniqueNodeID
}

// AgentFor returns the sending agent for destination, creating it on first use
func (c *Client) AgentFor(destination *url.URL) (messaging.SendingAgent, error) {
	return c.agentFor(destination)
}

func (c *Client) agentFor(destination *url.URL) (*messaging.InlineSendingAgent, error) {
	if destination == nil {
		return nil, ErrNoDestination
	}
	key := destination.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if agent, ok := c.agents[key]; ok {
		return agent, nil
	}
	if c.closed {
		return nil, ErrClientClosed
	}

	factory, ok := c.cfg.transports[destination.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, destination.Scheme)
	}
	var deadLetter messaging.Sender
	if c.cfg.deadLetterURI != nil && c.cfg.deadLetterURI.String() != key {
		var err error
		if deadLetter, err = c.deadLetterLocked(); err != nil {
			return nil, err
		}
	}

	raw, err := factory(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender for %s: %w", key, err)
	}
	sender := raw
	if c.cfg.breakerThreshold > 0 && raw != nil {
		sender = messaging.NewCircuitBreakingSender(raw, c.newBreaker(key))
	}

	endpoint := c.cfg.endpoint
	endpoint.Name = key
	endpoint.URI = destination
	endpoint.Pauses = slices.Clone(c.cfg.endpoint.Pauses)

	agentOpts := []messaging.AgentOption{
		messaging.WithAgentLogger(c.cfg.logger),
		messaging.WithNodeSettings(c.cfg.settings),
		messaging.WithReplyURI(c.cfg.replyURI),
		messaging.WithDirectSend(c.cfg.directSend),
	}
	if c.cfg.messageLogger != nil {
		agentOpts = append(agentOpts, messaging.WithMessageLogger(c.cfg.messageLogger))
	}
	if c.cfg.registerer != nil {
		agentOpts = append(agentOpts, messaging.WithAgentMetrics(metrics.NewBlockRecorder(key)))
	}
	if deadLetter != nil {
		agentOpts = append(agentOpts, messaging.WithDeadLetter(deadLetter))
	}

	agent, err := messaging.NewInlineSendingAgent(c.ctx, sender, &endpoint, agentOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sending agent for %s: %w", key, err)
	}

	// Track the sender only once its agent is cached
	c.agents[key] = agent
	c.senders = append(c.senders, raw)
	c.cfg.logger.Debug("sending agent created", "destination", key, "node_id", c.cfg.settings.UniqueNodeID)
	return agent, nil
}

// deadLetterLocked returns the shared dead-letter sender, creating it on first use
func (c *Client) deadLetterLocked() (messaging.Sender, error) {
	if c.deadLetter != nil {
		return c.deadLetter, nil
	}
	uri := c.cfg.deadLetterURI
	factory, ok := c.cfg.transports[uri.Scheme]
	if !ok {
		return nil, fmt.Errorf("dead letter destination: %w: %q", ErrUnknownScheme, uri.Scheme)
	}
	sender, err := factory(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to create dead letter sender for %s: %w", uri, err)
	}
	c.deadLetter = sender
	c.senders = append(c.senders, sender)
	return sender, nil
}

func (c *Client) newBreaker(destination string) *reliability.CircuitBreaker {
	return reliability.NewCircuitBreaker(destination,
		reliability.WithFailureThreshold(c.cfg.breakerThreshold),
		reliability.WithOpenTimeout(c.cfg.breakerOpenTimeout),
		reliability.WithStateChangeHook(func(from, to reliability.State) {
			c.cfg.logger.Warn("circuit breaker state changed",
				"destination", destination,
				"from", from.String(),
				"to", to.String(),
			)
			if c.cfg.registerer != nil {
				metrics.CircuitState.WithLabelValues(destination).Set(float64(to))
			}
		}),
	)
}

// Send hands env to the agent for its destination. A nil error means the envelope was
// accepted; delivery failures are retried and logged by the agent.
func (c *Client) Send(ctx context.Context, env *contracts.Envelope) error {
	if env == nil {
		return messaging.ErrNilEnvelope
	}
	agent, err := c.agentFor(env.Destination)
	if err != nil {
		return err
	}
	return agent.EnqueueOutgoing(ctx, env)
}

// Stats returns a snapshot of every agent's retry block keyed by destination
func (c *Client) Stats() map[string]reliability.BlockStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]reliability.BlockStats, len(c.agents))
	for key, agent := range c.agents {
		stats[key] = agent.Stats()
	}
	return stats
}

// Drain stops accepting envelopes and waits for every agent to finish its queue
func (c *Client) Drain(ctx context.Context) error {
	agents := c.stop()

	var errs []error
	for _, agent := range agents {
		if err := agent.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", agent.Endpoint().DisplayName(), err))
		}
	}
	return errors.Join(errs...)
}

// Close stops every agent without waiting and closes the senders that hold connections
func (c *Client) Close() error {
	agents := c.stop()
	for _, agent := range agents {
		agent.Close()
	}
	c.cancel()

	c.mu.Lock()
	senders := c.senders
	c.senders = nil
	c.mu.Unlock()

	var errs []error
	for _, sender := range senders {
		if closer, ok := sender.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Client) stop() []*messaging.InlineSendingAgent {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	agents := make([]*messaging.InlineSendingAgent, 0, len(c.agents))
	for _, agent := range c.agents {
		agents = append(agents, agent)
	}
	return agents
}

func addMessageLogger(existing, next messaging.MessageLogger) messaging.MessageLogger {
	if existing == nil {
		return next
	}
	return messaging.MultiMessageLogger{existing, next}
}

// clientConfig holds client configuration
type clientConfig struct {
	logger        *slog.Logger
	settings      messaging.NodeSettings
	replyURI      *url.URL
	transports    map[string]messaging.SenderFactory
	messageLogger messaging.MessageLogger
	registerer    prometheus.Registerer
	endpoint      messaging.Endpoint
	directSend    bool
	deadLetterURI *url.URL

	breakerThreshold   int
	breakerOpenTimeout time.Duration
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithNodeID sets the owner id stamped on envelopes
func WithNodeID(id string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.settings.UniqueNodeID = id
	}
}

// WithReplyURI sets the reply address for envelopes that carry none
func WithReplyURI(uri *url.URL) ClientOption {
	return func(cfg *clientConfig) {
		cfg.replyURI = uri
	}
}

// WithTransport registers the sender factory used for destinations with the given scheme
func WithTransport(scheme string, factory messaging.SenderFactory) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transports[scheme] = factory
	}
}

func WithMessageLogger(logger messaging.MessageLogger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.messageLogger = addMessageLogger(cfg.messageLogger, logger)
	}
}

// WithMetricsRegisterer registers the outbound collectors on reg and records every agent's activity
func WithMetricsRegisterer(reg prometheus.Registerer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registerer = reg
	}
}

// WithEndpointDefaults sets the retry settings every destination starts from
func WithEndpointDefaults(endpoint messaging.Endpoint) ClientOption {
	return func(cfg *clientConfig) {
		cfg.endpoint = endpoint
	}
}

func WithDirectSend(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.directSend = enabled
	}
}

// WithDeadLetter forwards envelopes that exhaust their attempts to uri. The transport for its
// scheme must be registered.
func WithDeadLetter(uri *url.URL) ClientOption {
	return func(cfg *clientConfig) {
		cfg.deadLetterURI = uri
	}
}

// WithCircuitBreaker puts a breaker in front of every sender. After threshold consecutive
// failures sends to that destination fail fast until openTimeout has passed. A threshold of
// zero disables it.
func WithCircuitBreaker(threshold int, openTimeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.breakerThreshold = threshold
		cfg.breakerOpenTimeout = openTimeout
	}
}

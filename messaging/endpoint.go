package messaging

import (
	"net/url"
	"time"

	"github.com/glimte/mmate-outbound/internal/reliability"
	"github.com/google/uuid"
)

// Endpoint describes a destination and how sending to it is retried.
// Zero values fall back to the retry block defaults.
type Endpoint struct {
	Name            string
	URI             *url.URL
	MaximumAttempts int
	Pauses          []time.Duration
	Parallelism     int

	// Capacity bounds the number of queued envelopes; zero is unbounded
	Capacity int
}

// DisplayName returns Name, or the URI when no name is set
func (e *Endpoint) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	if e.URI != nil {
		return e.URI.String()
	}
	return "endpoint"
}

// retryOptions maps the endpoint settings onto retry block options
func (e *Endpoint) retryOptions() []reliability.RetryBlockOption {
	opts := []reliability.RetryBlockOption{reliability.WithName(e.DisplayName())}
	if e.MaximumAttempts > 0 {
		opts = append(opts, reliability.WithMaximumAttempts(e.MaximumAttempts))
	}
	if e.Pauses != nil {
		opts = append(opts, reliability.WithPauses(e.Pauses...))
	}
	if e.Parallelism > 0 {
		opts = append(opts, reliability.WithParallelism(e.Parallelism))
	}
	if e.Capacity > 0 {
		opts = append(opts, reliability.WithBoundedCapacity(e.Capacity))
	}
	return opts
}

// NodeSettings carries the identity of the running node
type NodeSettings struct {
	// UniqueNodeID is stamped as owner on every outgoing envelope
	UniqueNodeID string
}

// NewNodeSettings returns settings with a freshly generated node id
func NewNodeSettings() NodeSettings {
	return NodeSettings{UniqueNodeID: uuid.NewString()}
}

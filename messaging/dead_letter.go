package messaging

import (
	"context"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/glimte/mmate-outbound/internal/reliability"
)

// Headers added to envelopes forwarded to a dead-letter destination
const (
	HeaderOriginalDestination = "x-original-destination"
	HeaderAttempts            = "x-attempts"
	HeaderLastError           = "x-last-error"
)

// DefaultDeadLetterTimeout bounds a single forward
const DefaultDeadLetterTimeout = 10 * time.Second

// DeadLetterForwarder sends envelopes the retry block gave up on to a dead-letter destination.
// Forwarding is attempted once; a failure is logged and the envelope is lost.
type DeadLetterForwarder struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
}

func NewDeadLetterForwarder(sender Sender, logger *slog.Logger) *DeadLetterForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterForwarder{sender: sender, logger: logger, timeout: DefaultDeadLetterTimeout}
}

// Forward is used as the retry block discard handler
func (f *DeadLetterForwarder) Forward(item reliability.DiscardedItem) {
	env, ok := item.Message.(*contracts.Envelope)
	if !ok || env == nil {
		return
	}

	dead := *env
	dead.Headers = maps.Clone(env.Headers)
	dead.Destination = f.sender.Destination()
	if env.Destination != nil {
		dead.SetHeader(HeaderOriginalDestination, env.Destination.String())
	}
	dead.SetHeader(HeaderAttempts, strconv.Itoa(item.Attempts))
	if item.LastError != nil {
		dead.SetHeader(HeaderLastError, item.LastError.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.sender.Send(ctx, &dead); err != nil {
		f.logger.Error("failed to forward discarded envelope",
			"envelope", env,
			"dead_letter", f.sender.Destination(),
			"error", err,
		)
		return
	}
	f.logger.Warn("forwarded discarded envelope",
		"envelope", env,
		"dead_letter", f.sender.Destination(),
		"attempts", item.Attempts,
	)
}

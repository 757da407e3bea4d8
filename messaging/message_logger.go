package messaging

import (
	"log/slog"

	"github.com/glimte/mmate-outbound/contracts"
)

// MessageLogger observes messaging events. Implementations must be safe for concurrent use.
type MessageLogger interface {
	// Sent is called once an envelope has been handed to its transport
	Sent(env *contracts.Envelope)
}

// NoOpMessageLogger discards all events
type NoOpMessageLogger struct{}

// Sent does nothing
func (NoOpMessageLogger) Sent(*contracts.Envelope) {}

// SlogMessageLogger writes an info record per sent envelope
type SlogMessageLogger struct {
	logger *slog.Logger
}

// NewSlogMessageLogger creates a message logger; nil means slog.Default()
func NewSlogMessageLogger(logger *slog.Logger) *SlogMessageLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogMessageLogger{logger: logger}
}

func (l *SlogMessageLogger) Sent(env *contracts.Envelope) {
	l.logger.Info("sent",
		"envelope", env,
		"sent_at", env.SentAt,
	)
}

// MultiMessageLogger fans events out to every logger in order
type MultiMessageLogger []MessageLogger

func (m MultiMessageLogger) Sent(env *contracts.Envelope) {
	for _, l := range m {
		if l != nil {
			l.Sent(env)
		}
	}
}

package reliability

import (
	"errors"
	"fmt"
)

var (
	// Construction errors
	ErrNilHandler = errors.New("retry block: handler is nil")

	// Submission errors
	ErrBlockCompleted = errors.New("retry block: block is completed")
	ErrBlockCancelled = errors.New("retry block: block is cancelled")
	ErrQueueFull      = errors.New("retry block: queue is full")

	// Execution errors
	ErrHandlerPanic = errors.New("retry block: handler panicked")
)

// AttemptError describes a single failed handler invocation
type AttemptError struct {
	Block   string
	Attempt int
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("retry block %s: attempt %d failed: %v", e.Block, e.Attempt, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// DiscardedItem describes a payload dropped after exhausting its attempts
type DiscardedItem struct {
	Block     string
	Message   any
	Attempts  int
	LastError error
}

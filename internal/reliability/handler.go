package reliability

import "context"

// ItemHandler executes a single payload taken from a RetryBlock
type ItemHandler[T any] interface {
	// Execute processes the payload. A non-nil error schedules a retry.
	Execute(ctx context.Context, message T) error
}

// ItemHandlerFunc adapts a function to ItemHandler
type ItemHandlerFunc[T any] func(ctx context.Context, message T) error

// Execute implements ItemHandler
func (f ItemHandlerFunc[T]) Execute(ctx context.Context, message T) error {
	return f(ctx, message)
}

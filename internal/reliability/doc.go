// Package reliability provides the retry and failure-isolation primitives behind outbound sending.
//
// This package implements:
//   - RetryBlock: an in-memory queue that hands items to an ItemHandler and re-queues
//     failures after a configurable pause until the maximum attempts are spent
//   - CircuitBreaker: fails calls fast after consecutive failures and probes for recovery
//   - Pause schedules: fixed, parsed and exponential retry pauses
//
// Example usage:
//
//	block := NewRetryBlockFunc(ctx, func(ctx context.Context, env *contracts.Envelope) error {
//	    return sender.Send(ctx, env)
//	},
//	    WithName("orders"),
//	    WithPauses(ExponentialPauses(100*time.Millisecond, 10*time.Second, 2, 6)...),
//	    WithMaximumAttempts(6),
//	)
//
//	if err := block.Post(env); err != nil {
//	    return err
//	}
//	err := block.Drain(ctx)
package reliability

// Package messaging provides the outbound sending path for the mmate framework.
//
// Envelopes handed to a SendingAgent are stamped with the node's owner id and queued for
// delivery through a Sender. Failed sends are retried on the endpoint's pause schedule; envelopes
// that exhaust their attempts can be forwarded to a dead-letter destination.
//
// Key types:
//   - Sender: delivers one envelope to its destination over a transport
//   - InlineSendingAgent: queues envelopes in a retry block and sends them in-process
//   - Endpoint: retry settings for one destination
//   - MessageLogger: observes every envelope sent or dropped
//   - CircuitBreakingSender: fails sends fast while a destination keeps failing
//
// Example usage:
//
//	agent, err := messaging.NewInlineSendingAgent(ctx, sender, &messaging.Endpoint{
//		Name:            "orders",
//		URI:             uri,
//		MaximumAttempts: 5,
//	}, messaging.WithAgentLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer agent.Close()
//
//	err = agent.EnqueueOutgoing(ctx, env)
package messaging

// Package contracts provides the envelope type that flows through the outbound sending path.
//
// An Envelope pairs a serialized message body with its delivery metadata:
//   - Destination: where the message must be sent
//   - Status: lifecycle state, set to StatusOutgoing when queued for send
//   - OwnerID: the node currently responsible for delivering the envelope
//   - ReplyURI: optional address responses should be sent to
//
// Envelopes are mutated by exactly one component at a time: the sending agent while it applies
// defaults, then the retry block and transport sender while delivery is pending.
package contracts

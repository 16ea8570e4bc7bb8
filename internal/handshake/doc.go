// Package handshake owns the two-party negotiation state machine.
//
// Ownership boundary:
// - session lifecycle: Init -> IntentSent -> Acknowledged -> ProposalSent -> Committed | Terminated
// - the append-only step log and its JSON-lines export
// - slot selection from the receiver's blind set (earliest first)
//
// This package does not own:
// - admission rules (internal/policy)
// - availability derivation and masking (internal/calendar)
// - persistence of bookings or participants (internal/store)
//
// The engine never retries. Every rejection is terminal for its session; a
// caller that wants another attempt starts a new session.
package handshake

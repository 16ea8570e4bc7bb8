// Package policy owns receiver-side admission for a negotiation.
//
// Ownership boundary:
// - ordered gate evaluation (status, tier, quota, cooldown) with short-circuit
// - weekly quota windows and the QuotaCounter contract
//
// This package does not own:
// - calendar availability (the calendar gate is applied by the handshake engine)
// - booking persistence behind QuotaCounter
package policy

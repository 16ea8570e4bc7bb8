// Package calendar owns availability derivation for one participant.
//
// Ownership boundary:
// - raw event scrubbing into energy blocks (no titles leave this package)
// - true slot generation over the lookahead horizon
// - privacy masking of true slots into blind slots
//
// Generation is deterministic for fixed inputs. Masking is not, and callers
// must never rely on two masking runs agreeing.
package calendar

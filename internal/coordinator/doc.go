// Package coordinator is the caller layer around the handshake engine.
//
// Ownership boundary:
// - resolving participant ids and relationships from a Directory
// - caller-side retries of retryable (yellow) outcomes, each a fresh session
// - recording bookings for both parties and refreshing LastInteraction after a commit
// - optional enrichment, concurrent batches, and ledger maintenance
//
// This package does not own:
// - negotiation semantics (internal/handshake)
// - code classification (internal/outcome)
package coordinator

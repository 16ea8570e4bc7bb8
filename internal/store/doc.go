// Package store owns caller-side persistence for negotiation.
//
// Ownership boundary:
// - participant and relationship snapshots (Directory)
// - committed bookings and the weekly quota count derived from them (Ledger)
// - backends: in-process memory, Redis, and SQL through gorm
//
// The handshake engine persists nothing. Callers read snapshots from a
// Directory before a session and record bookings after a commit.
package store

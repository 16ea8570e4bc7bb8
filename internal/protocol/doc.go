// Package protocol owns the handshake vocabulary shared by every layer.
//
// Ownership boundary:
// - closed enumerations (status, tier, mode, energy, outcome code)
// - participant and relationship snapshot shapes
// - snapshot validation entry points
//
// Unknown enumeration values never validate; callers treat them as a
// hard rejection rather than guessing.
package protocol

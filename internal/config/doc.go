// Package config loads directory fixtures and writes config templates.
//
// Ownership boundary:
// - TOML fixture decoding (participants, relationships, calendar events)
// - fixture validation and conversion into protocol snapshots
// - seeding a store.Directory from a fixture
//
// Daemon service settings live with the binary that reads them (cmd/lagomd).
package config

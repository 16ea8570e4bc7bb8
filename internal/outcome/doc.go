// Package outcome maps terminal codes onto user-facing reports.
//
// Ownership boundary:
// - the code -> signal table (green, yellow, red)
// - one fixed message template per code
// - retryability, which callers use to decide whether a fresh session is worth starting
//
// Nothing else in the module classifies codes; every consumer reads this table.
package outcome

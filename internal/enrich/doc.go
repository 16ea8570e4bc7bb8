// Package enrich renders optional flavor text for committed sessions.
//
// Ownership boundary:
// - the Renderer contract: Render(ctx, Context) -> text
// - a deterministic offline renderer and an OpenAI-backed renderer
// - fallback composition so enrichment failures never surface to callers
//
// Enrichment runs after a commit and never influences a negotiation outcome.
package enrich

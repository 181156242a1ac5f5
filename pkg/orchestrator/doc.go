// Package orchestrator runs one generation request through admission,
// model selection, the provider call and finalization.
//
// A request moves through these states:
//
//	INIT -> RATE_CHECKED -> CLAIMED -> SLOTTED -> RESOLVING_MODEL
//	     -> CALLING_UPSTREAM -> FINALIZING -> DONE | FAILED
//
// Any failed gate moves straight to FAILED. Once a concurrency slot is
// held, every exit path (success, provider failure, client cancel, panic)
// passes through a single finish step that records exactly one usage event
// and then releases the slot exactly once.
//
// Generate serves blocking requests. OpenStream admits a streaming request
// and opens the provider stream, trying fallback models until one yields
// its first delta; the returned Session relays the rest.
package orchestrator

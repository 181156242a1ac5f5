// Package routing decides which models a generation request may be served by
// and walks them in order.
//
// # Candidate lists
//
// Resolve builds an ordered, de-duplicated candidate list:
//
//  1. the requested model
//  2. fallbacks for the requested model's family (the prefix before "/")
//  3. the global fallback ladder
//
// The list is capped at MaxCandidates. When the caller's allowlist
// intersects the list, only the intersection is returned (in list order);
// an empty intersection means the allowlist is unusable and is ignored.
//
// # Walking
//
// Walk tries candidates in order with a caller-supplied attempt function and
// stops at the first success. ShouldAdvance decides whether a failure moves
// on to the next candidate: invalid responses, timeouts, unavailability,
// 429s and 5xx do; model-unavailable 400/404/422 responses do; 401/403 and
// other client errors never do. Walk is free of HTTP concerns so tests can
// drive it with scripted failures.
package routing

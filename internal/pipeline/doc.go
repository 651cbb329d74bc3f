// ABOUTME: Package documentation for the webhook intake pipeline
// ABOUTME: Describes the per-request state machine and its failure mapping

// Package pipeline turns one signed webhook delivery into a routing event.
//
// A delivery moves through Received, Verified, Parsed, Classified,
// Persisted, Published and Responded. A bad signature ends in Rejected
// (401); every other failure ends in Failed (500). Neither exposes the
// underlying error to the caller.
//
// Classification never fails: model errors fall back to keyword matching.
// Session storage degrades to a transient session. Inbound, analysis and
// context writes, and the routing publish, are required.
package pipeline

// Package webhook holds the boundary pieces of the inbound webhook:
// signature verification, payload decoding, replay detection and
// per-client rate limiting.
//
// Signatures are hex HMAC-SHA256 digests of the raw request body, optionally
// prefixed with "sha256=". Verification fails closed.
//
// The sender field of a message may be a bare identifier string or an
// object with id, name and phone; both decode into Sender.
package webhook

// Package auth authenticates operators on the bird-gateway admin API.
//
// Operators present an HS256 JWT in the Authorization header:
//
//	Authorization: Bearer <token>
//
// Tokens are signed with auth.jwt_secret (at least 32 bytes), carry the
// operator ID in the "sub" claim and are issued by "bird-gateway". The
// token CLI command mints them:
//
//	bird-gateway token ops@example.com --ttl 24h
//
// Webhook deliveries are not authenticated here; they carry an HMAC
// signature checked by the webhook package.
package auth

// Package store provides persistent storage for the gateway.
//
// # Architecture
//
// The package is interface driven:
//
//   - ContextStore: bounded conversation memory keyed by conversation id
//   - SessionStore: per-user continuity records keyed by phone
//   - RecordStore: raw inbound payloads and intent analyses
//   - Store: all of the above plus Ping, PurgeExpired and Close
//
// SQLiteStore implements Store using modernc.org/sqlite (no cgo).
// RedisSessionStore implements SessionStore on go-redis so that several
// gateway replicas share session state. MockStore is an in-memory Store for
// tests, with per-operation error injection.
//
// # Expiry
//
// Every row carries an absolute expiry (unix seconds). Expiry is passive:
// reads treat expired rows as ErrNotFound and nothing is deleted on the hot
// path. PurgeExpired removes expired rows in bulk. Default retention:
//
//   - sessions: 7 days
//   - conversation contexts: 30 days
//   - inbound payloads: 30 days
//   - intent analyses: 90 days
//
// # Concurrency
//
// Writes are whole-record upserts. Two concurrent writers for the same
// conversation or session resolve as last-writer-wins.
package store

// Package session keeps server-side session records keyed by token.
//
// A record lives under its own TTL, independent of the token's signature
// expiry, and is the authoritative revocation mechanism: deleting it logs
// the token out even while the signature still verifies.
//
// # Backends
//
// The [Store] talks to a [Backend]. [RedisBackend] targets go-redis and
// [MemoryBackend] serves tests and single-process deployments. Backends that
// also implement [Indexer] support principal-wide invalidation.
//
// # Consistency
//
// Update reads the record and its remaining TTL, then replaces the record
// only if it still exists. Two concurrent updates of the same token race and
// the last writer wins.
//
// # What this package must NOT do
//
//   - Import authcore, jwt or cipher (no upward imports).
//   - Interpret token contents.
package session

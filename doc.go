// Package authcore issues and validates signed session tokens, keeps the
// server-side session cache that can revoke them, and protects field-level
// data at rest.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Verification modes
//
// [ModeStateless] trusts the token signature and expiry alone. [ModeStateful]
// additionally requires a live session record keyed by the token, so logout
// and principal invalidation take effect immediately. Both are exposed
// through the [Authenticator] interface.
//
// # Errors
//
// Failures are reported with the sentinels in errors.go and classified by
// [KindOf]. A missing credential ([ErrNotAuthenticated]) is never reported as
// [ErrAuthenticationFailed], and a cache outage ([ErrCacheUnavailable]) is
// never reported as either.
//
// # What this package must NOT do
//
//   - Create or update principals. Identity lives behind [PrincipalStore].
//   - Hash passwords or evaluate authorization policy.
//   - Retry backend calls.
package authcore

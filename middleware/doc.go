// Package middleware exposes net/http adapters that authenticate requests
// through an authcore.Authenticator and render failures with the response
// package.
//
// # Guards
//
//   - [Guard]: authenticates with any Authenticator.
//   - [RequireStateless]: token signature and expiry only, no cache call.
//   - [RequireStateful]: token plus a live session record.
//
// Each guard reads the credential header, calls Authenticate and stores the
// *authcore.Result in the request context for [ResultFromContext].
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to the Authenticator).
//   - Access the session backend.
//   - Make authorization decisions beyond pass/reject.
package middleware

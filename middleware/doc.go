// Package middleware exposes net/http adapters that put actorauth.Engine in
// front of handlers.
//
// # Guards
//
//   - [Guard] selects a verification mode explicitly.
//   - [RequireStateless] verifies the access token signature and expiry only.
//   - [RequireStrict] additionally checks the session store.
//   - [RequireRole] narrows an authenticated route to some roles.
//   - [RequestMetadata] copies client IP, user agent and request id into the
//     context so engine audit entries can carry them.
//
// Each guard reads the Authorization header, calls the engine and stores the
// resulting actorauth.Principal in the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis or SQL (Engine handles I/O).
//   - Reveal why a token was rejected beyond actorauth.PublicMessage.
package middleware

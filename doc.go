// Package actorauth registers actors, verifies their credentials and issues
// rotating bearer-token pairs for every actor role through one engine.
//
// A role (end user, organization admin, reviewer, ...) is a tag declared with
// [RoleSpec]; the same [Engine] serves all of them and never lets a session
// minted for one role authenticate as another.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// actorauth is the public surface. It exposes [Engine], [Builder], [Config],
// the typed [Error] and the request/response value types. Storage is consumed
// through [IdentityStore], [SessionStore], [RevocationLedger] and [AuditSink];
// the default implementations live in the identity, session, revocation and
// auditlog packages. Flow orchestration lives under internal/flows.
//
// # What this package must NOT do
//
//   - Persist or log raw secrets, access tokens or refresh tokens.
//   - Hold process-wide state; every dependency is injected through [Builder].
//   - Let an audit failure change the outcome of the operation being audited.
//
// # Error contract
//
// Every failure is an [*Error] carrying an [ErrorKind]. Use [errors.Is] with
// the exported sentinels or [KindOf] to branch on it, and [PublicMessage] or
// [HTTPStatus] to render it without leaking which of the security-equivalent
// token failures occurred.
package actorauth

// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunRegister, RunLogin, RunRefresh, RunRevokeSession,
// RunAuthenticate) accepts a typed dependency struct and returns a result
// carrying either the produced state or a [FailureKind]. Mapping a failure
// onto the public error type, metrics and audit entries stays with the root
// package.
//
// # Architecture boundaries
//
// Flows coordinate the identity store, session store, revocation ledger,
// token codec, secret hasher and rate limiter. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import actorauth (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
package flows

// Package internal holds helpers private to actorauth: session identifiers
// and bearer-token digests.
//
// # Sub-packages
//
//   - audit: async entry dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators behind every Engine operation
//   - ids: ULID generation for audit entries
//   - rate: Redis fixed-window throttles for login and refresh
package internal

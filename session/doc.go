// Package session is the Redis-backed session registry.
//
// # Layout
//
// Every session is a Redis hash at <prefix>:s:<id> holding the identity, role,
// the SHA-256 hex digests of the current access and refresh tokens, and unix
// millisecond timestamps. <prefix>:rh:<digest> maps the live refresh digest to
// the session id, and <prefix>:i:<role>:<identity> collects an identity's ids.
//
// Rotation and revocation run as Lua scripts so the compare-and-swap on the
// refresh digest is a single atomic step. Expiry is evaluated by callers; key
// TTLs only garbage-collect rows after their retention window.
//
// # What this package must NOT do
//
//   - Import actorauth or jwt (no upward imports).
//   - Store raw tokens.
//   - Decide whether an identity may hold a session.
package session

// Package jwt issues and verifies the access and refresh bearer tokens.
//
// Both purposes share one claim set (identity_id, role, purpose, sid, jti,
// iss, iat, exp). Every token gets a fresh UUIDv7 jti, so two tokens minted
// within the same second for the same session still differ.
//
// Verification is stateless. Whether the session behind a token is still live
// is decided by the session store, not here.
package jwt

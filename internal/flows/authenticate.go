package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/session"
)

// AuthenticateDeps captures access-token verification dependencies.
type AuthenticateDeps struct {
	Codec     TokenCodec
	Sessions  SessionStore
	Now       func() time.Time
	HashToken func(string) string
}

// AuthenticateResult carries the verified claims or failure metadata.
type AuthenticateResult struct {
	Failure FailureKind
	Err     error
	Claims  *jwt.Claims
}

// RunAuthenticate verifies an access token. The default path is purely
// algorithmic. With strict set, the session row must also be live and still
// hold this access token, which makes revocation and rotation take effect
// before the access token expires.
func RunAuthenticate(ctx context.Context, accessToken string, strict bool, deps AuthenticateDeps) AuthenticateResult {
	claims, err := deps.Codec.Verify(accessToken, jwt.PurposeAccess)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return AuthenticateResult{Failure: FailureExpired, Err: err}
		}
		return AuthenticateResult{Failure: FailureMalformed, Err: err}
	}
	if !strict {
		return AuthenticateResult{Claims: claims}
	}

	sess, err := deps.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return AuthenticateResult{Failure: FailureNotFound, Claims: claims}
		}
		return AuthenticateResult{Failure: FailureInternal, Err: err, Claims: claims}
	}
	switch {
	case sess.IdentityID != claims.IdentityID || sess.Role != claims.Role:
		return AuthenticateResult{Failure: FailureNotFound, Claims: claims}
	case sess.Revoked():
		return AuthenticateResult{Failure: FailureRevoked, Claims: claims}
	case sess.Expired(deps.Now().UTC()):
		return AuthenticateResult{Failure: FailureExpired, Claims: claims}
	case sess.SessionTokenHash != deps.HashToken(accessToken):
		return AuthenticateResult{Failure: FailureNotFound, Claims: claims}
	}
	return AuthenticateResult{Claims: claims}
}

package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/session"
)

// RevokeDeps captures revoke flow dependencies.
type RevokeDeps struct {
	IssueDeps
	Ledger RevocationLedger
}

// RevokeResult reports what a revoke call changed. Revoked counts sessions
// this call moved to the revoked state; zero is still a success.
type RevokeResult struct {
	Failure    FailureKind
	Err        error
	SessionID  string
	IdentityID string
	Role       string
	Revoked    int
}

// RunRevokeSession revokes one session and ledgers its live refresh token.
// Unknown and already-revoked sessions are no-ops.
func RunRevokeSession(ctx context.Context, sessionID string, deps RevokeDeps) RevokeResult {
	res := RevokeResult{SessionID: sessionID}

	sess, err := deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return res
		}
		res.Failure = FailureInternal
		res.Err = err
		return res
	}
	res.IdentityID = sess.IdentityID
	res.Role = sess.Role

	revoked, err := deps.revoke(ctx, sess)
	if err != nil {
		res.Failure = FailureInternal
		res.Err = err
		return res
	}
	if revoked {
		res.Revoked = 1
	}
	return res
}

// RunRevokeRefreshToken revokes the session holding refreshToken. Expired
// tokens are a no-op. A token no session holds any more is ledgered on its
// own so it can never be honored.
func RunRevokeRefreshToken(ctx context.Context, refreshToken string, deps RevokeDeps) RevokeResult {
	claims, err := deps.Codec.Verify(refreshToken, jwt.PurposeRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return RevokeResult{}
		}
		return RevokeResult{Failure: FailureMalformed, Err: err}
	}
	res := RevokeResult{
		SessionID:  claims.SessionID,
		IdentityID: claims.IdentityID,
		Role:       claims.Role,
	}

	hash := deps.HashToken(refreshToken)
	sess, err := deps.Sessions.FindByRefreshHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			res.Failure = FailureInternal
			res.Err = err
			return res
		}
		if claims.ExpiresAt != nil {
			if err := deps.Ledger.Revoke(ctx, hash, claims.ExpiresAt.Time); err != nil {
				res.Failure = FailureInternal
				res.Err = err
			}
		}
		return res
	}
	if sess.ID != claims.SessionID {
		return res
	}

	revoked, err := deps.revoke(ctx, sess)
	if err != nil {
		res.Failure = FailureInternal
		res.Err = err
		return res
	}
	if revoked {
		res.Revoked = 1
	}
	return res
}

// RunRevokeAll revokes every stored session of an identity.
func RunRevokeAll(ctx context.Context, role, identityID string, deps RevokeDeps) RevokeResult {
	res := RevokeResult{IdentityID: identityID, Role: role}

	ids, err := deps.Sessions.ListByIdentity(ctx, role, identityID)
	if err != nil {
		res.Failure = FailureInternal
		res.Err = err
		return res
	}
	for _, id := range ids {
		one := RunRevokeSession(ctx, id, deps)
		if one.Failure != FailureNone {
			res.Failure = one.Failure
			res.Err = one.Err
			return res
		}
		res.Revoked += one.Revoked
	}
	return res
}

func (d RevokeDeps) revoke(ctx context.Context, sess *session.Session) (bool, error) {
	hash, revoked, err := d.Sessions.Revoke(ctx, sess.ID, d.Now().UTC())
	if err != nil {
		return false, err
	}
	if !revoked {
		return false, nil
	}
	if err := d.Ledger.Revoke(ctx, hash, sess.ExpiresAt); err != nil {
		return true, err
	}
	return true, nil
}

package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/internal/rate"
	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/session"
)

// RefreshDeps captures refresh flow dependencies. Limiter is nil when
// refresh throttling is disabled.
type RefreshDeps struct {
	IssueDeps
	Identities        IdentityStore
	Ledger            RevocationLedger
	Limiter           RefreshLimiter
	SlidingExpiration bool
	RevokeOnReuse     bool
}

// RefreshResult carries the rotated token pair or failure metadata. The
// session and owner fields are filled as far as the flow got, for auditing.
type RefreshResult struct {
	Failure    FailureKind
	Err        error
	SessionID  string
	IdentityID string
	Role       string
	Issued     Issued
}

// RunRefresh validates a refresh token against its session and rotates the
// session onto a new token pair. The rotation itself is a compare-and-swap in
// the session store, so of several concurrent calls presenting the same
// token exactly one succeeds.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.Codec.Verify(refreshToken, jwt.PurposeRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return RefreshResult{Failure: FailureExpired, Err: err}
		}
		return RefreshResult{Failure: FailureMalformed, Err: err}
	}
	res := RefreshResult{
		SessionID:  claims.SessionID,
		IdentityID: claims.IdentityID,
		Role:       claims.Role,
	}
	fail := func(kind FailureKind, err error) RefreshResult {
		res.Failure = kind
		res.Err = err
		return res
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckRefresh(ctx, claims.SessionID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return fail(FailureRateLimited, err)
			}
			return fail(FailureInternal, err)
		}
	}

	presented := deps.HashToken(refreshToken)
	revoked, err := deps.Ledger.IsRevoked(ctx, presented)
	if err != nil {
		return fail(FailureInternal, err)
	}
	if revoked {
		return fail(FailureRevoked, nil)
	}

	sess, err := deps.Sessions.FindByRefreshHash(ctx, presented)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return deps.staleToken(ctx, claims, res)
		}
		return fail(FailureInternal, err)
	}
	if sess.ID != claims.SessionID || sess.IdentityID != claims.IdentityID || sess.Role != claims.Role {
		return fail(FailureNotFound, nil)
	}

	now := deps.Now().UTC()
	if sess.Revoked() {
		return fail(FailureRevoked, nil)
	}
	if sess.Expired(now) {
		return fail(FailureExpired, nil)
	}

	ident, err := deps.Identities.GetByID(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fail(FailureInactive, err)
		}
		return fail(FailureInternal, err)
	}
	// An inactive owner locks the lineage without revoking it, so
	// reactivation restores access.
	if !ident.Active() || ident.Role != sess.Role {
		return fail(FailureInactive, nil)
	}

	expiresAt := sess.ExpiresAt
	var slideTo time.Time
	if deps.SlidingExpiration {
		slideTo = now.Add(deps.SessionTTL)
		expiresAt = slideTo
	}

	issued, err := issuePair(deps.Codec, sess.IdentityID, sess.Role, sess.ID, expiresAt)
	if err != nil {
		return fail(FailureInternal, err)
	}
	if !slideTo.IsZero() {
		slideTo = issued.RefreshExpiresAt
	}

	sid, err := deps.Sessions.Rotate(ctx, session.RotateParams{
		OldRefreshHash: presented,
		NewRefreshHash: deps.HashToken(issued.RefreshToken),
		NewSessionHash: deps.HashToken(issued.AccessToken),
		Now:            now,
		NewExpiresAt:   slideTo,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return fail(FailureNotFound, err)
		case errors.Is(err, session.ErrRevoked):
			return fail(FailureRevoked, err)
		case errors.Is(err, session.ErrExpired):
			return fail(FailureExpired, err)
		default:
			return fail(FailureInternal, err)
		}
	}
	if sid != sess.ID {
		return fail(FailureNotFound, nil)
	}

	res.Failure = FailureNone
	res.Issued = issued
	return res
}

// staleToken handles a signed, unexpired refresh token that no session
// currently holds. When its session still exists the token was rotated away
// earlier, which means it is being replayed.
func (d RefreshDeps) staleToken(ctx context.Context, claims *jwt.Claims, res RefreshResult) RefreshResult {
	sess, err := d.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			res.Failure = FailureNotFound
			return res
		}
		res.Failure = FailureInternal
		res.Err = err
		return res
	}
	if sess.IdentityID != claims.IdentityID || sess.Role != claims.Role {
		res.Failure = FailureNotFound
		return res
	}
	if sess.Revoked() {
		res.Failure = FailureRevoked
		return res
	}
	if !d.RevokeOnReuse {
		res.Failure = FailureNotFound
		return res
	}

	current, _, err := d.Sessions.Revoke(ctx, sess.ID, d.Now().UTC())
	if err != nil {
		res.Failure = FailureInternal
		res.Err = err
		return res
	}
	if err := d.Ledger.Revoke(ctx, current, sess.ExpiresAt); err != nil {
		d.warn("refresh: ledger write after reuse failed", "session_id", sess.ID, "error", err)
	}
	res.Failure = FailureReuse
	return res
}

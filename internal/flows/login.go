package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/internal/rate"
)

// LoginInput identifies the credential to check. For SSO logins Secret is
// ignored and the provider assertion is trusted as already verified.
type LoginInput struct {
	Role        string
	Provider    string
	ProviderKey string
	Secret      string
	ClientIP    string
}

func (in LoginInput) local() bool {
	return in.Provider == identity.ProviderLocal
}

// LoginDeps captures login flow dependencies. Limiter is nil when login
// throttling is disabled.
type LoginDeps struct {
	IssueDeps
	Identities IdentityStore
	Hasher     SecretHasher
	Limiter    LoginLimiter
}

// LoginResult carries the authenticated identity and a new session, or
// failure metadata. Identity is set on FailureInactive so the caller can
// audit against it.
type LoginResult struct {
	Failure  FailureKind
	Err      error
	Identity *identity.Identity
	Issued   Issued
}

// RunLogin verifies a credential and opens an independent session lineage.
//
// Unknown keys, wrong secrets and empty secrets all end in
// FailureInvalidCredential after comparable argon2 work. Identity status is
// only consulted once the secret verified.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) LoginResult {
	if deps.Limiter != nil && in.local() {
		if err := deps.Limiter.CheckLogin(ctx, in.Role, in.ProviderKey, in.ClientIP); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return LoginResult{Failure: FailureRateLimited, Err: err}
			}
			return LoginResult{Failure: FailureInternal, Err: err}
		}
	}

	cred, ident, err := deps.Identities.FindCredential(ctx, in.Role, in.Provider, in.ProviderKey)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			if in.local() {
				deps.Hasher.VerifyDummy(in.Secret)
			}
			return deps.failCredential(ctx, in)
		}
		return LoginResult{Failure: FailureInternal, Err: err}
	}

	if in.local() {
		if in.Secret == "" || cred.SecretHash == nil {
			deps.Hasher.VerifyDummy(in.Secret)
			return deps.failCredential(ctx, in)
		}
		ok, err := deps.Hasher.Verify(in.Secret, *cred.SecretHash)
		if err != nil {
			return LoginResult{Failure: FailureInternal, Err: err}
		}
		if !ok {
			return deps.failCredential(ctx, in)
		}
	}

	if !ident.Active() {
		return LoginResult{Failure: FailureInactive, Identity: ident}
	}

	if deps.Limiter != nil && in.local() {
		if err := deps.Limiter.ResetLogin(ctx, in.Role, in.ProviderKey); err != nil {
			deps.warn("login: throttle reset failed", "role", in.Role, "error", err)
		}
	}

	issued, err := openSession(ctx, deps.IssueDeps, ident)
	if err != nil {
		if issued.SessionID != "" {
			if delErr := deps.Sessions.Delete(context.WithoutCancel(ctx), issued.SessionID); delErr != nil {
				deps.warn("login: partial session cleanup failed", "session_id", issued.SessionID, "error", delErr)
			}
		}
		return LoginResult{Failure: FailureInternal, Err: err, Identity: ident}
	}

	return LoginResult{
		Failure:  FailureNone,
		Identity: ident,
		Issued:   issued,
	}
}

func (d LoginDeps) failCredential(ctx context.Context, in LoginInput) LoginResult {
	if d.Limiter != nil && in.local() {
		if err := d.Limiter.IncrementLogin(ctx, in.Role, in.ProviderKey, in.ClientIP); err != nil {
			d.warn("login: throttle increment failed", "role", in.Role, "error", err)
		}
	}
	return LoginResult{Failure: FailureInvalidCredential}
}

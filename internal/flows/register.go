package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/actorauth/identity"
)

// RegisterInput is a validated and normalized registration request.
type RegisterInput struct {
	Role        string
	BusinessKey string
	DisplayName string
	Provider    string
	ProviderKey string
	Secret      string
}

// RegisterDeps captures register flow dependencies.
type RegisterDeps struct {
	IssueDeps
	Identities IdentityStore
	Hasher     SecretHasher
}

// RegisterResult carries the created identity and its first token pair, or
// failure metadata.
type RegisterResult struct {
	Failure  FailureKind
	Err      error
	Identity *identity.Identity
	Issued   Issued
}

// RunRegister creates the identity, its credential and the initial session as
// one unit. The session is written before the SQL transaction commits; when
// the commit does not happen the session is deleted again.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) RegisterResult {
	var secretHash string
	if in.Provider == identity.ProviderLocal {
		hash, err := deps.Hasher.Hash(in.Secret)
		if err != nil {
			return RegisterResult{Failure: FailureInternal, Err: err}
		}
		secretHash = hash
	}

	var (
		issued      Issued
		sessionOpen bool
	)
	ident, err := deps.Identities.Register(ctx, identity.NewIdentity{
		Role:        in.Role,
		BusinessKey: in.BusinessKey,
		DisplayName: in.DisplayName,
		Provider:    in.Provider,
		ProviderKey: in.ProviderKey,
		SecretHash:  secretHash,
	}, func(ctx context.Context, ident *identity.Identity) error {
		sessionOpen = true
		var err error
		issued, err = openSession(ctx, deps.IssueDeps, ident)
		return err
	})
	if err != nil {
		if sessionOpen && issued.SessionID != "" {
			if delErr := deps.Sessions.Delete(context.WithoutCancel(ctx), issued.SessionID); delErr != nil {
				deps.warn("register: orphaned session cleanup failed",
					"session_id", issued.SessionID,
					"error", delErr,
				)
			}
		}
		if errors.Is(err, identity.ErrDuplicate) {
			return RegisterResult{Failure: FailureDuplicate, Err: err}
		}
		return RegisterResult{Failure: FailureInternal, Err: err}
	}

	return RegisterResult{
		Failure:  FailureNone,
		Identity: ident,
		Issued:   issued,
	}
}

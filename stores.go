package actorauth

import (
	"context"
	"time"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/session"
)

// IdentityStore persists identities and credentials. Implementations report
// identity.ErrNotFound and identity.ErrDuplicate; any other error is treated
// as a storage failure. *identity.Registry is the default.
type IdentityStore interface {
	// Register inserts the identity and its credential atomically and runs
	// finalize before committing. A finalize error aborts the insert.
	Register(ctx context.Context, in identity.NewIdentity, finalize func(ctx context.Context, ident *identity.Identity) error) (*identity.Identity, error)
	FindCredential(ctx context.Context, role, provider, providerKey string) (*identity.Credential, *identity.Identity, error)
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
}

// SessionStore holds session rows. Rotate must be an atomic compare-and-swap
// on the current refresh hash. Implementations report session.ErrNotFound,
// session.ErrRevoked and session.ErrExpired. *session.Store is the default.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*session.Session, error)
	Rotate(ctx context.Context, p session.RotateParams) (string, error)
	Revoke(ctx context.Context, sessionID string, at time.Time) (string, bool, error)
	ListByIdentity(ctx context.Context, role, identityID string) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}

// RevocationLedger remembers refresh-token digests that must never be
// honored again. *revocation.Ledger is the default.
type RevocationLedger interface {
	Revoke(ctx context.Context, hash string, until time.Time) error
	IsRevoked(ctx context.Context, hash string) (bool, error)
}

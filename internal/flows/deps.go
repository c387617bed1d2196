package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/session"
)

// FailureKind classifies flow failures for root-level mapping.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureDuplicate
	FailureInvalidCredential
	FailureInactive
	FailureRateLimited
	FailureMalformed
	FailureNotFound
	FailureExpired
	FailureRevoked
	// FailureReuse is a stale refresh token presented for a live session. The
	// session has been revoked by the time the flow returns.
	FailureReuse
	FailureInternal
)

// Deps groups flow dependency sets. The root engine builds this once and
// delegates each request to the matching flow.
type Deps struct {
	Register     RegisterDeps
	Login        LoginDeps
	Refresh      RefreshDeps
	Revoke       RevokeDeps
	Authenticate AuthenticateDeps
}

type IdentityStore interface {
	Register(ctx context.Context, in identity.NewIdentity, finalize func(ctx context.Context, ident *identity.Identity) error) (*identity.Identity, error)
	FindCredential(ctx context.Context, role, provider, providerKey string) (*identity.Credential, *identity.Identity, error)
	GetByID(ctx context.Context, id string) (*identity.Identity, error)
}

type SessionStore interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	FindByRefreshHash(ctx context.Context, hash string) (*session.Session, error)
	Rotate(ctx context.Context, p session.RotateParams) (string, error)
	Revoke(ctx context.Context, sessionID string, at time.Time) (string, bool, error)
	ListByIdentity(ctx context.Context, role, identityID string) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}

type RevocationLedger interface {
	Revoke(ctx context.Context, hash string, until time.Time) error
	IsRevoked(ctx context.Context, hash string) (bool, error)
}

type TokenCodec interface {
	Issue(spec jwt.Spec) (string, time.Time, error)
	Verify(token string, expected jwt.Purpose) (*jwt.Claims, error)
}

type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
	VerifyDummy(secret string)
}

type LoginLimiter interface {
	CheckLogin(ctx context.Context, role, businessKey, ip string) error
	IncrementLogin(ctx context.Context, role, businessKey, ip string) error
	ResetLogin(ctx context.Context, role, businessKey string) error
}

type RefreshLimiter interface {
	CheckRefresh(ctx context.Context, sessionID string) error
}

// IssueDeps is shared by every flow that opens a session or rotates one.
type IssueDeps struct {
	Codec        TokenCodec
	Sessions     SessionStore
	Now          func() time.Time
	SessionTTL   time.Duration
	NewSessionID func() (string, error)
	HashToken    func(string) string
	Warn         func(msg string, args ...any)
}

func (d IssueDeps) warn(msg string, args ...any) {
	if d.Warn != nil {
		d.Warn(msg, args...)
	}
}

package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/session"
)

// Issued is a freshly minted token pair bound to one session.
type Issued struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// issuePair mints an access and a refresh token for the session. The refresh
// token expires with the session; the access token never outlives it.
func issuePair(codec TokenCodec, identityID, role, sessionID string, sessionExpiresAt time.Time) (Issued, error) {
	access, accessExp, err := codec.Issue(jwt.Spec{
		IdentityID: identityID,
		Role:       role,
		SessionID:  sessionID,
		Purpose:    jwt.PurposeAccess,
		ExpiresAt:  sessionExpiresAt,
	})
	if err != nil {
		return Issued{}, err
	}
	refresh, refreshExp, err := codec.Issue(jwt.Spec{
		IdentityID: identityID,
		Role:       role,
		SessionID:  sessionID,
		Purpose:    jwt.PurposeRefresh,
		ExpiresAt:  sessionExpiresAt,
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		SessionID:        sessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// openSession starts a new lineage for ident and persists it.
func openSession(ctx context.Context, deps IssueDeps, ident *identity.Identity) (Issued, error) {
	sessionID, err := deps.NewSessionID()
	if err != nil {
		return Issued{}, err
	}
	now := deps.Now().UTC()
	issued, err := issuePair(deps.Codec, ident.ID, ident.Role, sessionID, now.Add(deps.SessionTTL))
	if err != nil {
		return Issued{}, err
	}

	sess := &session.Session{
		ID:               sessionID,
		IdentityID:       ident.ID,
		Role:             ident.Role,
		SessionTokenHash: deps.HashToken(issued.AccessToken),
		RefreshTokenHash: deps.HashToken(issued.RefreshToken),
		IssuedAt:         now,
		// The codec truncates exp to whole seconds; the row follows the token.
		ExpiresAt: issued.RefreshExpiresAt,
	}
	if err := deps.Sessions.Create(ctx, sess); err != nil {
		// The session id is still reported so callers can clean up a write
		// that may have landed.
		return issued, err
	}
	return issued, nil
}

package actorauth

import (
	"encoding/json"
	"time"
)

// KeyKind selects the well-formedness rule applied to a role's business key.
type KeyKind int

const (
	// KeyEmail requires an email address. Keys are compared lowercased.
	KeyEmail KeyKind = iota
	// KeyOpaque accepts 1..255 printable ASCII characters, compared as given.
	KeyOpaque
)

// RoleSpec declares one actor role the engine serves.
type RoleSpec struct {
	Name    string
	KeyKind KeyKind
}

// SSOCredential binds an identity to an external provider account.
type SSOCredential struct {
	Provider    string
	ProviderKey string
}

// RegisterRequest carries exactly one of Secret or SSO.
type RegisterRequest struct {
	Role        string
	BusinessKey string
	DisplayName string
	Secret      string
	SSO         *SSOCredential
}

type LoginRequest struct {
	Role        string
	BusinessKey string
	Secret      string
}

// SSOLoginRequest logs in an identity registered with an SSO credential.
// The caller is responsible for having verified the provider assertion.
type SSOLoginRequest struct {
	Role        string
	Provider    string
	ProviderKey string
}

// TokenPair is the bearer material handed to a client. Expiry timestamps
// marshal as RFC 3339 UTC strings.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type tokenPairJSON struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func (p TokenPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenPairJSON{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt.UTC().Format(time.RFC3339),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (p *TokenPair) UnmarshalJSON(data []byte) error {
	var raw tokenPairJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	accessExp, err := time.Parse(time.RFC3339, raw.AccessExpiresAt)
	if err != nil {
		return err
	}
	refreshExp, err := time.Parse(time.RFC3339, raw.RefreshExpiresAt)
	if err != nil {
		return err
	}
	*p = TokenPair{
		AccessToken:      raw.AccessToken,
		RefreshToken:     raw.RefreshToken,
		AccessExpiresAt:  accessExp.UTC(),
		RefreshExpiresAt: refreshExp.UTC(),
	}
	return nil
}

// IdentityProjection is the public view of an identity. It never carries
// credential material.
type IdentityProjection struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	BusinessKey string    `json:"business_key"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal is all a domain service learns about an authenticated caller.
type Principal struct {
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
	SessionID  string `json:"session_id"`
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	Identity  IdentityProjection `json:"identity"`
	SessionID string             `json:"session_id"`
	Tokens    TokenPair          `json:"tokens"`
}

// LoginResult is returned by [Engine.Login] and [Engine.LoginSSO]. Every
// successful login opens a new session lineage.
type LoginResult struct {
	Identity  IdentityProjection `json:"identity"`
	SessionID string             `json:"session_id"`
	Tokens    TokenPair          `json:"tokens"`
}

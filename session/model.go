package session

import "time"

// Session is one bearer-session lineage. Only SHA-256 hex digests of the
// issued tokens are kept; raw tokens never reach storage.
type Session struct {
	ID               string
	IdentityID       string
	Role             string
	SessionTokenHash string
	RefreshTokenHash string

	IssuedAt    time.Time
	ExpiresAt   time.Time
	RefreshedAt *time.Time
	RevokedAt   *time.Time
}

// Revoked reports whether the session reached its terminal state.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Expired reports whether now is at or past the absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

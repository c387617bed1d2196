package session

import (
	"errors"
	"strconv"
	"time"
)

// Hash field names. The rotate and revoke scripts address the same names.
const (
	fieldIdentityID       = "identity_id"
	fieldRole             = "role"
	fieldSessionTokenHash = "session_token_hash"
	fieldRefreshTokenHash = "refresh_token_hash"
	fieldIssuedAt         = "issued_at"
	fieldExpiresAt        = "expires_at"
	fieldRefreshedAt      = "refreshed_at"
	fieldRevokedAt        = "revoked_at"
)

// ErrCorrupt is returned when a stored hash is missing required fields.
var ErrCorrupt = errors.New("session record corrupt")

// encodeFields flattens s into HSET arguments. Nil timestamps are omitted so
// scripts can test field presence.
func encodeFields(s *Session) []interface{} {
	out := []interface{}{
		fieldIdentityID, s.IdentityID,
		fieldRole, s.Role,
		fieldSessionTokenHash, s.SessionTokenHash,
		fieldRefreshTokenHash, s.RefreshTokenHash,
		fieldIssuedAt, formatMillis(s.IssuedAt),
		fieldExpiresAt, formatMillis(s.ExpiresAt),
	}
	if s.RefreshedAt != nil {
		out = append(out, fieldRefreshedAt, formatMillis(*s.RefreshedAt))
	}
	if s.RevokedAt != nil {
		out = append(out, fieldRevokedAt, formatMillis(*s.RevokedAt))
	}
	return out
}

func decodeFields(id string, fields map[string]string) (*Session, error) {
	s := &Session{
		ID:               id,
		IdentityID:       fields[fieldIdentityID],
		Role:             fields[fieldRole],
		SessionTokenHash: fields[fieldSessionTokenHash],
		RefreshTokenHash: fields[fieldRefreshTokenHash],
	}
	if s.IdentityID == "" || s.Role == "" || s.RefreshTokenHash == "" {
		return nil, ErrCorrupt
	}

	var err error
	if s.IssuedAt, err = parseMillis(fields[fieldIssuedAt]); err != nil {
		return nil, err
	}
	if s.ExpiresAt, err = parseMillis(fields[fieldExpiresAt]); err != nil {
		return nil, err
	}
	if v, ok := fields[fieldRefreshedAt]; ok && v != "" {
		t, err := parseMillis(v)
		if err != nil {
			return nil, err
		}
		s.RefreshedAt = &t
	}
	if v, ok := fields[fieldRevokedAt]; ok && v != "" {
		t, err := parseMillis(v)
		if err != nil {
			return nil, err
		}
		s.RevokedAt = &t
	}
	return s, nil
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, ErrCorrupt
	}
	return time.UnixMilli(ms).UTC(), nil
}

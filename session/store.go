package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every transport-level Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned when no session row answers a lookup, or when a
	// rotation lost the race for the presented hash.
	ErrNotFound = errors.New("session not found")
	// ErrRevoked is returned by Rotate when the row has been revoked.
	ErrRevoked = errors.New("session revoked")
	// ErrExpired is returned by Rotate when the row's absolute expiry passed.
	ErrExpired = errors.New("session expired")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusRotated  int64 = 3
)

const (
	revokeStatusMissing int64 = 0
	revokeStatusRevoked int64 = 1
	revokeStatusAlready int64 = 2
)

// KEYS[1] old index key, KEYS[2] new index key
// ARGV: session key prefix, old hash, new refresh hash, new session hash,
// now (ms), new expiry (ms, 0 keeps the current one), retain (ms),
// identity set prefix
const rotateRefreshScript = `
local sid = redis.call("GET", KEYS[1])
if not sid then
  return {0}
end

local session_key = ARGV[1] .. sid
local fields = redis.call("HMGET", session_key, "refresh_token_hash", "revoked_at", "expires_at")
if not fields[1] or fields[1] ~= ARGV[2] then
  return {0}
end
if fields[2] then
  return {2}
end

local now = tonumber(ARGV[5])
local expires_at = tonumber(fields[3])
if not expires_at or expires_at <= now then
  return {1}
end

local next_expiry = tonumber(ARGV[6])
if next_expiry > expires_at then
  expires_at = next_expiry
  redis.call("HSET", session_key, "expires_at", ARGV[6])
end

local ttl = expires_at + tonumber(ARGV[7]) - now
local ttl_arg = string.format("%d", ttl)
redis.call("DEL", KEYS[1])
redis.call("HSET", session_key,
  "refresh_token_hash", ARGV[3],
  "session_token_hash", ARGV[4],
  "refreshed_at", ARGV[5])
redis.call("PEXPIRE", session_key, ttl_arg)
redis.call("SET", KEYS[2], sid, "PX", ttl_arg)

local owner = redis.call("HMGET", session_key, "role", "identity_id")
if owner[1] and owner[2] then
  local identity_key = ARGV[8] .. owner[1] .. ":" .. owner[2]
  if redis.call("PTTL", identity_key) < ttl then
    redis.call("PEXPIRE", identity_key, ttl_arg)
  end
end

return {3, sid}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// KEYS[1] session key. ARGV[1] revoked_at (ms).
// The refresh index is left in place so later lookups land on the revoked row.
const revokeSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
local fields = redis.call("HMGET", KEYS[1], "revoked_at", "refresh_token_hash")
if fields[1] then
  return {2}
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return {1, fields[2] or ""}
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// RotateParams describes one refresh rotation. NewExpiresAt is zero unless
// sliding expiry is enabled.
type RotateParams struct {
	OldRefreshHash string
	NewRefreshHash string
	NewSessionHash string
	Now            time.Time
	NewExpiresAt   time.Time
}

// Store is a Redis-backed session registry. Each session is a hash keyed by
// id, with a secondary index from refresh-token hash to id and a per-identity
// set of ids.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	retain time.Duration
	now    func() time.Time
}

// NewStore creates a session [Store]. Rows stay readable for retainRevoked
// after their expiry so late presentations of a token still resolve to a
// definite state instead of "not found".
func NewStore(rdb redis.UniversalClient, prefix string, retainRevoked time.Duration) *Store {
	if prefix == "" {
		prefix = "aa"
	}
	if retainRevoked < 0 {
		retainRevoked = 0
	}
	return &Store{redis: rdb, prefix: prefix, retain: retainRevoked, now: time.Now}
}

// WithClock returns a copy of s that derives key TTLs from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) keyPrefix() string {
	return s.prefix + ":s:"
}

func (s *Store) refreshKey(hash string) string {
	return s.prefix + ":rh:" + hash
}

func (s *Store) identityKey(role, identityID string) string {
	return s.prefix + ":i:" + role + ":" + identityID
}

func (s *Store) ttlFor(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now) + s.retain
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Create persists a new session with its refresh index in one transaction.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.RefreshTokenHash == "" {
		return errors.New("session id and refresh hash are required")
	}

	ttl := s.ttlFor(sess.ExpiresAt, s.now())
	sessionKey := s.key(sess.ID)
	identityKey := s.identityKey(sess.Role, sess.IdentityID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey, encodeFields(sess)...)
		pipe.PExpire(ctx, sessionKey, ttl)
		pipe.Set(ctx, s.refreshKey(sess.RefreshTokenHash), sess.ID, ttl)
		pipe.SAdd(ctx, identityKey, sess.ID)
		pipe.PExpire(ctx, identityKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(sessionID, fields)
}

// FindByRefreshHash resolves the session currently holding hash.
func (s *Store) FindByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	sessionID, err := s.redis.Get(ctx, s.refreshKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// A stale index entry must never resolve to a row holding another hash.
	if sess.RefreshTokenHash != hash {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Rotate atomically swaps the refresh hash from p.OldRefreshHash to
// p.NewRefreshHash. Exactly one caller presenting a given old hash wins; the
// others get ErrNotFound, ErrRevoked or ErrExpired. It returns the session id.
func (s *Store) Rotate(ctx context.Context, p RotateParams) (string, error) {
	var nextExpiry int64
	if !p.NewExpiresAt.IsZero() {
		nextExpiry = p.NewExpiresAt.UnixMilli()
	}

	raw, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.refreshKey(p.OldRefreshHash), s.refreshKey(p.NewRefreshHash)},
		s.keyPrefix(),
		p.OldRefreshHash,
		p.NewRefreshHash,
		p.NewSessionHash,
		p.Now.UnixMilli(),
		nextExpiry,
		s.retain.Milliseconds(),
		s.prefix+":i:",
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return "", fmt.Errorf("%w: unexpected rotate result", ErrRedisUnavailable)
	}
	status, ok := values[0].(int64)
	if !ok {
		return "", fmt.Errorf("%w: unexpected rotate status", ErrRedisUnavailable)
	}

	switch status {
	case rotateStatusRotated:
		if len(values) < 2 {
			return "", fmt.Errorf("%w: missing rotated session id", ErrRedisUnavailable)
		}
		sessionID, _ := values[1].(string)
		return sessionID, nil
	case rotateStatusRevoked:
		return "", ErrRevoked
	case rotateStatusExpired:
		return "", ErrExpired
	default:
		return "", ErrNotFound
	}
}

// Revoke marks a session revoked. It reports the refresh hash that was live
// at revocation time and whether this call performed the transition; missing
// and already-revoked sessions return ("", false, nil).
func (s *Store) Revoke(ctx context.Context, sessionID string, at time.Time) (string, bool, error) {
	raw, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, at.UnixMilli()).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return "", false, fmt.Errorf("%w: unexpected revoke result", ErrRedisUnavailable)
	}
	status, _ := values[0].(int64)
	if status != revokeStatusRevoked {
		return "", false, nil
	}
	var hash string
	if len(values) > 1 {
		hash, _ = values[1].(string)
	}
	return hash, true, nil
}

// ListByIdentity returns the ids of sessions still stored for an identity.
// Ids whose rows were garbage-collected are pruned from the set.
func (s *Store) ListByIdentity(ctx context.Context, role, identityID string) ([]string, error) {
	identityKey := s.identityKey(role, identityID)
	ids, err := s.redis.SMembers(ctx, identityKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	live := make([]string, 0, len(ids))
	var stale []interface{}
	for i, id := range ids {
		if checks[i].Val() == 1 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, identityKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return live, nil
}

// Delete removes a session row and its indexes. Deleting a missing session
// is not an error. Used to compensate a registration that failed to commit.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID), s.refreshKey(sess.RefreshTokenHash))
		pipe.SRem(ctx, s.identityKey(sess.Role, sess.IdentityID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

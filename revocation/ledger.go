// Package revocation keeps a Redis set of refresh-token digests that must
// never be honored again, independent of whether their session row survives.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Ledger records revoked refresh-token digests until their natural expiry.
type Ledger struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewLedger returns a ledger writing keys under <prefix>:rv:.
func NewLedger(rdb redis.UniversalClient, prefix string) *Ledger {
	if prefix == "" {
		prefix = "aa"
	}
	return &Ledger{redis: rdb, prefix: prefix, now: time.Now}
}

// WithClock returns a copy of l that measures remaining lifetime against now.
// Pass the same clock that stamps token expiries.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

func (l *Ledger) key(hash string) string {
	return l.prefix + ":rv:" + hash
}

// Revoke ledgers hash until the given time. Entries whose expiry already
// passed are skipped, since the codec rejects those tokens on its own.
func (l *Ledger) Revoke(ctx context.Context, hash string, until time.Time) error {
	if hash == "" {
		return nil
	}
	ttl := until.Sub(l.now())
	if ttl <= 0 {
		return nil
	}
	if err := l.redis.Set(ctx, l.key(hash), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether hash has been ledgered.
func (l *Ledger) IsRevoked(ctx context.Context, hash string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.key(hash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

package actorauth

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override what the deployment needs; [Builder.Build] validates it.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	Password  PasswordConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. Refresh tokens share the owning session's
// expiry, so only the access lifetime is configured here.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	// VerifyKeys lists additional public keys (or HMAC secrets) accepted by
	// kid during key rotation.
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	// TTL is the lifetime of a session lineage and of its refresh tokens.
	TTL time.Duration
	// SlidingExpiration pushes expires_at to now+TTL on every refresh.
	SlidingExpiration bool
	// RetainRevoked keeps rows readable past expiry so late presentations of a
	// token still resolve to a definite state.
	RetainRevoked time.Duration
	KeyPrefix     string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinSecretBytes int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher. With DropIfFull
// unset, emitting blocks until the buffer has room so no entry is lost.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	// RevokeOnRefreshReuse revokes a whole session when a refresh token that
	// was already rotated away is presented again.
	RevokeOnRefreshReuse bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the Redis fixed-window throttles. Failed logins
// count against the role and business key, and against the client IP when
// EnableIPThrottle is set.
type RateLimitConfig struct {
	EnableLoginThrottle     bool
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Signing keys are left empty and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "actorauth",
			Leeway:        0,
		},
		Session: SessionConfig{
			TTL:               7 * 24 * time.Hour,
			SlidingExpiration: false,
			RetainRevoked:     24 * time.Hour,
			KeyPrefix:         "aa",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinSecretBytes: 8,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: false,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			RevokeOnRefreshReuse: true,
		},
		RateLimit: RateLimitConfig{
			EnableLoginThrottle:     false,
			EnableIPThrottle:        false,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			EnableRefreshThrottle:   false,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.JWT.AccessTTL > c.Session.TTL {
		return errors.New("JWT AccessTTL must not exceed Session TTL")
	}
	if c.Session.RetainRevoked < 0 {
		return errors.New("Session RetainRevoked must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinSecretBytes < 1 {
		return errors.New("Password MinSecretBytes must be >= 1")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Rate limits
	if c.RateLimit.EnableLoginThrottle {
		if c.RateLimit.MaxLoginAttempts <= 0 {
			return errors.New("RateLimit MaxLoginAttempts must be > 0")
		}
		if c.RateLimit.LoginCooldownDuration <= 0 {
			return errors.New("RateLimit LoginCooldownDuration must be > 0")
		}
	} else if c.RateLimit.EnableIPThrottle {
		return errors.New("RateLimit EnableIPThrottle requires EnableLoginThrottle")
	}
	if c.RateLimit.EnableRefreshThrottle {
		if c.RateLimit.MaxRefreshAttempts <= 0 {
			return errors.New("RateLimit MaxRefreshAttempts must be > 0")
		}
		if c.RateLimit.RefreshCooldownDuration <= 0 {
			return errors.New("RateLimit RefreshCooldownDuration must be > 0")
		}
	}

	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.PrivateKey = cloneBytes(c.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(c.JWT.PublicKey)
	if c.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(c.JWT.VerifyKeys))
		for kid, key := range c.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package actorauth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/internal"
	"github.com/MrEthical07/actorauth/internal/audit"
	"github.com/MrEthical07/actorauth/internal/flows"
	"github.com/MrEthical07/actorauth/internal/rate"
	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/password"
	"github.com/MrEthical07/actorauth/revocation"
	"github.com/MrEthical07/actorauth/session"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     bun.IDB
	roles  []RoleSpec

	identities IdentityStore
	sessions   SessionStore
	ledger     RevocationLedger
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client backing the default session store,
// revocation ledger and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB supplies the database backing the default identity store.
func (b *Builder) WithDB(db bun.IDB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

func (b *Builder) WithRevocationLedger(ledger RevocationLedger) *Builder {
	b.ledger = ledger
	return b
}

// WithAuditSink sets where audit entries are delivered. Without one, entries
// are dispatched to a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for best-effort failures such as audit sink
// errors. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRoles declares the actor roles the engine serves. Requests naming any
// other role fail validation.
func (b *Builder) WithRoles(roles ...RoleSpec) *Builder {
	b.roles = append(b.roles, roles...)
	return b
}

// WithClock replaces the engine's time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every dependency.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	roles, err := buildRoles(b.roles)
	if err != nil {
		return nil, err
	}

	// -------- STORES --------
	identities := b.identities
	if identities == nil {
		if b.db == nil {
			return nil, errors.New("identity store or database required")
		}
		identities = identity.NewRegistry(b.db)
	}

	sessions := b.sessions
	if sessions == nil {
		if b.redis == nil {
			return nil, errors.New("session store or redis client required")
		}
		store := session.NewStore(b.redis, cfg.Session.KeyPrefix, cfg.Session.RetainRevoked)
		if b.now != nil {
			store = store.WithClock(b.now)
		}
		sessions = store
	}

	ledger := b.ledger
	if ledger == nil {
		if b.redis == nil {
			return nil, errors.New("revocation ledger or redis client required")
		}
		l := revocation.NewLedger(b.redis, cfg.Session.KeyPrefix)
		if b.now != nil {
			l = l.WithClock(b.now)
		}
		ledger = l
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.EnableLoginThrottle || cfg.RateLimit.EnableRefreshThrottle {
		if b.redis == nil {
			return nil, errors.New("rate limiting requires redis client")
		}
		limiter = rate.New(b.redis, rate.Config{
			Prefix:                  cfg.Session.KeyPrefix,
			EnableIPThrottle:        cfg.RateLimit.EnableIPThrottle,
			EnableRefreshThrottle:   cfg.RateLimit.EnableRefreshThrottle,
			MaxLoginAttempts:        cfg.RateLimit.MaxLoginAttempts,
			LoginCooldownDuration:   cfg.RateLimit.LoginCooldownDuration,
			MaxRefreshAttempts:      cfg.RateLimit.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.RateLimit.RefreshCooldownDuration,
		})
	}

	// -------- CRYPTO --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:         cfg.Password.Memory,
		Time:           cfg.Password.Time,
		Parallelism:    cfg.Password.Parallelism,
		SaltLength:     cfg.Password.SaltLength,
		KeyLength:      cfg.Password.KeyLength,
		MinSecretBytes: cfg.Password.MinSecretBytes,
	})
	if err != nil {
		return nil, err
	}

	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	} else {
		codec = codec.WithClock(now)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:     cfg,
		roles:      roles,
		identities: identities,
		sessions:   sessions,
		ledger:     ledger,
		hasher:     hasher,
		codec:      codec,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		now:        now,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger)

	issue := flows.IssueDeps{
		Codec:        codec,
		Sessions:     sessions,
		Now:          now,
		SessionTTL:   cfg.Session.TTL,
		NewSessionID: internal.NewSessionID,
		HashToken:    internal.HashToken,
		Warn:         engine.warn,
	}
	engine.flowDeps = flows.Deps{
		Register: flows.RegisterDeps{
			IssueDeps:  issue,
			Identities: identities,
			Hasher:     hasher,
		},
		Login: flows.LoginDeps{
			IssueDeps:  issue,
			Identities: identities,
			Hasher:     hasher,
		},
		Refresh: flows.RefreshDeps{
			IssueDeps:         issue,
			Identities:        identities,
			Ledger:            ledger,
			SlidingExpiration: cfg.Session.SlidingExpiration,
			RevokeOnReuse:     cfg.Security.RevokeOnRefreshReuse,
		},
		Revoke: flows.RevokeDeps{
			IssueDeps: issue,
			Ledger:    ledger,
		},
		Authenticate: flows.AuthenticateDeps{
			Codec:     codec,
			Sessions:  sessions,
			Now:       now,
			HashToken: internal.HashToken,
		},
	}
	if limiter != nil {
		if cfg.RateLimit.EnableLoginThrottle {
			engine.flowDeps.Login.Limiter = limiter
		}
		if cfg.RateLimit.EnableRefreshThrottle {
			engine.flowDeps.Refresh.Limiter = limiter
		}
	}

	b.built = true
	return engine, nil
}

func buildRoles(specs []RoleSpec) (map[string]RoleSpec, error) {
	if len(specs) == 0 {
		return nil, errors.New("roles must be provided")
	}
	roles := make(map[string]RoleSpec, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" || name != spec.Name || strings.ContainsAny(name, ": ") {
			return nil, fmt.Errorf("invalid role name %q", spec.Name)
		}
		if spec.KeyKind != KeyEmail && spec.KeyKind != KeyOpaque {
			return nil, fmt.Errorf("role %q has an unknown key kind", spec.Name)
		}
		if _, dup := roles[name]; dup {
			return nil, fmt.Errorf("role %q declared twice", spec.Name)
		}
		roles[name] = spec
	}
	return roles, nil
}

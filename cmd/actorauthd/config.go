package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/actorauth"
)

// config is read from ACTORAUTH_* environment variables.
type config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"file:actorauth.db?_pragma=busy_timeout(5000)"`

	RedisAddrs    []string `env:"REDIS_ADDRS" envSeparator:"," envDefault:"localhost:6379"`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	RedisDB       int      `env:"REDIS_DB" envDefault:"0"`

	// Roles maps role name to key kind, e.g. "customer=email,vendor=opaque".
	Roles     map[string]string `env:"ROLES" envKeyValSeparator:"=" envDefault:"user=email"`
	AdminRole string            `env:"ADMIN_ROLE"`

	// SSOUpstreamSecret mounts the SSO routes. Only a trusted upstream that
	// already verified the provider assertion should hold it.
	SSOUpstreamSecret string `env:"SSO_UPSTREAM_SECRET"`

	JWTSigningMethod  string        `env:"JWT_SIGNING_METHOD" envDefault:"ed25519"`
	JWTSecret         string        `env:"JWT_SECRET"`
	JWTPrivateKeyFile string        `env:"JWT_PRIVATE_KEY_FILE"`
	JWTPublicKeyFile  string        `env:"JWT_PUBLIC_KEY_FILE"`
	JWTIssuer         string        `env:"JWT_ISSUER" envDefault:"actorauth"`
	JWTKeyID          string        `env:"JWT_KEY_ID"`
	AccessTTL         time.Duration `env:"ACCESS_TTL" envDefault:"15m"`

	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SlidingExpiration bool          `env:"SLIDING_EXPIRATION"`
	KeyPrefix         string        `env:"KEY_PREFIX" envDefault:"aa"`
	RevokeOnReuse     bool          `env:"REVOKE_ON_REFRESH_REUSE" envDefault:"true"`

	PasswordMemoryKB uint32 `env:"PASSWORD_MEMORY_KB" envDefault:"65536"`
	PasswordTime     uint32 `env:"PASSWORD_TIME" envDefault:"3"`
	MinSecretBytes   int    `env:"MIN_SECRET_BYTES" envDefault:"8"`

	LoginThrottle   bool `env:"LOGIN_THROTTLE"`
	IPThrottle      bool `env:"IP_THROTTLE"`
	RefreshThrottle bool `env:"REFRESH_THROTTLE"`

	AuditToDB bool `env:"AUDIT_TO_DB" envDefault:"true"`
	Metrics   bool `env:"METRICS" envDefault:"true"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ACTORAUTH_"}); err != nil {
		return config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c config) roleSpecs() ([]actorauth.RoleSpec, error) {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]actorauth.RoleSpec, 0, len(names))
	for _, name := range names {
		var kind actorauth.KeyKind
		switch strings.ToLower(strings.TrimSpace(c.Roles[name])) {
		case "email":
			kind = actorauth.KeyEmail
		case "opaque":
			kind = actorauth.KeyOpaque
		default:
			return nil, fmt.Errorf("config: role %q has unknown key kind %q", name, c.Roles[name])
		}
		specs = append(specs, actorauth.RoleSpec{Name: strings.TrimSpace(name), KeyKind: kind})
	}
	return specs, nil
}

func (c config) engineConfig() (actorauth.Config, error) {
	cfg := actorauth.DefaultConfig()

	cfg.JWT.SigningMethod = c.JWTSigningMethod
	cfg.JWT.Issuer = c.JWTIssuer
	cfg.JWT.KeyID = c.JWTKeyID
	cfg.JWT.AccessTTL = c.AccessTTL
	switch c.JWTSigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(c.JWTSecret)
	default:
		priv, err := os.ReadFile(c.JWTPrivateKeyFile)
		if err != nil {
			return actorauth.Config{}, fmt.Errorf("config: read private key: %w", err)
		}
		pub, err := os.ReadFile(c.JWTPublicKeyFile)
		if err != nil {
			return actorauth.Config{}, fmt.Errorf("config: read public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	cfg.Session.TTL = c.SessionTTL
	cfg.Session.SlidingExpiration = c.SlidingExpiration
	cfg.Session.KeyPrefix = c.KeyPrefix
	cfg.Security.RevokeOnRefreshReuse = c.RevokeOnReuse

	cfg.Password.Memory = c.PasswordMemoryKB
	cfg.Password.Time = c.PasswordTime
	cfg.Password.MinSecretBytes = c.MinSecretBytes

	cfg.RateLimit.EnableLoginThrottle = c.LoginThrottle
	cfg.RateLimit.EnableIPThrottle = c.IPThrottle
	cfg.RateLimit.EnableRefreshThrottle = c.RefreshThrottle

	cfg.Metrics.Enabled = c.Metrics
	cfg.Metrics.EnableLatencyHistograms = c.Metrics

	return cfg, cfg.Validate()
}

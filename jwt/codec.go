package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for every token the codec issues.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Purpose separates access tokens from refresh tokens. A token minted for one
// purpose never verifies for the other.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

var (
	// ErrMalformed covers every structural, signature, issuer and purpose failure.
	ErrMalformed = errors.New("jwt: malformed token")
	// ErrExpired is returned for a correctly signed token whose exp has elapsed.
	ErrExpired = errors.New("jwt: token expired")
)

// Config holds signing keys and validation policy.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Claims is the payload carried by both token purposes.
type Claims struct {
	IdentityID string  `json:"identity_id"`
	Role       string  `json:"role"`
	Purpose    Purpose `json:"purpose"`
	SessionID  string  `json:"sid"`
	jwt.RegisteredClaims
}

// Spec describes a token to issue. ExpiresAt is required for refresh tokens,
// which share the owning session's expiry; access tokens default to AccessTTL.
type Spec struct {
	IdentityID string
	Role       string
	SessionID  string
	Purpose    Purpose
	ExpiresAt  time.Time
}

// Codec signs and verifies bearer tokens. Verification is purely algorithmic
// and never touches storage.
type Codec struct {
	config Config
	now    func() time.Time
}

// NewCodec validates cfg and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if cfg.SigningMethod == MethodEd25519 {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Codec{config: cfg, now: time.Now}, nil
}

// WithClock returns a copy of the codec that reads time from now. Tests use it
// to move tokens across their expiry boundary.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// AccessTTL reports the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.config.AccessTTL
}

// Issue signs a token for spec and returns it with its expiry.
func (c *Codec) Issue(spec Spec) (string, time.Time, error) {
	if spec.IdentityID == "" || spec.Role == "" || spec.SessionID == "" {
		return "", time.Time{}, errors.New("jwt: identity, role and session are required")
	}

	now := c.now().UTC()
	var expiresAt time.Time
	switch spec.Purpose {
	case PurposeAccess:
		expiresAt = now.Add(c.config.AccessTTL)
		if !spec.ExpiresAt.IsZero() && spec.ExpiresAt.Before(expiresAt) {
			expiresAt = spec.ExpiresAt
		}
	case PurposeRefresh:
		if spec.ExpiresAt.IsZero() {
			return "", time.Time{}, errors.New("jwt: refresh token requires an expiry")
		}
		expiresAt = spec.ExpiresAt
	default:
		return "", time.Time{}, fmt.Errorf("jwt: unknown purpose %q", spec.Purpose)
	}
	// NumericDate has second precision; keep the reported expiry aligned with it.
	expiresAt = expiresAt.Truncate(time.Second)

	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, err
	}

	claims := Claims{
		IdentityID: spec.IdentityID,
		Role:       spec.Role,
		Purpose:    spec.Purpose,
		SessionID:  spec.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	token := jwt.NewWithClaims(c.method(), claims)
	if c.config.KeyID != "" {
		token.Header["kid"] = c.config.KeyID
	}

	key, err := c.signKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer, audience, purpose and expiry. It returns
// ErrExpired only for tokens that are otherwise valid for expected.
func (c *Codec) Verify(tokenStr string, expected Purpose) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	claims := &Claims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, c.keyFunc)
	if err != nil {
		// Claims validation runs after the signature check, so an expired
		// token still carries trustworthy claims here.
		if errors.Is(err, jwt.ErrTokenExpired) && validShape(claims, expected) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	if !token.Valid || !validShape(claims, expected) {
		return nil, ErrMalformed
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(c.now().Add(c.config.MaxFutureIAT)) {
		return nil, ErrMalformed
	}
	return claims, nil
}

func validShape(claims *Claims, expected Purpose) bool {
	return claims.Purpose == expected &&
		claims.IdentityID != "" &&
		claims.Role != "" &&
		claims.SessionID != ""
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(c.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return c.verifyKeyFromBytes(key)
	}

	if c.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != c.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	if c.config.SigningMethod == MethodHS256 {
		return c.config.PrivateKey, nil
	}
	if len(c.config.PublicKey) > 0 {
		return parseEdPublicKey(c.config.PublicKey)
	}
	priv, err := parseEdPrivateKey(c.config.PrivateKey)
	if err != nil {
		return nil, err
	}
	return priv.Public(), nil
}

func (c *Codec) method() jwt.SigningMethod {
	if c.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (c *Codec) signKey() (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return c.config.PrivateKey, nil
	}
	return parseEdPrivateKey(c.config.PrivateKey)
}

func (c *Codec) verifyKeyFromBytes(key []byte) (interface{}, error) {
	if c.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

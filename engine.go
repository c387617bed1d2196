package actorauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/internal/audit"
	"github.com/MrEthical07/actorauth/internal/flows"
	"github.com/MrEthical07/actorauth/jwt"
	"github.com/MrEthical07/actorauth/password"
)

// Engine is the role-parameterized authentication facade. It is safe for
// concurrent use once built.
type Engine struct {
	config     Config
	roles      map[string]RoleSpec
	identities IdentityStore
	sessions   SessionStore
	ledger     RevocationLedger
	hasher     *password.Argon2
	codec      *jwt.Codec
	audit      *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	flowDeps   flows.Deps
}

// Close drains pending audit entries. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped counts entries discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed counts entries the audit sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.codec != nil && e.hasher != nil
}

// Register creates an identity in req.Role with one credential and opens its
// first session. Identity, credential and session are created together or
// not at all.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	const op = "register"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	fail := func(err error, extra map[string]string) (*RegisterResult, error) {
		if KindOf(err) == KindDuplicateIdentity {
			e.metricInc(MetricRegisterDuplicate)
		}
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditRecord{action: audit.ActionRegister, role: req.Role, err: err, extra: extra})
		return nil, err
	}

	spec, ok := e.roles[req.Role]
	if !ok {
		return fail(newError(KindValidation, op, errUnknownRole), nil)
	}

	req.BusinessKey = normalizeBusinessKey(spec.KeyKind, req.BusinessKey)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	in := flows.RegisterInput{
		Role:        req.Role,
		BusinessKey: req.BusinessKey,
		DisplayName: req.DisplayName,
		Provider:    identity.ProviderLocal,
		ProviderKey: req.BusinessKey,
		Secret:      req.Secret,
	}
	if req.SSO != nil {
		sso := SSOCredential{
			Provider:    strings.TrimSpace(req.SSO.Provider),
			ProviderKey: strings.TrimSpace(req.SSO.ProviderKey),
		}
		req.SSO = &sso
		in.Provider = sso.Provider
		in.ProviderKey = sso.ProviderKey
	}
	extra := map[string]string{"provider": in.Provider}

	if err := validateRegister(&req, spec.KeyKind, e.hasher.MinSecretBytes()); err != nil {
		return fail(newError(KindValidation, op, err), extra)
	}

	res := flows.RunRegister(ctx, in, e.flowDeps.Register)
	if res.Failure != flows.FailureNone {
		return fail(failureError(op, res.Failure, res.Err), extra)
	}

	e.metricInc(MetricRegisterSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditRecord{
		action:     audit.ActionRegister,
		sessionID:  res.Issued.SessionID,
		identityID: res.Identity.ID,
		role:       res.Identity.Role,
		extra:      extra,
	})

	return &RegisterResult{
		Identity:  projectIdentity(res.Identity),
		SessionID: res.Issued.SessionID,
		Tokens:    tokenPair(res.Issued),
	}, nil
}

// Login verifies a local secret and opens a new session lineage. Unknown
// business keys, wrong secrets and empty secrets all return exactly
// [ErrInvalidCredential].
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	const op = "login"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	spec, ok := e.roles[req.Role]
	if !ok {
		return e.loginFailed(ctx, req.Role, nil, newError(KindValidation, op, errUnknownRole), identity.ProviderLocal)
	}

	return e.login(ctx, op, flows.LoginInput{
		Role:        req.Role,
		Provider:    identity.ProviderLocal,
		ProviderKey: normalizeBusinessKey(spec.KeyKind, req.BusinessKey),
		Secret:      req.Secret,
		ClientIP:    clientIPFromContext(ctx),
	})
}

// LoginSSO opens a session for the identity bound to (provider, provider
// key) in req.Role. The provider assertion must already be verified.
func (e *Engine) LoginSSO(ctx context.Context, req SSOLoginRequest) (*LoginResult, error) {
	const op = "login"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	provider := strings.TrimSpace(req.Provider)
	providerKey := strings.TrimSpace(req.ProviderKey)
	if _, ok := e.roles[req.Role]; !ok {
		return e.loginFailed(ctx, req.Role, nil, newError(KindValidation, op, errUnknownRole), provider)
	}
	if err := validateSSO(provider, providerKey); err != nil {
		return e.loginFailed(ctx, req.Role, nil, newError(KindValidation, op, err), provider)
	}

	return e.login(ctx, op, flows.LoginInput{
		Role:        req.Role,
		Provider:    provider,
		ProviderKey: providerKey,
		ClientIP:    clientIPFromContext(ctx),
	})
}

func (e *Engine) login(ctx context.Context, op string, in flows.LoginInput) (*LoginResult, error) {
	res := flows.RunLogin(ctx, in, e.flowDeps.Login)
	if res.Failure != flows.FailureNone {
		if res.Failure == flows.FailureRateLimited {
			e.metricInc(MetricLoginRateLimited)
		}
		return e.loginFailed(ctx, in.Role, res.Identity, failureError(op, res.Failure, res.Err), in.Provider)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditRecord{
		action:     audit.ActionLogin,
		sessionID:  res.Issued.SessionID,
		identityID: res.Identity.ID,
		role:       res.Identity.Role,
		extra:      map[string]string{"provider": in.Provider},
	})

	return &LoginResult{
		Identity:  projectIdentity(res.Identity),
		SessionID: res.Issued.SessionID,
		Tokens:    tokenPair(res.Issued),
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, role string, ident *identity.Identity, err error, provider string) (*LoginResult, error) {
	e.metricInc(MetricLoginFailure)
	rec := auditRecord{
		action: audit.ActionLogin,
		role:   role,
		err:    err,
		extra:  map[string]string{"provider": provider},
	}
	// Only an identity whose credential verified is named in the trail.
	if ident != nil {
		rec.identityID = ident.ID
	}
	e.emitAudit(ctx, rec)
	return nil, err
}

// Refresh rotates the session holding refreshToken onto a new token pair.
// The presented token is never honored again. Of several concurrent calls
// with the same token exactly one succeeds.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "refresh"
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	res := flows.RunRefresh(ctx, refreshToken, e.flowDeps.Refresh)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricRefreshLatency, time.Since(start))
	}

	rec := auditRecord{
		sessionID:  res.SessionID,
		identityID: res.IdentityID,
		role:       res.Role,
	}

	if res.Failure != flows.FailureNone {
		err := failureError(op, res.Failure, res.Err)
		switch res.Failure {
		case flows.FailureReuse:
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricSessionRevoked)
			rec.extra = map[string]string{"reason": "refresh_token_reuse"}
		case flows.FailureRateLimited:
			e.metricInc(MetricRefreshRateLimited)
		}
		e.metricInc(MetricRefreshFailure)
		rec.action = audit.ActionRefreshFailed
		rec.err = err
		e.emitAudit(ctx, rec)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	rec.action = audit.ActionRefresh
	e.emitAudit(ctx, rec)

	pair := tokenPair(res.Issued)
	return &pair, nil
}

// Revoke ends a session. Revoking an unknown or already revoked session
// succeeds without effect.
func (e *Engine) Revoke(ctx context.Context, sessionID string) error {
	const op = "revoke"
	if !e.ready() {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(sessionID) == "" {
		err := newError(KindValidation, op, errEmptySessionID)
		e.emitAudit(ctx, auditRecord{action: audit.ActionRevoke, err: err})
		return err
	}

	res := flows.RunRevokeSession(ctx, sessionID, e.flowDeps.Revoke)
	return e.revokeDone(ctx, op, "session", res)
}

// RevokeRefreshToken ends the session holding refreshToken. Expired tokens
// are accepted as a no-op; malformed ones fail with [ErrTokenMalformed].
func (e *Engine) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	const op = "revoke"
	if !e.ready() {
		return ErrEngineNotReady
	}
	res := flows.RunRevokeRefreshToken(ctx, refreshToken, e.flowDeps.Revoke)
	return e.revokeDone(ctx, op, "refresh_token", res)
}

// RevokeAll ends every session of one identity and reports how many were
// revoked by this call.
func (e *Engine) RevokeAll(ctx context.Context, role, identityID string) (int, error) {
	const op = "revoke_all"
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	var err error
	if _, ok := e.roles[role]; !ok {
		err = newError(KindValidation, op, errUnknownRole)
	} else if strings.TrimSpace(identityID) == "" {
		err = newError(KindValidation, op, errEmptyIdentityID)
	}
	if err != nil {
		e.emitAudit(ctx, auditRecord{action: audit.ActionRevoke, role: role, identityID: identityID, err: err})
		return 0, err
	}

	res := flows.RunRevokeAll(ctx, role, identityID, e.flowDeps.Revoke)
	if res.Failure == flows.FailureNone {
		e.metricInc(MetricRevokeAll)
	}
	return res.Revoked, e.revokeDone(ctx, op, "identity", res)
}

func (e *Engine) revokeDone(ctx context.Context, op, scope string, res flows.RevokeResult) error {
	rec := auditRecord{
		action:     audit.ActionRevoke,
		sessionID:  res.SessionID,
		identityID: res.IdentityID,
		role:       res.Role,
		extra: map[string]string{
			"scope":   scope,
			"revoked": strconv.Itoa(res.Revoked),
		},
	}
	if res.Failure != flows.FailureNone {
		rec.err = failureError(op, res.Failure, res.Err)
		e.emitAudit(ctx, rec)
		return rec.err
	}

	for i := 0; i < res.Revoked; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, rec)
	return nil
}

// Authenticate verifies an access token without touching storage and returns
// the caller's principal.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	return e.authenticate(ctx, accessToken, false)
}

// AuthenticateStrict verifies an access token and additionally requires its
// session to be live and still bound to this exact token.
func (e *Engine) AuthenticateStrict(ctx context.Context, accessToken string) (Principal, error) {
	return e.authenticate(ctx, accessToken, true)
}

func (e *Engine) authenticate(ctx context.Context, accessToken string, strict bool) (Principal, error) {
	const op = "authenticate"
	if !e.ready() {
		return Principal{}, ErrEngineNotReady
	}

	start := time.Now()
	res := flows.RunAuthenticate(ctx, accessToken, strict, e.flowDeps.Authenticate)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	}
	if res.Failure != flows.FailureNone {
		e.metricInc(MetricAuthenticateFailure)
		return Principal{}, failureError(op, res.Failure, res.Err)
	}
	if _, ok := e.roles[res.Claims.Role]; !ok {
		e.metricInc(MetricAuthenticateFailure)
		return Principal{}, newError(KindTokenMalformed, op, errUnknownRole)
	}

	return Principal{
		IdentityID: res.Claims.IdentityID,
		Role:       res.Claims.Role,
		SessionID:  res.Claims.SessionID,
	}, nil
}

// Identity returns the public projection of the identity behind p. Use it
// after [Engine.Authenticate] when a handler needs more than the principal.
func (e *Engine) Identity(ctx context.Context, p Principal) (IdentityProjection, error) {
	const op = "identity"
	if !e.ready() {
		return IdentityProjection{}, ErrEngineNotReady
	}
	ident, err := e.identities.GetByID(ctx, p.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return IdentityProjection{}, newError(KindActorInactive, op, nil)
		}
		return IdentityProjection{}, newError(KindInternalStorage, op, err)
	}
	if ident.Role != p.Role {
		return IdentityProjection{}, newError(KindActorInactive, op, nil)
	}
	return projectIdentity(ident), nil
}

func failureError(op string, kind flows.FailureKind, cause error) error {
	switch kind {
	case flows.FailureInvalidCredential:
		return ErrInvalidCredential
	case flows.FailureDuplicate:
		return newError(KindDuplicateIdentity, op, nil)
	case flows.FailureInactive:
		return newError(KindActorInactive, op, nil)
	case flows.FailureRateLimited:
		return newError(KindRateLimited, op, nil)
	case flows.FailureMalformed:
		return newError(KindTokenMalformed, op, nil)
	case flows.FailureNotFound:
		return newError(KindSessionNotFound, op, nil)
	case flows.FailureExpired:
		return newError(KindSessionExpired, op, nil)
	case flows.FailureRevoked, flows.FailureReuse:
		return newError(KindSessionRevoked, op, nil)
	default:
		return newError(KindInternalStorage, op, cause)
	}
}

func projectIdentity(ident *identity.Identity) IdentityProjection {
	return IdentityProjection{
		ID:          ident.ID,
		Role:        ident.Role,
		BusinessKey: ident.BusinessKey,
		DisplayName: ident.DisplayName,
		Status:      string(ident.Status),
		CreatedAt:   ident.CreatedAt,
	}
}

func tokenPair(issued flows.Issued) TokenPair {
	return TokenPair{
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		AccessExpiresAt:  issued.AccessExpiresAt,
		RefreshExpiresAt: issued.RefreshExpiresAt,
	}
}

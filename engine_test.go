package actorauth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/MrEthical07/actorauth/identity"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *recordingSink) Emit(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

type harnessOptions struct {
	configure  func(*Config)
	sink       AuditSink
	identities func(*identity.Registry) IdentityStore
}

type harness struct {
	engine   *Engine
	registry *identity.Registry
	redis    *miniredis.Miniredis
	sink     *recordingSink
	clock    *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.Session.TTL = time.Hour
	cfg.Session.RetainRevoked = time.Hour
	cfg.Password = PasswordConfig{
		Memory:         8 * 1024,
		Time:           1,
		Parallelism:    1,
		SaltLength:     16,
		KeyLength:      32,
		MinSecretBytes: 1,
	}
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256}
	cfg.Metrics = MetricsConfig{Enabled: true, EnableLatencyHistograms: true}
	return cfg
}

func openTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	db := openTestDB(t)
	registry := identity.NewRegistry(db)
	if err := registry.CreateSchema(context.Background()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	mr, rdb := startRedis(t)

	cfg := testConfig()
	if opts.configure != nil {
		opts.configure(&cfg)
	}

	h := &harness{
		registry: registry,
		redis:    mr,
		sink:     &recordingSink{},
		clock:    newTestClock(),
	}

	var identities IdentityStore = registry
	if opts.identities != nil {
		identities = opts.identities(registry)
	}
	var sink AuditSink = h.sink
	if opts.sink != nil {
		sink = opts.sink
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(identities).
		WithAuditSink(sink).
		WithClock(h.clock.Now).
		WithRoles(
			RoleSpec{Name: "user", KeyKind: KeyEmail},
			RoleSpec{Name: "admin", KeyKind: KeyEmail},
			RoleSpec{Name: "reviewer", KeyKind: KeyOpaque},
		).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// drain stops the engine and returns every audit entry it delivered.
func (h *harness) drain() []AuditEntry {
	h.engine.Close()
	return h.sink.snapshot()
}

func (h *harness) register(t *testing.T, role, key, secret string) *RegisterResult {
	t.Helper()
	res, err := h.engine.Register(context.Background(), RegisterRequest{
		Role:        role,
		BusinessKey: key,
		DisplayName: "Test Actor",
		Secret:      secret,
	})
	if err != nil {
		t.Fatalf("register %s/%s: %v", role, key, err)
	}
	return res
}

func requireKind(t *testing.T, err error, kinds ...ErrorKind) {
	t.Helper()
	got := KindOf(err)
	for _, k := range kinds {
		if got == k {
			return
		}
	}
	t.Fatalf("expected error kind in %v, got %v (%v)", kinds, got, err)
}

func TestRegisterThenLoginOpensIndependentLineage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	if reg.Identity.Role != "user" || reg.Identity.BusinessKey != "a@x.com" || reg.Identity.Status != "active" {
		t.Fatalf("unexpected identity projection %+v", reg.Identity)
	}

	login, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.Identity.ID != reg.Identity.ID {
		t.Fatal("login resolved a different identity")
	}
	if login.SessionID == reg.SessionID {
		t.Fatal("login must open a new session lineage")
	}
	if login.Tokens.AccessToken == reg.Tokens.AccessToken || login.Tokens.RefreshToken == reg.Tokens.RefreshToken {
		t.Fatal("login must return a different token pair")
	}

	// Both lineages stay independently usable.
	if _, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh registration lineage: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, login.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh login lineage: %v", err)
	}
}

func TestStaleRefreshTokenRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	if _, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	_, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionRevoked, KindSessionNotFound)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	h.register(t, "user", "a@x.com", "S1")

	_, wrongSecret := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "nope"})
	_, unknownKey := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "ghost@x.com", Secret: "S1"})
	_, emptySecret := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com"})

	for name, err := range map[string]error{"wrong": wrongSecret, "unknown": unknownKey, "empty": emptySecret} {
		if err != ErrInvalidCredential {
			t.Fatalf("%s: expected the invalid credential sentinel, got %v", name, err)
		}
	}
	if wrongSecret.Error() != unknownKey.Error() || PublicMessage(wrongSecret) != PublicMessage(unknownKey) {
		t.Fatal("wrong secret and unknown key must render identically")
	}
}

func TestRoleNamespacesAreIsolated(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	h.register(t, "user", "a@x.com", "S1")

	_, err := h.engine.Register(ctx, RegisterRequest{Role: "user", BusinessKey: "A@X.com ", DisplayName: "Dup", Secret: "S2"})
	requireKind(t, err, KindDuplicateIdentity)

	admin := h.register(t, "admin", "a@x.com", "S3")
	if admin.Identity.Role != "admin" {
		t.Fatalf("unexpected admin identity %+v", admin.Identity)
	}

	// A user secret never opens the admin identity.
	_, err = h.engine.Login(ctx, LoginRequest{Role: "admin", BusinessKey: "a@x.com", Secret: "S1"})
	if err != ErrInvalidCredential {
		t.Fatalf("expected invalid credential across roles, got %v", err)
	}

	p, err := h.engine.Authenticate(ctx, admin.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate admin: %v", err)
	}
	if p.Role != "admin" || p.IdentityID != admin.Identity.ID {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestRefreshReturnsFreshPair(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	prev := reg.Tokens
	for i := 0; i < 3; i++ {
		next, err := h.engine.Refresh(ctx, prev.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if next.AccessToken == prev.AccessToken || next.RefreshToken == prev.RefreshToken {
			t.Fatalf("refresh %d reused a token value", i)
		}
		if _, err := h.engine.Refresh(ctx, prev.RefreshToken); err == nil {
			t.Fatalf("refresh %d: rotated-away token was accepted again", i)
		}
		prev = *next
	}
}

func TestRefreshReuseRevokesLineage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	rotated, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, err = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionRevoked)

	_, err = h.engine.Refresh(ctx, rotated.RefreshToken)
	requireKind(t, err, KindSessionRevoked)

	if got := h.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected one reuse detection, got %d", got)
	}
}

func keysWithPrefix(mr *miniredis.Miniredis, prefix string) []string {
	var out []string
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func TestEngineClockDrivesStorageAndAuditTimes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	// Far enough from wall time that any wall-clock TTL would be obvious.
	h.clock.Advance(48 * time.Hour)

	reg := h.register(t, "user", "a@x.com", "S1")
	sessionKeys := keysWithPrefix(h.redis, "aa:s:")
	if len(sessionKeys) != 1 {
		t.Fatalf("expected one session key, got %v", sessionKeys)
	}
	// Session TTL plus revoked-row retention, both one hour.
	if ttl := h.redis.TTL(sessionKeys[0]); ttl > 2*time.Hour || ttl < 2*time.Hour-2*time.Second {
		t.Fatalf("session ttl %v not derived from the engine clock", ttl)
	}

	if _, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionRevoked)

	ledgered := keysWithPrefix(h.redis, "aa:rv:")
	if len(ledgered) != 1 {
		t.Fatalf("expected one ledgered digest, got %v", ledgered)
	}
	if ttl := h.redis.TTL(ledgered[0]); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("ledger ttl %v not derived from the engine clock", ttl)
	}

	entries := h.drain()
	if len(entries) == 0 {
		t.Fatal("expected audit entries")
	}
	for _, entry := range entries {
		id, err := ulid.Parse(entry.ID)
		if err != nil {
			t.Fatalf("audit id %q: %v", entry.ID, err)
		}
		if id.Time() != uint64(entry.CreatedAt.UnixMilli()) {
			t.Fatalf("audit id time %d disagrees with created_at %v", id.Time(), entry.CreatedAt)
		}
	}
}

func TestRefreshReuseWithoutRevocation(t *testing.T) {
	h := newHarness(t, harnessOptions{configure: func(cfg *Config) {
		cfg.Security.RevokeOnRefreshReuse = false
	}})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	rotated, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, err = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionNotFound)

	if _, err := h.engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("current token must survive a replay when revocation is off: %v", err)
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	reg := h.register(t, "user", "a@x.com", "S1")

	const workers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, workers)
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = h.engine.Refresh(context.Background(), reg.Tokens.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		requireKind(t, err, KindSessionNotFound, KindSessionRevoked)
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", winners)
	}
}

func TestInactiveIdentityIsLockedOut(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	if err := h.registry.SetStatus(ctx, reg.Identity.ID, identity.StatusInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
		requireKind(t, err, KindActorInactive)
	}

	_, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S1"})
	requireKind(t, err, KindActorInactive)
	_, err = h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "wrong"})
	if err != ErrInvalidCredential {
		t.Fatalf("wrong secret must not reveal inactivity, got %v", err)
	}

	if err := h.registry.SetStatus(ctx, reg.Identity.ID, identity.StatusActive); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh after reactivation: %v", err)
	}
}

func TestSoftDeletedIdentity(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	if err := h.registry.SoftDelete(ctx, reg.Identity.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	_, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindActorInactive)
	_, err = h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S1"})
	requireKind(t, err, KindActorInactive)

	again := h.register(t, "user", "a@x.com", "S2")
	if again.Identity.ID == reg.Identity.ID {
		t.Fatal("re-registration must create a new identity")
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S2"}); err != nil {
		t.Fatalf("login to re-registered identity: %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	for i := 0; i < 2; i++ {
		if err := h.engine.Revoke(ctx, reg.SessionID); err != nil {
			t.Fatalf("revoke %d: %v", i, err)
		}
	}
	if err := h.engine.Revoke(ctx, "no-such-session"); err != nil {
		t.Fatalf("revoke unknown session: %v", err)
	}

	_, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionRevoked)

	if got := h.engine.MetricsSnapshot().Counters[MetricSessionRevoked]; got != 1 {
		t.Fatalf("expected one revocation counted, got %d", got)
	}

	err = h.engine.Revoke(ctx, "  ")
	requireKind(t, err, KindValidation)
}

func TestRevokeRefreshToken(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	err := h.engine.RevokeRefreshToken(ctx, "not-a-token")
	requireKind(t, err, KindTokenMalformed)

	reg := h.register(t, "user", "a@x.com", "S1")
	err = h.engine.RevokeRefreshToken(ctx, reg.Tokens.AccessToken)
	requireKind(t, err, KindTokenMalformed)

	if err := h.engine.RevokeRefreshToken(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("revoke refresh token: %v", err)
	}
	if err := h.engine.RevokeRefreshToken(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	_, err = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionRevoked)
}

func TestRevokeRefreshTokenAfterExpiryIsNoop(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	h.clock.Advance(2 * time.Hour)

	if err := h.engine.RevokeRefreshToken(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("expected no-op for expired token, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	login, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	other := h.register(t, "user", "b@x.com", "S1")

	n, err := h.engine.RevokeAll(ctx, "user", reg.Identity.ID)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", n)
	}

	for _, token := range []string{reg.Tokens.RefreshToken, login.Tokens.RefreshToken} {
		_, err := h.engine.Refresh(ctx, token)
		requireKind(t, err, KindSessionRevoked)
	}
	_, err = h.engine.AuthenticateStrict(ctx, login.Tokens.AccessToken)
	requireKind(t, err, KindSessionRevoked)

	if _, err := h.engine.Refresh(ctx, other.Tokens.RefreshToken); err != nil {
		t.Fatalf("unrelated identity affected: %v", err)
	}

	n, err = h.engine.RevokeAll(ctx, "user", reg.Identity.ID)
	if err != nil || n != 0 {
		t.Fatalf("second revoke all: n=%d err=%v", n, err)
	}

	_, err = h.engine.RevokeAll(ctx, "auditor", reg.Identity.ID)
	requireKind(t, err, KindValidation)
}

func TestRefreshExpiredSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	h.clock.Advance(time.Hour + time.Second)

	_, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	requireKind(t, err, KindSessionExpired)

	_, err = h.engine.Authenticate(ctx, reg.Tokens.AccessToken)
	requireKind(t, err, KindSessionExpired)
}

func TestRefreshRejectsMalformedTokens(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	for name, token := range map[string]string{
		"garbage":      "garbage",
		"empty":        "",
		"access token": reg.Tokens.AccessToken,
		"tampered":     reg.Tokens.RefreshToken[:len(reg.Tokens.RefreshToken)-2] + "xx",
	} {
		_, err := h.engine.Refresh(ctx, token)
		if KindOf(err) != KindTokenMalformed {
			t.Fatalf("%s: expected malformed, got %v", name, err)
		}
	}
}

func TestSlidingExpirationExtendsSession(t *testing.T) {
	h := newHarness(t, harnessOptions{configure: func(cfg *Config) {
		cfg.Session.SlidingExpiration = true
	}})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	h.clock.Advance(30 * time.Minute)

	next, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !next.RefreshExpiresAt.After(reg.Tokens.RefreshExpiresAt) {
		t.Fatalf("expected sliding expiry, got %v <= %v", next.RefreshExpiresAt, reg.Tokens.RefreshExpiresAt)
	}

	// Past the original expiry, within the slid one.
	h.clock.Advance(50 * time.Minute)
	if _, err := h.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("refresh within slid window: %v", err)
	}
}

func TestFixedExpirationKeepsSessionBound(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	h.clock.Advance(30 * time.Minute)

	next, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !next.RefreshExpiresAt.Equal(reg.Tokens.RefreshExpiresAt) {
		t.Fatalf("refresh expiry moved: %v vs %v", next.RefreshExpiresAt, reg.Tokens.RefreshExpiresAt)
	}
	if next.AccessExpiresAt.After(next.RefreshExpiresAt) {
		t.Fatal("access token outlives its session")
	}
}

func TestAuthenticateStrictFollowsRotation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	p, err := h.engine.AuthenticateStrict(ctx, reg.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("strict authenticate: %v", err)
	}
	if p.SessionID != reg.SessionID || p.IdentityID != reg.Identity.ID || p.Role != "user" {
		t.Fatalf("unexpected principal %+v", p)
	}

	next, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, err := h.engine.Authenticate(ctx, reg.Tokens.AccessToken); err != nil {
		t.Fatalf("stateless check should still accept the unexpired token: %v", err)
	}
	_, err = h.engine.AuthenticateStrict(ctx, reg.Tokens.AccessToken)
	requireKind(t, err, KindSessionNotFound)

	if _, err := h.engine.AuthenticateStrict(ctx, next.AccessToken); err != nil {
		t.Fatalf("strict authenticate rotated token: %v", err)
	}

	_, err = h.engine.Authenticate(ctx, next.RefreshToken)
	requireKind(t, err, KindTokenMalformed)
}

func TestIdentityLookupForPrincipal(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	p, err := h.engine.Authenticate(ctx, reg.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	proj, err := h.engine.Identity(ctx, p)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	want := reg.Identity
	if proj.ID != want.ID || proj.Role != want.Role || proj.BusinessKey != want.BusinessKey ||
		proj.DisplayName != want.DisplayName || proj.Status != want.Status || !proj.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("projection mismatch: %+v vs %+v", proj, want)
	}

	_, err = h.engine.Identity(ctx, Principal{IdentityID: p.IdentityID, Role: "admin", SessionID: p.SessionID})
	requireKind(t, err, KindActorInactive)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{configure: func(cfg *Config) {
		cfg.Password.MinSecretBytes = 8
	}})
	ctx := context.Background()

	cases := map[string]RegisterRequest{
		"unknown role":      {Role: "auditor", BusinessKey: "a@x.com", DisplayName: "A", Secret: "long-enough"},
		"bad email":         {Role: "user", BusinessKey: "not-an-email", DisplayName: "A", Secret: "long-enough"},
		"missing key":       {Role: "user", DisplayName: "A", Secret: "long-enough"},
		"missing name":      {Role: "user", BusinessKey: "a@x.com", Secret: "long-enough"},
		"short secret":      {Role: "user", BusinessKey: "a@x.com", DisplayName: "A", Secret: "short"},
		"no credential":     {Role: "user", BusinessKey: "a@x.com", DisplayName: "A"},
		"both credentials":  {Role: "user", BusinessKey: "a@x.com", DisplayName: "A", Secret: "long-enough", SSO: &SSOCredential{Provider: "google", ProviderKey: "g-1"}},
		"local sso":         {Role: "user", BusinessKey: "a@x.com", DisplayName: "A", SSO: &SSOCredential{Provider: "local", ProviderKey: "g-1"}},
		"empty sso key":     {Role: "user", BusinessKey: "a@x.com", DisplayName: "A", SSO: &SSOCredential{Provider: "google"}},
		"opaque unprintable": {Role: "reviewer", BusinessKey: "rev\x01", DisplayName: "A", Secret: "long-enough"},
	}
	for name, req := range cases {
		_, err := h.engine.Register(ctx, req)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	if got := h.engine.MetricsSnapshot().Counters[MetricRegisterFailure]; got != uint64(len(cases)) {
		t.Fatalf("expected %d register failures, got %d", len(cases), got)
	}
}

func TestRegisterAndLoginWithSSO(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg, err := h.engine.Register(ctx, RegisterRequest{
		Role:        "reviewer",
		BusinessKey: "REV-0042",
		DisplayName: "Reviewer",
		SSO:         &SSOCredential{Provider: "github", ProviderKey: "gh-991"},
	})
	if err != nil {
		t.Fatalf("register sso: %v", err)
	}
	if reg.Identity.BusinessKey != "REV-0042" {
		t.Fatalf("opaque keys must keep their case, got %q", reg.Identity.BusinessKey)
	}

	login, err := h.engine.LoginSSO(ctx, SSOLoginRequest{Role: "reviewer", Provider: "github", ProviderKey: "gh-991"})
	if err != nil {
		t.Fatalf("login sso: %v", err)
	}
	if login.Identity.ID != reg.Identity.ID {
		t.Fatal("sso login resolved a different identity")
	}

	_, err = h.engine.LoginSSO(ctx, SSOLoginRequest{Role: "reviewer", Provider: "github", ProviderKey: "gh-unknown"})
	if err != ErrInvalidCredential {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	_, err = h.engine.LoginSSO(ctx, SSOLoginRequest{Role: "reviewer", Provider: "local", ProviderKey: "REV-0042"})
	requireKind(t, err, KindValidation)

	_, err = h.engine.Register(ctx, RegisterRequest{
		Role:        "reviewer",
		BusinessKey: "REV-0043",
		DisplayName: "Other",
		SSO:         &SSOCredential{Provider: "github", ProviderKey: "gh-991"},
	})
	requireKind(t, err, KindDuplicateIdentity)
}

func TestLoginThrottle(t *testing.T) {
	h := newHarness(t, harnessOptions{configure: func(cfg *Config) {
		cfg.RateLimit.EnableLoginThrottle = true
		cfg.RateLimit.MaxLoginAttempts = 2
	}})
	ctx := context.Background()
	h.register(t, "user", "a@x.com", "S1")

	for i := 0; i < 2; i++ {
		_, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "wrong"})
		if err != ErrInvalidCredential {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S1"})
	requireKind(t, err, KindRateLimited)

	if got := h.engine.MetricsSnapshot().Counters[MetricLoginRateLimited]; got != 1 {
		t.Fatalf("expected one rate-limited login, got %d", got)
	}

	// Other keys keep their own budget.
	h.register(t, "user", "b@x.com", "S1")
	if _, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "b@x.com", Secret: "S1"}); err != nil {
		t.Fatalf("unrelated key throttled: %v", err)
	}
}

func TestRefreshThrottle(t *testing.T) {
	h := newHarness(t, harnessOptions{configure: func(cfg *Config) {
		cfg.RateLimit.EnableRefreshThrottle = true
		cfg.RateLimit.MaxRefreshAttempts = 2
	}})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	token := reg.Tokens.RefreshToken
	for i := 0; i < 2; i++ {
		next, err := h.engine.Refresh(ctx, token)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		token = next.RefreshToken
	}
	_, err := h.engine.Refresh(ctx, token)
	requireKind(t, err, KindRateLimited)
}

type failingCommitStore struct {
	*identity.Registry
}

func (s failingCommitStore) Register(ctx context.Context, in identity.NewIdentity, finalize func(context.Context, *identity.Identity) error) (*identity.Identity, error) {
	_, err := s.Registry.Register(ctx, in, func(ctx context.Context, ident *identity.Identity) error {
		if err := finalize(ctx, ident); err != nil {
			return err
		}
		return errors.New("commit aborted")
	})
	return nil, err
}

func TestRegisterFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t, harnessOptions{identities: func(reg *identity.Registry) IdentityStore {
		return failingCommitStore{Registry: reg}
	}})
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterRequest{Role: "user", BusinessKey: "a@x.com", DisplayName: "A", Secret: "S1"})
	requireKind(t, err, KindInternalStorage)

	for _, key := range h.redis.Keys() {
		if strings.HasPrefix(key, "aa:s:") || strings.HasPrefix(key, "aa:rh:") {
			t.Fatalf("session state left behind: %s", key)
		}
	}
	if _, _, err := h.registry.FindCredential(ctx, "user", identity.ProviderLocal, "a@x.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("identity must be rolled back, got %v", err)
	}
}

func TestAuditRecordsEachOperationOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := WithRequestID(WithClientIP(context.Background(), "203.0.113.9"), "req-1")

	reg := h.register(t, "user", "a@x.com", "S1")
	_, _ = h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "wrong-secret"})
	login, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "S1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, _ = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err := h.engine.Revoke(ctx, login.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	entries := h.drain()
	want := []struct {
		action  AuditActionType
		outcome AuditOutcome
	}{
		{AuditActionRegister, AuditOutcomeSuccess},
		{AuditActionLogin, AuditOutcomeFailure},
		{AuditActionLogin, AuditOutcomeSuccess},
		{AuditActionRefresh, AuditOutcomeSuccess},
		{AuditActionRefreshFailed, AuditOutcomeFailure},
		{AuditActionRevoke, AuditOutcomeSuccess},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d audit entries, got %d: %+v", len(want), len(entries), entries)
	}
	for i, w := range want {
		if entries[i].ActionType != w.action || entries[i].Outcome != w.outcome {
			t.Fatalf("entry %d: got %s/%s, want %s/%s", i, entries[i].ActionType, entries[i].Outcome, w.action, w.outcome)
		}
		if entries[i].ID == "" || entries[i].Role != "user" {
			t.Fatalf("entry %d incomplete: %+v", i, entries[i])
		}
		if i > 0 && entries[i].ID <= entries[i-1].ID {
			t.Fatalf("audit ids must sort in emission order")
		}
		for k, v := range entries[i].Context {
			if strings.Contains(v, "S1") || strings.Contains(v, "wrong-secret") || strings.Count(v, ".") == 2 {
				t.Fatalf("entry %d leaks secret material in %s=%q", i, k, v)
			}
		}
	}

	if entries[1].Context["error_code"] != "invalid_credential" || entries[1].IdentityID != "" {
		t.Fatalf("login failure entry must carry only the error code: %+v", entries[1])
	}
	if entries[2].Context["ip"] != "203.0.113.9" || entries[2].Context["request_id"] != "req-1" {
		t.Fatalf("request context missing: %+v", entries[2].Context)
	}
	if entries[4].SessionID != reg.SessionID || entries[4].Context["error_code"] != "session_revoked" {
		t.Fatalf("unexpected refresh failure entry %+v", entries[4])
	}
}

type brokenSink struct{}

func (brokenSink) Emit(context.Context, AuditEntry) error {
	return errors.New("audit store offline")
}

func TestAuditSinkFailureDoesNotFailOperations(t *testing.T) {
	h := newHarness(t, harnessOptions{sink: brokenSink{}})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	if _, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh with broken audit sink: %v", err)
	}
	_, err := h.engine.Login(ctx, LoginRequest{Role: "user", BusinessKey: "a@x.com", Secret: "wrong"})
	if err != ErrInvalidCredential {
		t.Fatalf("audit failure masked the primary error: %v", err)
	}

	h.engine.Close()
	if got := h.engine.AuditFailed(); got != 3 {
		t.Fatalf("expected 3 failed audit deliveries, got %d", got)
	}
}

type panickingSink struct{}

func (panickingSink) Emit(context.Context, AuditEntry) error {
	panic("audit store exploded")
}

func TestPanickingAuditSinkDoesNotFailOperations(t *testing.T) {
	h := newHarness(t, harnessOptions{sink: panickingSink{}})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	pair, err := h.engine.Refresh(ctx, reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh with panicking audit sink: %v", err)
	}
	if err := h.engine.RevokeRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("revoke with panicking audit sink: %v", err)
	}

	h.engine.Close()
	if got := h.engine.AuditFailed(); got != 3 {
		t.Fatalf("expected 3 failed audit deliveries, got %d", got)
	}
}

func TestEngineMetricsTrackOutcomes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	reg := h.register(t, "user", "a@x.com", "S1")
	_, _ = h.engine.Register(ctx, RegisterRequest{Role: "user", BusinessKey: "a@x.com", DisplayName: "A", Secret: "S1"})
	_, _ = h.engine.Refresh(ctx, reg.Tokens.RefreshToken)

	snap := h.engine.MetricsSnapshot()
	checks := map[MetricID]uint64{
		MetricRegisterSuccess:   1,
		MetricRegisterFailure:   1,
		MetricRegisterDuplicate: 1,
		MetricSessionCreated:    1,
		MetricRefreshSuccess:    1,
	}
	for id, want := range checks {
		if got := snap.Counters[id]; got != want {
			t.Fatalf("metric %d: got %d want %d", id, got, want)
		}
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricRefreshLatency] {
		observed += n
	}
	if observed != 1 {
		t.Fatalf("expected one refresh latency observation, got %d", observed)
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Refresh(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if e.AuditDropped() != 0 || e.AuditFailed() != 0 {
		t.Fatal("nil engine counters must be zero")
	}
	e.Close()
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrEthical07/actorauth"
)

// Mode selects how much a guard verifies.
type Mode int

const (
	// ModeStateless checks signature, purpose and expiry without storage.
	ModeStateless Mode = iota
	// ModeStrict also requires a live session still bound to the token.
	ModeStrict
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by a guard.
func PrincipalFromContext(ctx context.Context) (actorauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(actorauth.Principal)
	return p, ok
}

// WithPrincipal stores p the way guards do. Handlers under test use it to
// skip token issuance.
func WithPrincipal(ctx context.Context, p actorauth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func Guard(engine *actorauth.Engine, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, actorauth.ErrTokenMalformed)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, actorauth.ErrTokenMalformed)
				return
			}

			var (
				p   actorauth.Principal
				err error
			)
			if mode == ModeStrict {
				p, err = engine.AuthenticateStrict(r.Context(), token)
			} else {
				p, err = engine.Authenticate(r.Context(), token)
			}
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WriteError renders err as {"error": "..."} with the status the engine
// assigns to its kind. Causes never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(actorauth.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": actorauth.PublicMessage(err),
		"code":  publicCode(err),
	})
}

// publicCode keeps token failures indistinguishable on the wire as well.
func publicCode(err error) string {
	switch kind := actorauth.KindOf(err); kind {
	case actorauth.KindTokenMalformed, actorauth.KindSessionNotFound, actorauth.KindSessionRevoked:
		return "invalid_token"
	case actorauth.KindUnknown:
		return actorauth.KindInternalStorage.String()
	default:
		return kind.String()
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

package middleware

import (
	"net/http"

	"github.com/MrEthical07/actorauth"
)

func RequireStrict(engine *actorauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, ModeStrict)
}

// RequireRole rejects principals outside roles with 403. It must run after a
// guard.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, actorauth.ErrTokenMalformed)
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				WriteError(w, actorauth.ErrActorInactive)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

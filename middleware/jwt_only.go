package middleware

import (
	"net/http"

	"github.com/MrEthical07/actorauth"
)

// RequireStateless returns middleware that authenticates with
// [ModeStateless], never touching the session store.
func RequireStateless(engine *actorauth.Engine) func(http.Handler) http.Handler {
	return Guard(engine, ModeStateless)
}

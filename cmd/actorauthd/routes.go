package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/actorauth"
	"github.com/MrEthical07/actorauth/identity"
	"github.com/MrEthical07/actorauth/middleware"
)

const (
	maxBodyBytes = 1 << 16

	upstreamSecretHeader = "X-Upstream-Secret"
)

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestMetadata)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/{role}/register", a.handleRegister)
		r.Post("/{role}/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/revoke", a.handleRevoke)

		if a.ssoSecret != "" {
			r.Group(func(r chi.Router) {
				r.Use(a.requireUpstream)
				r.Post("/{role}/register/sso", a.handleRegisterSSO)
				r.Post("/{role}/login/sso", a.handleLoginSSO)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStrict(a.engine))
			r.Get("/me", a.handleMe)
			r.Post("/logout", a.handleLogout)
			r.Post("/logout/all", a.handleLogoutAll)
			if a.auditLog != nil {
				r.Get("/me/audit", a.handleMyAudit)
			}
		})

		if a.adminRole != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireStrict(a.engine))
				r.Use(middleware.RequireRole(a.adminRole))
				r.Put("/identities/{id}/status", a.handleSetStatus)
				r.Delete("/identities/{id}", a.handleDeleteIdentity)
			})
		}
	})
	return r
}

type registerBody struct {
	BusinessKey string `json:"business_key"`
	DisplayName string `json:"display_name"`
	Secret      string `json:"secret"`
}

type loginBody struct {
	BusinessKey string `json:"business_key"`
	Secret      string `json:"secret"`
}

type ssoRegisterBody struct {
	BusinessKey    string `json:"business_key"`
	DisplayName    string `json:"display_name"`
	SSOProvider    string `json:"sso_provider"`
	SSOProviderKey string `json:"sso_provider_key"`
}

type ssoLoginBody struct {
	SSOProvider    string `json:"sso_provider"`
	SSOProviderKey string `json:"sso_provider_key"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type statusBody struct {
	Status string `json:"status"`
}

func (a *app) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.Register(r.Context(), actorauth.RegisterRequest{
		Role:        chi.URLParam(r, "role"),
		BusinessKey: body.BusinessKey,
		DisplayName: body.DisplayName,
		Secret:      body.Secret,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.Login(r.Context(), actorauth.LoginRequest{
		Role:        chi.URLParam(r, "role"),
		BusinessKey: body.BusinessKey,
		Secret:      body.Secret,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// requireUpstream admits only callers holding the upstream secret. The SSO
// routes trust the provider identity in the body as-is.
func (a *app) requireUpstream(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(upstreamSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.ssoSecret)) != 1 {
			middleware.WriteError(w, actorauth.ErrInvalidCredential)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *app) handleRegisterSSO(w http.ResponseWriter, r *http.Request) {
	var body ssoRegisterBody
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.Register(r.Context(), actorauth.RegisterRequest{
		Role:        chi.URLParam(r, "role"),
		BusinessKey: body.BusinessKey,
		DisplayName: body.DisplayName,
		SSO: &actorauth.SSOCredential{
			Provider:    body.SSOProvider,
			ProviderKey: body.SSOProviderKey,
		},
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *app) handleLoginSSO(w http.ResponseWriter, r *http.Request) {
	var body ssoLoginBody
	if !decode(w, r, &body) {
		return
	}
	res, err := a.engine.LoginSSO(r.Context(), actorauth.SSOLoginRequest{
		Role:        chi.URLParam(r, "role"),
		Provider:    body.SSOProvider,
		ProviderKey: body.SSOProviderKey,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *app) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !decode(w, r, &body) {
		return
	}
	pair, err := a.engine.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *app) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !decode(w, r, &body) {
		return
	}
	if err := a.engine.RevokeRefreshToken(r.Context(), body.RefreshToken); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	proj, err := a.engine.Identity(r.Context(), p)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (a *app) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := a.engine.Revoke(r.Context(), p.SessionID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	n, err := a.engine.RevokeAll(r.Context(), p.Role, p.IdentityID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (a *app) handleMyAudit(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	entries, err := a.auditLog.ListByIdentity(r.Context(), p.IdentityID)
	if err != nil {
		a.logger.Error("audit list failed", "identity_id", p.IdentityID, "error", err)
		middleware.WriteError(w, actorauth.ErrInternalStorage)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleSetStatus deactivates or reactivates an identity. Deactivation does
// not revoke sessions; they stop refreshing until the identity is active
// again.
func (a *app) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if !decode(w, r, &body) {
		return
	}
	status := identity.Status(body.Status)
	if status != identity.StatusActive && status != identity.StatusInactive {
		middleware.WriteError(w, actorauth.ErrValidation)
		return
	}
	a.identityWrite(w, r, a.registry.SetStatus(r.Context(), chi.URLParam(r, "id"), status))
}

func (a *app) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	a.identityWrite(w, r, a.registry.SoftDelete(r.Context(), chi.URLParam(r, "id")))
}

func (a *app) identityWrite(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, identity.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "identity not found"})
	default:
		a.logger.Error("identity update failed", "path", r.URL.Path, "error", err)
		middleware.WriteError(w, actorauth.ErrInternalStorage)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, actorauth.ErrValidation)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

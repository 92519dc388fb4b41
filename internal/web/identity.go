package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/evcraddock/rent-finder/internal/identity"
	"github.com/evcraddock/rent-finder/internal/rental"
)

const cookieName = "rf_identity"

type ctxKey int

const callerKey ctxKey = iota

// caller is the identity a request acts as, with the token it presented.
type caller struct {
	identity *identity.Identity
	token    string
}

// withIdentity resolves the identity token from the Authorization header or
// the identity cookie. An invalid cookie is cleared and the request proceeds
// without an identity; an invalid bearer token on /api/ is rejected.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, bearer := requestToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ident, err := s.identities.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, identity.ErrInvalidToken) {
				slog.Error("resolving identity", "err", err)
			}
			if bearer && strings.HasPrefix(r.URL.Path, "/api/") {
				apiError(w, "invalid identity token", http.StatusUnauthorized)
				return
			}
			clearIdentityCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, &caller{identity: ident, token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestToken(r *http.Request) (token string, bearer bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), true
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value, false
	}
	return "", false
}

func callerFromContext(r *http.Request) *caller {
	c, _ := r.Context().Value(callerKey).(*caller)
	return c
}

// IdentityFromContext returns the identity resolved for r, or nil.
func IdentityFromContext(r *http.Request) *identity.Identity {
	if c := callerFromContext(r); c != nil {
		return c.identity
	}
	return nil
}

// env builds the per-request rental environment. The auth state starts
// signed in as the request's identity, if it has one, and issues anonymous
// identities through the provider otherwise.
func (s *Server) env(r *http.Request) rental.Env {
	auth := identity.NewAuth(s.identities)
	if c := callerFromContext(r); c != nil {
		auth.SignIn(c.identity, c.token)
	}
	return rental.Env{
		Docs:    rental.StoreDocs(s.store),
		Auth:    auth,
		Queue:   s.queue,
		Metrics: s.metrics,
		Now:     s.now,
	}
}

// persistIdentity sets the identity cookie when auth holds an identity the
// request did not arrive with.
func (s *Server) persistIdentity(w http.ResponseWriter, r *http.Request, auth *identity.Auth) {
	st := auth.State()
	if st.Identity == nil || st.Token == "" {
		return
	}
	if c := callerFromContext(r); c != nil && c.identity.ID == st.Identity.ID {
		return
	}
	s.setIdentityCookie(w, st.Token)
}

func (s *Server) setIdentityCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.now().Add(s.cfg.TokenTTL),
		HttpOnly: true,
		Secure:   s.cfg.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearIdentityCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/evcraddock/rent-finder/internal/identity"
)

const (
	loginCookieName = "rf_passkey_login"
	ceremonyTimeout = 5 * time.Minute
)

// registration is an in-flight passkey registration.
type registration struct {
	session     *webauthn.SessionData
	displayName string
	started     time.Time
}

// passkeyHandlers holds WebAuthn-related HTTP handlers. Registering a
// passkey names the caller's identity; logging in with one restores that
// identity on another device.
type passkeyHandlers struct {
	srv *Server
	wan *webauthn.WebAuthn

	// In-memory session data for in-flight WebAuthn ceremonies.
	// Registrations are keyed by identity id, logins by a random id held in
	// a short-lived cookie.
	mu            sync.Mutex
	registrations map[string]registration
	logins        map[string]*webauthn.SessionData
}

func newPasskeyHandlers(s *Server) (*passkeyHandlers, error) {
	parsed, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	wan, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Rent Finder",
		RPID:          parsed.Hostname(),
		RPOrigins:     []string{strings.TrimRight(s.cfg.BaseURL, "/")},
	})
	if err != nil {
		return nil, err
	}

	return &passkeyHandlers{
		srv:           s,
		wan:           wan,
		registrations: make(map[string]registration),
		logins:        make(map[string]*webauthn.SessionData),
	}, nil
}

// handleBeginRegistration starts passkey registration for the caller's
// identity. The display name to take on is given as ?display_name=.
func (h *passkeyHandlers) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ident := IdentityFromContext(r)
	if ident == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	displayName := strings.TrimSpace(r.URL.Query().Get("display_name"))
	if displayName == "" {
		displayName = strings.TrimSpace(ident.DisplayName)
	}
	if displayName == "" {
		http.Error(w, "Display name is required", http.StatusBadRequest)
		return
	}

	creds, err := h.srv.passkeys.WebAuthnCredentials(r.Context(), ident.ID)
	if err != nil {
		slog.Error("loading credentials", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	named := *ident
	named.Anonymous = false
	named.DisplayName = displayName
	user := identity.NewPasskeyUser(&named, creds)

	// Exclude existing credentials so the same key is not registered twice.
	excludeList := make([]protocol.CredentialDescriptor, len(creds))
	for i, c := range creds {
		excludeList[i] = c.Descriptor()
	}

	creation, session, err := h.wan.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		slog.Error("beginning registration", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.registrations[ident.ID] = registration{session: session, displayName: displayName, started: h.srv.now()}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(creation); err != nil {
		slog.Error("encoding registration options", "err", err)
	}
}

// handleFinishRegistration completes passkey registration and names the
// identity.
func (h *passkeyHandlers) handleFinishRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ident := IdentityFromContext(r)
	if ident == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	reg, ok := h.registrations[ident.ID]
	if ok {
		delete(h.registrations, ident.ID)
	}
	h.mu.Unlock()

	if !ok || h.srv.now().Sub(reg.started) > ceremonyTimeout {
		http.Error(w, "No registration in progress", http.StatusBadRequest)
		return
	}

	creds, err := h.srv.passkeys.WebAuthnCredentials(r.Context(), ident.ID)
	if err != nil {
		slog.Error("loading credentials", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	named := *ident
	named.Anonymous = false
	named.DisplayName = reg.displayName
	user := identity.NewPasskeyUser(&named, creds)

	credential, err := h.wan.FinishRegistration(user, *reg.session, r)
	if err != nil {
		slog.Error("finishing registration", "err", err)
		http.Error(w, "Registration failed", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "Passkey"
	}

	if err := h.srv.passkeys.Save(r.Context(), ident.ID, name, credential); err != nil {
		slog.Error("saving credential", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if err := h.srv.identities.SetDisplayName(r.Context(), ident.ID, reg.displayName); err != nil {
		slog.Error("naming identity", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("passkey registered", "identity", ident.ID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("encoding response", "err", err)
	}
}

// handleBeginLogin starts passkey login (discoverable/conditional).
func (h *passkeyHandlers) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	assertion, session, err := h.wan.BeginDiscoverableLogin()
	if err != nil {
		slog.Error("beginning passkey login", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("generating login id", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	loginID := hex.EncodeToString(b)

	h.mu.Lock()
	h.logins[loginID] = session
	h.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     loginCookieName,
		Value:    loginID,
		Path:     "/passkey/login/",
		MaxAge:   int(ceremonyTimeout.Seconds()),
		HttpOnly: true,
		Secure:   h.srv.cfg.secureCookies(),
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(assertion); err != nil {
		slog.Error("encoding login options", "err", err)
	}
}

// handleFinishLogin completes passkey login and signs the browser in as the
// identity the passkey belongs to.
func (h *passkeyHandlers) handleFinishLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var session *webauthn.SessionData
	if c, err := r.Cookie(loginCookieName); err == nil {
		h.mu.Lock()
		session = h.logins[c.Value]
		delete(h.logins, c.Value)
		h.mu.Unlock()
	}
	if session == nil {
		http.Error(w, "No login in progress", http.StatusBadRequest)
		return
	}

	var loggedIn *identity.Identity
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		ident, err := h.srv.identities.Get(r.Context(), string(userHandle))
		if errors.Is(err, identity.ErrNotFound) {
			return nil, protocol.ErrBadRequest.WithDetails("unknown user")
		}
		if err != nil {
			return nil, err
		}
		creds, err := h.srv.passkeys.WebAuthnCredentials(r.Context(), ident.ID)
		if err != nil {
			return nil, err
		}
		loggedIn = ident
		return identity.NewPasskeyUser(ident, creds), nil
	}

	_, credential, err := h.wan.FinishPasskeyLogin(handler, *session, r)
	if err != nil {
		slog.Error("finishing passkey login", "err", err)
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	if err := h.srv.passkeys.UpdateCredential(r.Context(), credential); err != nil {
		slog.Warn("updating credential", "err", err)
	}

	token, err := h.srv.identities.Token(r.Context(), loggedIn.ID)
	if err != nil {
		slog.Error("signing identity token", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	h.srv.setIdentityCookie(w, token)

	slog.Info("login success", "identity", loggedIn.ID, "method", "passkey")
	apiJSON(w, identityResponse(loggedIn, token), http.StatusOK)
}

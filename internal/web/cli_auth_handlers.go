package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/evcraddock/rent-finder/internal/identity"
	"github.com/evcraddock/rent-finder/internal/rental"
)

type cliAuthData struct {
	Identity *identity.Identity
	Token    string
}

// handleCLIAuth shows a token for the browser's identity so the CLI can act
// as the same identity. A browser without one is issued an anonymous
// identity first.
func (s *Server) handleCLIAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	env := s.env(r)
	ident, err := rental.AwaitIdentity(ctx, env.Auth)
	if err != nil {
		slog.Error("issuing identity", "err", err)
		http.Error(w, "Could not create an identity", http.StatusInternalServerError)
		return
	}
	s.persistIdentity(w, r, env.Auth)

	token, err := s.identities.Token(ctx, ident.ID)
	if err != nil {
		slog.Error("signing identity token", "err", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.render(w, http.StatusOK, "cli_auth.html", cliAuthData{Identity: ident, Token: token})
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
	"github.com/evcraddock/rent-finder/internal/rental"
)

// apiError writes a JSON error response.
func apiError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := map[string]string{"error": msg}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// apiJSON writes a JSON response with the given status code.
func apiJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// apiWriteError maps a rejected write or read to a status code.
func apiWriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rental.ErrInvalidInput):
		apiError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, rental.ErrNoAccess), errors.Is(err, docstore.ErrPermissionDenied), errors.Is(err, docstore.ErrNotFound):
		apiError(w, rental.ErrNoAccess.Error(), http.StatusNotFound)
	case errors.Is(err, rental.ErrNoIdentity):
		apiError(w, "identity required", http.StatusUnauthorized)
	case errors.Is(err, context.DeadlineExceeded):
		apiError(w, "timed out", http.StatusGatewayTimeout)
	default:
		apiError(w, err.Error(), http.StatusInternalServerError)
	}
}

// IdentityResponse is the body returned when an identity is issued.
type IdentityResponse struct {
	ID          string `json:"id"`
	Token       string `json:"token,omitempty"`
	Anonymous   bool   `json:"anonymous"`
	DisplayName string `json:"display_name,omitempty"`
}

// SessionResponse is a gated session snapshot.
type SessionResponse struct {
	Session  *rental.Session      `json:"session"`
	Listings []rental.ListingView `json:"listings"`
	ShareURL string               `json:"share_url"`
}

// handleAPIIdentity issues or describes the caller's identity.
func (s *Server) handleAPIIdentity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		ident, token, err := s.identities.Issue(r.Context())
		if err != nil {
			slog.Error("issuing identity", "err", err)
			apiError(w, "could not issue identity", http.StatusInternalServerError)
			return
		}
		slog.Info("identity issued", "identity", ident.ID)
		apiJSON(w, identityResponse(ident, token), http.StatusCreated)
	case http.MethodGet:
		ident := IdentityFromContext(r)
		if ident == nil {
			apiError(w, "identity required", http.StatusUnauthorized)
			return
		}
		apiJSON(w, identityResponse(ident, ""), http.StatusOK)
	default:
		apiError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAPISessions routes /api/sessions requests.
func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if IdentityFromContext(r) == nil {
		apiError(w, "identity required", http.StatusUnauthorized)
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions"), "/")
	if path == "" {
		if r.Method != http.MethodPost {
			apiError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.apiCreateSession(w, r)
		return
	}

	parts := strings.Split(path, "/")
	sid := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.apiGetSession(w, r, sid)
		case http.MethodPatch:
			s.apiRenameSession(w, r, sid)
		default:
			apiError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "live":
		s.handleLive(w, r, sid)
	case len(parts) == 2 && parts[1] == "listings":
		if r.Method != http.MethodPost {
			apiError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.apiAddListing(w, r, sid)
	case len(parts) == 3 && parts[1] == "listings":
		switch r.Method {
		case http.MethodPatch:
			s.apiUpdateListing(w, r, sid, parts[2])
		case http.MethodDelete:
			s.apiDeleteListing(w, r, sid, parts[2])
		default:
			apiError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "listings" && parts[3] == "comments":
		switch r.Method {
		case http.MethodGet:
			s.apiListComments(w, r, sid, parts[2])
		case http.MethodPost:
			s.apiAddComment(w, r, sid, parts[2])
		default:
			apiError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "listings" && parts[3] == "vote":
		if r.Method != http.MethodPost {
			apiError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.apiVote(w, r, sid, parts[2])
	default:
		apiError(w, "not found", http.StatusNotFound)
	}
}

// accepted reports an issued write. The write completes in the background.
func accepted(w http.ResponseWriter, body map[string]string) {
	if body == nil {
		body = map[string]string{"status": "accepted"}
	}
	apiJSON(w, body, http.StatusAccepted)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) apiCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	sid, _ := rental.NewWriter(s.env(r)).CreateSession(req.Name)
	accepted(w, map[string]string{"id": sid})
}

// apiGetSession runs the membership gate for the caller and returns the
// session with its listings.
func (s *Server) apiGetSession(w http.ResponseWriter, r *http.Request, sid string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m := rental.Open(ctx, s.env(r), sid)
	defer m.Close()

	snap, err := m.Load(ctx)
	if err != nil {
		apiWriteError(w, err)
		return
	}
	views, err := m.Views(ctx, snap)
	if err != nil {
		apiWriteError(w, err)
		return
	}
	apiJSON(w, SessionResponse{
		Session:  snap.Session,
		Listings: views,
		ShareURL: rental.ShareURL(s.cfg.BaseURL, sid),
	}, http.StatusOK)
}

func (s *Server) apiRenameSession(w http.ResponseWriter, r *http.Request, sid string) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := rental.NewWriter(s.env(r)).RenameSession(sid, req.Name); err != nil {
		apiWriteError(w, err)
		return
	}
	accepted(w, nil)
}

func (s *Server) apiAddListing(w http.ResponseWriter, r *http.Request, sid string) {
	var in rental.ListingInput
	if !decodeBody(w, r, &in) {
		return
	}
	lid, _, err := rental.NewWriter(s.env(r)).AddListing(sid, in)
	if err != nil {
		apiWriteError(w, err)
		return
	}
	accepted(w, map[string]string{"id": lid})
}

func (s *Server) apiUpdateListing(w http.ResponseWriter, r *http.Request, sid, lid string) {
	var patch rental.ListingPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if _, err := rental.NewWriter(s.env(r)).UpdateListing(sid, lid, patch); err != nil {
		apiWriteError(w, err)
		return
	}
	accepted(w, nil)
}

func (s *Server) apiDeleteListing(w http.ResponseWriter, r *http.Request, sid, lid string) {
	rental.NewWriter(s.env(r)).DeleteListing(sid, lid)
	accepted(w, nil)
}

// apiListComments returns a listing's comments, oldest first. The caller is
// gated like a page visit.
func (s *Server) apiListComments(w http.ResponseWriter, r *http.Request, sid, lid string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m := rental.Open(ctx, s.env(r), sid)
	defer m.Close()

	state, err := m.Gate.Wait(ctx)
	if err != nil {
		apiWriteError(w, err)
		return
	}
	if state != rental.GateGranted {
		apiWriteError(w, rental.ErrNoAccess)
		return
	}

	comments, err := m.Comments(ctx, lid)
	if err != nil {
		apiWriteError(w, fmt.Errorf("loading comments: %w", err))
		return
	}
	if comments == nil {
		comments = make([]*rental.Comment, 0)
	}
	apiJSON(w, comments, http.StatusOK)
}

func (s *Server) apiAddComment(w http.ResponseWriter, r *http.Request, sid, lid string) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := rental.NewWriter(s.env(r)).AddComment(sid, lid, req.Text); err != nil {
		apiWriteError(w, err)
		return
	}
	accepted(w, nil)
}

func (s *Server) apiVote(w http.ResponseWriter, r *http.Request, sid, lid string) {
	var req struct {
		Value int `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := rental.NewWriter(s.env(r)).CastVote(sid, lid, req.Value); err != nil {
		apiWriteError(w, err)
		return
	}
	accepted(w, nil)
}

// identityResponse builds the body for a freshly signed-in identity.
func identityResponse(ident *identity.Identity, token string) IdentityResponse {
	return IdentityResponse{
		ID:          ident.ID,
		Token:       token,
		Anonymous:   ident.Anonymous,
		DisplayName: ident.DisplayName,
	}
}

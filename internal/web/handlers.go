package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
	"github.com/evcraddock/rent-finder/internal/rental"
)

type landingData struct {
	Identity *identity.Identity
}

type sessionData struct {
	Session     *rental.Session
	Listings    []rental.ListingView
	Listing     *rental.Listing // always nil; the add form shares the edit form's fields
	Identity    *identity.Identity
	Frequencies []rental.Frequency
	Indexes     []rental.Index
	Error       string
}

type listingData struct {
	Session     *rental.Session
	Listing     rental.ListingView
	Comments    []*rental.Comment
	Identity    *identity.Identity
	Frequencies []rental.Frequency
	Indexes     []rental.Index
	Error       string
}

var (
	frequencies = []rental.Frequency{
		rental.FrequencyUnknown,
		rental.FrequencyQuarterly,
		rental.FrequencyFourMonthly,
		rental.FrequencySemiannual,
	}
	indexes = []rental.Index{rental.IndexUnknown, rental.IndexIPC, rental.IndexICL}
)

// handleLanding renders the landing page.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, http.StatusOK, "landing.html", landingData{Identity: IdentityFromContext(r)})
}

// handleCreateSession creates a session owned by the caller, issuing an
// anonymous identity first if the request has none.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	env := s.env(r)
	if _, err := rental.AwaitIdentity(ctx, env.Auth); err != nil {
		slog.Error("issuing identity", "err", err)
		http.Error(w, "Could not create an identity", http.StatusInternalServerError)
		return
	}
	s.persistIdentity(w, r, env.Auth)

	sid, p := rental.NewWriter(env).CreateSession(r.FormValue("name"))
	if !s.settle(ctx, w, p) {
		return
	}
	http.Redirect(w, r, "/session/"+sid, http.StatusSeeOther)
}

// handleSessionRoute routes /session/{id}/* requests.
func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/session/"), "/"), "/")
	sid := parts[0]
	if sid == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		s.handleSession(w, r, sid)
	case len(parts) == 2 && parts[1] == "rename":
		s.handleRename(w, r, sid)
	case len(parts) == 2 && parts[1] == "listings":
		s.handleAddListing(w, r, sid)
	case len(parts) == 3 && parts[1] == "listings":
		s.handleListing(w, r, sid, parts[2])
	case len(parts) == 4 && parts[1] == "listings":
		s.handleListingAction(w, r, sid, parts[2], parts[3])
	default:
		http.NotFound(w, r)
	}
}

// openSession mounts sid for the request's identity and waits for the first
// snapshot. It writes the response itself when the session cannot be shown.
func (s *Server) openSession(ctx context.Context, w http.ResponseWriter, r *http.Request, sid string) (*rental.Mount, rental.Snapshot, bool) {
	env := s.env(r)
	m := rental.Open(ctx, env, sid)
	snap, err := m.Load(ctx)
	s.persistIdentity(w, r, env.Auth)
	if err != nil {
		m.Close()
		if errors.Is(err, rental.ErrNoAccess) || errors.Is(err, docstore.ErrPermissionDenied) {
			s.render(w, http.StatusNotFound, "denied.html", nil)
			return nil, snap, false
		}
		slog.Error("loading session", "session", sid, "err", err)
		http.Error(w, fmt.Sprintf("Error loading session: %v", err), http.StatusInternalServerError)
		return nil, snap, false
	}
	return m, snap, true
}

// handleSession renders the session page, joining the session on first visit.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sid string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, snap, ok := s.openSession(ctx, w, r, sid)
	if !ok {
		return
	}
	defer m.Close()

	views, err := m.Views(ctx, snap)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error loading listings: %v", err), http.StatusInternalServerError)
		return
	}

	s.render(w, http.StatusOK, "session.html", sessionData{
		Session:     snap.Session,
		Listings:    views,
		Identity:    m.Identity(),
		Frequencies: frequencies,
		Indexes:     indexes,
		Error:       r.URL.Query().Get("error"),
	})
}

// handleListing renders one listing with its comments.
func (s *Server) handleListing(w http.ResponseWriter, r *http.Request, sid, lid string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, snap, ok := s.openSession(ctx, w, r, sid)
	if !ok {
		return
	}
	defer m.Close()

	var listing *rental.Listing
	for _, l := range snap.Listings {
		if l.ID == lid {
			listing = l
			break
		}
	}
	if listing == nil {
		http.NotFound(w, r)
		return
	}

	views, err := m.Views(ctx, rental.Snapshot{Listings: []*rental.Listing{listing}})
	if err != nil {
		http.Error(w, fmt.Sprintf("Error loading listing: %v", err), http.StatusInternalServerError)
		return
	}
	comments, err := m.Comments(ctx, lid)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error loading comments: %v", err), http.StatusInternalServerError)
		return
	}

	s.render(w, http.StatusOK, "listing.html", listingData{
		Session:     snap.Session,
		Listing:     views[0],
		Comments:    comments,
		Identity:    m.Identity(),
		Frequencies: frequencies,
		Indexes:     indexes,
		Error:       r.URL.Query().Get("error"),
	})
}

// formWriter checks the method and parses the form for a session write. It
// redirects to the session page, which issues an identity, when the request
// has none.
func (s *Server) formWriter(w http.ResponseWriter, r *http.Request, sid string) (*rental.Writer, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return nil, false
	}
	if IdentityFromContext(r) == nil {
		http.Redirect(w, r, "/session/"+sid, http.StatusSeeOther)
		return nil, false
	}
	return rental.NewWriter(s.env(r)), true
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, sid string) {
	wr, ok := s.formWriter(w, r, sid)
	if !ok {
		return
	}
	back := "/session/" + sid

	p, err := wr.RenameSession(sid, r.FormValue("name"))
	if err != nil {
		redirectWithError(w, r, back, err)
		return
	}
	if s.settle(r.Context(), w, p) {
		http.Redirect(w, r, back, http.StatusSeeOther)
	}
}

func (s *Server) handleAddListing(w http.ResponseWriter, r *http.Request, sid string) {
	wr, ok := s.formWriter(w, r, sid)
	if !ok {
		return
	}
	back := "/session/" + sid

	in, err := listingInputFromForm(r)
	if err != nil {
		redirectWithError(w, r, back, err)
		return
	}
	_, p, err := wr.AddListing(sid, in)
	if err != nil {
		redirectWithError(w, r, back, err)
		return
	}
	if s.settle(r.Context(), w, p) {
		http.Redirect(w, r, back, http.StatusSeeOther)
	}
}

// handleListingAction handles edit, delete, comment and vote form posts.
func (s *Server) handleListingAction(w http.ResponseWriter, r *http.Request, sid, lid, action string) {
	wr, ok := s.formWriter(w, r, sid)
	if !ok {
		return
	}
	listingPage := "/session/" + sid + "/listings/" + lid
	back := listingPage
	if r.FormValue("return") == "session" {
		back = "/session/" + sid
	}

	var p *rental.Pending
	var err error
	switch action {
	case "edit":
		var patch rental.ListingPatch
		patch, err = listingPatchFromForm(r)
		if err == nil {
			p, err = wr.UpdateListing(sid, lid, patch)
		}
	case "delete":
		p = wr.DeleteListing(sid, lid)
		back = "/session/" + sid
	case "comment":
		p, err = wr.AddComment(sid, lid, r.FormValue("text"))
	case "vote":
		value, convErr := strconv.Atoi(r.FormValue("value"))
		if convErr != nil {
			http.Error(w, "Vote must be 1 or -1", http.StatusBadRequest)
			return
		}
		p, err = wr.CastVote(sid, lid, value)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		redirectWithError(w, r, back, err)
		return
	}
	if s.settle(r.Context(), w, p) {
		http.Redirect(w, r, back, http.StatusSeeOther)
	}
}

// settle waits for a form write to land so the page it redirects to shows
// it. It writes an error response and returns false if the write failed.
func (s *Server) settle(ctx context.Context, w http.ResponseWriter, p *rental.Pending) bool {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := p.Wait(ctx)
	if err != nil {
		http.Error(w, "Timed out saving changes", http.StatusGatewayTimeout)
		return false
	}
	if res.OK() {
		return true
	}
	switch {
	case errors.Is(res.Err, docstore.ErrPermissionDenied), errors.Is(res.Err, docstore.ErrNotFound):
		s.render(w, http.StatusNotFound, "denied.html", nil)
	case errors.Is(res.Err, rental.ErrNoIdentity):
		http.Error(w, "No identity", http.StatusUnauthorized)
	default:
		http.Error(w, fmt.Sprintf("Error saving changes: %v", res.Err), http.StatusInternalServerError)
	}
	return false
}

func redirectWithError(w http.ResponseWriter, r *http.Request, to string, err error) {
	if !errors.Is(err, rental.ErrInvalidInput) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, to+"?error="+url.QueryEscape(err.Error()), http.StatusSeeOther)
}

func listingInputFromForm(r *http.Request) (rental.ListingInput, error) {
	var errs []error
	rent, err := parseAmount(r.FormValue("rent"), "rent")
	if err != nil {
		errs = append(errs, err)
	}
	expenses, err := parseAmount(r.FormValue("expenses"), "expenses")
	if err != nil {
		errs = append(errs, err)
	}
	fee, err := parseAmount(r.FormValue("agencyFee"), "agencyFee")
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return rental.ListingInput{}, errors.Join(errs...)
	}

	in := rental.ListingInput{
		URL:                 r.FormValue("url"),
		Expenses:            expenses,
		AgencyFee:           fee,
		Deposit:             r.FormValue("deposit"),
		AdjustmentFrequency: r.FormValue("adjustmentFrequency"),
		AdjustmentIndex:     r.FormValue("adjustmentIndex"),
	}
	if rent != nil {
		in.Rent = *rent
	}
	return in, nil
}

// listingPatchFromForm builds a patch setting every field on the edit form.
// Blank optional amounts clear the stored value.
func listingPatchFromForm(r *http.Request) (rental.ListingPatch, error) {
	in, err := listingInputFromForm(r)
	if err != nil {
		return rental.ListingPatch{}, err
	}
	patch := rental.ListingPatch{
		URL:                 &in.URL,
		Rent:                &in.Rent,
		Deposit:             &in.Deposit,
		AdjustmentFrequency: &in.AdjustmentFrequency,
		AdjustmentIndex:     &in.AdjustmentIndex,
	}
	if in.Expenses != nil {
		patch.Expenses = in.Expenses
	} else {
		patch.Clear = append(patch.Clear, "expenses")
	}
	if in.AgencyFee != nil {
		patch.AgencyFee = in.AgencyFee
	} else {
		patch.Clear = append(patch.Clear, "agencyFee")
	}
	return patch, nil
}

// parseAmount parses an optional numeric form field. Thousands separators
// are accepted.
func parseAmount(v, field string) (*float64, error) {
	v = strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, &rental.ValidationError{Field: field, Message: "must be a number"}
	}
	return &f, nil
}

// handleSettings renders the identity settings page with passkey management.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFromContext(r)
	if ident == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	stored, err := s.passkeys.List(r.Context(), ident.ID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error loading passkeys: %v", err), http.StatusInternalServerError)
		return
	}

	type passkeyItem struct {
		ID   string
		Name string
	}
	type settingsData struct {
		Identity *identity.Identity
		Passkeys []passkeyItem
	}

	passkeys := make([]passkeyItem, len(stored))
	for i, sc := range stored {
		passkeys[i] = passkeyItem{ID: sc.ID, Name: sc.Name}
	}

	s.render(w, http.StatusOK, "settings.html", settingsData{Identity: ident, Passkeys: passkeys})
}

// handlePasskeyDelete removes one of the caller's passkeys.
func (s *Server) handlePasskeyDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ident := IdentityFromContext(r)
	if ident == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	id := r.FormValue("id")
	if id == "" {
		http.Error(w, "Missing credential ID", http.StatusBadRequest)
		return
	}

	if err := s.passkeys.Delete(r.Context(), id, ident.ID); err != nil {
		http.Error(w, fmt.Sprintf("Error deleting passkey: %v", err), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// render executes a page template.
func (s *Server) render(w http.ResponseWriter, code int, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("rendering template", "template", name, "err", err)
	}
}

// Template helper functions

// tmplFormatNumber renders a plain number for form inputs.
func tmplFormatNumber(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case *float64:
		if n == nil {
			return ""
		}
		return strconv.FormatFloat(*n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func tmplFormatOptional(v *float64) string {
	if v == nil {
		return "—"
	}
	return rental.FormatMoney(*v)
}

func tmplFormatFrequency(f rental.Frequency) string {
	if f == "" || f == rental.FrequencyUnknown {
		return "Unknown"
	}
	return strings.ToUpper(string(f[:1])) + string(f[1:])
}

func tmplFormatIndex(i rental.Index) string {
	if i == "" || i == rental.IndexUnknown {
		return "Unknown"
	}
	return string(i)
}

func tmplFormatDate(s string) string {
	t, err := time.Parse(rental.TimeLayout, s)
	if err != nil {
		return s
	}
	return t.Format("Jan 2, 2006")
}

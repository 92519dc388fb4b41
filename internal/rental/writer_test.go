package rental

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/evcraddock/rent-finder/internal/docstore"
)

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	w := NewWriter(h.as("alice"))

	sid, p := w.CreateSession("")
	if sid == "" {
		t.Fatal("expected session id before the write completes")
	}
	mustSucceed(t, p)

	s := h.session(t, "alice", sid)
	if diff := cmp.Diff(map[string]Role{"alice": RoleOwner}, s.Members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(s.Name, "New Search - 2024-05-01") {
		t.Errorf("name = %q", s.Name)
	}
	if s.CreationDate == "" || s.ListingIDs == nil {
		t.Errorf("session = %+v", s)
	}

	named, p := w.CreateSession("Palermo flats")
	mustSucceed(t, p)
	if got := h.session(t, "alice", named).Name; got != "Palermo flats" {
		t.Errorf("name = %q", got)
	}
}

func TestCreateSessionRequestsIdentity(t *testing.T) {
	h := newHarness(t)
	env := h.env(nil, &fakeIssuer{})

	sid, p := NewWriter(env).CreateSession("")
	mustSucceed(t, p)

	ident := env.Auth.Current()
	if ident == nil {
		t.Fatal("expected an anonymous identity")
	}
	if role := h.session(t, ident.ID, sid).Members[ident.ID]; role != RoleOwner {
		t.Errorf("role = %q, want owner", role)
	}
}

func TestCreateSessionIssuanceFailure(t *testing.T) {
	h := newHarness(t)
	env := h.env(nil, &fakeIssuer{err: errors.New("down")})

	_, p := NewWriter(env).CreateSession("")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !errors.Is(res.Err, ErrNoIdentity) {
		t.Errorf("result = %v, want ErrNoIdentity", res.Err)
	}
}

func TestWritesWithoutIdentityFail(t *testing.T) {
	h := newHarness(t)
	w := NewWriter(h.env(nil, nil))

	p := w.DeleteListing("s", "l")
	res, done := p.Result()
	if !done {
		t.Fatal("expected immediate result")
	}
	if !errors.Is(res.Err, ErrNoIdentity) {
		t.Errorf("result = %v, want ErrNoIdentity", res.Err)
	}
	if n := h.rec.count("delete_listing"); n != 1 {
		t.Errorf("notifier saw %d results, want 1", n)
	}
}

func TestRenameSession(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	w := NewWriter(h.as("alice"))

	if _, err := w.RenameSession(sid, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank name: got %v, want ErrInvalidInput", err)
	}

	p, err := w.RenameSession(sid, "  Belgrano  ")
	if err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	mustSucceed(t, p)
	if got := h.session(t, "alice", sid).Name; got != "Belgrano" {
		t.Errorf("name = %q", got)
	}

	// Non-members are rejected by the store; the failure arrives on the handle.
	p, err = NewWriter(h.as("mallory")).RenameSession(sid, "Hijacked")
	if err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !errors.Is(res.Err, docstore.ErrPermissionDenied) {
		t.Errorf("result = %v, want ErrPermissionDenied", res.Err)
	}
}

func TestAddListingMonthlyTotal(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	w := NewWriter(h.as("alice"))

	lid, p, err := w.AddListing(sid, ListingInput{
		URL:      "https://example.com/depto-1",
		Rent:     250000,
		Expenses: floatPtr(50000),
	})
	if err != nil {
		t.Fatalf("AddListing: %v", err)
	}
	mustSucceed(t, p)

	d, err := h.store.As("alice").Get(context.Background(), ListingPath(sid, lid))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var l Listing
	if err := d.Decode(&l); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := l.MonthlyTotal(); got != 300000 {
		t.Errorf("MonthlyTotal() = %v, want 300000", got)
	}
	if l.SessionID != sid || l.AdjustmentFrequency != FrequencyUnknown || l.AdjustmentIndex != IndexUnknown {
		t.Errorf("listing = %+v", l)
	}
}

func TestAddListingRejectsInvalidInputBeforeWriting(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	w := NewWriter(h.as("alice"))

	_, p, err := w.AddListing(sid, ListingInput{URL: "not a url", Rent: -5})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if p != nil {
		t.Error("expected no pending write")
	}
	if n := h.rec.count("add_listing"); n != 0 {
		t.Errorf("issued %d writes for invalid input", n)
	}
}

func TestUpdateAndDeleteListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	w := NewWriter(h.as("alice"))

	lid, p, err := w.AddListing(sid, ListingInput{
		URL:       "https://example.com/a",
		Rent:      1000,
		Expenses:  floatPtr(100),
		AgencyFee: floatPtr(500),
		Deposit:   "1 month",
	})
	if err != nil {
		t.Fatalf("AddListing: %v", err)
	}
	mustSucceed(t, p)

	p, err = w.UpdateListing(sid, lid, ListingPatch{
		Rent:                floatPtr(1200),
		AdjustmentFrequency: strPtr("Semestral"),
		Clear:               []string{"agencyFee"},
	})
	if err != nil {
		t.Fatalf("UpdateListing: %v", err)
	}
	mustSucceed(t, p)

	d, err := h.store.As("alice").Get(ctx, ListingPath(sid, lid))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var l Listing
	if err := d.Decode(&l); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if l.Rent != 1200 || l.AdjustmentFrequency != FrequencySemiannual || l.AgencyFee != nil {
		t.Errorf("listing = %+v", l)
	}
	if l.Expenses == nil || *l.Expenses != 100 || l.Deposit != "1 month" || l.URL != "https://example.com/a" {
		t.Errorf("untouched fields changed: %+v", l)
	}

	if _, err := w.UpdateListing(sid, lid, ListingPatch{Rent: floatPtr(0)}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero rent: got %v, want ErrInvalidInput", err)
	}

	cp, err := w.AddComment(sid, lid, "nice")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	mustSucceed(t, cp)

	mustSucceed(t, w.DeleteListing(sid, lid))
	if _, err := h.store.As("alice").Get(ctx, ListingPath(sid, lid)); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("listing still present: %v", err)
	}
	comments, err := h.store.As("alice").Query(ctx, docstore.Collection(CommentsPath(sid, lid)))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("%d comments survived listing delete", len(comments))
	}
}

func TestAddComment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	lid, p, err := NewWriter(h.as("alice")).AddListing(sid, ListingInput{URL: "https://example.com", Rent: 1})
	if err != nil {
		t.Fatalf("AddListing: %v", err)
	}
	mustSucceed(t, p)

	w := NewWriter(h.as("abcdefgh"))
	if err := h.store.As("alice").Update(ctx, SessionPath(sid), map[string]interface{}{"members.abcdefgh": "member"}); err != nil {
		t.Fatalf("granting member: %v", err)
	}

	if _, err := w.AddComment(sid, lid, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank comment: got %v, want ErrInvalidInput", err)
	}

	cp, err := w.AddComment(sid, lid, " Looks bright ")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	mustSucceed(t, cp)

	docs, err := h.store.As("alice").Query(ctx, docstore.Collection(CommentsPath(sid, lid)))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	comments, err := decodeComments(docs)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(comments))
	}
	c := comments[0]
	if c.Text != "Looks bright" || c.Author != "Anonymous-abcde" || c.ListingID != lid {
		t.Errorf("comment = %+v", c)
	}
}

func TestCastVote(t *testing.T) {
	tests := []struct {
		name  string
		casts []int
		want  []int
	}{
		{"single upvote", []int{1}, []int{1}},
		{"same value twice removes the vote", []int{1, 1}, nil},
		{"opposite value replaces in place", []int{1, -1}, []int{-1}},
		{"down then up", []int{-1, 1}, []int{1}},
		{"vote, unvote, vote", []int{-1, -1, -1}, []int{-1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			sid := h.createSession(t, "alice")
			w := NewWriter(h.as("alice"))
			lid, p, err := w.AddListing(sid, ListingInput{URL: "https://example.com", Rent: 10})
			if err != nil {
				t.Fatalf("AddListing: %v", err)
			}
			mustSucceed(t, p)

			var firstID string
			for i, v := range tt.casts {
				p, err := w.CastVote(sid, lid, v)
				if err != nil {
					t.Fatalf("CastVote: %v", err)
				}
				mustSucceed(t, p)
				if i == 0 {
					firstID = h.votes(t, "alice", sid, lid)[0].ID
				}
			}

			votes := h.votes(t, "alice", sid, lid)
			var got []int
			for _, v := range votes {
				got = append(got, v.Value)
				if v.UserID != "alice" || v.ListingID != lid {
					t.Errorf("vote = %+v", v)
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("votes mismatch (-want +got):\n%s", diff)
			}
			if tt.name == "opposite value replaces in place" && votes[0].ID != firstID {
				t.Errorf("vote id changed from %s to %s", firstID, votes[0].ID)
			}
		})
	}
}

func TestCastVoteRejectsBadValue(t *testing.T) {
	h := newHarness(t)
	if _, err := NewWriter(h.as("alice")).CastVote("s", "l", 2); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestVotesArePerIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	if err := h.store.As("alice").Update(ctx, SessionPath(sid), map[string]interface{}{"members.bob": "member"}); err != nil {
		t.Fatalf("granting bob: %v", err)
	}
	lid, p, err := NewWriter(h.as("alice")).AddListing(sid, ListingInput{URL: "https://example.com", Rent: 10})
	if err != nil {
		t.Fatalf("AddListing: %v", err)
	}
	mustSucceed(t, p)

	for _, cast := range []struct {
		who   string
		value int
	}{{"alice", 1}, {"bob", 1}, {"bob", -1}} {
		p, err := NewWriter(h.as(cast.who)).CastVote(sid, lid, cast.value)
		if err != nil {
			t.Fatalf("CastVote: %v", err)
		}
		mustSucceed(t, p)
	}

	tally := TallyVotes(h.votes(t, "alice", sid, lid), "bob")
	if diff := cmp.Diff(Tally{Up: 1, Down: 1, Mine: -1}, tally); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
}

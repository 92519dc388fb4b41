package rental

import (
	"context"
	"errors"
	"testing"

	"github.com/evcraddock/rent-finder/internal/docstore"
)

func TestAccessPolicy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sid := h.createSession(t, "alice")
	lid, p, err := NewWriter(h.as("alice")).AddListing(sid, ListingInput{URL: "https://example.com", Rent: 1})
	if err != nil {
		t.Fatalf("AddListing: %v", err)
	}
	mustSucceed(t, p)
	vp, err := NewWriter(h.as("alice")).CastVote(sid, lid, 1)
	if err != nil {
		t.Fatalf("CastVote: %v", err)
	}
	mustSucceed(t, vp)
	aliceVote := h.votes(t, "alice", sid, lid)[0].ID

	if err := h.store.As("alice").Update(ctx, SessionPath(sid), map[string]interface{}{"members.bob": "member"}); err != nil {
		t.Fatalf("granting bob: %v", err)
	}

	as := func(id string) *docstore.Client { return h.store.As(id) }
	session := SessionPath(sid)

	tests := []struct {
		name  string
		fn    func() error
		allow bool
	}{
		{"unauthenticated session read", func() error { _, err := as("").Get(ctx, session); return err }, false},
		{"non-member session read", func() error { _, err := as("mallory").Get(ctx, session); return err }, true},
		{"list all sessions", func() error { _, err := as("alice").Query(ctx, docstore.Collection("sessions")); return err }, false},
		{"non-member lists listings", func() error {
			_, err := as("mallory").Query(ctx, docstore.Collection(ListingsPath(sid)))
			return err
		}, false},
		{"member lists listings", func() error {
			_, err := as("bob").Query(ctx, docstore.Collection(ListingsPath(sid)))
			return err
		}, true},
		{"non-member reads listing", func() error { _, err := as("mallory").Get(ctx, ListingPath(sid, lid)); return err }, false},
		{"other collections", func() error { _, err := as("alice").Get(ctx, "users/alice"); return err }, false},

		{"create session as sole owner", func() error {
			return as("carol").Create(ctx, SessionPath("c1"), map[string]interface{}{"members": map[string]interface{}{"carol": "owner"}})
		}, true},
		{"create session with extra member", func() error {
			return as("carol").Create(ctx, SessionPath("c2"), map[string]interface{}{
				"members": map[string]interface{}{"carol": "owner", "dave": "member"},
			})
		}, false},
		{"create session owned by someone else", func() error {
			return as("carol").Create(ctx, SessionPath("c3"), map[string]interface{}{"members": map[string]interface{}{"dave": "owner"}})
		}, false},

		{"non-member renames", func() error {
			return as("mallory").Update(ctx, session, map[string]interface{}{"name": "x"})
		}, false},
		{"non-member grants itself owner", func() error {
			return as("mallory").Update(ctx, session, map[string]interface{}{"members.mallory": "owner"})
		}, false},
		{"non-member grants someone else", func() error {
			return as("mallory").Update(ctx, session, map[string]interface{}{"members.eve": "member"})
		}, false},
		{"non-member grants itself and renames", func() error {
			return as("mallory").Update(ctx, session, map[string]interface{}{"members.mallory": "member", "name": "x"})
		}, false},
		{"member renames", func() error {
			return as("bob").Update(ctx, session, map[string]interface{}{"name": "Bob's"})
		}, true},
		{"delete session", func() error { return as("alice").Delete(ctx, session) }, false},

		{"non-member adds listing", func() error {
			_, err := as("mallory").Add(ctx, ListingsPath(sid), map[string]interface{}{"rent": 1})
			return err
		}, false},
		{"member adds comment", func() error {
			_, err := as("bob").Add(ctx, CommentsPath(sid, lid), map[string]interface{}{"text": "hi"})
			return err
		}, true},
		{"vote as someone else", func() error {
			_, err := as("bob").Add(ctx, VotesPath(sid, lid), map[string]interface{}{"userId": "alice", "value": 1})
			return err
		}, false},
		{"change someone else's vote", func() error {
			return as("bob").Update(ctx, docstore.Join(VotesPath(sid, lid), aliceVote), map[string]interface{}{"value": -1})
		}, false},
		{"remove someone else's vote", func() error {
			return as("bob").Delete(ctx, docstore.Join(VotesPath(sid, lid), aliceVote))
		}, false},

		// Last, so earlier cases see mallory as a non-member.
		{"non-member adds itself as member", func() error {
			return as("mallory").Update(ctx, session, map[string]interface{}{"members.mallory": "member"})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if tt.allow && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allow && !errors.Is(err, docstore.ErrPermissionDenied) {
				t.Errorf("got %v, want ErrPermissionDenied", err)
			}
		})
	}
}

func TestShareURL(t *testing.T) {
	tests := []struct {
		base, sid, want string
	}{
		{"http://localhost:8080", "abc", "http://localhost:8080/session/abc"},
		{"https://rent.example.com/", "01HX", "https://rent.example.com/session/01HX"},
		{"https://rent.example.com", "a b", "https://rent.example.com/session/a%20b"},
	}
	for _, tt := range tests {
		if got := ShareURL(tt.base, tt.sid); got != tt.want {
			t.Errorf("ShareURL(%q, %q) = %q, want %q", tt.base, tt.sid, got, tt.want)
		}
	}
}

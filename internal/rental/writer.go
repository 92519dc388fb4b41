package rental

import (
	"context"
	"fmt"
	"strings"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
)

// Writer issues fire-and-forget mutations as the current identity. Input is
// validated before anything is issued; store failures arrive only through
// the returned Pending and the queue's Notifier.
type Writer struct {
	env Env
}

// NewWriter creates a Writer.
func NewWriter(env Env) *Writer {
	return &Writer{env: env}
}

// CreateSession creates a session owned by the current identity and returns
// its id. If no identity is signed in, an anonymous one is requested and the
// write proceeds once it arrives. An empty name uses DefaultSessionName.
func (w *Writer) CreateSession(name string) (string, *Pending) {
	sid := docstore.NewID()
	path := SessionPath(sid)
	now := w.env.now()
	name = strings.TrimSpace(name)

	p := w.env.Queue.Go("create_session", path, func(ctx context.Context) error {
		ident, err := AwaitIdentity(ctx, w.env.Auth)
		if err != nil {
			return err
		}

		session := Session{
			Name:         name,
			CreationDate: FormatTime(now),
			Members:      map[string]Role{ident.ID: RoleOwner},
			ListingIDs:   []string{},
		}
		if session.Name == "" {
			session.Name = DefaultSessionName(now)
		}
		return w.env.Docs(ident.ID).Create(ctx, path, session)
	})
	return sid, p
}

// RenameSession sets a session's title.
func (w *Writer) RenameSession(sid, name string) (*Pending, error) {
	name, err := validateSessionName(name)
	if err != nil {
		return nil, err
	}
	return w.issue("rename_session", SessionPath(sid), func(ctx context.Context, _ *identity.Identity, docs Documents) error {
		return docs.Update(ctx, SessionPath(sid), map[string]interface{}{"name": name})
	}), nil
}

// Enroll adds the current identity to a session as a member.
func (w *Writer) Enroll(sid string) *Pending {
	ident, docs, err := w.env.current()
	if err != nil {
		return w.env.Queue.Fail("enroll", SessionPath(sid), err)
	}
	return w.enrollAs(ident, docs, sid)
}

func (w *Writer) enrollAs(ident *identity.Identity, docs Documents, sid string) *Pending {
	path := SessionPath(sid)
	return w.env.Queue.Go("enroll", path, func(ctx context.Context) error {
		return docs.Update(ctx, path, map[string]interface{}{
			"members." + ident.ID: string(RoleMember),
		})
	})
}

// AddListing validates in and adds it to a session, returning the new id.
func (w *Writer) AddListing(sid string, in ListingInput) (string, *Pending, error) {
	in, err := in.Validate()
	if err != nil {
		return "", nil, err
	}

	lid := docstore.NewID()
	path := ListingPath(sid, lid)
	listing := in.listing(sid, FormatTime(w.env.now()))
	p := w.issue("add_listing", path, func(ctx context.Context, _ *identity.Identity, docs Documents) error {
		return docs.Create(ctx, path, listing)
	})
	return lid, p, nil
}

// UpdateListing applies a partial edit to a listing. Concurrent edits are
// last-write-wins per field.
func (w *Writer) UpdateListing(sid, lid string, patch ListingPatch) (*Pending, error) {
	fields, err := patch.Fields()
	if err != nil {
		return nil, err
	}
	path := ListingPath(sid, lid)
	return w.issue("update_listing", path, func(ctx context.Context, _ *identity.Identity, docs Documents) error {
		return docs.Update(ctx, path, fields)
	}), nil
}

// DeleteListing removes a listing with its comments and votes.
func (w *Writer) DeleteListing(sid, lid string) *Pending {
	path := ListingPath(sid, lid)
	return w.issue("delete_listing", path, func(ctx context.Context, _ *identity.Identity, docs Documents) error {
		return docs.Delete(ctx, path)
	})
}

// AddComment posts a comment on a listing, labelled with the current
// identity's author label.
func (w *Writer) AddComment(sid, lid, text string) (*Pending, error) {
	text, err := validateCommentText(text)
	if err != nil {
		return nil, err
	}
	collection := CommentsPath(sid, lid)
	created := FormatTime(w.env.now())
	return w.issue("add_comment", collection, func(ctx context.Context, ident *identity.Identity, docs Documents) error {
		_, err := docs.Add(ctx, collection, Comment{
			Text:         text,
			Author:       ident.Label(),
			CreationDate: created,
			ListingID:    lid,
		})
		return err
	}), nil
}

// CastVote toggles the current identity's vote on a listing: no vote adds
// one, the same value removes it, and the opposite value replaces it.
//
// The existing vote is looked up and then written without a transaction,
// so two concurrent casts by the same identity can both insert.
func (w *Writer) CastVote(sid, lid string, value int) (*Pending, error) {
	if value != 1 && value != -1 {
		return nil, invalid("value", "must be 1 or -1")
	}
	collection := VotesPath(sid, lid)
	created := FormatTime(w.env.now())
	return w.issue("vote", collection, func(ctx context.Context, ident *identity.Identity, docs Documents) error {
		existing, err := docs.Query(ctx, docstore.Collection(collection).Where("userId", ident.ID))
		if err != nil {
			return fmt.Errorf("finding existing vote: %w", err)
		}

		if len(existing) == 0 {
			_, err := docs.Add(ctx, collection, Vote{
				UserID:       ident.ID,
				Value:        value,
				CreationDate: created,
				ListingID:    lid,
			})
			return err
		}

		vote := existing[0]
		current, _ := vote.Data["value"].(float64)
		if int(current) == value {
			return docs.Delete(ctx, vote.Path)
		}
		return docs.Update(ctx, vote.Path, map[string]interface{}{"value": value})
	}), nil
}

// issue runs fn on the queue as the identity signed in at call time.
func (w *Writer) issue(op, path string, fn func(context.Context, *identity.Identity, Documents) error) *Pending {
	ident, docs, err := w.env.current()
	if err != nil {
		return w.env.Queue.Fail(op, path, err)
	}
	return w.env.Queue.Go(op, path, func(ctx context.Context) error {
		return fn(ctx, ident, docs)
	})
}

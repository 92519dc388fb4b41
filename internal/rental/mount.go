package rental

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
)

// Mount is one open view of a session: a gate whose transitions drive the
// live bindings.
type Mount struct {
	Gate     *Gate
	Bindings *Bindings

	env       Env
	stopWatch func()
}

// Open starts gating sessionID for the current identity of env.Auth. The
// bindings subscribe once the gate is granted.
func Open(ctx context.Context, env Env, sessionID string) *Mount {
	m := &Mount{
		Gate:     NewGate(env, sessionID),
		Bindings: NewBindings(env),
		env:      env,
	}
	m.stopWatch = m.Gate.OnChange(func(state GateState) {
		key := BindingKey{SessionID: sessionID, IdentityID: m.Gate.IdentityID(), State: state}
		if err := m.Bindings.Bind(key); err != nil {
			slog.Warn("binding session failed", "session", sessionID, "error", err)
		}
	})
	m.Gate.Start(ctx)
	return m
}

// Close stops the gate and tears down every subscription.
func (m *Mount) Close() {
	m.stopWatch()
	m.Gate.Stop()
	m.Bindings.Close()
}

// Load waits for the gate to settle and for the first complete snapshot.
// A denied gate yields ErrNoAccess.
func (m *Mount) Load(ctx context.Context) (Snapshot, error) {
	state, err := m.Gate.Wait(ctx)
	if err != nil {
		if st := m.env.Auth.State(); st.Identity == nil && st.Err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrNoIdentity, st.Err)
		}
		return Snapshot{}, err
	}
	if state != GateGranted {
		return Snapshot{}, ErrNoAccess
	}
	return m.Bindings.Wait(ctx)
}

// Identity returns the identity the mount acts as, or nil before one is
// issued.
func (m *Mount) Identity() *identity.Identity {
	return m.env.Auth.Current()
}

// Writer returns a Writer for the mount's environment.
func (m *Mount) Writer() *Writer {
	return NewWriter(m.env)
}

// granted returns the store handle for the gated identity, or ErrNoAccess.
func (m *Mount) granted() (Documents, error) {
	if m.Gate.State() != GateGranted {
		return nil, ErrNoAccess
	}
	return m.env.Docs(m.Gate.IdentityID()), nil
}

// WatchComments subscribes to a listing's comments, oldest first.
func (m *Mount) WatchComments(listingID string, fn func([]*Comment, error)) (docstore.Subscription, error) {
	docs, err := m.granted()
	if err != nil {
		return nil, err
	}
	q := docstore.Collection(CommentsPath(m.Gate.SessionID(), listingID)).OrderBy("creationDate", false)
	return docs.WatchQuery(q, func(found []*docstore.Document, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		comments, err := decodeComments(found)
		fn(comments, err)
	})
}

// WatchVotes subscribes to a listing's votes, tallied for the gated identity.
func (m *Mount) WatchVotes(listingID string, fn func(Tally, error)) (docstore.Subscription, error) {
	docs, err := m.granted()
	if err != nil {
		return nil, err
	}
	viewer := m.Gate.IdentityID()
	q := docstore.Collection(VotesPath(m.Gate.SessionID(), listingID))
	return docs.WatchQuery(q, func(found []*docstore.Document, err error) {
		if err != nil {
			fn(Tally{}, err)
			return
		}
		votes, err := decodeVotes(found)
		if err != nil {
			fn(Tally{}, err)
			return
		}
		fn(TallyVotes(votes, viewer), nil)
	})
}

// Comments reads a listing's comments once, oldest first.
func (m *Mount) Comments(ctx context.Context, listingID string) ([]*Comment, error) {
	docs, err := m.granted()
	if err != nil {
		return nil, err
	}
	q := docstore.Collection(CommentsPath(m.Gate.SessionID(), listingID)).OrderBy("creationDate", false)
	found, err := docs.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading comments: %w", err)
	}
	return decodeComments(found)
}

// Tally reads a listing's votes once.
func (m *Mount) Tally(ctx context.Context, listingID string) (Tally, error) {
	docs, err := m.granted()
	if err != nil {
		return Tally{}, err
	}
	found, err := docs.Query(ctx, docstore.Collection(VotesPath(m.Gate.SessionID(), listingID)))
	if err != nil {
		return Tally{}, fmt.Errorf("reading votes: %w", err)
	}
	votes, err := decodeVotes(found)
	if err != nil {
		return Tally{}, err
	}
	return TallyVotes(votes, m.Gate.IdentityID()), nil
}

// ListingView is a listing with its derived values, as rendered and served.
type ListingView struct {
	*Listing
	MonthlyTotal float64 `json:"monthlyTotal"`
	Votes        Tally   `json:"votes"`
	Comments     int     `json:"comments"`
}

// Views reads tallies and comment counts for every listing in snap.
func (m *Mount) Views(ctx context.Context, snap Snapshot) ([]ListingView, error) {
	views := make([]ListingView, 0, len(snap.Listings))
	for _, l := range snap.Listings {
		tally, err := m.Tally(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		comments, err := m.Comments(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, ListingView{
			Listing:      l,
			MonthlyTotal: l.MonthlyTotal(),
			Votes:        tally,
			Comments:     len(comments),
		})
	}
	return views, nil
}

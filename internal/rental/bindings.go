package rental

import (
	"context"
	"sync"

	"github.com/evcraddock/rent-finder/internal/docstore"
)

// Snapshot is the live view of one session. Every delivery replaces the
// whole snapshot; nothing is merged.
type Snapshot struct {
	Session        *Session   `json:"session"`
	Listings       []*Listing `json:"listings"`
	SessionLoaded  bool       `json:"-"`
	ListingsLoaded bool       `json:"-"`
	Err            error      `json:"-"`
}

// Ready reports whether both subscriptions have delivered.
func (s Snapshot) Ready() bool {
	return s.SessionLoaded && s.ListingsLoaded
}

// BindingKey identifies what the bindings are subscribed for. Subscriptions
// are only re-established when the key changes.
type BindingKey struct {
	SessionID  string
	IdentityID string
	State      GateState
}

// Bindings hold the session-document and listings subscriptions for a
// granted session.
type Bindings struct {
	env Env

	mu          sync.Mutex
	key         BindingKey
	gen         uint64
	subs        []docstore.Subscription
	snap        Snapshot
	listeners   map[int]func(Snapshot)
	nextID      int
	established int
	closed      bool
}

// NewBindings creates unbound bindings.
func NewBindings(env Env) *Bindings {
	return &Bindings{env: env, listeners: make(map[int]func(Snapshot))}
}

// Snapshot returns the latest view.
func (b *Bindings) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Established counts the subscriptions opened over the bindings' lifetime.
func (b *Bindings) Established() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.established
}

// OnChange registers fn to be called after every delivery. Deliveries from
// the two subscriptions may arrive on different goroutines. The returned
// function removes fn.
func (b *Bindings) OnChange(fn func(Snapshot)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Wait blocks until both subscriptions have delivered, one of them fails, or
// ctx is done.
func (b *Bindings) Wait(ctx context.Context) (Snapshot, error) {
	changed := make(chan struct{}, 1)
	cancel := b.OnChange(func(Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		snap := b.Snapshot()
		if snap.Err != nil {
			return snap, snap.Err
		}
		if snap.Ready() {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Bind points the bindings at key. Unchanged keys are ignored. Otherwise the
// old subscriptions are torn down first, and new ones are opened only when
// key.State is granted.
func (b *Bindings) Bind(key BindingKey) error {
	b.mu.Lock()
	if b.closed || key == b.key {
		b.mu.Unlock()
		return nil
	}
	b.key = key
	b.gen++
	gen := b.gen
	stale := b.subs
	b.subs = nil
	b.snap = Snapshot{}
	b.mu.Unlock()

	for _, sub := range stale {
		sub.Unsubscribe()
	}

	if key.State != GateGranted || key.IdentityID == "" {
		return nil
	}

	docs := b.env.Docs(key.IdentityID)
	sessionSub, err := docs.WatchDocument(SessionPath(key.SessionID), func(d *docstore.Document, err error) {
		b.deliver(gen, func(s *Snapshot) {
			s.SessionLoaded = true
			if err != nil {
				s.Err = err
				return
			}
			if d == nil {
				s.Session = nil
				s.Err = ErrNoAccess
				return
			}
			session, err := decodeSession(d)
			if err != nil {
				s.Err = err
				return
			}
			s.Session = session
		})
	})
	if err != nil {
		b.deliver(gen, func(s *Snapshot) { s.Err = err })
		return err
	}

	q := docstore.Collection(ListingsPath(key.SessionID)).OrderBy("creationDate", true)
	listingsSub, err := docs.WatchQuery(q, func(found []*docstore.Document, err error) {
		b.deliver(gen, func(s *Snapshot) {
			s.ListingsLoaded = true
			if err != nil {
				s.Err = err
				return
			}
			listings, err := decodeListings(found)
			if err != nil {
				s.Err = err
				return
			}
			s.Listings = listings
		})
	})
	if err != nil {
		sessionSub.Unsubscribe()
		b.deliver(gen, func(s *Snapshot) { s.Err = err })
		return err
	}

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		sessionSub.Unsubscribe()
		listingsSub.Unsubscribe()
		return nil
	}
	b.subs = []docstore.Subscription{sessionSub, listingsSub}
	b.established += 2
	b.mu.Unlock()
	return nil
}

// Close tears down all subscriptions. Bind has no effect afterwards.
func (b *Bindings) Close() {
	b.mu.Lock()
	b.closed = true
	b.gen++
	stale := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range stale {
		sub.Unsubscribe()
	}
}

// deliver applies a delivery from generation gen, dropping it if the
// bindings have since been rebound.
func (b *Bindings) deliver(gen uint64, apply func(*Snapshot)) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	next := b.snap
	apply(&next)
	b.snap = next
	fns := make([]func(Snapshot), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

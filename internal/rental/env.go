package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
	"github.com/evcraddock/rent-finder/internal/metrics"
)

// ErrNoIdentity is returned when an operation needs an identity and none is
// signed in.
var ErrNoIdentity = errors.New("no identity")

// Documents is the document store as seen by one identity.
type Documents interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Create(ctx context.Context, path string, data interface{}) error
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	Delete(ctx context.Context, path string) error
	Add(ctx context.Context, collection string, data interface{}) (string, error)
	Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error)
	WatchDocument(path string, fn func(*docstore.Document, error)) (docstore.Subscription, error)
	WatchQuery(q docstore.Query, fn func([]*docstore.Document, error)) (docstore.Subscription, error)
}

// StoreDocs returns a Docs function backed by a local Store.
func StoreDocs(store *docstore.Store) func(identityID string) Documents {
	return func(identityID string) Documents {
		return store.As(identityID)
	}
}

// Env bundles the collaborators every rental component works with.
type Env struct {
	// Docs returns the document store acting as the given identity.
	Docs    func(identityID string) Documents
	Auth    *identity.Auth
	Queue   *Queue
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// current returns the signed-in identity and its store handle.
func (e Env) current() (*identity.Identity, Documents, error) {
	ident := e.Auth.Current()
	if ident == nil {
		return nil, nil, ErrNoIdentity
	}
	return ident, e.Docs(ident.ID), nil
}

// AwaitIdentity returns the current identity, requesting an anonymous one
// and waiting for it if none is signed in.
func AwaitIdentity(ctx context.Context, auth *identity.Auth) (*identity.Identity, error) {
	if ident := auth.Current(); ident != nil {
		return ident, nil
	}

	changed := make(chan struct{}, 1)
	cancel := auth.OnChange(func(identity.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	auth.SignInAnonymously()
	for {
		st := auth.State()
		if st.Identity != nil {
			return st.Identity, nil
		}
		if !st.Loading && st.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoIdentity, st.Err)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

package rental

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evcraddock/rent-finder/internal/db"
	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
)

const testTimeout = 3 * time.Second

// recorder is a Notifier that keeps every result.
type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) Notify(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.results {
		if res.Op == op {
			n++
		}
	}
	return n
}

type harness struct {
	store *docstore.Store
	rec   *recorder
	queue *Queue
	ticks atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	h := &harness{
		store: docstore.New(d, AccessPolicy{}),
		rec:   &recorder{},
	}
	h.queue = NewQueue(h.rec, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		if err := h.queue.Close(ctx); err != nil {
			t.Errorf("closing queue: %v", err)
		}
		if err := d.Close(); err != nil {
			t.Errorf("closing db: %v", err)
		}
	})
	return h
}

// now advances a fake clock one second per call so creation dates differ.
func (h *harness) now() time.Time {
	n := h.ticks.Add(1)
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
}

// env returns an Env signed in as ident, or signed out when ident is nil.
func (h *harness) env(ident *identity.Identity, issuer identity.Issuer) Env {
	auth := identity.NewAuth(issuer)
	if ident != nil {
		auth.SignIn(ident, "")
	}
	return Env{
		Docs:  StoreDocs(h.store),
		Auth:  auth,
		Queue: h.queue,
		Now:   h.now,
	}
}

func (h *harness) as(id string) Env {
	return h.env(&identity.Identity{ID: id, Anonymous: true}, nil)
}

// createSession creates a session owned by owner and waits for it.
func (h *harness) createSession(t *testing.T, owner string) string {
	t.Helper()
	sid, p := NewWriter(h.as(owner)).CreateSession("")
	mustSucceed(t, p)
	return sid
}

func (h *harness) session(t *testing.T, owner, sid string) *Session {
	t.Helper()
	d, err := h.store.As(owner).Get(context.Background(), SessionPath(sid))
	if err != nil {
		t.Fatalf("reading session: %v", err)
	}
	s, err := decodeSession(d)
	if err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	return s
}

func (h *harness) votes(t *testing.T, reader, sid, lid string) []*Vote {
	t.Helper()
	docs, err := h.store.As(reader).Query(context.Background(), docstore.Collection(VotesPath(sid, lid)))
	if err != nil {
		t.Fatalf("querying votes: %v", err)
	}
	votes, err := decodeVotes(docs)
	if err != nil {
		t.Fatalf("decoding votes: %v", err)
	}
	return votes
}

func mustSucceed(t *testing.T, p *Pending) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	res, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("waiting for write: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("%s %s failed: %v", res.Op, res.Path, res.Err)
	}
}

func waitGate(t *testing.T, g *Gate) GateState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	state, err := g.Wait(ctx)
	if err != nil {
		t.Fatalf("gate stuck in %s: %v", state, err)
	}
	return state
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeIssuer issues sequential anonymous identities, or fails with err.
type fakeIssuer struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeIssuer) Issue(ctx context.Context) (*identity.Identity, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, "", f.err
	}
	f.n++
	return &identity.Identity{ID: fmt.Sprintf("anon%03d", f.n), Anonymous: true}, "token", nil
}

// rejectingDocs fails every Update, running before first.
type rejectingDocs struct {
	Documents
	before func()
}

func (d rejectingDocs) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if d.before != nil {
		d.before()
	}
	return errors.New("update rejected")
}

func floatPtr(f float64) *float64 { return &f }

func strPtr(s string) *string { return &s }

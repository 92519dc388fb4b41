package rental

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/evcraddock/rent-finder/internal/identity"
)

func TestGateMemberFastPath(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")

	g := NewGate(h.as("alice"), sid)
	g.Start(context.Background())
	defer g.Stop()

	if got := waitGate(t, g); got != GateGranted {
		t.Fatalf("state = %s, want granted", got)
	}
	if n := h.rec.count("enroll"); n != 0 {
		t.Errorf("issued %d enrollment writes, want 0", n)
	}
	if g.IdentityID() != "alice" {
		t.Errorf("identity = %q", g.IdentityID())
	}
}

func TestGateEnrollment(t *testing.T) {
	tests := []struct {
		name    string
		docs    func(h *harness, sid string) func(string) Documents
		want    GateState
		members map[string]Role
	}{
		{
			name: "enrollment write succeeds",
			docs: func(h *harness, sid string) func(string) Documents {
				return StoreDocs(h.store)
			},
			want:    GateGranted,
			members: map[string]Role{"alice": RoleOwner, "bob": RoleMember},
		},
		{
			name: "write fails but concurrent grant is visible",
			docs: func(h *harness, sid string) func(string) Documents {
				return func(id string) Documents {
					grant := func() {
						err := h.store.As("alice").Update(context.Background(), SessionPath(sid), map[string]interface{}{
							"members.bob": "member",
						})
						if err != nil {
							panic(err)
						}
					}
					return rejectingDocs{Documents: h.store.As(id), before: grant}
				}
			},
			want:    GateGranted,
			members: map[string]Role{"alice": RoleOwner, "bob": RoleMember},
		},
		{
			name: "write fails and no grant",
			docs: func(h *harness, sid string) func(string) Documents {
				return func(id string) Documents {
					return rejectingDocs{Documents: h.store.As(id)}
				}
			},
			want:    GateDenied,
			members: map[string]Role{"alice": RoleOwner},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			sid := h.createSession(t, "alice")

			env := h.as("bob")
			env.Docs = tt.docs(h, sid)

			var mu sync.Mutex
			var seen []GateState
			g := NewGate(env, sid)
			g.OnChange(func(s GateState) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, s)
			})
			g.Start(context.Background())
			defer g.Stop()

			if got := waitGate(t, g); got != tt.want {
				t.Fatalf("state = %s, want %s", got, tt.want)
			}
			if got := h.session(t, "alice", sid).Members; !equalMembers(got, tt.members) {
				t.Errorf("members = %v, want %v", got, tt.members)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(seen) < 2 || seen[len(seen)-2] != GateEnrolling {
				t.Errorf("transitions = %v, want enrolling before %s", seen, tt.want)
			}
			if tt.want == GateDenied && !errors.Is(g.Err(), ErrNoAccess) {
				t.Errorf("Err() = %v, want ErrNoAccess", g.Err())
			}
		})
	}
}

func equalMembers(a, b map[string]Role) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func TestGateMissingSession(t *testing.T) {
	h := newHarness(t)
	g := NewGate(h.as("bob"), "does-not-exist")
	g.Start(context.Background())
	defer g.Stop()

	if got := waitGate(t, g); got != GateDenied {
		t.Fatalf("state = %s, want denied", got)
	}
	if n := h.rec.count("enroll"); n != 0 {
		t.Errorf("issued %d enrollment writes for a missing session", n)
	}
}

func TestGateReadFailureDenies(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")

	env := h.env(&identity.Identity{ID: "bob"}, nil)
	env.Docs = func(string) Documents { return h.store.As("") }

	g := NewGate(env, sid)
	g.Start(context.Background())
	defer g.Stop()

	if got := waitGate(t, g); got != GateDenied {
		t.Fatalf("state = %s, want denied", got)
	}
}

func TestGateIssuesAnonymousIdentity(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")

	issuer := &fakeIssuer{}
	env := h.env(nil, issuer)
	g := NewGate(env, sid)
	g.Start(context.Background())
	defer g.Stop()

	if got := waitGate(t, g); got != GateGranted {
		t.Fatalf("state = %s, want granted", got)
	}
	ident := env.Auth.Current()
	if ident == nil || !ident.Anonymous {
		t.Fatalf("identity = %+v, want anonymous", ident)
	}
	if g.IdentityID() != ident.ID {
		t.Errorf("gate identity %q, auth identity %q", g.IdentityID(), ident.ID)
	}
	if role := h.session(t, "alice", sid).Members[ident.ID]; role != RoleMember {
		t.Errorf("role = %q, want member", role)
	}
}

func TestGateUnauthenticatedUntilIdentityArrives(t *testing.T) {
	h := newHarness(t)
	sid := h.createSession(t, "alice")

	issuer := &fakeIssuer{err: errors.New("provider unavailable")}
	env := h.env(nil, issuer)
	g := NewGate(env, sid)
	g.Start(context.Background())
	defer g.Stop()

	eventually(t, "issuance failure", func() bool {
		s := env.Auth.State()
		return !s.Loading && s.Err != nil
	})
	eventually(t, "unauthenticated", func() bool { return g.State() == GateUnauthenticated })

	env.Auth.SignIn(&identity.Identity{ID: "carol"}, "")
	if got := waitGate(t, g); got != GateGranted {
		t.Fatalf("state = %s, want granted", got)
	}
	if g.IdentityID() != "carol" {
		t.Errorf("identity = %q, want carol", g.IdentityID())
	}
}

func TestGateStopBeforeTerminal(t *testing.T) {
	h := newHarness(t)
	env := h.env(nil, &fakeIssuer{err: errors.New("down")})
	g := NewGate(env, "s")
	g.Start(context.Background())
	g.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	select {
	case <-g.Done():
	case <-ctx.Done():
		t.Fatal("gate goroutine did not exit after Stop")
	}
	if g.State().Terminal() {
		t.Errorf("state = %s, want non-terminal", g.State())
	}
}

func TestGateStateHelpers(t *testing.T) {
	tests := []struct {
		state    GateState
		terminal bool
		loading  bool
	}{
		{GateChecking, false, true},
		{GateUnauthenticated, false, false},
		{GateEnrolling, false, true},
		{GateGranted, true, false},
		{GateDenied, true, false},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v", tt.state, got)
		}
		if got := tt.state.Loading(); got != tt.loading {
			t.Errorf("%s.Loading() = %v", tt.state, got)
		}
	}
}

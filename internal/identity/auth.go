package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is a point-in-time view of the current identity.
type State struct {
	Identity *Identity
	Token    string
	// Loading is true while an anonymous identity is being issued.
	Loading bool
	// Err is the last issuance failure, cleared by the next attempt.
	Err error
}

// Auth holds the current identity for one client and notifies listeners
// when it changes.
type Auth struct {
	issuer Issuer

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int

	// notifyMu serializes state changes with their notifications so
	// listeners observe states in order.
	notifyMu sync.Mutex
}

// NewAuth creates an Auth with no identity. issuer may be nil if the
// caller only ever signs in with existing tokens.
func NewAuth(issuer Issuer) *Auth {
	return &Auth{issuer: issuer, listeners: make(map[int]func(State))}
}

// State returns the current state.
func (a *Auth) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Current returns the current identity, or nil.
func (a *Auth) Current() *Identity {
	return a.State().Identity
}

// OnChange registers fn to be called after every state change. The
// returned function removes it.
func (a *Auth) OnChange(fn func(State)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// SignIn sets the current identity directly, e.g. from a stored token.
func (a *Auth) SignIn(ident *Identity, token string) {
	a.set(func(s *State) {
		s.Identity = ident
		s.Token = token
		s.Loading = false
		s.Err = nil
	})
}

// SignOut clears the current identity.
func (a *Auth) SignOut() {
	a.set(func(s *State) {
		*s = State{}
	})
}

// SignInAnonymously requests a new anonymous identity without blocking.
// The result arrives through OnChange. Calls made while an identity exists
// or an issuance is already in flight do nothing.
func (a *Auth) SignInAnonymously() {
	a.notifyMu.Lock()
	a.mu.Lock()
	if a.state.Identity != nil || a.state.Loading {
		a.mu.Unlock()
		a.notifyMu.Unlock()
		return
	}
	if a.issuer == nil {
		a.state.Err = fmt.Errorf("no identity issuer configured")
		snapshot := a.state
		a.mu.Unlock()
		a.notifyLocked(snapshot)
		a.notifyMu.Unlock()
		return
	}
	a.state.Loading = true
	a.state.Err = nil
	snapshot := a.state
	a.mu.Unlock()
	a.notifyLocked(snapshot)
	a.notifyMu.Unlock()

	go func() {
		ident, token, err := a.issuer.Issue(context.Background())
		if err != nil {
			slog.Warn("anonymous sign-in failed", "error", err)
			a.set(func(s *State) {
				s.Loading = false
				s.Err = fmt.Errorf("issuing anonymous identity: %w", err)
			})
			return
		}
		a.set(func(s *State) {
			if s.Identity == nil {
				s.Identity = ident
				s.Token = token
			}
			s.Loading = false
			s.Err = nil
		})
	}()
}

func (a *Auth) set(mutate func(*State)) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	mutate(&a.state)
	snapshot := a.state
	a.mu.Unlock()
	a.notifyLocked(snapshot)
}

// notifyLocked calls listeners outside the state lock. The caller holds
// notifyMu, so listeners must not change the Auth state synchronously.
func (a *Auth) notifyLocked(s State) {
	a.mu.Lock()
	fns := make([]func(State), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
